// Package audit records retry and terminal-failure events of individual
// combinations to append-only logs.
//
// Line formats:
//
//	[2006-01-02 15:04:05] RETRY <n> for VALUES: <combination> | ERROR: <message>
//	[2006-01-02 15:04:05] VALUES: <combination> | ERROR: <message>
package audit

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/sql-fanout/pkg/models"
)

// Default log file names
const (
	DefaultRetryLog   = "query_retries.log"
	DefaultFailureLog = "query_failures.log"
)

const timestampLayout = "2006-01-02 15:04:05"

const (
	fieldValues  = "values"
	fieldAttempt = "attempt"
	fieldError   = "error"
)

// Entry is one audit event
type Entry struct {
	Combination models.Combination
	// Attempt is the failed attempt number; zero for terminal failures
	Attempt int
	Err     string
	// Delay is the backoff scheduled before the next attempt
	Delay time.Duration
	Time  time.Time
}

// Sink receives audit events. Implementations must be safe for concurrent use.
type Sink interface {
	Retry(e Entry)
	Failure(e Entry)
}

// lineFormatter renders audit entries in the fixed line format
type lineFormatter struct{}

// Format implements logrus.Formatter
func (lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	ts := e.Time.Format(timestampLayout)
	if attempt, ok := e.Data[fieldAttempt]; ok {
		return []byte(fmt.Sprintf("[%s] RETRY %v for VALUES: %v | ERROR: %v\n",
			ts, attempt, e.Data[fieldValues], e.Data[fieldError])), nil
	}
	return []byte(fmt.Sprintf("[%s] VALUES: %v | ERROR: %v\n",
		ts, e.Data[fieldValues], e.Data[fieldError])), nil
}

// FileSink appends audit lines to a retry log and a failure log
type FileSink struct {
	retries  *logrus.Logger
	failures *logrus.Logger
	files    []*os.File
}

// NewFileSink opens (creating if needed) the two log files in append mode
func NewFileSink(retryPath, failurePath string) (*FileSink, error) {
	if retryPath == "" {
		retryPath = DefaultRetryLog
	}
	if failurePath == "" {
		failurePath = DefaultFailureLog
	}

	retryFile, err := openAppend(retryPath)
	if err != nil {
		return nil, err
	}
	failureFile, err := openAppend(failurePath)
	if err != nil {
		retryFile.Close()
		return nil, err
	}

	return &FileSink{
		retries:  newLineLogger(retryFile),
		failures: newLineLogger(failureFile),
		files:    []*os.File{retryFile, failureFile},
	}, nil
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	return f, nil
}

func newLineLogger(f *os.File) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(f)
	logger.SetFormatter(lineFormatter{})
	logger.SetLevel(logrus.InfoLevel)
	return logger
}

// Retry appends a retry line
func (s *FileSink) Retry(e Entry) {
	s.retries.WithTime(entryTime(e)).WithFields(logrus.Fields{
		fieldValues:  e.Combination.String(),
		fieldAttempt: e.Attempt,
		fieldError:   e.Err,
	}).Info("retry")
}

// Failure appends a terminal failure line
func (s *FileSink) Failure(e Entry) {
	s.failures.WithTime(entryTime(e)).WithFields(logrus.Fields{
		fieldValues: e.Combination.String(),
		fieldError:  e.Err,
	}).Info("failure")
}

// Close closes both log files
func (s *FileSink) Close() error {
	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func entryTime(e Entry) time.Time {
	if e.Time.IsZero() {
		return time.Now()
	}
	return e.Time
}

// Recorder keeps audit events in memory
type Recorder struct {
	mu       sync.Mutex
	retries  []Entry
	failures []Entry
}

// Retry records a retry event
func (r *Recorder) Retry(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries = append(r.retries, e)
}

// Failure records a failure event
func (r *Recorder) Failure(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, e)
}

// Retries returns a copy of the recorded retry events
func (r *Recorder) Retries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.retries...)
}

// Failures returns a copy of the recorded failure events
func (r *Recorder) Failures() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.failures...)
}

// Nop discards all events
type Nop struct{}

// Retry implements Sink
func (Nop) Retry(Entry) {}

// Failure implements Sink
func (Nop) Failure(Entry) {}
