// Package executor runs the rendered query for one combination with bounded
// retries. Execution errors never escape: after the last attempt the
// combination is recorded as failed and the run moves on.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/sql-fanout/internal/audit"
	"github.com/vitebski/sql-fanout/internal/connector"
	"github.com/vitebski/sql-fanout/internal/sqltemplate"
	"github.com/vitebski/sql-fanout/pkg/models"
)

// State is the position of one combination in its retry lifecycle
type State int

const (
	Pending State = iota
	Attempting
	RetryScheduled
	Success
	Failed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Attempting:
		return "attempting"
	case RetryScheduled:
		return "retry-scheduled"
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen
func (s State) Terminal() bool {
	return s == Success || s == Failed
}

// Outcome is the terminal result of executing one combination
type Outcome struct {
	Combination models.Combination
	State       State
	Attempts    int
	// Table is nil when the query returned no rows or failed
	Table *models.Table
	// Err is the last execution error of a failed combination
	Err error
}

// Config holds the retry policy
type Config struct {
	// MaxRetries is the total number of attempts; values below 1 mean 1
	MaxRetries int
	// BaseDelay is the wait after the first failed attempt; it doubles each time
	BaseDelay time.Duration
	// Jitter is the upper bound of the random delay added to every wait
	Jitter time.Duration
}

// DefaultConfig returns the default retry policy
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Jitter:     500 * time.Millisecond,
	}
}

// Executor runs one statement per combination
type Executor struct {
	Lender    connector.Lender
	Statement *sqltemplate.Statement
	Audit     audit.Sink
	Config    Config
	Logger    *logrus.Logger
}

// NewExecutor creates a new retrying executor
func NewExecutor(lender connector.Lender, stmt *sqltemplate.Statement, sink audit.Sink, cfg Config, logger *logrus.Logger) *Executor {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Executor{
		Lender:    lender,
		Statement: stmt,
		Audit:     sink,
		Config:    cfg,
		Logger:    logger,
	}
}

// Execute runs the statement for one combination. The returned error is only
// set when the combination cannot be bound to the statement; query failures
// are reported through the Outcome and the audit sink.
func (e *Executor) Execute(ctx context.Context, combo models.Combination) (Outcome, error) {
	outcome := Outcome{Combination: combo, State: Pending}

	query, err := e.Statement.Bind(combo)
	if err != nil {
		return outcome, err
	}

	e.Logger.Debugf("Running for values: %s", combo)

	table, err := backoff.Retry(ctx,
		func() (*models.Table, error) {
			outcome.Attempts++
			outcome.State = Attempting
			return e.attempt(ctx, query, outcome.Attempts)
		},
		backoff.WithBackOff(NewDoublingBackOff(e.Config.BaseDelay, e.Config.Jitter)),
		backoff.WithMaxTries(uint(e.Config.MaxRetries)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			outcome.State = RetryScheduled
			e.Audit.Retry(audit.Entry{
				Combination: combo,
				Attempt:     outcome.Attempts,
				Err:         err.Error(),
				Delay:       next,
				Time:        time.Now(),
			})
			e.Logger.Warningf("Attempt %d failed for values %s. Retrying in %.2fs...", outcome.Attempts, combo, next.Seconds())
		}),
	)

	if err != nil {
		outcome.State = Failed
		outcome.Err = err
		e.Audit.Failure(audit.Entry{
			Combination: combo,
			Err:         err.Error(),
			Time:        time.Now(),
		})
		e.Logger.Errorf("Query failed for values %s after %d attempts: %v", combo, outcome.Attempts, err)
		return outcome, nil
	}

	outcome.State = Success
	if !table.Empty() {
		outcome.Table = table
	}
	return outcome, nil
}

// attempt runs the query once on a leased connection
func (e *Executor) attempt(ctx context.Context, query models.RenderedQuery, n int) (*models.Table, error) {
	conn, err := e.Lender.Lend(ctx)
	if err != nil {
		// A closed or missing pool will not recover between attempts
		if errors.Is(err, connector.ErrPoolNotInitialized) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	defer e.Lender.Reclaim(conn)

	e.Logger.Debugf("Attempt %d - Query: %s %v", n, query.SQL, query.Args)

	table, err := conn.Query(ctx, query.SQL, query.Args...)
	if err != nil {
		return nil, err
	}

	e.Logger.Debugf("Retrieved %d rows for attempt %d", table.Len(), n)
	return table, nil
}
