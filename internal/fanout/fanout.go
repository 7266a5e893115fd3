// Package fanout runs a query template once per combination of distinct
// attribute values, in parallel, and concatenates the results.
//
// A run has three phases. First the template is compiled; identifier or
// shape errors abort the run here. Then the distinct values of every attribute
// are enumerated. Finally one executor task per combination goes onto a
// bounded worker pool. Tasks share nothing but the connection pool, so the
// pool size caps real parallelism whatever the worker count. Results are
// gathered in completion order and failed combinations are skipped.
package fanout

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vitebski/sql-fanout/internal/audit"
	"github.com/vitebski/sql-fanout/internal/connector"
	"github.com/vitebski/sql-fanout/internal/dialect"
	"github.com/vitebski/sql-fanout/internal/enumerator"
	"github.com/vitebski/sql-fanout/internal/executor"
	"github.com/vitebski/sql-fanout/internal/sqltemplate"
	"github.com/vitebski/sql-fanout/pkg/models"
)

// Request describes one fan-out run
type Request struct {
	Template        string
	TargetTable     models.Identifier
	Sources         models.AttributeSources
	MaxCombinations int
}

// Options tune the orchestrator
type Options struct {
	Retry    executor.Config
	Workers  int
	MinConns int
	MaxConns int
	// OnProgress is called after every finished combination
	OnProgress func(completed, total int, outcome executor.Outcome)
}

// DefaultOptions returns the default orchestrator options
func DefaultOptions() Options {
	return Options{
		Retry:    executor.DefaultConfig(),
		Workers:  DefaultWorkers(),
		MinConns: 1,
		MaxConns: 10,
	}
}

// DefaultWorkers returns min(32, NumCPU+4)
func DefaultWorkers() int {
	n := runtime.NumCPU() + 4
	if n > 32 {
		n = 32
	}
	return n
}

// Result is the aggregate of one run
type Result struct {
	Table    *models.Table
	Summary  models.RunSummary
	Progress *Progress
}

// Progress counts finished combinations of one run
type Progress struct {
	completed atomic.Int64
	total     atomic.Int64
}

// Completed returns the number of finished combinations
func (p *Progress) Completed() int {
	return int(p.completed.Load())
}

// Total returns the number of dispatched combinations
func (p *Progress) Total() int {
	return int(p.total.Load())
}

// Orchestrator runs fan-out requests. Concurrent runs on one orchestrator
// each keep their own Progress.
type Orchestrator struct {
	Options Options
	Audit   audit.Sink
	Logger  *logrus.Logger

	latest atomic.Pointer[Progress]
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(opts Options, sink audit.Sink, logger *logrus.Logger) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers()
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Orchestrator{
		Options: opts,
		Audit:   sink,
		Logger:  logger,
	}
}

// Progress reports the completion counters of the most recently started run
func (o *Orchestrator) Progress() *Progress {
	if p := o.latest.Load(); p != nil {
		return p
	}
	return &Progress{}
}

// Run creates a connection pool for params, executes the request on it and
// closes the pool before returning
func (o *Orchestrator) Run(ctx context.Context, params models.ConnParams, req Request) (*Result, error) {
	d, err := dialect.For(params.DriverName())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", connector.ErrPoolInit, err)
	}

	pool, err := connector.NewPool(ctx, params, o.Options.MinConns, o.Options.MaxConns, o.Logger)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	return o.Execute(ctx, pool, d, req)
}

// Execute runs the request on an existing connection source, which lets
// callers reuse one pool across runs
func (o *Orchestrator) Execute(ctx context.Context, lender connector.Lender, d dialect.Dialect, req Request) (*Result, error) {
	runID := uuid.NewString()
	logger := o.Logger.WithField("run_id", runID)

	attributes := req.Sources.Attributes()

	// Structural problems abort the run before any query is sent
	stmt, err := sqltemplate.Compile(d, req.Template, req.TargetTable, attributes)
	if err != nil {
		return nil, fmt.Errorf("compiling query template: %w", err)
	}
	if err := stmt.CheckArity(len(attributes)); err != nil {
		return nil, fmt.Errorf("binding %d attributes to the query template: %w", len(attributes), err)
	}
	logger.Debugf("Compiled statement: %s", stmt.SQL())

	combinations, err := enumerator.NewEnumerator(lender, d, o.Logger).Enumerate(ctx, req.Sources, req.MaxCombinations)
	if err != nil {
		return nil, fmt.Errorf("enumerating combinations: %w", err)
	}

	total := len(combinations)
	logger.Infof("Found %d distinct combinations of (%s)", total, strings.Join(attributes, ", "))
	progress := &Progress{}
	progress.total.Store(int64(total))
	o.latest.Store(progress)

	summary := models.RunSummary{RunID: runID, Total: total}
	if total == 0 {
		return &Result{Table: models.Concat(), Summary: summary, Progress: progress}, nil
	}

	exec := executor.NewExecutor(lender, stmt, o.Audit, o.Options.Retry, o.Logger)
	outcomes := make(chan executor.Outcome)
	waitErr := make(chan error, 1)

	var g errgroup.Group
	g.SetLimit(o.Options.Workers)

	go func() {
		for _, combo := range combinations {
			g.Go(func() error {
				outcome, err := exec.Execute(ctx, combo)
				if err != nil {
					return fmt.Errorf("combination %s: %w", combo, err)
				}
				outcomes <- outcome
				return nil
			})
		}
		waitErr <- g.Wait()
		close(outcomes)
	}()

	var tables []*models.Table
	for outcome := range outcomes {
		switch {
		case outcome.State == executor.Failed:
			summary.Failed++
			summary.FailedCombinations = append(summary.FailedCombinations, outcome.Combination)
		case outcome.Table == nil:
			summary.Empty++
		default:
			summary.Succeeded++
			tables = append(tables, outcome.Table)
		}

		completed := int(progress.completed.Add(1))
		logger.Debugf("Completed values: %s | %d/%d", outcome.Combination, completed, total)
		if o.Options.OnProgress != nil {
			o.Options.OnProgress(completed, total, outcome)
		}
	}

	if err := <-waitErr; err != nil {
		return nil, err
	}

	table := models.Concat(tables...)
	summary.Rows = table.Len()

	logger.Infof("Run finished: %d combinations, %d with rows, %d empty, %d failed, %d rows total",
		total, summary.Succeeded, summary.Empty, summary.Failed, summary.Rows)

	return &Result{Table: table, Summary: summary, Progress: progress}, nil
}
