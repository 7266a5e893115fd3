// Package connector owns database connectivity for a fan-out run: a bounded
// connection pool shared by all workers, plus direct connections that bypass it.
package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/sirupsen/logrus"
	"github.com/vitebski/sql-fanout/internal/dialect"
	"github.com/vitebski/sql-fanout/pkg/models"
)

var (
	// ErrPoolInit is returned when the pool cannot be created
	ErrPoolInit = errors.New("connection pool initialization failed")
	// ErrPoolNotInitialized is returned when a pooled connection is requested
	// without a live pool and no direct connection parameters were given
	ErrPoolNotInitialized = errors.New("connection pool is not initialized and no connection parameters were given")
)

var sqlOpen = sql.Open

// Pool is a bounded pool of live connections to one database.
// At most maxSize connections are leased at once; Acquire blocks beyond that.
type Pool struct {
	Params models.ConnParams
	Logger *logrus.Logger

	minSize int
	maxSize int
	db      *sql.DB

	mu     sync.Mutex
	leased map[*Conn]struct{}
	closed bool
}

// NewPool opens the database, verifies it is reachable and pre-opens minSize connections
func NewPool(ctx context.Context, params models.ConnParams, minSize, maxSize int, logger *logrus.Logger) (*Pool, error) {
	if !params.Complete() {
		return nil, fmt.Errorf("%w: host, port, database, user and password are required", ErrPoolInit)
	}
	if err := validateSize(minSize, maxSize); err != nil {
		return nil, err
	}

	d, err := dialect.For(params.DriverName())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPoolInit, err)
	}

	db, err := sqlOpen(d.DriverName, d.DSN(params))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPoolInit, err)
	}

	pool, err := NewPoolFromDB(ctx, db, minSize, maxSize, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	pool.Params = params

	pool.Logger.Infof("Connection pool created for %s database %s at %s:%s (min=%d, max=%d)",
		d.Name, params.Database, params.Host, params.Port, minSize, maxSize)
	return pool, nil
}

// NewPoolFromDB builds a pool around an already opened database handle.
// The pool takes ownership of db and closes it in Close.
func NewPoolFromDB(ctx context.Context, db *sql.DB, minSize, maxSize int, logger *logrus.Logger) (*Pool, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := validateSize(minSize, maxSize); err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxSize)
	db.SetMaxIdleConns(maxSize)

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPoolInit, err)
	}

	// Open the minimum number of connections up front so they sit idle in the pool
	warm := make([]*sql.Conn, 0, minSize)
	defer func() {
		for _, w := range warm {
			w.Close()
		}
	}()
	for i := 0; i < minSize; i++ {
		c, err := db.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: opening connection %d of %d: %v", ErrPoolInit, i+1, minSize, err)
		}
		warm = append(warm, c)
	}

	return &Pool{
		Logger:  logger,
		minSize: minSize,
		maxSize: maxSize,
		db:      db,
		leased:  make(map[*Conn]struct{}),
	}, nil
}

func validateSize(minSize, maxSize int) error {
	if maxSize < 1 || minSize < 0 || minSize > maxSize {
		return fmt.Errorf("%w: invalid pool size min=%d max=%d", ErrPoolInit, minSize, maxSize)
	}
	return nil
}

// MinSize returns the number of connections opened at creation
func (p *Pool) MinSize() int {
	return p.minSize
}

// MaxSize returns the maximum number of concurrently leased connections
func (p *Pool) MaxSize() int {
	return p.maxSize
}

// ActiveCount returns the number of connections currently leased
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leased)
}

// Acquire returns a connection. With complete direct parameters it opens a new
// connection outside the pool which the caller must Close; otherwise it leases
// one from the pool, waiting while all maxSize connections are out.
func (p *Pool) Acquire(ctx context.Context, direct *models.ConnParams) (*Conn, error) {
	if direct != nil && direct.Complete() {
		return openDirect(ctx, *direct)
	}
	if p == nil {
		return nil, ErrPoolNotInitialized
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolNotInitialized
	}
	db := p.db
	p.mu.Unlock()

	sc, err := db.Conn(ctx)
	if err != nil {
		if p.isClosed() {
			return nil, ErrPoolNotInitialized
		}
		return nil, fmt.Errorf("acquiring pooled connection: %w", err)
	}

	c := &Conn{conn: sc, pooled: true}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		sc.Close()
		return nil, ErrPoolNotInitialized
	}
	p.leased[c] = struct{}{}
	p.mu.Unlock()

	return c, nil
}

// Release returns a leased connection to the pool. Releasing a direct
// connection, or one that was already released, only logs a warning.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}

	logger := logrus.StandardLogger()
	if p != nil && p.Logger != nil {
		logger = p.Logger
	}

	if !c.pooled || p == nil {
		logger.Warning("Could not return connection to pool: connection was not leased from a pool")
		return
	}

	p.mu.Lock()
	_, ok := p.leased[c]
	delete(p.leased, c)
	p.mu.Unlock()

	if !ok {
		logger.Warning("Could not return connection to pool: connection is not currently leased")
		return
	}

	if err := c.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		logger.Warningf("Could not return connection to pool: %v", err)
	}
}

// Lend leases a pooled connection as a Querier
func (p *Pool) Lend(ctx context.Context) (Querier, error) {
	c, err := p.Acquire(ctx, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Reclaim releases a connection handed out by Lend
func (p *Pool) Reclaim(q Querier) {
	c, ok := q.(*Conn)
	if !ok {
		if p != nil && p.Logger != nil {
			p.Logger.Warningf("Could not return connection to pool: unexpected type %T", q)
		}
		return
	}
	p.Release(c)
}

// Close closes every connection, including leases that were never released.
// The pool cannot be used afterwards.
func (p *Pool) Close() {
	if p == nil {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	leased := p.leased
	p.leased = make(map[*Conn]struct{})
	p.mu.Unlock()

	if len(leased) > 0 {
		p.Logger.Warningf("Reclaiming %d connection(s) that were never released", len(leased))
	}
	for c := range leased {
		if err := c.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			p.Logger.Warningf("Error closing leased connection: %v", err)
		}
	}

	if err := p.db.Close(); err != nil {
		p.Logger.Errorf("Error closing connection pool: %v", err)
		return
	}
	p.Logger.Info("All connections in the pool have been closed")
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// openDirect opens a standalone connection with its own single-connection *sql.DB
func openDirect(ctx context.Context, params models.ConnParams) (*Conn, error) {
	d, err := dialect.For(params.DriverName())
	if err != nil {
		return nil, err
	}

	db, err := sqlOpen(d.DriverName, d.DSN(params))
	if err != nil {
		return nil, fmt.Errorf("opening direct connection: %w", err)
	}
	db.SetMaxOpenConns(1)

	sc, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening direct connection: %w", err)
	}

	return &Conn{conn: sc, db: db}, nil
}
