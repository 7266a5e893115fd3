package connector

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/sql-fanout/pkg/models"
)

// Helper function to create a test logger
func createTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests
	return logger
}

func testParams() models.ConnParams {
	return models.ConnParams{
		Driver:   models.DriverPostgres,
		Host:     "localhost",
		Port:     "5432",
		Database: "analytics",
		User:     "reader",
		Password: "secret",
	}
}

// useMockDB routes sqlOpen to a fresh sqlmock database for the duration of the test
func useMockDB(t *testing.T, monitorPings bool) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual),
		sqlmock.MonitorPingsOption(monitorPings),
	)
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}

	original := sqlOpen
	sqlOpen = func(driverName, dsn string) (*sql.DB, error) {
		return db, nil
	}
	t.Cleanup(func() {
		sqlOpen = original
	})

	return db, mock
}

func TestNewPoolValidation(t *testing.T) {
	logger := createTestLogger()
	ctx := context.Background()

	incomplete := testParams()
	incomplete.Password = ""
	if _, err := NewPool(ctx, incomplete, 1, 2, logger); !errors.Is(err, ErrPoolInit) {
		t.Errorf("Expected ErrPoolInit for incomplete parameters, got %v", err)
	}

	sizes := [][2]int{{0, 0}, {-1, 2}, {3, 2}}
	for _, s := range sizes {
		if _, err := NewPool(ctx, testParams(), s[0], s[1], logger); !errors.Is(err, ErrPoolInit) {
			t.Errorf("Expected ErrPoolInit for min=%d max=%d, got %v", s[0], s[1], err)
		}
	}

	unsupported := testParams()
	unsupported.Driver = "oracle"
	if _, err := NewPool(ctx, unsupported, 1, 2, logger); !errors.Is(err, ErrPoolInit) {
		t.Errorf("Expected ErrPoolInit for unsupported driver, got %v", err)
	}
}

func TestNewPoolUnreachable(t *testing.T) {
	_, mock := useMockDB(t, true)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	_, err := NewPool(context.Background(), testParams(), 1, 2, createTestLogger())
	if !errors.Is(err, ErrPoolInit) {
		t.Errorf("Expected ErrPoolInit for unreachable database, got %v", err)
	}
}

func TestAcquireRelease(t *testing.T) {
	useMockDB(t, false)

	pool, err := NewPool(context.Background(), testParams(), 1, 2, createTestLogger())
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Close()

	if pool.MinSize() != 1 || pool.MaxSize() != 2 {
		t.Errorf("Expected min=1 max=2, got min=%d max=%d", pool.MinSize(), pool.MaxSize())
	}

	first, err := pool.Acquire(context.Background(), nil)
	if err != nil {
		t.Fatalf("Failed to acquire first connection: %v", err)
	}
	second, err := pool.Acquire(context.Background(), nil)
	if err != nil {
		t.Fatalf("Failed to acquire second connection: %v", err)
	}
	if !first.Pooled() || !second.Pooled() {
		t.Error("Expected pooled connections")
	}
	if pool.ActiveCount() != 2 {
		t.Errorf("Expected 2 active connections, got %d", pool.ActiveCount())
	}

	// The pool is exhausted, so a third lease must wait
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(ctx, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected acquisition to block until the deadline, got %v", err)
	}

	pool.Release(first)
	if pool.ActiveCount() != 1 {
		t.Errorf("Expected 1 active connection after release, got %d", pool.ActiveCount())
	}

	// Releasing twice is a logged no-op
	pool.Release(first)
	if pool.ActiveCount() != 1 {
		t.Errorf("Expected double release to be ignored, got %d active", pool.ActiveCount())
	}

	third, err := pool.Acquire(context.Background(), nil)
	if err != nil {
		t.Fatalf("Expected a connection after release, got %v", err)
	}
	pool.Release(third)
	pool.Release(second)
	if pool.ActiveCount() != 0 {
		t.Errorf("Expected 0 active connections, got %d", pool.ActiveCount())
	}
}

func TestAcquireWithoutPool(t *testing.T) {
	var pool *Pool
	if _, err := pool.Acquire(context.Background(), nil); !errors.Is(err, ErrPoolNotInitialized) {
		t.Errorf("Expected ErrPoolNotInitialized, got %v", err)
	}

	incomplete := models.ConnParams{Host: "localhost"}
	if _, err := pool.Acquire(context.Background(), &incomplete); !errors.Is(err, ErrPoolNotInitialized) {
		t.Errorf("Expected ErrPoolNotInitialized for incomplete direct parameters, got %v", err)
	}
}

func TestCloseReclaimsUnreleasedConnections(t *testing.T) {
	useMockDB(t, false)

	pool, err := NewPool(context.Background(), testParams(), 1, 3, createTestLogger())
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := pool.Acquire(context.Background(), nil); err != nil {
			t.Fatalf("Failed to acquire connection: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		pool.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return with unreleased connections outstanding")
	}

	if pool.ActiveCount() != 0 {
		t.Errorf("Expected no active connections after close, got %d", pool.ActiveCount())
	}
	if _, err := pool.Acquire(context.Background(), nil); !errors.Is(err, ErrPoolNotInitialized) {
		t.Errorf("Expected ErrPoolNotInitialized after close, got %v", err)
	}

	// Closing again is harmless
	pool.Close()
}

func TestDirectConnection(t *testing.T) {
	useMockDB(t, false)

	pool, err := NewPool(context.Background(), testParams(), 0, 1, createTestLogger())
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Close()

	// Direct connections get their own database handle
	directDB, directMock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	sqlOpen = func(driverName, dsn string) (*sql.DB, error) {
		return directDB, nil
	}

	directMock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(int64(1)))

	params := testParams()
	conn, err := pool.Acquire(context.Background(), &params)
	if err != nil {
		t.Fatalf("Failed to open direct connection: %v", err)
	}
	if conn.Pooled() {
		t.Error("Expected a direct connection")
	}
	if pool.ActiveCount() != 0 {
		t.Errorf("Expected direct connection to bypass the pool, got %d active", pool.ActiveCount())
	}

	table, err := conn.Query(context.Background(), "SELECT 1")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if table.Len() != 1 {
		t.Errorf("Expected 1 row, got %d", table.Len())
	}

	// Releasing a direct connection is a no-op that must not panic
	pool.Release(conn)

	if err := directMock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
	conn.Close()
}

func TestConnQuery(t *testing.T) {
	_, mock := useMockDB(t, false)

	pool, err := NewPool(context.Background(), testParams(), 1, 1, createTestLogger())
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Close()

	query := `SELECT * FROM "sales" WHERE region=$1`
	mock.ExpectQuery(query).
		WithArgs("east").
		WillReturnRows(sqlmock.NewRows([]string{"region", "amount"}).
			AddRow("east", int64(10)).
			AddRow([]byte("east"), int64(20)))
	mock.ExpectQuery(query).
		WithArgs("west").
		WillReturnError(errors.New("relation does not exist"))

	q, err := pool.Lend(context.Background())
	if err != nil {
		t.Fatalf("Failed to lend connection: %v", err)
	}
	defer pool.Reclaim(q)

	table, err := q.Query(context.Background(), query, "east")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(table.Columns) != 2 || table.Columns[0] != "region" || table.Columns[1] != "amount" {
		t.Errorf("Unexpected columns: %v", table.Columns)
	}
	if table.Len() != 2 {
		t.Fatalf("Expected 2 rows, got %d", table.Len())
	}
	if s, ok := table.Rows[1][0].(string); !ok || s != "east" {
		t.Errorf("Expected []byte to be converted to string, got %#v", table.Rows[1][0])
	}

	if _, err := q.Query(context.Background(), query, "west"); err == nil {
		t.Error("Expected query error to be returned")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestRunQuery(t *testing.T) {
	_, mock := useMockDB(t, false)

	mock.ExpectQuery("SELECT name FROM users WHERE id = $1").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("ada"))

	table, err := RunQuery(context.Background(), testParams(), "SELECT name FROM users WHERE id = $1", int64(7))
	if err != nil {
		t.Fatalf("RunQuery failed: %v", err)
	}
	if table.Len() != 1 || table.Rows[0][0] != "ada" {
		t.Errorf("Unexpected result: %+v", table)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}
