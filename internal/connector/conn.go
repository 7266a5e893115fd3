package connector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vitebski/sql-fanout/pkg/models"
)

// Querier runs a parameterized statement and returns its rows
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (*models.Table, error)
}

// Lender hands out connections and takes them back. The enumerator and the
// executor depend on this rather than on *Pool.
type Lender interface {
	Lend(ctx context.Context) (Querier, error)
	Reclaim(q Querier)
}

// Conn is a single database connection, either leased from a Pool or opened directly
type Conn struct {
	conn *sql.Conn
	// db is set for direct connections, which own their *sql.DB
	db     *sql.DB
	pooled bool
}

// Pooled reports whether the connection was leased from a pool
func (c *Conn) Pooled() bool {
	return c.pooled
}

// Query executes a SQL query and returns the results.
// A query that matches no rows yields a table with columns and no rows.
func (c *Conn) Query(ctx context.Context, query string, args ...interface{}) (*models.Table, error) {
	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	return scanTable(rows)
}

// Close closes a direct connection. Pooled connections must go back through Pool.Release.
func (c *Conn) Close() error {
	if c.pooled {
		return fmt.Errorf("connection is leased from a pool, release it instead")
	}
	err := c.conn.Close()
	if c.db != nil {
		if dbErr := c.db.Close(); err == nil {
			err = dbErr
		}
	}
	return err
}

// scanTable reads all rows into a Table
func scanTable(rows *sql.Rows) (*models.Table, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("getting columns: %w", err)
	}

	table := &models.Table{Columns: columns}

	for rows.Next() {
		// Create a slice of interface{} to hold the values
		values := make([]interface{}, len(columns))
		// Create a slice of pointers to the values
		valuePtrs := make([]interface{}, len(columns))
		for i := range columns {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		// Convert []byte to string for text fields
		for i, val := range values {
			if b, ok := val.([]byte); ok {
				values[i] = string(b)
			}
		}

		table.Rows = append(table.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return table, nil
}
