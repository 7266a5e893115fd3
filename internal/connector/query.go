package connector

import (
	"context"

	"github.com/vitebski/sql-fanout/pkg/models"
)

// RunQuery executes a single query synchronously over a direct connection
func RunQuery(ctx context.Context, params models.ConnParams, query string, args ...interface{}) (*models.Table, error) {
	conn, err := openDirect(ctx, params)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return conn.Query(ctx, query, args...)
}
