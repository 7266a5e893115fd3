package enumerator

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/sql-fanout/internal/connector"
	"github.com/vitebski/sql-fanout/internal/dialect"
	"github.com/vitebski/sql-fanout/internal/sqltemplate"
	"github.com/vitebski/sql-fanout/pkg/models"
)

// Enumerator fetches distinct attribute values and builds their combinations
type Enumerator struct {
	Lender  connector.Lender
	Dialect dialect.Dialect
	Logger  *logrus.Logger
}

// NewEnumerator creates a new combination enumerator
func NewEnumerator(lender connector.Lender, d dialect.Dialect, logger *logrus.Logger) *Enumerator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Enumerator{
		Lender:  lender,
		Dialect: d,
		Logger:  logger,
	}
}

// Enumerate returns the Cartesian product of the distinct values of every
// attribute, in declaration order. A positive limit keeps only the first
// limit combinations. Without sources the product is one empty combination
// and no connection is used.
func (e *Enumerator) Enumerate(ctx context.Context, sources models.AttributeSources, limit int) ([]models.Combination, error) {
	if len(sources) == 0 {
		return CartesianProduct(nil), nil
	}

	// Build every lookup before touching the database so bad names fail fast
	queries := make([]string, len(sources))
	for i, src := range sources {
		query, err := e.distinctQuery(src)
		if err != nil {
			return nil, err
		}
		queries[i] = query
	}

	values, err := e.fetchDistinctValues(ctx, sources, queries)
	if err != nil {
		return nil, err
	}

	combinations := CartesianProduct(values)
	if limit > 0 && len(combinations) > limit {
		e.Logger.Infof("Limiting run to the first %d of %d combinations", limit, len(combinations))
		combinations = combinations[:limit]
	}

	return combinations, nil
}

// distinctQuery builds SELECT DISTINCT <attribute> FROM <source>
func (e *Enumerator) distinctQuery(src models.AttributeSource) (string, error) {
	attr, err := sqltemplate.Sanitize(e.Dialect, src.Attribute)
	if err != nil {
		return "", fmt.Errorf("attribute %q: %w", src.Attribute, err)
	}
	table, err := sqltemplate.Sanitize(e.Dialect, src.Source)
	if err != nil {
		return "", fmt.Errorf("source table for %q: %w", src.Attribute, err)
	}

	query, _, err := sq.Select(e.escape(attr.String())).
		Distinct().
		From(e.escape(table.String())).
		PlaceholderFormat(e.Dialect.Placeholders).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("building distinct query for %q: %w", src.Attribute, err)
	}
	return query, nil
}

// escape protects literal question marks from placeholder rewriting
func (e *Enumerator) escape(s string) string {
	if e.Dialect.EscapeQuestion {
		return strings.ReplaceAll(s, "?", "??")
	}
	return s
}

// fetchDistinctValues runs every lookup on one leased connection
func (e *Enumerator) fetchDistinctValues(ctx context.Context, sources models.AttributeSources, queries []string) ([][]interface{}, error) {
	conn, err := e.Lender.Lend(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection for distinct values: %w", err)
	}
	defer e.Lender.Reclaim(conn)

	values := make([][]interface{}, len(sources))
	for i, src := range sources {
		e.Logger.Infof("Fetching distinct values for attribute: %s", src.Attribute)
		e.Logger.Debugf("Distinct query: %s", queries[i])

		table, err := conn.Query(ctx, queries[i])
		if err != nil {
			return nil, fmt.Errorf("fetching distinct values for %q from %s: %w", src.Attribute, src.Source, err)
		}

		column := make([]interface{}, 0, table.Len())
		for _, row := range table.Rows {
			if len(row) == 0 {
				continue
			}
			column = append(column, row[0])
		}
		values[i] = column

		e.Logger.Debugf("Attribute %s has %d distinct values", src.Attribute, len(column))
	}

	return values, nil
}

// CartesianProduct returns every combination taking one value from each list.
// The last list varies fastest. Any empty list yields no combinations; no lists
// at all yield a single empty combination.
func CartesianProduct(values [][]interface{}) []models.Combination {
	if len(values) == 0 {
		return []models.Combination{{}}
	}

	total := 1
	for _, v := range values {
		if len(v) == 0 {
			return nil
		}
		total *= len(v)
	}

	combinations := make([]models.Combination, 0, total)
	indices := make([]int, len(values))

	for {
		combo := make(models.Combination, len(values))
		for i, idx := range indices {
			combo[i] = values[i][idx]
		}
		combinations = append(combinations, combo)

		// Advance the odometer from the rightmost position
		pos := len(indices) - 1
		for pos >= 0 {
			indices[pos]++
			if indices[pos] < len(values[pos]) {
				break
			}
			indices[pos] = 0
			pos--
		}
		if pos < 0 {
			return combinations
		}
	}
}
