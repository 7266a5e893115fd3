package sqltemplate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vitebski/sql-fanout/internal/dialect"
	"github.com/vitebski/sql-fanout/pkg/models"
)

// ErrInvalidIdentifier is returned for names that cannot be quoted safely
var ErrInvalidIdentifier = errors.New("invalid identifier")

// QuotedIdentifier is a SQL identifier that has been quoted for one dialect.
// It can only be produced by Sanitize.
type QuotedIdentifier struct {
	text string
}

// String returns the quoted SQL text
func (q QuotedIdentifier) String() string {
	return q.text
}

// Sanitize quotes a plain or qualified name for safe embedding in SQL.
// Accepted inputs are string, models.Identifier, []string and []interface{}
// holding only strings.
func Sanitize(d dialect.Dialect, name interface{}) (QuotedIdentifier, error) {
	var parts []string

	switch v := name.(type) {
	case string:
		parts = []string{v}
	case models.Identifier:
		parts = v
	case []string:
		parts = v
	case []interface{}:
		parts = make([]string, len(v))
		for i, p := range v {
			s, ok := p.(string)
			if !ok {
				return QuotedIdentifier{}, fmt.Errorf("%w: part %d is %T, not a string", ErrInvalidIdentifier, i, p)
			}
			parts[i] = s
		}
	default:
		return QuotedIdentifier{}, fmt.Errorf("%w: expected a string or a sequence of strings, got %T", ErrInvalidIdentifier, name)
	}

	if len(parts) == 0 {
		return QuotedIdentifier{}, fmt.Errorf("%w: no name parts", ErrInvalidIdentifier)
	}

	quote := string(d.Quote)
	quoted := make([]string, len(parts))
	for i, p := range parts {
		if p == "" {
			return QuotedIdentifier{}, fmt.Errorf("%w: part %d is empty", ErrInvalidIdentifier, i)
		}
		if strings.ContainsRune(p, 0) {
			return QuotedIdentifier{}, fmt.Errorf("%w: part %d contains a NUL byte", ErrInvalidIdentifier, i)
		}
		quoted[i] = quote + strings.ReplaceAll(p, quote, quote+quote) + quote
	}

	return QuotedIdentifier{text: strings.Join(quoted, ".")}, nil
}
