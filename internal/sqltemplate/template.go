// Package sqltemplate turns a fan-out query template into a parameterized
// statement. Table and attribute names are bound as quoted identifiers; values
// stay as driver placeholders and are never written into the SQL text.
//
// Template syntax:
//
//	{table}        the target table
//	{attribute_N}  the N-th attribute, in declaration order
//	{{ and }}      literal braces
//	%s             a value placeholder
//	%%             a literal percent sign
package sqltemplate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vitebski/sql-fanout/internal/dialect"
	"github.com/vitebski/sql-fanout/pkg/models"
)

var (
	// ErrTemplate is returned for malformed templates
	ErrTemplate = errors.New("invalid query template")
	// ErrParameterCount is returned when a combination cannot fill the value placeholders
	ErrParameterCount = errors.New("parameter count mismatch")
)

const attributePrefix = "attribute_"

// Statement is a template with every identifier bound, ready to take values
type Statement struct {
	sql          string
	placeholders int
}

// SQL returns the statement text in the dialect's placeholder style
func (s *Statement) SQL() string {
	return s.sql
}

// Placeholders returns the number of value placeholders
func (s *Statement) Placeholders() int {
	return s.placeholders
}

// Compile binds the table and attribute identifiers into the template
func Compile(d dialect.Dialect, template string, target models.Identifier, attributes []string) (*Statement, error) {
	table, err := Sanitize(d, target)
	if err != nil {
		return nil, fmt.Errorf("target table: %w", err)
	}

	quotedAttrs := make([]QuotedIdentifier, len(attributes))
	for i, attr := range attributes {
		q, err := Sanitize(d, attr)
		if err != nil {
			return nil, fmt.Errorf("attribute %d: %w", i, err)
		}
		quotedAttrs[i] = q
	}

	var b strings.Builder
	writeText := func(s string) {
		if d.EscapeQuestion {
			s = strings.ReplaceAll(s, "?", "??")
		}
		b.WriteString(s)
	}

	count := 0
	for i := 0; i < len(template); i++ {
		c := template[i]
		switch c {
		case '{':
			if i+1 < len(template) && template[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%w: unclosed '{' at offset %d", ErrTemplate, i)
			}
			name := template[i+1 : i+1+end]
			switch {
			case name == "table":
				writeText(table.String())
			case strings.HasPrefix(name, attributePrefix):
				idx, err := strconv.Atoi(strings.TrimPrefix(name, attributePrefix))
				if err != nil || idx < 0 || idx >= len(quotedAttrs) {
					return nil, fmt.Errorf("%w: {%s} does not name one of %d attributes", ErrTemplate, name, len(quotedAttrs))
				}
				writeText(quotedAttrs[idx].String())
			default:
				return nil, fmt.Errorf("%w: unknown placeholder {%s}", ErrTemplate, name)
			}
			i += end + 1
		case '}':
			if i+1 < len(template) && template[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return nil, fmt.Errorf("%w: single '}' at offset %d", ErrTemplate, i)
		case '%':
			if i+1 < len(template) {
				switch template[i+1] {
				case 's':
					b.WriteByte('?')
					count++
					i++
					continue
				case '%':
					b.WriteByte('%')
					i++
					continue
				}
			}
			return nil, fmt.Errorf("%w: unsupported format at offset %d, use %%s or %%%%", ErrTemplate, i)
		case '?':
			writeText("?")
		default:
			b.WriteByte(c)
		}
	}

	sql, err := d.Placeholders.ReplacePlaceholders(b.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplate, err)
	}

	return &Statement{sql: sql, placeholders: count}, nil
}

// Bind stages the combination's values as positional parameters
func (s *Statement) Bind(values models.Combination) (models.RenderedQuery, error) {
	args, err := TileParams(values, s.placeholders)
	if err != nil {
		return models.RenderedQuery{}, err
	}
	return models.RenderedQuery{SQL: s.sql, Args: args}, nil
}

// CheckArity reports whether combinations with n values can be bound
func (s *Statement) CheckArity(n int) error {
	_, err := TileParams(make([]interface{}, n), s.placeholders)
	return err
}

// TileParams fits values to n placeholders. Fewer values are repeated
// cyclically; more values than placeholders is an error.
func TileParams(values []interface{}, n int) ([]interface{}, error) {
	switch {
	case len(values) == n:
		return append([]interface{}(nil), values...), nil
	case len(values) > n:
		return nil, fmt.Errorf("%w: %d values for %d placeholders", ErrParameterCount, len(values), n)
	case len(values) == 0:
		return nil, fmt.Errorf("%w: no values for %d placeholders", ErrParameterCount, n)
	}

	repeats := (n + len(values) - 1) / len(values)
	out := make([]interface{}, 0, repeats*len(values))
	for r := 0; r < repeats; r++ {
		out = append(out, values...)
	}
	return out[:n], nil
}

// Render compiles the template and binds one combination
func Render(d dialect.Dialect, template string, target models.Identifier, attributes []string, values models.Combination) (models.RenderedQuery, error) {
	stmt, err := Compile(d, template, target, attributes)
	if err != nil {
		return models.RenderedQuery{}, err
	}
	return stmt.Bind(values)
}
