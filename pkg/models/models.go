package models

import (
	"fmt"
	"strings"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// ConnParams holds fully resolved connection parameters for one database
type ConnParams struct {
	Driver   string
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// Complete reports whether every parameter needed to open a connection is present
func (p ConnParams) Complete() bool {
	return p.Host != "" && p.Port != "" && p.Database != "" && p.User != "" && p.Password != ""
}

// DriverName returns the configured driver, defaulting to PostgreSQL
func (p ConnParams) DriverName() string {
	if p.Driver == "" {
		return DriverPostgres
	}
	return strings.ToLower(p.Driver)
}

// Identifier is a plain or qualified SQL name, e.g. {"sales"} or {"public", "sales"}
type Identifier []string

// ParseIdentifier splits a dotted name such as "schema.table" into its parts
func ParseIdentifier(name string) Identifier {
	return Identifier(strings.Split(name, "."))
}

// String returns the unquoted dotted form, for logging only
func (id Identifier) String() string {
	return strings.Join(id, ".")
}

// AttributeSource names the table that supplies the distinct values of one attribute
type AttributeSource struct {
	Attribute string
	Source    Identifier
}

// AttributeSources is the ordered list of attribute sources for one run
type AttributeSources []AttributeSource

// Attributes returns the attribute names in declaration order
func (s AttributeSources) Attributes() []string {
	names := make([]string, len(s))
	for i, src := range s {
		names[i] = src.Attribute
	}
	return names
}

// ParseAttributeSource parses the "attribute=table" command line form
func ParseAttributeSource(value string) (AttributeSource, error) {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return AttributeSource{}, fmt.Errorf("invalid attribute source %q, expected attribute=table", value)
	}
	return AttributeSource{
		Attribute: parts[0],
		Source:    ParseIdentifier(parts[1]),
	}, nil
}

// Combination is one tuple of attribute values, ordered like AttributeSources
type Combination []interface{}

// String formats the combination as "(v1, v2, ...)"
func (c Combination) String() string {
	parts := make([]string, len(c))
	for i, v := range c {
		if v == nil {
			parts[i] = "NULL"
			continue
		}
		parts[i] = fmt.Sprintf("%v", v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// RenderedQuery is a statement with identifiers bound and only value placeholders left
type RenderedQuery struct {
	SQL  string
	Args []interface{}
}

// Table represents a rectangular query result
type Table struct {
	Columns []string
	Rows    [][]interface{}
}

// Empty reports whether the table holds no rows
func (t *Table) Empty() bool {
	return t == nil || len(t.Rows) == 0
}

// Len returns the number of rows
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Concat appends the rows of all non-empty tables into a new table.
// Columns are taken from the first non-empty table; shapes are not checked.
func Concat(tables ...*Table) *Table {
	out := &Table{Columns: []string{}, Rows: [][]interface{}{}}
	for _, t := range tables {
		if t.Empty() {
			continue
		}
		if len(out.Rows) == 0 {
			out.Columns = append([]string(nil), t.Columns...)
		}
		out.Rows = append(out.Rows, t.Rows...)
	}
	return out
}

// RunSummary represents the result counts of one fan-out run
type RunSummary struct {
	RunID              string
	Total              int
	Succeeded          int
	Empty              int
	Failed             int
	Rows               int
	FailedCombinations []Combination
}
