package models

import (
	"reflect"
	"testing"
)

func TestParseAttributeSource(t *testing.T) {
	s, err := ParseAttributeSource("region=public.regions")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if s.Attribute != "region" || !reflect.DeepEqual(s.Source, Identifier{"public", "regions"}) {
		t.Errorf("Unexpected source %+v", s)
	}

	for _, bad := range []string{"region", "=regions", "region=", ""} {
		if _, err := ParseAttributeSource(bad); err == nil {
			t.Errorf("Expected %q to be rejected", bad)
		}
	}
}

func TestAttributesKeepOrder(t *testing.T) {
	sources := AttributeSources{
		{Attribute: "year", Source: Identifier{"years"}},
		{Attribute: "region", Source: Identifier{"regions"}},
	}
	if got := sources.Attributes(); !reflect.DeepEqual(got, []string{"year", "region"}) {
		t.Errorf("Expected declaration order, got %v", got)
	}
}

func TestCombinationString(t *testing.T) {
	if got := (Combination{"east", 2023, nil}).String(); got != "(east, 2023, NULL)" {
		t.Errorf("Unexpected combination string %s", got)
	}
}

func TestConnParams(t *testing.T) {
	p := ConnParams{Host: "h", Port: "5432", Database: "d", User: "u", Password: "p"}
	if !p.Complete() {
		t.Error("Expected params to be complete")
	}
	if p.DriverName() != DriverPostgres {
		t.Errorf("Expected postgres by default, got %s", p.DriverName())
	}

	p.Password = ""
	if p.Complete() {
		t.Error("Expected params without password to be incomplete")
	}
}

func TestConcat(t *testing.T) {
	a := &Table{Columns: []string{"region", "amount"}, Rows: [][]interface{}{{"east", 1}}}
	b := &Table{Columns: []string{"region", "amount"}, Rows: [][]interface{}{{"west", 2}, {"west", 3}}}

	out := Concat(nil, &Table{Columns: []string{"ignored"}}, a, b)
	if out.Len() != 3 {
		t.Fatalf("Expected 3 rows, got %d", out.Len())
	}
	if !reflect.DeepEqual(out.Columns, []string{"region", "amount"}) {
		t.Errorf("Expected columns of the first non-empty table, got %v", out.Columns)
	}

	empty := Concat()
	if empty == nil || !empty.Empty() || empty.Columns == nil {
		t.Errorf("Expected a non-nil empty table, got %+v", empty)
	}

	var nilTable *Table
	if nilTable.Len() != 0 || !nilTable.Empty() {
		t.Error("Expected a nil table to be empty")
	}
}
