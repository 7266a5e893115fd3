package dialect

import (
	"strings"
	"testing"

	"github.com/vitebski/sql-fanout/pkg/models"
)

func TestFor(t *testing.T) {
	for _, name := range []string{"", "postgres", "postgresql", "pgx"} {
		d, err := For(name)
		if err != nil {
			t.Fatalf("Expected %q to resolve, got %v", name, err)
		}
		if d.DriverName != "pgx" {
			t.Errorf("Expected pgx driver for %q, got %s", name, d.DriverName)
		}
	}

	d, err := For("mysql")
	if err != nil {
		t.Fatalf("Expected mysql to resolve, got %v", err)
	}
	if d.Quote != '`' {
		t.Errorf("Expected backtick quote for mysql, got %q", d.Quote)
	}

	if _, err := For("oracle"); err == nil {
		t.Error("Expected an error for an unsupported driver")
	}
}

func TestDSN(t *testing.T) {
	params := models.ConnParams{
		Host:     "db.internal",
		Port:     "5432",
		Database: "analytics",
		User:     "reader",
		Password: "p@ss",
	}

	dsn := Postgres.DSN(params)
	if !strings.HasPrefix(dsn, "postgres://reader:") || !strings.HasSuffix(dsn, "@db.internal:5432/analytics") {
		t.Errorf("Unexpected postgres DSN: %s", dsn)
	}
	if strings.Contains(dsn, "p@ss") {
		t.Errorf("Expected password to be escaped in DSN, got %s", dsn)
	}

	params.Port = "3306"
	dsn = MySQL.DSN(params)
	if dsn != "reader:p@ss@tcp(db.internal:3306)/analytics?parseTime=true" {
		t.Errorf("Unexpected mysql DSN: %s", dsn)
	}
}
