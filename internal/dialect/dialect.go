// Package dialect holds the per-database details the fan-out engine needs:
// driver registration name, DSN layout, identifier quoting and placeholder style.
package dialect

import (
	"fmt"
	"net/url"

	sq "github.com/Masterminds/squirrel"
	"github.com/vitebski/sql-fanout/pkg/models"
)

// Dialect describes how to talk to one database flavour
type Dialect struct {
	// Name is the models.Driver* constant this dialect serves
	Name string
	// DriverName is the database/sql driver registration name
	DriverName string
	// Quote wraps identifier parts; embedded quote characters are doubled
	Quote byte
	// Placeholders rewrites "?" markers into the driver's positional form
	Placeholders sq.PlaceholderFormat
	// EscapeQuestion is set when a literal "?" must be written as "??" before
	// Placeholders runs
	EscapeQuestion bool
}

var (
	// Postgres talks to PostgreSQL through the pgx stdlib driver
	Postgres = Dialect{
		Name:           models.DriverPostgres,
		DriverName:     "pgx",
		Quote:          '"',
		Placeholders:   sq.Dollar,
		EscapeQuestion: true,
	}

	// MySQL talks to MySQL through go-sql-driver/mysql
	MySQL = Dialect{
		Name:         models.DriverMySQL,
		DriverName:   "mysql",
		Quote:        '`',
		Placeholders: sq.Question,
	}
)

// For returns the dialect for a driver name
func For(driver string) (Dialect, error) {
	switch driver {
	case "", models.DriverPostgres, "postgresql", "pgx":
		return Postgres, nil
	case models.DriverMySQL:
		return MySQL, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported driver %q", driver)
	}
}

// DSN builds the data source name for the given connection parameters
func (d Dialect) DSN(p models.ConnParams) string {
	if d.Name == models.DriverMySQL {
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", p.User, p.Password, p.Host, p.Port, p.Database)
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   p.Host + ":" + p.Port,
		Path:   "/" + p.Database,
	}
	return u.String()
}
