package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/sql-fanout/pkg/models"
)

// ErrMissingEnv is returned when required environment variables are unset
var ErrMissingEnv = errors.New("missing required environment variables")

// Connection environment variables
const (
	EnvDriver   = "DB_DRIVER"
	EnvHost     = "DB_HOST"
	EnvPort     = "DB_PORT"
	EnvDatabase = "DB_NAME"
	EnvUser     = "DB_USER"
	EnvPassword = "DB_PASSWORD"
	EnvLogLevel = "FANOUT_LOG_LEVEL"
)

// Run tuning environment variables, used when the matching flag is not given
const (
	EnvWorkers    = "FANOUT_WORKERS"
	EnvMaxConns   = "FANOUT_MAX_CONNS"
	EnvMaxRetries = "FANOUT_MAX_RETRIES"
)

// SetupLogging configures the logging system
func SetupLogging(logLevel string) *logrus.Logger {
	// Create a new logger
	logger := logrus.New()

	// Get log level from environment variable or parameter
	levelStr := logLevel
	if levelStr == "" {
		levelStr = os.Getenv(EnvLogLevel)
		if levelStr == "" {
			levelStr = "info"
		}
	}

	// Parse log level
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}

	// Configure logger
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetOutput(os.Stderr)

	logger.Debugf("Logging configured with level: %s", level)
	return logger
}

// LoadEnvironmentVariables loads environment variables from .env file and
// reports whether every connection variable is set
func LoadEnvironmentVariables(envFile string, logger *logrus.Logger) bool {
	// Check if a sample .env file exists but not the actual .env file
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		sampleEnvFile := envFile + ".sample"
		if _, err := os.Stat(sampleEnvFile); err == nil {
			logger.Infof("No %s file found, but %s exists. Consider copying %s to %s and updating it.",
				envFile, sampleEnvFile, sampleEnvFile, envFile)
		}
	}

	// Load environment variables from .env file if it exists
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.Warningf("Error loading %s file: %v", envFile, err)
		} else {
			logger.Infof("Loaded environment variables from %s", envFile)
		}
	} else {
		logger.Debugf("No %s file found, using existing environment variables", envFile)
	}

	if _, err := RequireEnv(EnvHost, EnvPort, EnvDatabase, EnvUser, EnvPassword); err != nil {
		logger.Debugf("%v", err)
		logger.Debug("These can be provided via command line arguments, environment variables, or a .env file")
		return false
	}

	// Log all available DB_* environment variables (for debugging)
	if logger.Level == logrus.DebugLevel {
		for _, env := range os.Environ() {
			if strings.HasPrefix(env, "DB_") {
				parts := strings.SplitN(env, "=", 2)
				if len(parts) == 2 {
					// Mask password
					if parts[0] == EnvPassword {
						logger.Debugf("%s=********", parts[0])
					} else {
						logger.Debugf("%s=%s", parts[0], parts[1])
					}
				}
			}
		}
	}

	return true
}

// RequireEnv returns the values of the given variables, failing with
// ErrMissingEnv naming every unset one
func RequireEnv(keys ...string) (map[string]string, error) {
	values := make(map[string]string, len(keys))
	var missing []string

	for _, k := range keys {
		v := os.Getenv(k)
		if v == "" {
			missing = append(missing, k)
			continue
		}
		values[k] = v
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	return values, nil
}

// GetEnv gets a string value from environment variable
func GetEnv(varName, defaultValue string) string {
	if value := os.Getenv(varName); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt gets an integer value from environment variable
func GetEnvInt(varName string, defaultValue int) int {
	value := os.Getenv(varName)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// ConnParamsFromEnv fills the empty fields of p from the environment
func ConnParamsFromEnv(p models.ConnParams) models.ConnParams {
	if p.Driver == "" {
		p.Driver = GetEnv(EnvDriver, models.DriverPostgres)
	}
	if p.Host == "" {
		p.Host = GetEnv(EnvHost, "localhost")
	}
	if p.Port == "" {
		defaultPort := "5432"
		if p.DriverName() == models.DriverMySQL {
			defaultPort = "3306"
		}
		p.Port = GetEnv(EnvPort, defaultPort)
	}
	if p.Database == "" {
		p.Database = os.Getenv(EnvDatabase)
	}
	if p.User == "" {
		p.User = os.Getenv(EnvUser)
	}
	if p.Password == "" {
		p.Password = os.Getenv(EnvPassword)
	}
	return p
}

// ValidateConnectionParams validates database connection parameters
func ValidateConnectionParams(p models.ConnParams, logger *logrus.Logger) bool {
	if p.Host == "" {
		logger.Error("Database host is required")
		return false
	}

	if p.User == "" {
		logger.Error("Database user is required")
		return false
	}

	if p.Password == "" {
		logger.Error("Database password is required")
		return false
	}

	if p.Database == "" {
		logger.Error("Database name is required")
		return false
	}

	if _, err := strconv.Atoi(p.Port); err != nil {
		logger.Errorf("Invalid port number: %s", p.Port)
		return false
	}

	return true
}

// PrintSummary prints a summary of the fan-out run
func PrintSummary(w io.Writer, summary models.RunSummary) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 50))
	fmt.Fprintln(w, "FAN-OUT SUMMARY")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "Run ID: %s\n", summary.RunID)
	fmt.Fprintf(w, "Total combinations: %d\n", summary.Total)
	fmt.Fprintf(w, "Combinations with rows: %d\n", summary.Succeeded)
	fmt.Fprintf(w, "Combinations without rows: %d\n", summary.Empty)
	fmt.Fprintf(w, "Failed combinations: %d\n", summary.Failed)
	fmt.Fprintf(w, "Total rows: %d\n", summary.Rows)

	if len(summary.FailedCombinations) > 0 {
		fmt.Fprintln(w, "\nFailed combinations:")
		for _, combo := range summary.FailedCombinations {
			fmt.Fprintf(w, "  - %s\n", combo)
		}
	}

	fmt.Fprintln(w, strings.Repeat("=", 50))
}

// WriteCSV writes the table with a header row. NULL values become empty fields.
func WriteCSV(w io.Writer, table *models.Table) error {
	cw := csv.NewWriter(w)

	if table == nil {
		cw.Flush()
		return cw.Error()
	}

	if err := cw.Write(table.Columns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	record := make([]string, len(table.Columns))
	for i, row := range table.Rows {
		if len(row) != len(record) {
			record = make([]string, len(row))
		}
		for j, v := range row {
			if v == nil {
				record[j] = ""
			} else {
				record[j] = fmt.Sprint(v)
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
