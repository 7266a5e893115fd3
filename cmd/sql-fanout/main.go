package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vitebski/sql-fanout/internal/audit"
	"github.com/vitebski/sql-fanout/internal/connector"
	"github.com/vitebski/sql-fanout/internal/executor"
	"github.com/vitebski/sql-fanout/internal/fanout"
	"github.com/vitebski/sql-fanout/internal/utils"
	"github.com/vitebski/sql-fanout/pkg/models"
)

func main() {
	var (
		params          models.ConnParams
		envFile         string
		logLevel        string
		template        string
		templateFile    string
		targetTable     string
		sources         []string
		maxCombinations int
		maxRetries      int
		baseDelay       time.Duration
		workers         int
		minConns        int
		maxConns        int
		retryLog        string
		failureLog      string
		output          string
	)

	// setup loads the environment and resolves connection parameters
	setup := func() (*logrus.Logger, models.ConnParams) {
		logger := utils.SetupLogging(logLevel)
		utils.LoadEnvironmentVariables(envFile, logger)

		p := utils.ConnParamsFromEnv(params)
		if !utils.ValidateConnectionParams(p, logger) {
			os.Exit(1)
		}
		return logger, p
	}

	rootCmd := &cobra.Command{
		Use:   "sql-fanout",
		Short: "Run a SQL query template once per combination of distinct attribute values",
		Long: `SQL Fan-out

Enumerates the distinct values of one or more attributes, runs a query
template once per combination in parallel over a bounded connection pool,
and concatenates the results. Failed queries are retried with exponential
backoff and written to a retry log and a failure log.`,
		Example: `  sql-fanout --target-table public.sales \
    --template "SELECT * FROM {table} WHERE region = %s AND year = %s" \
    --source region=public.regions --source year=public.years \
    --output sales.csv`,
		Run: func(cmd *cobra.Command, args []string) {
			logger, p := setup()

			// Flags win over environment defaults
			workers = envInt(cmd, "workers", utils.EnvWorkers, workers)
			maxConns = envInt(cmd, "max-conns", utils.EnvMaxConns, maxConns)
			maxRetries = envInt(cmd, "max-retries", utils.EnvMaxRetries, maxRetries)

			// Resolve the query template
			if templateFile != "" {
				content, err := os.ReadFile(templateFile)
				if err != nil {
					logger.Errorf("Failed to read template file: %v", err)
					os.Exit(1)
				}
				template = string(content)
			}
			if template == "" {
				logger.Error("A query template is required (--template or --template-file)")
				os.Exit(1)
			}
			if targetTable == "" {
				logger.Error("A target table is required (--target-table)")
				os.Exit(1)
			}

			// Parse attribute sources
			var attributeSources models.AttributeSources
			for _, s := range sources {
				source, err := models.ParseAttributeSource(s)
				if err != nil {
					logger.Error(err)
					os.Exit(1)
				}
				attributeSources = append(attributeSources, source)
			}

			// Open audit logs
			sink, err := audit.NewFileSink(retryLog, failureLog)
			if err != nil {
				logger.Errorf("Failed to open audit logs: %v", err)
				os.Exit(1)
			}
			defer sink.Close()

			opts := fanout.Options{
				Retry: executor.Config{
					MaxRetries: maxRetries,
					BaseDelay:  baseDelay,
					Jitter:     executor.DefaultConfig().Jitter,
				},
				Workers:  workers,
				MinConns: minConns,
				MaxConns: maxConns,
				OnProgress: func(completed, total int, outcome executor.Outcome) {
					logger.Infof("[PROGRESS] Completed values: %s | %d/%d", outcome.Combination, completed, total)
				},
			}
			orchestrator := fanout.NewOrchestrator(opts, sink, logger)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := orchestrator.Run(ctx, p, fanout.Request{
				Template:        template,
				TargetTable:     models.ParseIdentifier(targetTable),
				Sources:         attributeSources,
				MaxCombinations: maxCombinations,
			})
			if err != nil {
				logger.Errorf("Fan-out failed: %v", err)
				sink.Close()
				os.Exit(1)
			}

			utils.PrintSummary(os.Stdout, result.Summary)

			if err := writeOutput(output, result.Table); err != nil {
				logger.Errorf("Failed to write output: %v", err)
				sink.Close()
				os.Exit(1)
			}
		},
	}

	queryCmd := &cobra.Command{
		Use:   "query SQL [ARGS...]",
		Short: "Run a single query synchronously and print the result as CSV",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			logger, p := setup()

			queryArgs := make([]interface{}, 0, len(args)-1)
			for _, a := range args[1:] {
				queryArgs = append(queryArgs, a)
			}

			table, err := connector.RunQuery(cmd.Context(), p, args[0], queryArgs...)
			if err != nil {
				logger.Errorf("Query failed: %v", err)
				os.Exit(1)
			}

			logger.Infof("Query returned %d rows", table.Len())
			if err := writeOutput(output, table); err != nil {
				logger.Errorf("Failed to write output: %v", err)
				os.Exit(1)
			}
		},
	}

	// Define flags
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&params.Driver, "driver", "D", "", "Database driver: postgres or mysql (default: postgres)")
	pf.StringVarP(&params.Host, "host", "H", "", "Database host (default: localhost)")
	pf.StringVarP(&params.Port, "port", "P", "", "Database port (default: 5432 for postgres, 3306 for mysql)")
	pf.StringVarP(&params.Database, "database", "d", "", "Database name")
	pf.StringVarP(&params.User, "user", "u", "", "Database user")
	pf.StringVarP(&params.Password, "password", "p", "", "Database password")
	pf.StringVarP(&envFile, "env-file", "e", ".env", "Path to .env file")
	pf.StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	pf.StringVarP(&output, "output", "o", "", "Write the result table to this CSV file (\"-\" for stdout)")

	rootCmd.Flags().StringVarP(&template, "template", "t", "", "Query template with {table}, {attribute_N} and %s placeholders")
	rootCmd.Flags().StringVarP(&templateFile, "template-file", "f", "", "Read the query template from a file")
	rootCmd.Flags().StringVarP(&targetTable, "target-table", "T", "", "Table substituted for {table} (schema-qualified names allowed)")
	rootCmd.Flags().StringArrayVarP(&sources, "source", "s", nil, "Attribute source as attribute=table (repeatable, order matters)")
	rootCmd.Flags().IntVarP(&maxCombinations, "max-combinations", "c", 0, "Only run the first N combinations (0 for all)")
	rootCmd.Flags().IntVarP(&maxRetries, "max-retries", "m", executor.DefaultConfig().MaxRetries, "Total attempts per combination (env FANOUT_MAX_RETRIES)")
	rootCmd.Flags().DurationVarP(&baseDelay, "base-delay", "b", executor.DefaultConfig().BaseDelay, "Delay after the first failed attempt, doubled on every retry")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", fanout.DefaultWorkers(), "Number of concurrent workers (env FANOUT_WORKERS)")
	rootCmd.Flags().IntVar(&minConns, "min-conns", 1, "Connections opened when the pool starts")
	rootCmd.Flags().IntVar(&maxConns, "max-conns", 10, "Maximum pool connections (env FANOUT_MAX_CONNS)")
	rootCmd.Flags().StringVar(&retryLog, "retry-log", audit.DefaultRetryLog, "Retry audit log path")
	rootCmd.Flags().StringVar(&failureLog, "failure-log", audit.DefaultFailureLog, "Failure audit log path")

	rootCmd.AddCommand(queryCmd)

	// Execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// envInt returns the environment value for env unless flag was set explicitly
func envInt(cmd *cobra.Command, flag, env string, current int) int {
	if cmd.Flags().Changed(flag) {
		return current
	}
	return utils.GetEnvInt(env, current)
}

// writeOutput writes the table as CSV to path, or to stdout for "-".
// An empty path writes nothing.
func writeOutput(path string, table *models.Table) error {
	switch path {
	case "":
		return nil
	case "-":
		return utils.WriteCSV(os.Stdout, table)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := utils.WriteCSV(f, table); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
