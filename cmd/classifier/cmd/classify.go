package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"bank-statement-classifier/cmd/classifier/config"
	"bank-statement-classifier/internal/parsers"
	"bank-statement-classifier/internal/reconciler"
	"bank-statement-classifier/internal/reporter"
	"bank-statement-classifier/internal/storage/postgres"
	"bank-statement-classifier/pkg/logger"
)

// classifyCmd represents the classify command
var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify bank statement rows and write the results",
	Long: `Classify runs one batch: it loads counteragents, parsing rules, payments,
salary accruals and exchange rates once, compiles every rule, then classifies
each row and writes the update records back.

With --source file the run directory holds rows.csv, counteragents.csv,
rules.yaml and the optional payments.csv, salary_accruals.csv,
salary_accruals_latest.csv, rates.csv and currencies.csv. Results go to
results.csv in the same directory.

With --source postgres rows are updated in place. Rows whose parsing_lock is
set are never changed.

Examples:
  # File run
  classifier classify --dir ./run-2024-01

  # Database run over one month, JSON report to a file
  CLASSIFIER_DATABASE_URL=postgres://app@localhost/ledger \
    classifier classify --source postgres --start-date 2024-01-01 --end-date 2024-01-31 \
    --output-format json --output-file report.json`,
	PreRunE: validateRunFlags,
	RunE:    runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
	addRunFlags(classifyCmd)
}

// addRunFlags registers the flags shared by classify and schedule.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String(config.KeySource, string(config.SourceFile), "data source: file, postgres")
	cmd.Flags().String(config.KeyDatabaseURL, "", "PostgreSQL connection URL (or CLASSIFIER_DATABASE_URL)")
	cmd.Flags().StringP(config.KeyDir, "d", ".", "run directory for --source file")
	cmd.Flags().String(config.KeyResultsFile, "", "results CSV file name for --source file (default: results.csv)")

	cmd.Flags().StringP(config.KeyOutputFormat, "f", "console", "report format: console, json, csv")
	cmd.Flags().StringP(config.KeyOutputFile, "o", "", "report file path (default: stdout)")

	cmd.Flags().String(config.KeyStartDate, "", "skip rows before this transaction date (YYYY-MM-DD)")
	cmd.Flags().String(config.KeyEndDate, "", "skip rows after this transaction date (YYYY-MM-DD)")

	cmd.Flags().IntP(config.KeyWorkers, "w", 0, "rows classified concurrently (default: number of CPUs)")
	cmd.Flags().Int(config.KeyBatchSize, 0, "rows read and written per batch (default: 1000)")
	cmd.Flags().Bool(config.KeyProgress, false, "log progress during the run")
}

// validateRunFlags binds the command flags and checks every configuration a
// run builds, before any data source is opened.
func validateRunFlags(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd, args); err != nil {
		return err
	}
	v := viper.GetViper()

	source, err := config.SourceFrom(v)
	if err != nil {
		return err
	}
	if source == config.SourcePostgres {
		_, err = config.PostgresConfig(v)
	} else {
		_, err = config.SourceConfig(v)
	}
	if err != nil {
		return err
	}

	if _, err := config.ClassifierConfig(v); err != nil {
		return err
	}
	if _, err := config.ReconcilerConfig(v); err != nil {
		return err
	}
	_, err = config.ReportConfig(v)
	return err
}

func runClassify(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v := viper.GetViper()
	result, runErr := runBatch(ctx, v)
	if result == nil {
		return runErr
	}

	if err := writeReport(v, result, cmd.OutOrStdout()); err != nil {
		return multierr.Append(runErr, err)
	}
	return runErr
}

// dataAccess is the loader, source and sink of one run.
type dataAccess struct {
	loader reconciler.ReferenceLoader
	source reconciler.RowSource
	sink   reconciler.ResultSink
	close  func() error
}

// openDataAccess wires the data-access layer selected by --source.
func openDataAccess(ctx context.Context, v *viper.Viper, runConfig *reconciler.Config) (*dataAccess, error) {
	source, err := config.SourceFrom(v)
	if err != nil {
		return nil, err
	}

	switch source {
	case config.SourcePostgres:
		pgConfig, err := config.PostgresConfig(v)
		if err != nil {
			return nil, err
		}
		pool, err := postgres.Connect(ctx, pgConfig)
		if err != nil {
			return nil, err
		}
		return &dataAccess{
			loader: postgres.NewLoader(pool, pgConfig),
			source: postgres.NewRowSource(pool, pgConfig, runConfig.StartDate, runConfig.EndDate),
			sink:   postgres.NewWriter(pool, pgConfig),
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil

	default:
		srcConfig, err := config.SourceConfig(v)
		if err != nil {
			return nil, err
		}
		fsys := afero.NewOsFs()

		loader, err := parsers.NewFileReferenceLoader(fsys, srcConfig)
		if err != nil {
			return nil, err
		}
		sink, err := parsers.NewCSVResultSink(fsys, srcConfig.Path(srcConfig.OutputFile))
		if err != nil {
			return nil, err
		}
		rows := parsers.NewCSVRowSource(fsys, srcConfig.Path(srcConfig.RowsFile), &srcConfig.Parse)

		return &dataAccess{
			loader: loader,
			source: rows,
			sink:   sink,
			close: func() error {
				return multierr.Combine(rows.Close(), sink.Close())
			},
		}, nil
	}
}

// runBatch builds every configuration from v and runs one batch.
func runBatch(ctx context.Context, v *viper.Viper) (*reconciler.RunResult, error) {
	log := logger.GetGlobalLogger().WithComponent("cli")

	classifierConfig, err := config.ClassifierConfig(v)
	if err != nil {
		return nil, err
	}
	runConfig, err := config.ReconcilerConfig(v)
	if err != nil {
		return nil, err
	}

	access, err := openDataAccess(ctx, v, runConfig)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := access.close(); err != nil {
			log.WithError(err).Warn("Closing data access failed")
		}
	}()

	service, err := reconciler.NewService(access.loader, access.source, access.sink, runConfig, classifierConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create classification service: %w", err)
	}

	log.WithFields(logger.Fields{
		"source":     v.GetString(config.KeySource),
		"workers":    runConfig.Workers,
		"batch_size": runConfig.BatchSize,
	}).Info("Starting classification run")

	return service.Run(ctx)
}

// writeReport renders result to --output-file or to w.
func writeReport(v *viper.Viper, result *reconciler.RunResult, w io.Writer) error {
	reportConfig, err := config.ReportConfig(v)
	if err != nil {
		return err
	}
	generator, err := reporter.NewSafeReportGenerator(reportConfig, nil)
	if err != nil {
		return err
	}

	if path := v.GetString(config.KeyOutputFile); path != "" {
		written, err := generator.WriteReportFile(afero.NewOsFs(), path, result)
		if err != nil {
			return err
		}
		if written != path {
			fmt.Fprintf(os.Stderr, "Report saved to %s\n", written)
		}
		return nil
	}

	return generator.GenerateReportSafely(result, w)
}
