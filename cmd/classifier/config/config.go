// Package config builds the typed package configurations of the classifier
// CLI from viper. Top-level keys are bound to command-line flags; nested keys
// come from the config file or CLASSIFIER_ environment variables. A flag
// that was set wins over the nested key.
package config

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/viper"

	"bank-statement-classifier/internal/classifier"
	"bank-statement-classifier/internal/parsers"
	"bank-statement-classifier/internal/reconciler"
	"bank-statement-classifier/internal/reporter"
	"bank-statement-classifier/internal/sample"
	"bank-statement-classifier/internal/storage/postgres"
	"bank-statement-classifier/pkg/logger"
)

// DateLayout is the layout of date flags
const DateLayout = "2006-01-02"

// Flag keys
const (
	KeySource       = "source"
	KeyDatabaseURL  = "database-url"
	KeyDir          = "dir"
	KeyResultsFile  = "results-file"
	KeyOutputFormat = "output-format"
	KeyOutputFile   = "output-file"
	KeyStartDate    = "start-date"
	KeyEndDate      = "end-date"
	KeyWorkers      = "workers"
	KeyBatchSize    = "batch-size"
	KeyProgress     = "progress"
	KeyVerbose      = "verbose"
)

// Sample generator flag keys
const (
	KeyRows          = "rows"
	KeyCounteragents = "counteragents"
	KeyPayments      = "payments"
	KeyLockEvery     = "lock-every"
	KeySeed          = "seed"
)

// Source selects the data-access layer of a run.
type Source string

const (
	SourceFile     Source = "file"
	SourcePostgres Source = "postgres"
)

// IsValid reports whether s names a supported data source
func (s Source) IsValid() bool {
	return s == SourceFile || s == SourcePostgres
}

// SourceFrom returns the configured data source, defaulting to files.
func SourceFrom(v *viper.Viper) (Source, error) {
	s := SourceFile
	lookup(v, &s, func(key string) Source {
		return Source(strings.ToLower(strings.TrimSpace(v.GetString(key))))
	}, KeySource)

	if !s.IsValid() {
		return "", fmt.Errorf("invalid source '%s'. Valid sources: file, postgres", s)
	}
	return s, nil
}

// lookup stores the value of the first key that is set into dst.
func lookup[T any](v *viper.Viper, dst *T, get func(string) T, keys ...string) {
	for _, key := range keys {
		if v.IsSet(key) {
			*dst = get(key)
			return
		}
	}
}

// ParseDate parses an optional YYYY-MM-DD date. An empty string yields nil.
func ParseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, use YYYY-MM-DD: %w", s, err)
	}
	return &t, nil
}

// LoggerConfig builds the logger configuration. Verbose forces debug level.
func LoggerConfig(v *viper.Viper) (*logger.Config, error) {
	c := logger.DefaultConfig()
	lookup(v, &c.Level, func(key string) logger.Level { return logger.Level(v.GetString(key)) }, "log.level")
	lookup(v, &c.Format, func(key string) logger.Format { return logger.Format(v.GetString(key)) }, "log.format")
	lookup(v, &c.Output, func(key string) logger.Output { return logger.Output(v.GetString(key)) }, "log.output")
	lookup(v, &c.File, v.GetString, "log.file")
	lookup(v, &c.CallerInfo, v.GetBool, "log.caller_info")

	if v.GetBool(KeyVerbose) {
		c.Level = logger.DebugLevel
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid log config: %w", err)
	}
	return c, nil
}

// ClassifierConfig builds the classification pipeline configuration.
func ClassifierConfig(v *viper.Viper) (*classifier.Config, error) {
	c := classifier.DefaultConfig()
	lookup(v, &c.FreeTextColumns, v.GetStringSlice, "classifier.free_text_columns")
	lookup(v, &c.FallbackMinLength, v.GetInt, "classifier.fallback_min_length")
	lookup(v, &c.FallbackMaxLength, v.GetInt, "classifier.fallback_max_length")
	lookup(v, &c.EnablePaymentMatching, v.GetBool, "classifier.enable_payment_matching")

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classifier config: %w", err)
	}
	return c, nil
}

// ReconcilerConfig builds the batch driver configuration, including the
// optional transaction date window.
func ReconcilerConfig(v *viper.Viper) (*reconciler.Config, error) {
	c := reconciler.DefaultConfig()
	lookup(v, &c.Workers, v.GetInt, KeyWorkers, "reconciler.workers")
	lookup(v, &c.BatchSize, v.GetInt, KeyBatchSize, "reconciler.batch_size")
	lookup(v, &c.ProgressReporting, v.GetBool, KeyProgress, "reconciler.progress_reporting")
	lookup(v, &c.ProgressInterval, v.GetDuration, "reconciler.progress_interval")
	lookup(v, &c.ContinueOnWriteError, v.GetBool, "reconciler.continue_on_write_error")

	var err error
	if c.StartDate, err = ParseDate(v.GetString(KeyStartDate)); err != nil {
		return nil, fmt.Errorf("start date: %w", err)
	}
	if c.EndDate, err = ParseDate(v.GetString(KeyEndDate)); err != nil {
		return nil, fmt.Errorf("end date: %w", err)
	}
	if c.EndDate != nil {
		end := c.EndDate.Add(24*time.Hour - time.Nanosecond)
		c.EndDate = &end
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reconciler config: %w", err)
	}
	return c, nil
}

// SampleGenerator builds the sample data generator. Dates default to the
// generator's month when the date flags are not set.
func SampleGenerator(v *viper.Viper) (*sample.Generator, error) {
	g := sample.DefaultGenerator()
	lookup(v, &g.Rows, v.GetInt, KeyRows, "sample.rows")
	lookup(v, &g.Counteragents, v.GetInt, KeyCounteragents, "sample.counteragents")
	lookup(v, &g.Payments, v.GetInt, KeyPayments, "sample.payments")
	lookup(v, &g.LockEvery, v.GetInt, KeyLockEvery, "sample.lock_every")
	lookup(v, &g.Seed, v.GetInt64, KeySeed, "sample.seed")

	start, err := ParseDate(v.GetString(KeyStartDate))
	if err != nil {
		return nil, fmt.Errorf("start date: %w", err)
	}
	if start != nil {
		g.StartDate = *start
	}
	end, err := ParseDate(v.GetString(KeyEndDate))
	if err != nil {
		return nil, fmt.Errorf("end date: %w", err)
	}
	if end != nil {
		g.EndDate = *end
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sample config: %w", err)
	}
	return g, nil
}

// SourceConfig builds the file layout of a file-based run.
func SourceConfig(v *viper.Viper) (*parsers.SourceConfig, error) {
	c := parsers.DefaultSourceConfig()
	lookup(v, &c.Dir, v.GetString, KeyDir, "files.dir")
	lookup(v, &c.RowsFile, v.GetString, "files.rows_file")
	lookup(v, &c.CounteragentsFile, v.GetString, "files.counteragents_file")
	lookup(v, &c.RulesFile, v.GetString, "files.rules_file")
	lookup(v, &c.PaymentsFile, v.GetString, "files.payments_file")
	lookup(v, &c.SalaryBaseFile, v.GetString, "files.salary_base_file")
	lookup(v, &c.SalaryLatestFile, v.GetString, "files.salary_latest_file")
	lookup(v, &c.RatesFile, v.GetString, "files.rates_file")
	lookup(v, &c.CurrenciesFile, v.GetString, "files.currencies_file")
	lookup(v, &c.OutputFile, v.GetString, KeyResultsFile, "files.output_file")

	var delimiter string
	lookup(v, &delimiter, v.GetString, "files.delimiter")
	if delimiter != "" {
		r, err := singleRune(delimiter)
		if err != nil {
			return nil, fmt.Errorf("files.delimiter: %w", err)
		}
		c.Parse.Delimiter = r
	}
	lookup(v, &c.Parse.MaxFieldSize, v.GetInt, "files.max_field_size")
	lookup(v, &c.Parse.ValidateEncoding, v.GetBool, "files.validate_encoding")

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid file source config: %w", err)
	}
	if err := c.Parse.Validate(); err != nil {
		return nil, fmt.Errorf("invalid CSV config: %w", err)
	}
	return c, nil
}

// PostgresConfig builds the database configuration. The URL usually comes
// from CLASSIFIER_DATABASE_URL.
func PostgresConfig(v *viper.Viper) (*postgres.Config, error) {
	c := postgres.DefaultConfig()
	lookup(v, &c.DatabaseURL, v.GetString, KeyDatabaseURL, "postgres.database_url")
	lookup(v, &c.MaxConns, v.GetInt32, "postgres.max_conns")
	lookup(v, &c.ConnectTimeout, v.GetDuration, "postgres.connect_timeout")

	tables := map[string]*string{
		"rows":          &c.Tables.Rows,
		"counteragents": &c.Tables.Counteragents,
		"rules":         &c.Tables.Rules,
		"payments":      &c.Tables.Payments,
		"salary_base":   &c.Tables.SalaryBase,
		"salary_latest": &c.Tables.SalaryLatest,
		"rates":         &c.Tables.Rates,
		"currencies":    &c.Tables.Currencies,
	}
	for name, dst := range tables {
		lookup(v, dst, v.GetString, "postgres.tables."+name)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}
	return c, nil
}

// ReportConfig builds the report configuration for the selected format.
func ReportConfig(v *viper.Viper) (*reporter.ReportConfig, error) {
	c := reporter.DefaultReportConfig()
	lookup(v, &c.Format, func(key string) reporter.OutputFormat {
		return reporter.OutputFormat(strings.ToLower(v.GetString(key)))
	}, KeyOutputFormat, "report.format")
	lookup(v, &c.IncludeCaseBreakdown, v.GetBool, "report.include_case_breakdown")
	lookup(v, &c.IncludeRuleHits, v.GetBool, "report.include_rule_hits")
	lookup(v, &c.IncludeCompileErrors, v.GetBool, "report.include_compile_errors")
	lookup(v, &c.MaxRuleHits, v.GetInt, "report.max_rule_hits")
	lookup(v, &c.CSVHeaders, v.GetBool, "report.csv_headers")

	var delimiter string
	lookup(v, &delimiter, v.GetString, "report.csv_delimiter")
	if delimiter != "" {
		r, err := singleRune(delimiter)
		if err != nil {
			return nil, fmt.Errorf("report.csv_delimiter: %w", err)
		}
		c.CSVDelimiter = r
	}

	if !c.Format.IsValid() {
		return nil, fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", c.Format)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report config: %w", err)
	}
	return c, nil
}

func singleRune(s string) (rune, error) {
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("expected a single character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}
