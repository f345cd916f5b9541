package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"bank-statement-classifier/internal/reporter"
	"bank-statement-classifier/pkg/logger"
)

func newViper(settings map[string]interface{}) *viper.Viper {
	v := viper.New()
	for key, value := range settings {
		v.Set(key, value)
	}
	return v
}

func TestSourceFrom(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		want    Source
		wantErr bool
	}{
		{"default", nil, SourceFile, false},
		{"file", "file", SourceFile, false},
		{"postgres mixed case", " Postgres ", SourcePostgres, false},
		{"unknown", "bigquery", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := map[string]interface{}{}
			if tt.value != nil {
				settings[KeySource] = tt.value
			}
			got, err := SourceFrom(newViper(settings))
			if (err != nil) != tt.wantErr {
				t.Fatalf("SourceFrom() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SourceFrom() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	if d, err := ParseDate(""); err != nil || d != nil {
		t.Errorf("ParseDate(\"\") = %v, %v, want nil, nil", d, err)
	}

	d, err := ParseDate("2024-02-29")
	if err != nil {
		t.Fatalf("ParseDate() error = %v", err)
	}
	if want := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC); !d.Equal(want) {
		t.Errorf("ParseDate() = %v, want %v", d, want)
	}

	if _, err := ParseDate("29/02/2024"); err == nil {
		t.Error("ParseDate() should reject a non-ISO date")
	}
}

func TestLoggerConfig(t *testing.T) {
	c, err := LoggerConfig(newViper(map[string]interface{}{
		"log.format": "json",
		"log.output": "stdout",
	}))
	if err != nil {
		t.Fatalf("LoggerConfig() error = %v", err)
	}
	if c.Format != logger.JSONFormat || c.Output != logger.StdoutOutput || c.Level != logger.InfoLevel {
		t.Errorf("LoggerConfig() = %+v", c)
	}

	c, err = LoggerConfig(newViper(map[string]interface{}{KeyVerbose: true, "log.level": "warn"}))
	if err != nil {
		t.Fatalf("LoggerConfig() error = %v", err)
	}
	if c.Level != logger.DebugLevel {
		t.Errorf("Level = %s, want debug when verbose", c.Level)
	}

	if _, err := LoggerConfig(newViper(map[string]interface{}{"log.output": "file"})); err == nil {
		t.Error("LoggerConfig() should require a file path for file output")
	}
}

func TestClassifierConfig(t *testing.T) {
	c, err := ClassifierConfig(newViper(map[string]interface{}{
		"classifier.free_text_columns":   []string{"nomination", "comment"},
		"classifier.fallback_min_length": 6,
	}))
	if err != nil {
		t.Fatalf("ClassifierConfig() error = %v", err)
	}
	if strings.Join(c.FreeTextColumns, ",") != "nomination,comment" {
		t.Errorf("FreeTextColumns = %v", c.FreeTextColumns)
	}
	if c.FallbackMinLength != 6 || c.FallbackMaxLength != 32 {
		t.Errorf("fallback lengths = %d..%d, want 6..32", c.FallbackMinLength, c.FallbackMaxLength)
	}

	if _, err := ClassifierConfig(newViper(map[string]interface{}{"classifier.fallback_max_length": 2})); err == nil {
		t.Error("ClassifierConfig() should reject max length below min length")
	}
}

func TestReconcilerConfig(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]interface{}
		wantErr  bool
		check    func(t *testing.T, workers, batch int, start, end *time.Time)
	}{
		{
			name: "flag wins over config file",
			settings: map[string]interface{}{
				KeyWorkers:              3,
				"reconciler.workers":    9,
				"reconciler.batch_size": 250,
			},
			check: func(t *testing.T, workers, batch int, start, end *time.Time) {
				if workers != 3 {
					t.Errorf("Workers = %d, want 3", workers)
				}
				if batch != 250 {
					t.Errorf("BatchSize = %d, want 250", batch)
				}
			},
		},
		{
			name: "date window covers the whole end day",
			settings: map[string]interface{}{
				KeyStartDate: "2024-01-01",
				KeyEndDate:   "2024-01-31",
			},
			check: func(t *testing.T, workers, batch int, start, end *time.Time) {
				if start == nil || end == nil {
					t.Fatal("expected both window bounds")
				}
				last := time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC)
				if end.Before(last) {
					t.Errorf("EndDate = %v, want end of day", end)
				}
			},
		},
		{
			name:     "inverted window",
			settings: map[string]interface{}{KeyStartDate: "2024-02-01", KeyEndDate: "2024-01-01"},
			wantErr:  true,
		},
		{
			name:     "bad date",
			settings: map[string]interface{}{KeyStartDate: "yesterday"},
			wantErr:  true,
		},
		{
			name:     "zero batch size",
			settings: map[string]interface{}{KeyBatchSize: 0},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ReconcilerConfig(newViper(tt.settings))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReconcilerConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, c.Workers, c.BatchSize, c.StartDate, c.EndDate)
			}
		})
	}
}

func TestSourceConfig(t *testing.T) {
	c, err := SourceConfig(newViper(map[string]interface{}{
		KeyDir:              "/data/run",
		"files.rules_file":  "rules.yml",
		"files.delimiter":   ";",
		"files.output_file": "out.csv",
		KeyResultsFile:      "results-2024.csv",
	}))
	if err != nil {
		t.Fatalf("SourceConfig() error = %v", err)
	}
	if c.Dir != "/data/run" || c.RulesFile != "rules.yml" {
		t.Errorf("SourceConfig() = %+v", c)
	}
	if c.Parse.Delimiter != ';' {
		t.Errorf("Delimiter = %q, want ';'", c.Parse.Delimiter)
	}
	if c.OutputFile != "results-2024.csv" {
		t.Errorf("OutputFile = %q, want the flag value", c.OutputFile)
	}

	for name, settings := range map[string]map[string]interface{}{
		"json rules":     {"files.rules_file": "rules.json"},
		"long delimiter": {"files.delimiter": "||"},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := SourceConfig(newViper(settings)); err == nil {
				t.Error("SourceConfig() should fail")
			}
		})
	}
}

func TestSampleGenerator(t *testing.T) {
	g, err := SampleGenerator(newViper(map[string]interface{}{
		KeyRows:       120,
		"sample.rows": 10,
		"sample.seed": 42,
		KeyStartDate:  "2024-02-01",
		KeyEndDate:    "2024-02-29",
		KeyLockEvery:  0,
	}))
	if err != nil {
		t.Fatalf("SampleGenerator() error = %v", err)
	}
	if g.Rows != 120 {
		t.Errorf("Rows = %d, want the flag value 120", g.Rows)
	}
	if g.Seed != 42 || g.LockEvery != 0 {
		t.Errorf("Seed/LockEvery = %d/%d, want 42/0", g.Seed, g.LockEvery)
	}
	if g.StartDate.Month() != 2 || g.EndDate.Day() != 29 {
		t.Errorf("dates = %v..%v", g.StartDate, g.EndDate)
	}

	for name, settings := range map[string]map[string]interface{}{
		"bad date":       {KeyStartDate: "02/01/2024"},
		"reversed dates": {KeyStartDate: "2024-03-01", KeyEndDate: "2024-02-01"},
		"no rows":        {KeyRows: 0},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := SampleGenerator(newViper(settings)); err == nil {
				t.Error("SampleGenerator() should fail")
			}
		})
	}
}

func TestPostgresConfig(t *testing.T) {
	c, err := PostgresConfig(newViper(map[string]interface{}{
		KeyDatabaseURL:             "postgres://app@localhost/ledger",
		"postgres.max_conns":       4,
		"postgres.tables.rows":     "ledger.statement_rows",
		"postgres.tables.payments": "",
	}))
	if err != nil {
		t.Fatalf("PostgresConfig() error = %v", err)
	}
	if c.MaxConns != 4 {
		t.Errorf("MaxConns = %d, want 4", c.MaxConns)
	}
	if c.Tables.Rows != "ledger.statement_rows" {
		t.Errorf("Tables.Rows = %q", c.Tables.Rows)
	}
	if c.Tables.Payments != "" {
		t.Errorf("Tables.Payments = %q, want disabled", c.Tables.Payments)
	}
	if c.Tables.Rules != "parsing_rules" {
		t.Errorf("Tables.Rules = %q, want default", c.Tables.Rules)
	}

	if _, err := PostgresConfig(newViper(nil)); err == nil {
		t.Error("PostgresConfig() should require a database URL")
	}
}

func TestReportConfig(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]interface{}
		want     reporter.OutputFormat
		wantErr  bool
	}{
		{"default", nil, reporter.FormatConsole, false},
		{"json flag", map[string]interface{}{KeyOutputFormat: "JSON"}, reporter.FormatJSON, false},
		{"csv from file", map[string]interface{}{"report.format": "csv", "report.csv_delimiter": ";"}, reporter.FormatCSV, false},
		{"unknown", map[string]interface{}{KeyOutputFormat: "pdf"}, "", true},
		{"negative hits", map[string]interface{}{"report.max_rule_hits": -1}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ReportConfig(newViper(tt.settings))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReportConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && c.Format != tt.want {
				t.Errorf("Format = %q, want %q", c.Format, tt.want)
			}
		})
	}
}
