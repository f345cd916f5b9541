package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"bank-statement-classifier/internal/classifier"
	"bank-statement-classifier/internal/reconciler"
	apperrors "bank-statement-classifier/pkg/errors"
)

func createSampleRunResult() *reconciler.RunResult {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &reconciler.RunResult{
		Stats: reconciler.RunStats{
			Statistics: classifier.Statistics{
				Rows:                            10,
				WithCounteragent:                7,
				Unresolved:                      2,
				CounteragentProcessed:           5,
				INNBlank:                        3,
				INNNonblankNoMatch:              2,
				PaymentIDMatch:                  2,
				ParsingRuleMatch:                4,
				ParsingRuleCounteragentMismatch: 1,
				ParsingRuleDominance:            1,
				RuleHits:                        map[int64]int64{3: 1, 7: 2, 9: 1},
			},
			RowsRead:      12,
			LockedSkipped: 2,
			RateMissing:   1,
			Converted:     3,
			RowsWritten:   10,
			Batches:       2,
			RulesLoaded:   5,
			RulesFailed:   1,
			Duration:      1500 * time.Millisecond,
		},
		CompileErrors: []*apperrors.AppError{
			apperrors.CompileError(4, "EQ(docprodgroup", fmt.Errorf("unbalanced parentheses")),
		},
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
	}
}

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{"default config", nil, false},
		{"valid config", DefaultReportConfig(), false},
		{"invalid format", &ReportConfig{Format: "xml"}, true},
		{"negative rule hits", &ReportConfig{Format: FormatConsole, MaxRuleHits: -1}, true},
		{"csv without delimiter", &ReportConfig{Format: FormatCSV}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if generator == nil {
				t.Errorf("expected generator but got nil")
			}
		})
	}
}

func TestOutputFormatValidation(t *testing.T) {
	tests := []struct {
		format OutputFormat
		valid  bool
	}{
		{FormatConsole, true},
		{FormatJSON, true},
		{FormatCSV, true},
		{"invalid", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			if tt.format.IsValid() != tt.valid {
				t.Errorf("IsValid() = %v, want %v for format %q", !tt.valid, tt.valid, tt.format)
			}
		})
	}
}

func TestConsoleReport(t *testing.T) {
	generator, _ := NewReportGenerator(DefaultReportConfig())

	var buf bytes.Buffer
	if err := generator.GenerateReport(createSampleRunResult(), &buf); err != nil {
		t.Fatalf("GenerateReport() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"CLASSIFICATION REPORT",
		"=== SUMMARY ===",
		"Skipped (parsing lock):      2",
		"Match rate:                  70.0%",
		"=== CASE BREAKDOWN ===",
		"Case 2: INN blank",
		"=== RULE HITS ===",
		"rule #7: 2",
		"=== RULES NOT COMPILED ===",
		"rule #4: unbalanced parentheses",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("console report missing %q\n%s", want, out)
		}
	}

	if strings.Index(out, "rule #7") > strings.Index(out, "rule #3") {
		t.Error("rule hits should be ordered by hit count")
	}
}

func TestConsoleReport_SectionsDisabled(t *testing.T) {
	config := DefaultReportConfig()
	config.IncludeCaseBreakdown = false
	config.IncludeRuleHits = false
	config.IncludeCompileErrors = false
	generator, _ := NewReportGenerator(config)

	var buf bytes.Buffer
	if err := generator.GenerateReport(createSampleRunResult(), &buf); err != nil {
		t.Fatalf("GenerateReport() error = %v", err)
	}
	for _, section := range []string{"CASE BREAKDOWN", "RULE HITS", "RULES NOT COMPILED"} {
		if strings.Contains(buf.String(), section) {
			t.Errorf("disabled section %q present", section)
		}
	}
}

func TestJSONReport(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatJSON
	config.MaxRuleHits = 2
	generator, _ := NewReportGenerator(config)

	var buf bytes.Buffer
	if err := generator.GenerateReport(createSampleRunResult(), &buf); err != nil {
		t.Fatalf("GenerateReport() error = %v", err)
	}

	var decoded struct {
		Summary       map[string]interface{} `json:"summary"`
		Cases         map[string]int64       `json:"cases"`
		RuleHits      []ruleHit              `json:"rule_hits"`
		CompileErrors []compileErrorOutput   `json:"compile_errors"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}

	if got := decoded.Summary["rows_read"]; got != float64(12) {
		t.Errorf("summary.rows_read = %v, want 12", got)
	}
	if got := decoded.Cases["case_8"]; got != 1 {
		t.Errorf("cases.case_8 = %d, want 1", got)
	}
	if len(decoded.RuleHits) != 2 || decoded.RuleHits[0].RuleID != 7 {
		t.Errorf("rule_hits = %+v, want two entries led by rule 7", decoded.RuleHits)
	}
	if len(decoded.CompileErrors) != 1 || decoded.CompileErrors[0].Condition != "EQ(docprodgroup" {
		t.Errorf("compile_errors = %+v", decoded.CompileErrors)
	}
}

func TestCSVReport(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatCSV
	config.CSVDelimiter = ';'
	generator, _ := NewReportGenerator(config)

	var buf bytes.Buffer
	if err := generator.GenerateReport(createSampleRunResult(), &buf); err != nil {
		t.Fatalf("GenerateReport() error = %v", err)
	}

	reader := csv.NewReader(&buf)
	reader.Comma = ';'
	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("report is not valid CSV: %v", err)
	}

	if got := strings.Join(records[0], ","); got != "section,metric,value" {
		t.Errorf("header = %q", got)
	}

	found := make(map[string]string)
	for _, r := range records[1:] {
		found[r[0]+"/"+r[1]] = r[2]
	}
	tests := map[string]string{
		"summary/rate_missing":   "1",
		"summary/match_rate":     "70.00",
		"summary/rows_written":   "10",
		"summary/rules_failed":   "1",
		"summary/locked_skipped": "2",
		"cases/case_4":           "2",
		"rule_hits/9":            "1",
		"compile_errors/4":       "unbalanced parentheses",
	}
	for key, want := range tests {
		if got, ok := found[key]; !ok || got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestGenerateReport_NilResult(t *testing.T) {
	generator, _ := NewReportGenerator(nil)
	if err := generator.GenerateReport(nil, &bytes.Buffer{}); err == nil {
		t.Error("GenerateReport(nil) should fail")
	}
}

func TestEmptyResultHandling(t *testing.T) {
	for _, format := range []OutputFormat{FormatConsole, FormatJSON, FormatCSV} {
		t.Run(string(format), func(t *testing.T) {
			config := DefaultReportConfig()
			config.Format = format
			generator, _ := NewReportGenerator(config)

			var buf bytes.Buffer
			if err := generator.GenerateReport(&reconciler.RunResult{}, &buf); err != nil {
				t.Errorf("GenerateReport() error = %v", err)
			}
			if buf.Len() == 0 {
				t.Error("empty result should still produce a report")
			}
		})
	}
}

func TestSafeReportGenerator(t *testing.T) {
	gen, err := NewSafeReportGenerator(DefaultReportConfig(), nil)
	if err != nil {
		t.Fatalf("NewSafeReportGenerator() error = %v", err)
	}

	if err := gen.GenerateReportSafely(nil, &bytes.Buffer{}); err == nil {
		t.Error("GenerateReportSafely(nil) should fail")
	}

	fsys := afero.NewMemMapFs()
	path, err := gen.WriteReportFile(fsys, "/reports/run.txt", createSampleRunResult())
	if err != nil {
		t.Fatalf("WriteReportFile() error = %v", err)
	}
	if path != "/reports/run.txt" {
		t.Errorf("WriteReportFile() path = %q, want %q", path, "/reports/run.txt")
	}
	data, _ := afero.ReadFile(fsys, path)
	if !strings.Contains(string(data), "CLASSIFICATION REPORT") {
		t.Errorf("report file content = %q", data)
	}

	ro := afero.NewReadOnlyFs(afero.NewMemMapFs())
	if _, err := gen.WriteReportFile(ro, "/reports/run.txt", createSampleRunResult()); err == nil {
		t.Error("WriteReportFile() on a read-only filesystem should fail")
	}

	if _, err := NewSafeReportGenerator(&ReportConfig{Format: "pdf"}, nil); err == nil {
		t.Error("NewSafeReportGenerator() should reject an invalid config")
	}
}

func TestBackupPath(t *testing.T) {
	if got := backupPath("/out/report.json"); got != "/out/report_backup.json" {
		t.Errorf("backupPath() = %q, want %q", got, "/out/report_backup.json")
	}
}

func TestCalculatePercentage(t *testing.T) {
	tests := []struct {
		part, total int64
		want        float64
	}{
		{0, 0, 0},
		{5, 10, 50},
		{1, 4, 25},
	}
	for _, tt := range tests {
		if got := calculatePercentage(tt.part, tt.total); got != tt.want {
			t.Errorf("calculatePercentage(%d, %d) = %v, want %v", tt.part, tt.total, got, tt.want)
		}
	}
}
