// Package reporter renders batch run results.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: metric/value rows for spreadsheet applications
//
// Example usage:
//
//	gen, err := reporter.NewReportGenerator(reporter.DefaultReportConfig())
//	err = gen.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"bank-statement-classifier/internal/reconciler"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" mapstructure:"format"`

	// Detail level options
	IncludeCaseBreakdown bool `json:"include_case_breakdown" mapstructure:"include_case_breakdown"`
	IncludeRuleHits      bool `json:"include_rule_hits" mapstructure:"include_rule_hits"`
	IncludeCompileErrors bool `json:"include_compile_errors" mapstructure:"include_compile_errors"`

	// MaxRuleHits limits the rule hit table to the most applied rules (0 = all)
	MaxRuleHits int `json:"max_rule_hits" mapstructure:"max_rule_hits"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter" mapstructure:"-"`
	CSVHeaders   bool `json:"csv_headers" mapstructure:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:               FormatConsole,
		IncludeCaseBreakdown: true,
		IncludeRuleHits:      true,
		IncludeCompileErrors: true,
		MaxRuleHits:          20,
		CSVDelimiter:         ',',
		CSVHeaders:           true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxRuleHits < 0 {
		return fmt.Errorf("max rule hits cannot be negative, got %d", c.MaxRuleHits)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator generates run reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{config: config}, nil
}

// GenerateReport renders result to writer
func (rg *ReportGenerator) GenerateReport(result *reconciler.RunResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("run result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// metric is one labelled count shown in every format.
type metric struct {
	name  string
	label string
	value int64
}

func summaryMetrics(s reconciler.RunStats) []metric {
	return []metric{
		{"rows_read", "Rows read", s.RowsRead},
		{"rows_classified", "Rows classified", s.Rows},
		{"locked_skipped", "Skipped (parsing lock)", s.LockedSkipped},
		{"window_skipped", "Skipped (date window)", s.WindowSkipped},
		{"with_counteragent", "Counteragent resolved", s.WithCounteragent},
		{"unresolved", "Unresolved", s.Unresolved},
		{"converted", "Amounts converted", s.Converted},
		{"rate_missing", "Rate missing", s.RateMissing},
		{"rows_written", "Rows written", s.RowsWritten},
		{"batches", "Batches", s.Batches},
		{"write_failures", "Write failures", s.WriteFailures},
		{"rules_loaded", "Rules loaded", int64(s.RulesLoaded)},
		{"rules_failed", "Rules not compiled", int64(s.RulesFailed)},
	}
}

func caseMetrics(s reconciler.RunStats) []metric {
	return []metric{
		{"case_1", "Case 1: counteragent identified by INN", s.CounteragentProcessed},
		{"case_2", "Case 2: INN blank", s.INNBlank},
		{"case_3", "Case 3: INN not matched", s.INNNonblankNoMatch},
		{"case_4", "Case 4: payment ID matched", s.PaymentIDMatch},
		{"case_5", "Case 5: payment ID counteragent mismatch", s.PaymentIDCounteragentMismatch},
		{"case_6", "Case 6: parsing rule applied", s.ParsingRuleMatch},
		{"case_7", "Case 7: parsing rule counteragent mismatch", s.ParsingRuleCounteragentMismatch},
		{"case_8", "Case 8: INN dominates parsing rule", s.ParsingRuleDominance},
	}
}

// ruleHit is one row of the rule hit table.
type ruleHit struct {
	RuleID int64 `json:"rule_id"`
	Hits   int64 `json:"hits"`
}

// topRuleHits orders rules by hit count, then id, and applies MaxRuleHits.
func (rg *ReportGenerator) topRuleHits(hits map[int64]int64) []ruleHit {
	out := make([]ruleHit, 0, len(hits))
	for id, n := range hits {
		out = append(out, ruleHit{RuleID: id, Hits: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hits != out[j].Hits {
			return out[i].Hits > out[j].Hits
		}
		return out[i].RuleID < out[j].RuleID
	})
	if rg.config.MaxRuleHits > 0 && len(out) > rg.config.MaxRuleHits {
		out = out[:rg.config.MaxRuleHits]
	}
	return out
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(result *reconciler.RunResult, writer io.Writer) error {
	s := result.Stats

	fmt.Fprintf(writer, "CLASSIFICATION REPORT\n")
	fmt.Fprintf(writer, "Started:  %s\n", result.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Duration: %v\n\n", s.Duration)

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	for _, m := range summaryMetrics(s) {
		fmt.Fprintf(writer, "%-28s %d\n", m.label+":", m.value)
	}
	fmt.Fprintf(writer, "%-28s %.1f%%\n", "Match rate:", s.MatchRate())
	fmt.Fprintf(writer, "\n")

	if rg.config.IncludeCaseBreakdown {
		fmt.Fprintf(writer, "=== CASE BREAKDOWN ===\n")
		for _, m := range caseMetrics(s) {
			fmt.Fprintf(writer, "%-44s %d (%.1f%%)\n", m.label, m.value, calculatePercentage(m.value, s.Rows))
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeRuleHits && len(s.RuleHits) > 0 {
		hits := rg.topRuleHits(s.RuleHits)
		fmt.Fprintf(writer, "=== RULE HITS ===\n")
		for _, h := range hits {
			fmt.Fprintf(writer, "  rule #%d: %d\n", h.RuleID, h.Hits)
		}
		if len(hits) < len(s.RuleHits) {
			fmt.Fprintf(writer, "  ... and %d more\n", len(s.RuleHits)-len(hits))
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeCompileErrors && len(result.CompileErrors) > 0 {
		fmt.Fprintf(writer, "=== RULES NOT COMPILED ===\n")
		for _, ce := range result.CompileErrors {
			fmt.Fprintf(writer, "  rule #%v: %v\n", ce.Context["rule_id"], ce.Cause)
		}
	}

	return nil
}

// generateJSONReport generates a structured JSON report
func (rg *ReportGenerator) generateJSONReport(result *reconciler.RunResult, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rg.filterResultForOutput(result))
}

// generateCSVReport writes one metric per row.
func (rg *ReportGenerator) generateCSVReport(result *reconciler.RunResult, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write([]string{"section", "metric", "value"}); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	var records [][]string
	for _, m := range summaryMetrics(result.Stats) {
		records = append(records, []string{"summary", m.name, strconv.FormatInt(m.value, 10)})
	}
	records = append(records, []string{"summary", "match_rate", strconv.FormatFloat(result.Stats.MatchRate(), 'f', 2, 64)})

	if rg.config.IncludeCaseBreakdown {
		for _, m := range caseMetrics(result.Stats) {
			records = append(records, []string{"cases", m.name, strconv.FormatInt(m.value, 10)})
		}
	}
	if rg.config.IncludeRuleHits {
		for _, h := range rg.topRuleHits(result.Stats.RuleHits) {
			records = append(records, []string{"rule_hits", strconv.FormatInt(h.RuleID, 10), strconv.FormatInt(h.Hits, 10)})
		}
	}
	if rg.config.IncludeCompileErrors {
		for _, ce := range result.CompileErrors {
			records = append(records, []string{"compile_errors", fmt.Sprint(ce.Context["rule_id"]), fmt.Sprint(ce.Cause)})
		}
	}

	if err := csvWriter.WriteAll(records); err != nil {
		return fmt.Errorf("failed to write CSV records: %w", err)
	}
	return nil
}

// Helper methods

func calculatePercentage(part, total int64) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

type compileErrorOutput struct {
	RuleID    interface{} `json:"rule_id"`
	Condition interface{} `json:"condition"`
	Error     string      `json:"error"`
}

func (rg *ReportGenerator) filterResultForOutput(result *reconciler.RunResult) map[string]interface{} {
	s := result.Stats
	summary := make(map[string]interface{})
	for _, m := range summaryMetrics(s) {
		summary[m.name] = m.value
	}
	summary["match_rate"] = s.MatchRate()
	summary["duration"] = s.Duration.String()

	output := map[string]interface{}{
		"summary":     summary,
		"started_at":  result.StartedAt,
		"finished_at": result.FinishedAt,
	}

	if rg.config.IncludeCaseBreakdown {
		cases := make(map[string]int64)
		for _, m := range caseMetrics(s) {
			cases[m.name] = m.value
		}
		output["cases"] = cases
	}

	if rg.config.IncludeRuleHits && len(s.RuleHits) > 0 {
		output["rule_hits"] = rg.topRuleHits(s.RuleHits)
	}

	if rg.config.IncludeCompileErrors && len(result.CompileErrors) > 0 {
		errs := make([]compileErrorOutput, 0, len(result.CompileErrors))
		for _, ce := range result.CompileErrors {
			errs = append(errs, compileErrorOutput{
				RuleID:    ce.Context["rule_id"],
				Condition: ce.Context["condition"],
				Error:     fmt.Sprint(ce.Cause),
			})
		}
		output["compile_errors"] = errs
	}

	return output
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
