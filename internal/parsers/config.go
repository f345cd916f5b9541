package parsers

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SourceConfig locates the files of a file-based batch run. Relative file
// names are resolved against Dir.
type SourceConfig struct {
	Dir string `json:"dir" mapstructure:"dir"`

	RowsFile          string `json:"rows_file" mapstructure:"rows_file"`
	CounteragentsFile string `json:"counteragents_file" mapstructure:"counteragents_file"`
	RulesFile         string `json:"rules_file" mapstructure:"rules_file"`
	PaymentsFile      string `json:"payments_file" mapstructure:"payments_file"`
	SalaryBaseFile    string `json:"salary_base_file" mapstructure:"salary_base_file"`
	SalaryLatestFile  string `json:"salary_latest_file" mapstructure:"salary_latest_file"`
	RatesFile         string `json:"rates_file" mapstructure:"rates_file"`
	CurrenciesFile    string `json:"currencies_file" mapstructure:"currencies_file"`

	// OutputFile receives the update records
	OutputFile string `json:"output_file" mapstructure:"output_file"`

	Parse ParseConfig `json:"parse" mapstructure:"parse"`
}

// DefaultSourceConfig returns the conventional file layout of a run directory.
func DefaultSourceConfig() *SourceConfig {
	return &SourceConfig{
		Dir:               ".",
		RowsFile:          "rows.csv",
		CounteragentsFile: "counteragents.csv",
		RulesFile:         "rules.yaml",
		PaymentsFile:      "payments.csv",
		SalaryBaseFile:    "salary_accruals.csv",
		SalaryLatestFile:  "salary_accruals_latest.csv",
		RatesFile:         "rates.csv",
		CurrenciesFile:    "currencies.csv",
		OutputFile:        "results.csv",
		Parse:             *DefaultParseConfig(),
	}
}

// Validate checks that the required files are named.
func (c *SourceConfig) Validate() error {
	required := map[string]string{
		"rows_file":          c.RowsFile,
		"counteragents_file": c.CounteragentsFile,
		"rules_file":         c.RulesFile,
	}
	for _, key := range []string{"rows_file", "counteragents_file", "rules_file"} {
		if strings.TrimSpace(required[key]) == "" {
			return fmt.Errorf("%s cannot be empty", key)
		}
	}

	if ext := strings.ToLower(filepath.Ext(c.RulesFile)); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("rules file must be YAML, got %q", c.RulesFile)
	}

	if err := c.Parse.Validate(); err != nil {
		return fmt.Errorf("invalid parse config: %w", err)
	}
	return nil
}

// Path resolves a configured file name. An empty name stays empty.
func (c *SourceConfig) Path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Dir, name)
}

// Clone creates a copy of the configuration
func (c *SourceConfig) Clone() *SourceConfig {
	clone := *c
	return &clone
}
