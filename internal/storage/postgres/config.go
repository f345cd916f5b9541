// Package postgres reads bank-statement rows and reference tables from
// PostgreSQL and writes classification results back with batched updates.
// Rows whose parsing_lock flag is set are never updated.
package postgres

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Tables names every table the classifier touches. Names may be
// schema-qualified ("ledger.payments").
type Tables struct {
	Rows          string `json:"rows" mapstructure:"rows"`
	Counteragents string `json:"counteragents" mapstructure:"counteragents"`
	Rules         string `json:"rules" mapstructure:"rules"`
	Payments      string `json:"payments" mapstructure:"payments"`
	SalaryBase    string `json:"salary_base" mapstructure:"salary_base"`
	SalaryLatest  string `json:"salary_latest" mapstructure:"salary_latest"`
	Rates         string `json:"rates" mapstructure:"rates"`
	Currencies    string `json:"currencies" mapstructure:"currencies"`
}

// Config holds the PostgreSQL connection and table settings
type Config struct {
	DatabaseURL    string        `json:"-" mapstructure:"database_url"`
	MaxConns       int32         `json:"max_conns" mapstructure:"max_conns"`
	ConnectTimeout time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	Tables         Tables        `json:"tables" mapstructure:"tables"`
}

// DefaultConfig returns the default table layout without a database URL.
func DefaultConfig() *Config {
	return &Config{
		MaxConns:       8,
		ConnectTimeout: 10 * time.Second,
		Tables: Tables{
			Rows:          "bank_statement_rows",
			Counteragents: "counteragents",
			Rules:         "parsing_rules",
			Payments:      "payments",
			SalaryBase:    "salary_accruals",
			SalaryLatest:  "salary_accruals_latest",
			Rates:         "exchange_rates",
			Currencies:    "currencies",
		},
	}
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Validate checks the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("database URL cannot be empty")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max connections must be positive, got %d", c.MaxConns)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive, got %v", c.ConnectTimeout)
	}

	for _, t := range c.Tables.all() {
		if t.name == "" && t.optional {
			continue
		}
		if !identPattern.MatchString(t.name) {
			return fmt.Errorf("invalid table name for %s: %q", t.key, t.name)
		}
	}
	return nil
}

// Clone creates a copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns the configuration with the database password redacted.
func (c *Config) String() string {
	return fmt.Sprintf("Config{URL: %s, MaxConns: %d, Rows: %s}", RedactURL(c.DatabaseURL), c.MaxConns, c.Tables.Rows)
}

// RedactURL hides the password of a connection URL.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

type tableRef struct {
	key      string
	name     string
	optional bool
}

func (t Tables) all() []tableRef {
	return []tableRef{
		{"rows", t.Rows, false},
		{"counteragents", t.Counteragents, false},
		{"rules", t.Rules, false},
		{"payments", t.Payments, true},
		{"salary_base", t.SalaryBase, true},
		{"salary_latest", t.SalaryLatest, true},
		{"rates", t.Rates, true},
		{"currencies", t.Currencies, true},
	}
}

// quoteTable returns a sanitized, possibly schema-qualified identifier.
func quoteTable(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}
