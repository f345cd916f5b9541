// Package classifier implements the reconciliation pipeline that classifies
// a raw bank-statement row against the ledger reference data.
//
// Classification runs three stages in a fixed order, each reading what the
// previous stages concluded:
//  1. Counteragent identification by the counterparty tax number (INN)
//  2. Parsing rule matching, first matching rule in priority order wins
//  3. Payment-ID matching against identifiers embedded in free text
//
// A stage never overwrites a counteragent set by an earlier stage. When a
// later source disagrees, the conflict is recorded as a case flag instead.
//
// Example usage:
//
//	ref := classifier.NewReference(counteragents, rules, payments, salaryBase, salaryLatest)
//	c, err := classifier.NewClassifier(ref, classifier.DefaultConfig())
//	result := c.Classify(row)
//	summary := classifier.ComposeCase(result)
//
// The classifier holds no mutable state and is safe for concurrent use.
package classifier

import (
	"fmt"
	"strings"

	"bank-statement-classifier/internal/models"
)

// Config holds configuration parameters for classification.
type Config struct {
	// FreeTextColumns are scanned for payment identifiers in this order
	FreeTextColumns []string `json:"free_text_columns" mapstructure:"free_text_columns"`

	// FallbackMinLength and FallbackMaxLength bound the length of a free-text
	// field that is taken as a payment identifier as a whole
	FallbackMinLength int `json:"fallback_min_length" mapstructure:"fallback_min_length"`
	FallbackMaxLength int `json:"fallback_max_length" mapstructure:"fallback_max_length"`

	// EnablePaymentMatching toggles stage 3
	EnablePaymentMatching bool `json:"enable_payment_matching" mapstructure:"enable_payment_matching"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		FreeTextColumns:       append([]string(nil), models.DefaultFreeTextColumns...),
		FallbackMinLength:     4,
		FallbackMaxLength:     32,
		EnablePaymentMatching: true,
	}
}

// Validate checks if the classification configuration is valid
func (c *Config) Validate() error {
	if c.EnablePaymentMatching && len(c.FreeTextColumns) == 0 {
		return fmt.Errorf("at least one free-text column is required when payment matching is enabled")
	}

	for i, col := range c.FreeTextColumns {
		if strings.TrimSpace(col) == "" {
			return fmt.Errorf("free-text column %d cannot be empty", i)
		}
	}

	if c.FallbackMinLength <= 0 {
		return fmt.Errorf("fallback min length must be positive: %d", c.FallbackMinLength)
	}

	if c.FallbackMaxLength < c.FallbackMinLength {
		return fmt.Errorf("fallback max length %d is below min length %d", c.FallbackMaxLength, c.FallbackMinLength)
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.FreeTextColumns = append([]string(nil), c.FreeTextColumns...)
	return &clone
}

// String returns a human-readable description of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("ClassifierConfig{FreeText: %s, Fallback: %d-%d, PaymentMatching: %t}",
		strings.Join(c.FreeTextColumns, ","), c.FallbackMinLength, c.FallbackMaxLength, c.EnablePaymentMatching)
}
