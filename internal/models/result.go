package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CaseFlags record how each classification conclusion was reached.
type CaseFlags struct {
	CounteragentProcessed           bool `json:"counteragent_processed"`
	INNBlank                        bool `json:"inn_blank"`
	INNNonblankNoMatch              bool `json:"inn_nonblank_no_match"`
	PaymentIDMatch                  bool `json:"payment_id_match"`
	PaymentIDCounteragentMismatch   bool `json:"payment_id_counteragent_mismatch"`
	ParsingRuleMatch                bool `json:"parsing_rule_match"`
	ParsingRuleCounteragentMismatch bool `json:"parsing_rule_counteragent_mismatch"`
	ParsingRuleDominance            bool `json:"parsing_rule_dominance"`
}

// ClassificationResult is the pipeline output for one row.
type ClassificationResult struct {
	DocKey    string `json:"dockey"`
	EntriesID string `json:"entries_id"`

	CounteragentID    uuid.NullUUID `json:"counteragent_id"`
	CounteragentINN   string        `json:"counteragent_inn,omitempty"`
	AppliedRuleID     *int64        `json:"applied_rule_id"`
	ProjectID         uuid.NullUUID `json:"project_id"`
	FinancialCodeID   uuid.NullUUID `json:"financial_code_id"`
	NominalCurrencyID uuid.NullUUID `json:"nominal_currency_id"`
	PaymentID         string        `json:"payment_id,omitempty"`

	Cases CaseFlags `json:"cases"`
}

// HasCounteragent reports whether a counteragent has been resolved.
func (r *ClassificationResult) HasCounteragent() bool {
	return r.CounteragentID.Valid
}

// IsUnresolved reports whether nothing at all was identified for the row.
func (r *ClassificationResult) IsUnresolved() bool {
	return !r.CounteragentID.Valid && r.AppliedRuleID == nil && r.PaymentID == ""
}

// UpdateRecord is what the persistence layer writes back for one row.
type UpdateRecord struct {
	DocKey    string `json:"dockey"`
	EntriesID string `json:"entries_id"`

	Result         *ClassificationResult `json:"result"`
	ProcessingCase string                `json:"processing_case"`

	AccountCurrency string          `json:"account_currency"`
	AccountAmount   decimal.Decimal `json:"account_amount"`
	NominalCurrency string          `json:"nominal_currency"`
	NominalAmount   decimal.Decimal `json:"nominal_amount"`

	// RateMissing marks rows whose nominal amount was left unconverted
	// because no rate was available for the transaction date.
	RateMissing bool `json:"rate_missing,omitempty"`
}
