package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Predicate is an executable rule condition.
type Predicate func(row FieldMap) bool

// Counteragent is a business partner tracked by the ledger.
type Counteragent struct {
	ID   uuid.UUID `json:"id" yaml:"id"`
	INN  string    `json:"inn" yaml:"inn"`
	Name string    `json:"name,omitempty" yaml:"name,omitempty"`
}

// RuleOutcome is the bundle of values a matching rule contributes.
type RuleOutcome struct {
	CounteragentID    uuid.NullUUID `json:"counteragent_id"`
	ProjectID         uuid.NullUUID `json:"project_id"`
	FinancialCodeID   uuid.NullUUID `json:"financial_code_id"`
	NominalCurrencyID uuid.NullUUID `json:"nominal_currency_id"`
	PaymentID         string        `json:"payment_id,omitempty"`
}

// ParsingRule is a persisted matching rule. Predicate is compiled once per
// batch from Condition; a nil Predicate never matches.
type ParsingRule struct {
	ID        int64       `json:"id"`
	Condition string      `json:"condition"`
	Predicate Predicate   `json:"-"`
	Outcome   RuleOutcome `json:"outcome"`
}

// Matches evaluates the compiled predicate.
func (r *ParsingRule) Matches(row FieldMap) bool {
	if r.Predicate == nil {
		return false
	}
	return r.Predicate(row)
}

// Payment is a ledger entry keyed by a free-form payment identifier.
type Payment struct {
	PaymentID       string        `json:"payment_id"`
	CounteragentID  uuid.NullUUID `json:"counteragent_id"`
	ProjectID       uuid.NullUUID `json:"project_id"`
	FinancialCodeID uuid.NullUUID `json:"financial_code_id"`
	CurrencyID      uuid.NullUUID `json:"currency_id"`
}

// NormalizePaymentID is the key form used by every payment map.
func NormalizePaymentID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// PaymentIndex maps normalized payment identifiers to payments.
type PaymentIndex map[string]*Payment

// NewPaymentIndex builds an index, normalizing keys. Later duplicates win.
func NewPaymentIndex(payments []*Payment) PaymentIndex {
	idx := make(PaymentIndex, len(payments))
	for _, p := range payments {
		if p == nil {
			continue
		}
		key := NormalizePaymentID(p.PaymentID)
		if key == "" {
			continue
		}
		idx[key] = p
	}
	return idx
}

// Lookup finds a payment by identifier using the normalized form.
func (pi PaymentIndex) Lookup(id string) (*Payment, bool) {
	p, ok := pi[NormalizePaymentID(id)]
	return p, ok
}

// ExchangeRateRow is one calendar date's rate table: GEL per one unit of
// each non-GEL currency. GEL itself is implicit with rate 1.
type ExchangeRateRow struct {
	Date  time.Time                  `json:"date"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// DateKey is the map key used for rate tables.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Rate returns the rate of code on this row.
func (e *ExchangeRateRow) Rate(code string) (decimal.Decimal, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "GEL" {
		return decimal.NewFromInt(1), true
	}
	r, ok := e.Rates[code]
	if !ok || !r.IsPositive() {
		return decimal.Zero, false
	}
	return r, true
}

// String returns a string representation of the ExchangeRateRow
func (e *ExchangeRateRow) String() string {
	return fmt.Sprintf("ExchangeRateRow{Date: %s, Currencies: %d}", DateKey(e.Date), len(e.Rates))
}
