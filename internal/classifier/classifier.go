package classifier

import (
	"fmt"

	"github.com/google/uuid"

	"bank-statement-classifier/internal/models"
)

// Classifier applies the three classification stages to raw rows.
type Classifier struct {
	ref       *Reference
	config    *Config
	extractor *PaymentIDExtractor
}

// NewClassifier creates a classifier over compiled reference data. Rules must
// already carry compiled predicates.
func NewClassifier(ref *Reference, config *Config) (*Classifier, error) {
	if ref == nil {
		return nil, fmt.Errorf("reference data cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classifier config: %w", err)
	}

	return &Classifier{
		ref:       ref,
		config:    config.Clone(),
		extractor: NewPaymentIDExtractor(config.FallbackMinLength, config.FallbackMaxLength),
	}, nil
}

// Reference returns the reference data the classifier was built with.
func (c *Classifier) Reference() *Reference {
	return c.ref
}

// Classify runs stage 1, stage 2 and stage 3 in order and returns the
// accumulated result. It never fails; a row that matches nothing comes back
// with only the stage 1 flag set.
func (c *Classifier) Classify(row *models.RawRow) *models.ClassificationResult {
	if row == nil {
		row = models.NewRawRow(nil)
	}

	result := &models.ClassificationResult{
		DocKey:    row.DocKey(),
		EntriesID: row.EntriesID(),
	}

	c.identifyCounteragent(row, result)
	c.applyParsingRules(row, result)
	if c.config.EnablePaymentMatching {
		c.matchPaymentID(row, result)
	}

	return result
}

// identifyCounteragent resolves the counteragent by normalized INN. Exactly
// one of cases 1, 2 and 3 is set on return.
func (c *Classifier) identifyCounteragent(row *models.RawRow, result *models.ClassificationResult) {
	inn := NormalizeINN(row.CounterpartyINN())
	if inn == "" {
		result.Cases.INNBlank = true
		return
	}

	ca, ok := c.ref.CounteragentsByINN[inn]
	if !ok {
		result.Cases.INNNonblankNoMatch = true
		return
	}

	result.CounteragentID = uuid.NullUUID{UUID: ca.ID, Valid: true}
	result.CounteragentINN = inn
	result.Cases.CounteragentProcessed = true
}

// applyParsingRules applies the first rule whose predicate matches.
func (c *Classifier) applyParsingRules(row *models.RawRow, result *models.ClassificationResult) {
	rule := c.firstMatchingRule(row.Fields)
	if rule == nil {
		return
	}

	id := rule.ID
	result.AppliedRuleID = &id
	outcome := rule.Outcome

	if outcome.CounteragentID.Valid && result.CounteragentID.Valid &&
		outcome.CounteragentID.UUID != result.CounteragentID.UUID {
		result.Cases.ParsingRuleCounteragentMismatch = true
		result.Cases.ParsingRuleDominance = true
		adoptRuleFields(result, outcome)
		return
	}

	if !result.CounteragentID.Valid && outcome.CounteragentID.Valid {
		result.CounteragentID = outcome.CounteragentID
	}
	adoptRuleFields(result, outcome)
	result.Cases.ParsingRuleMatch = true
}

func (c *Classifier) firstMatchingRule(fields models.FieldMap) *models.ParsingRule {
	for _, rule := range c.ref.Rules {
		if rule != nil && safeMatch(rule, fields) {
			return rule
		}
	}
	return nil
}

// safeMatch evaluates a rule predicate; a panicking predicate does not match.
func safeMatch(rule *models.ParsingRule, fields models.FieldMap) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
		}
	}()
	return rule.Matches(fields)
}

func adoptRuleFields(result *models.ClassificationResult, outcome models.RuleOutcome) {
	adoptID(&result.ProjectID, outcome.ProjectID)
	adoptID(&result.FinancialCodeID, outcome.FinancialCodeID)
	adoptID(&result.NominalCurrencyID, outcome.NominalCurrencyID)
	if result.PaymentID == "" {
		result.PaymentID = outcome.PaymentID
	}
}

// matchPaymentID scans the free-text columns for the first identifier that
// resolves to a known payment.
func (c *Classifier) matchPaymentID(row *models.RawRow, result *models.ClassificationResult) {
	payment, id := c.findPayment(row.Fields)
	if payment == nil {
		return
	}

	if payment.CounteragentID.Valid && result.CounteragentID.Valid &&
		payment.CounteragentID.UUID != result.CounteragentID.UUID {
		result.Cases.PaymentIDCounteragentMismatch = true
		return
	}

	if !result.CounteragentID.Valid && payment.CounteragentID.Valid {
		result.CounteragentID = payment.CounteragentID
	}
	if result.PaymentID == "" {
		result.PaymentID = id
	}
	adoptID(&result.ProjectID, payment.ProjectID)
	adoptID(&result.FinancialCodeID, payment.FinancialCodeID)
	adoptID(&result.NominalCurrencyID, payment.CurrencyID)
	result.Cases.PaymentIDMatch = true
}

func (c *Classifier) findPayment(fields models.FieldMap) (*models.Payment, string) {
	for _, column := range c.config.FreeTextColumns {
		id, ok := c.extractor.Extract(fields.String(column))
		if !ok {
			continue
		}
		if p, found := c.ref.LookupPayment(id); found {
			paymentID := p.PaymentID
			if paymentID == "" {
				paymentID = id
			}
			return p, paymentID
		}
	}
	return nil, ""
}

func adoptID(dst *uuid.NullUUID, src uuid.NullUUID) {
	if !dst.Valid && src.Valid {
		*dst = src
	}
}
