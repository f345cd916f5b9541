package parsers

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"bank-statement-classifier/internal/models"
	apperrors "bank-statement-classifier/pkg/errors"
)

// ruleFile is the on-disk form of a rule set:
//
//	rules:
//	  - id: 12
//	    condition: AND(EQ(docprodgroup, "COM"), CONTAINS(docnomination, "fee"))
//	    counteragent_id: 7b0f...
//	    financial_code_id: 91c2...
type ruleFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	ID                int64  `yaml:"id"`
	Condition         string `yaml:"condition"`
	CounteragentID    string `yaml:"counteragent_id,omitempty"`
	ProjectID         string `yaml:"project_id,omitempty"`
	FinancialCodeID   string `yaml:"financial_code_id,omitempty"`
	NominalCurrencyID string `yaml:"nominal_currency_id,omitempty"`
	PaymentID         string `yaml:"payment_id,omitempty"`
}

// LoadRules reads a YAML rule file. Conditions are not compiled here; a rule
// whose condition is invalid is still returned so compilation can report it.
func LoadRules(fsys afero.Fs, path string) ([]*models.ParsingRule, error) {
	file, err := fsys.Open(path)
	if err != nil {
		return nil, openError(path, err)
	}
	defer file.Close()

	return DecodeRules(file, path)
}

// DecodeRules decodes a YAML rule set from r. name is used in errors.
func DecodeRules(r io.Reader, name string) ([]*models.ParsingRule, error) {
	var rf ruleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil && !errors.Is(err, io.EOF) {
		return nil, apperrors.ParseError(apperrors.CodeInvalidFormat, name, 0, "rules", "", err)
	}

	rules := make([]*models.ParsingRule, 0, len(rf.Rules))
	seen := make(map[int64]bool, len(rf.Rules))
	for i, entry := range rf.Rules {
		if seen[entry.ID] {
			return nil, apperrors.ReferenceError(apperrors.CodeDuplicateKey, "parsing_rules", fmt.Sprint(entry.ID), nil)
		}
		seen[entry.ID] = true

		rule, err := entry.toRule()
		if err != nil {
			return nil, apperrors.ParseError(apperrors.CodeInvalidData, name, i+1, "rules", fmt.Sprint(entry.ID), err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (e ruleEntry) toRule() (*models.ParsingRule, error) {
	var outcome models.RuleOutcome
	targets := []struct {
		name  string
		value string
		dst   *uuid.NullUUID
	}{
		{"counteragent_id", e.CounteragentID, &outcome.CounteragentID},
		{"project_id", e.ProjectID, &outcome.ProjectID},
		{"financial_code_id", e.FinancialCodeID, &outcome.FinancialCodeID},
		{"nominal_currency_id", e.NominalCurrencyID, &outcome.NominalCurrencyID},
	}
	for _, t := range targets {
		id, err := parseNullUUID(t.value)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %s: %w", e.ID, t.name, err)
		}
		*t.dst = id
	}
	outcome.PaymentID = strings.TrimSpace(e.PaymentID)

	return &models.ParsingRule{
		ID:        e.ID,
		Condition: e.Condition,
		Outcome:   outcome,
	}, nil
}

// WriteRules encodes rules as a YAML rule set.
func WriteRules(w io.Writer, rules []*models.ParsingRule) error {
	rf := ruleFile{Rules: make([]ruleEntry, 0, len(rules))}
	for _, r := range rules {
		rf.Rules = append(rf.Rules, ruleEntry{
			ID:                r.ID,
			Condition:         r.Condition,
			CounteragentID:    formatNullUUID(r.Outcome.CounteragentID),
			ProjectID:         formatNullUUID(r.Outcome.ProjectID),
			FinancialCodeID:   formatNullUUID(r.Outcome.FinancialCodeID),
			NominalCurrencyID: formatNullUUID(r.Outcome.NominalCurrencyID),
			PaymentID:         r.Outcome.PaymentID,
		})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rf); err != nil {
		return err
	}
	return enc.Close()
}

func parseNullUUID(s string) (uuid.NullUUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.NullUUID{}, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.NullUUID{}, err
	}
	return uuid.NullUUID{UUID: id, Valid: true}, nil
}

func formatNullUUID(id uuid.NullUUID) string {
	if !id.Valid {
		return ""
	}
	return id.UUID.String()
}
