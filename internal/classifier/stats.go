package classifier

import (
	"fmt"

	"bank-statement-classifier/internal/models"
)

// Statistics counts classification outcomes per case. It is a value type;
// Add and Merge return new values so per-worker tallies fold without locks.
type Statistics struct {
	Rows             int64 `json:"rows"`
	WithCounteragent int64 `json:"with_counteragent"`
	Unresolved       int64 `json:"unresolved"`

	CounteragentProcessed           int64 `json:"counteragent_processed"`
	INNBlank                        int64 `json:"inn_blank"`
	INNNonblankNoMatch              int64 `json:"inn_nonblank_no_match"`
	PaymentIDMatch                  int64 `json:"payment_id_match"`
	PaymentIDCounteragentMismatch   int64 `json:"payment_id_counteragent_mismatch"`
	ParsingRuleMatch                int64 `json:"parsing_rule_match"`
	ParsingRuleCounteragentMismatch int64 `json:"parsing_rule_counteragent_mismatch"`
	ParsingRuleDominance            int64 `json:"parsing_rule_dominance"`

	// RuleHits counts applications per rule id
	RuleHits map[int64]int64 `json:"rule_hits,omitempty"`
}

// Add returns the statistics with one more result counted.
func (s Statistics) Add(result *models.ClassificationResult) Statistics {
	if result == nil {
		return s
	}

	s.Rows++
	if result.HasCounteragent() {
		s.WithCounteragent++
	}
	if result.IsUnresolved() {
		s.Unresolved++
	}

	c := result.Cases
	s.CounteragentProcessed += count(c.CounteragentProcessed)
	s.INNBlank += count(c.INNBlank)
	s.INNNonblankNoMatch += count(c.INNNonblankNoMatch)
	s.PaymentIDMatch += count(c.PaymentIDMatch)
	s.PaymentIDCounteragentMismatch += count(c.PaymentIDCounteragentMismatch)
	s.ParsingRuleMatch += count(c.ParsingRuleMatch)
	s.ParsingRuleCounteragentMismatch += count(c.ParsingRuleCounteragentMismatch)
	s.ParsingRuleDominance += count(c.ParsingRuleDominance)

	if result.AppliedRuleID != nil {
		hits := make(map[int64]int64, len(s.RuleHits)+1)
		for id, n := range s.RuleHits {
			hits[id] = n
		}
		hits[*result.AppliedRuleID]++
		s.RuleHits = hits
	}

	return s
}

// Merge returns the sum of two statistics.
func (s Statistics) Merge(other Statistics) Statistics {
	out := Statistics{
		Rows:                            s.Rows + other.Rows,
		WithCounteragent:                s.WithCounteragent + other.WithCounteragent,
		Unresolved:                      s.Unresolved + other.Unresolved,
		CounteragentProcessed:           s.CounteragentProcessed + other.CounteragentProcessed,
		INNBlank:                        s.INNBlank + other.INNBlank,
		INNNonblankNoMatch:              s.INNNonblankNoMatch + other.INNNonblankNoMatch,
		PaymentIDMatch:                  s.PaymentIDMatch + other.PaymentIDMatch,
		PaymentIDCounteragentMismatch:   s.PaymentIDCounteragentMismatch + other.PaymentIDCounteragentMismatch,
		ParsingRuleMatch:                s.ParsingRuleMatch + other.ParsingRuleMatch,
		ParsingRuleCounteragentMismatch: s.ParsingRuleCounteragentMismatch + other.ParsingRuleCounteragentMismatch,
		ParsingRuleDominance:            s.ParsingRuleDominance + other.ParsingRuleDominance,
	}

	if len(s.RuleHits)+len(other.RuleHits) > 0 {
		out.RuleHits = make(map[int64]int64, len(s.RuleHits)+len(other.RuleHits))
		for id, n := range s.RuleHits {
			out.RuleHits[id] += n
		}
		for id, n := range other.RuleHits {
			out.RuleHits[id] += n
		}
	}

	return out
}

// MatchRate is the share of rows with a resolved counteragent, in percent.
func (s Statistics) MatchRate() float64 {
	if s.Rows == 0 {
		return 0
	}
	return float64(s.WithCounteragent) / float64(s.Rows) * 100
}

// String returns a one-line summary.
func (s Statistics) String() string {
	return fmt.Sprintf("Statistics{Rows: %d, INN: %d, Rules: %d, Payments: %d, Conflicts: %d, Unresolved: %d}",
		s.Rows, s.CounteragentProcessed, s.ParsingRuleMatch+s.ParsingRuleCounteragentMismatch,
		s.PaymentIDMatch, s.ParsingRuleCounteragentMismatch+s.PaymentIDCounteragentMismatch, s.Unresolved)
}

func count(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
