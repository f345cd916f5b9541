package classifier

import (
	"sort"
	"strings"

	"bank-statement-classifier/internal/models"
)

// NormalizeINN strips every non-digit and left-pads a 10-digit result to 11
// digits with a leading zero. This is the only normalization applied to tax
// identifiers, both for reference data keys and for raw row fields.
func NormalizeINN(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 1)
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 {
		return "0" + digits
	}
	return digits
}

// Reference is the read-only reference data shared by every row of a batch.
type Reference struct {
	CounteragentsByINN map[string]*models.Counteragent
	Rules              []*models.ParsingRule
	Payments           models.PaymentIndex
	SalaryBase         models.PaymentIndex
	SalaryLatest       models.PaymentIndex
}

// NewReference indexes reference data. Counteragents are keyed by normalized
// INN; rules keep the order given.
func NewReference(
	counteragents []*models.Counteragent,
	rules []*models.ParsingRule,
	payments, salaryBase, salaryLatest []*models.Payment,
) *Reference {
	byINN := make(map[string]*models.Counteragent, len(counteragents))
	for _, ca := range counteragents {
		if ca == nil {
			continue
		}
		inn := NormalizeINN(ca.INN)
		if inn == "" {
			continue
		}
		byINN[inn] = ca
	}

	return &Reference{
		CounteragentsByINN: byINN,
		Rules:              rules,
		Payments:           models.NewPaymentIndex(payments),
		SalaryBase:         models.NewPaymentIndex(salaryBase),
		SalaryLatest:       models.NewPaymentIndex(salaryLatest),
	}
}

// SortRulesByID orders rules ascending by identifier, the default priority.
func SortRulesByID(rules []*models.ParsingRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].ID < rules[j].ID
	})
}

// LookupPayment searches the payment universes in priority order: ledger
// payments, salary accruals, latest salary accruals.
func (r *Reference) LookupPayment(id string) (*models.Payment, bool) {
	for _, idx := range []models.PaymentIndex{r.Payments, r.SalaryBase, r.SalaryLatest} {
		if p, ok := idx.Lookup(id); ok {
			return p, true
		}
	}
	return nil, false
}
