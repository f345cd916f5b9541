package classifier

import (
	"fmt"
	"strings"

	"bank-statement-classifier/internal/models"
)

// ComposeCase renders the processing case: one line per set flag, in case
// number order, joined by newlines. A result with no flags yields "".
func ComposeCase(result *models.ClassificationResult) string {
	if result == nil {
		return ""
	}

	rule := "?"
	if result.AppliedRuleID != nil {
		rule = fmt.Sprintf("%d", *result.AppliedRuleID)
	}

	cases := result.Cases
	var lines []string
	add := func(set bool, line string) {
		if set {
			lines = append(lines, line)
		}
	}

	add(cases.CounteragentProcessed, "Case 1: counteragent identified by INN")
	add(cases.INNBlank, "Case 2: INN blank")
	add(cases.INNNonblankNoMatch, "Case 3: INN not matched to any counteragent")
	add(cases.PaymentIDMatch, "Case 4: payment ID matched")
	add(cases.PaymentIDCounteragentMismatch, "Case 5: payment ID counteragent mismatch")
	add(cases.ParsingRuleMatch, "Case 6: parsing rule #"+rule+" applied")
	add(cases.ParsingRuleCounteragentMismatch, "Case 7: parsing rule #"+rule+" counteragent mismatch")
	add(cases.ParsingRuleDominance, "Case 8: INN counteragent dominates parsing rule #"+rule)

	return strings.Join(lines, "\n")
}
