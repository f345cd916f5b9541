package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"bank-statement-classifier/internal/models"
)

var (
	labeledPaymentIDPattern = regexp.MustCompile(`(?i)\bpayment[ _]id\s*:\s*([A-Za-z0-9_-]+)`)
	leadingIDPattern        = regexp.MustCompile(`(?i)^\s*id\s*:\s*([A-Za-z0-9_-]+)`)
	numberSignPattern       = regexp.MustCompile(`(?:#|№)\s*([A-Za-z0-9_-]+)`)
	salaryAccrualPattern    = regexp.MustCompile(`(?i)\bNP_[0-9a-f]+_NJ_[0-9a-f]+_PRL(?:0[1-9]|1[0-2])\d{4}\b`)
)

// PaymentIDExtractor finds a payment identifier embedded in free text.
type PaymentIDExtractor struct {
	fallback *regexp.Regexp
}

// NewPaymentIDExtractor builds an extractor whose whole-text fallback accepts
// tokens of minLen to maxLen characters.
func NewPaymentIDExtractor(minLen, maxLen int) *PaymentIDExtractor {
	return &PaymentIDExtractor{
		fallback: regexp.MustCompile(fmt.Sprintf(`^[A-Za-z0-9_-]{%d,%d}$`, minLen, maxLen)),
	}
}

// Extract applies the pattern cascade and returns the first identifier
// found, already normalized. The cascade is:
//  1. "payment id: X" or "payment_id: X"
//  2. a leading "id: X"
//  3. a token after '#' or '№'
//  4. a salary accrual identifier NP_<hex>_NJ_<hex>_PRL<MMYYYY>
//  5. the whole trimmed text when it is a short token
func (e *PaymentIDExtractor) Extract(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	for _, pattern := range []*regexp.Regexp{labeledPaymentIDPattern, leadingIDPattern, numberSignPattern} {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return models.NormalizePaymentID(m[1]), true
		}
	}

	if m := salaryAccrualPattern.FindString(text); m != "" {
		return models.NormalizePaymentID(m), true
	}

	if e.fallback.MatchString(text) {
		return models.NormalizePaymentID(text), true
	}

	return "", false
}
