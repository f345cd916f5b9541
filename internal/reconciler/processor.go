package reconciler

import (
	"strings"

	"bank-statement-classifier/internal/classifier"
	"bank-statement-classifier/internal/currency"
	"bank-statement-classifier/internal/models"
)

// Processor turns one raw row into an update record: classification, case
// summary and nominal amount.
type Processor struct {
	classifier *classifier.Classifier
	rates      *currency.RateTable
	codes      *currency.CodeCache
}

// NewProcessor creates a processor over prepared reference data.
func NewProcessor(c *classifier.Classifier, rates *currency.RateTable, codes *currency.CodeCache) *Processor {
	if rates == nil {
		rates = currency.NewRateTable(nil)
	}
	if codes == nil {
		codes = currency.NewCodeCacheFrom(nil)
	}
	return &Processor{classifier: c, rates: rates, codes: codes}
}

// ProcessRow classifies the row and converts its amount into the nominal
// currency. When the nominal currency cannot be resolved the account
// currency is used; when a rate is missing the amount is left unconverted
// and RateMissing is set.
func (p *Processor) ProcessRow(row *models.RawRow) *models.UpdateRecord {
	result := p.classifier.Classify(row)

	accountCode := strings.ToUpper(row.AccountCurrency())
	amount := row.AccountAmount()

	record := &models.UpdateRecord{
		DocKey:          result.DocKey,
		EntriesID:       result.EntriesID,
		Result:          result,
		ProcessingCase:  classifier.ComposeCase(result),
		AccountCurrency: accountCode,
		AccountAmount:   amount,
		NominalCurrency: accountCode,
		NominalAmount:   amount,
	}

	nominalCode, ok := p.codes.Code(result.NominalCurrencyID)
	if !ok || nominalCode == accountCode || accountCode == "" {
		return record
	}
	record.NominalCurrency = nominalCode

	date, ok := row.TransactionDate()
	if !ok {
		record.RateMissing = true
		return record
	}

	converted, err := currency.Normalize(amount, accountCode, nominalCode, date, p.rates)
	if err != nil {
		record.RateMissing = true
		return record
	}
	record.NominalAmount = converted

	return record
}
