package reconciler

import (
	"context"

	"github.com/google/uuid"

	"bank-statement-classifier/internal/models"
)

// ReferenceData is everything loaded once per batch run.
type ReferenceData struct {
	Counteragents []*models.Counteragent
	Rules         []*models.ParsingRule
	Payments      []*models.Payment
	SalaryBase    []*models.Payment
	SalaryLatest  []*models.Payment
	Rates         []*models.ExchangeRateRow
	CurrencyCodes map[uuid.UUID]string
}

// ReferenceLoader loads reference data from a data-access layer.
type ReferenceLoader interface {
	LoadReference(ctx context.Context) (*ReferenceData, error)
}

// RowSource yields raw rows in batches. NextBatch returns io.EOF once the
// source is exhausted; a final non-empty batch may be returned with io.EOF.
type RowSource interface {
	NextBatch(ctx context.Context, size int) ([]*models.RawRow, error)
}

// ResultSink persists update records and reports how many rows it wrote.
// A sink must not modify rows whose parsing lock is set.
type ResultSink interface {
	Write(ctx context.Context, records []*models.UpdateRecord) (int, error)
}
