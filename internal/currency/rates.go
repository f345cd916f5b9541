package currency

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"bank-statement-classifier/internal/models"
)

// RateTable is the daily exchange-rate table keyed by calendar date.
type RateTable struct {
	byDate map[string]*models.ExchangeRateRow
}

// NewRateTable indexes rate rows by date. A later row for the same date
// replaces an earlier one.
func NewRateTable(rows []*models.ExchangeRateRow) *RateTable {
	t := &RateTable{byDate: make(map[string]*models.ExchangeRateRow, len(rows))}
	for _, row := range rows {
		t.Add(row)
	}
	return t
}

// Add inserts or replaces the row for its date.
func (t *RateTable) Add(row *models.ExchangeRateRow) {
	if row == nil {
		return
	}
	t.byDate[models.DateKey(row.Date)] = row
}

// Row returns the rate row for date.
func (t *RateTable) Row(date time.Time) (*models.ExchangeRateRow, bool) {
	if t == nil {
		return nil, false
	}
	row, ok := t.byDate[models.DateKey(date)]
	return row, ok
}

// Rate returns the GEL rate of code on date. GEL is 1 on every date, even
// dates missing from the table.
func (t *RateTable) Rate(code string, date time.Time) (decimal.Decimal, error) {
	code = normalizeCode(code)
	if code == Pivot {
		return decimal.NewFromInt(1), nil
	}

	row, ok := t.Row(date)
	if !ok {
		return decimal.Zero, &RateError{Currency: code, Date: date}
	}
	rate, ok := row.Rate(code)
	if !ok {
		return decimal.Zero, &RateError{Currency: code, Date: date}
	}
	return rate, nil
}

// Len returns the number of dates in the table.
func (t *RateTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byDate)
}

// Dates returns the covered dates in ascending order.
func (t *RateTable) Dates() []string {
	if t == nil {
		return nil
	}
	dates := make([]string, 0, len(t.byDate))
	for d := range t.byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}
