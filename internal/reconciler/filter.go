package reconciler

import (
	"time"

	"bank-statement-classifier/internal/models"
)

// SkipReason says why a row was not classified.
type SkipReason string

const (
	SkipNone        SkipReason = ""
	SkipLocked      SkipReason = "parsing_lock"
	SkipOutOfWindow SkipReason = "out_of_window"
)

// rowFilter decides which rows reach the classifier.
type rowFilter struct {
	start *time.Time
	end   *time.Time
}

func newRowFilter(config *Config) rowFilter {
	return rowFilter{start: config.StartDate, end: config.EndDate}
}

// check returns SkipNone for rows that must be classified. Locked rows are
// always skipped. Rows without a parseable date pass the window check.
func (f rowFilter) check(row *models.RawRow) SkipReason {
	if row.ParsingLocked() {
		return SkipLocked
	}

	if f.start == nil && f.end == nil {
		return SkipNone
	}
	date, ok := row.TransactionDate()
	if !ok {
		return SkipNone
	}
	if f.start != nil && date.Before(*f.start) {
		return SkipOutOfWindow
	}
	if f.end != nil && date.After(*f.end) {
		return SkipOutOfWindow
	}
	return SkipNone
}

// split partitions rows into those to classify and counts per skip reason.
func (f rowFilter) split(rows []*models.RawRow) ([]*models.RawRow, map[SkipReason]int64) {
	keep := make([]*models.RawRow, 0, len(rows))
	skipped := make(map[SkipReason]int64)
	for _, row := range rows {
		if row == nil {
			continue
		}
		if reason := f.check(row); reason != SkipNone {
			skipped[reason]++
			continue
		}
		keep = append(keep, row)
	}
	return keep, skipped
}
