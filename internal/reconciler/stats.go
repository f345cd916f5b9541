package reconciler

import (
	"fmt"
	"time"

	"bank-statement-classifier/internal/classifier"
	"bank-statement-classifier/internal/models"
)

// RunStats summarizes one batch run.
type RunStats struct {
	classifier.Statistics

	RowsRead      int64         `json:"rows_read"`
	LockedSkipped int64         `json:"locked_skipped"`
	WindowSkipped int64         `json:"window_skipped"`
	RateMissing   int64         `json:"rate_missing"`
	Converted     int64         `json:"converted"`
	RowsWritten   int64         `json:"rows_written"`
	Batches       int64         `json:"batches"`
	RulesLoaded   int           `json:"rules_loaded"`
	RulesFailed   int           `json:"rules_failed"`
	WriteFailures int64         `json:"write_failures"`
	Duration      time.Duration `json:"duration"`
}

// addRecord folds one update record into the stats.
func (s RunStats) addRecord(record *models.UpdateRecord) RunStats {
	s.Statistics = s.Statistics.Add(record.Result)
	if record.RateMissing {
		s.RateMissing++
	} else if record.NominalCurrency != record.AccountCurrency {
		s.Converted++
	}
	return s
}

func (s RunStats) addSkipped(skipped map[SkipReason]int64) RunStats {
	s.LockedSkipped += skipped[SkipLocked]
	s.WindowSkipped += skipped[SkipOutOfWindow]
	return s
}

// String returns a one-line summary.
func (s RunStats) String() string {
	return fmt.Sprintf("RunStats{Read: %d, Classified: %d, Locked: %d, RateMissing: %d, Written: %d, RulesFailed: %d, Duration: %v}",
		s.RowsRead, s.Rows, s.LockedSkipped, s.RateMissing, s.RowsWritten, s.RulesFailed, s.Duration)
}
