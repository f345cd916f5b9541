package logger

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ProgressTracker logs throughput of a long batch at a fixed interval. Add
// is safe to call from many workers.
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int64
	current     atomic.Int64
	startTime   time.Time
	lastLog     atomic.Int64
	logInterval time.Duration
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation   string        `json:"operation"`
	Total       int64         `json:"total"`
	LogInterval time.Duration `json:"log_interval"`
	Logger      Logger        `json:"-"`
}

// NewProgressTracker creates a new progress tracker. Total may be zero when
// the size of the batch is not known up front.
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}

	now := time.Now()
	tracker := &ProgressTracker{
		logger:      config.Logger.WithComponent("progress"),
		operation:   config.Operation,
		total:       config.Total,
		startTime:   now,
		logInterval: config.LogInterval,
	}
	tracker.lastLog.Store(now.UnixNano())

	tracker.logger.WithFields(Fields{
		"operation": config.Operation,
		"total":     config.Total,
	}).Info("Starting operation")

	return tracker
}

// Add advances the counter by delta and logs when the interval has elapsed.
func (p *ProgressTracker) Add(delta int64) {
	current := p.current.Add(delta)

	now := time.Now()
	last := p.lastLog.Load()
	if now.Sub(time.Unix(0, last)) < p.logInterval {
		return
	}
	if p.lastLog.CompareAndSwap(last, now.UnixNano()) {
		p.logger.WithFields(p.fields(current, now)).Info("Progress update")
	}
}

// Increment advances the counter by one.
func (p *ProgressTracker) Increment() {
	p.Add(1)
}

// Complete logs the final counters.
func (p *ProgressTracker) Complete() {
	stats := p.GetStats()
	p.logger.WithFields(Fields{
		"operation": p.operation,
		"processed": stats.Current,
		"duration":  stats.Duration.String(),
		"rate":      fmt.Sprintf("%.2f/sec", stats.Rate),
	}).Info("Operation completed")
}

// CompleteWithError logs the counters reached before a failure.
func (p *ProgressTracker) CompleteWithError(err error) {
	stats := p.GetStats()
	p.logger.WithError(err).WithFields(Fields{
		"operation": p.operation,
		"processed": stats.Current,
		"duration":  stats.Duration.String(),
	}).Error("Operation failed")
}

// GetStats returns a snapshot of the progress.
func (p *ProgressTracker) GetStats() ProgressStats {
	current := p.current.Load()
	duration := time.Since(p.startTime)

	stats := ProgressStats{
		Operation: p.operation,
		Total:     p.total,
		Current:   current,
		Duration:  duration,
	}
	if duration.Seconds() > 0 {
		stats.Rate = float64(current) / duration.Seconds()
	}
	if p.total > 0 {
		stats.Percentage = float64(current) / float64(p.total) * 100
		if stats.Rate > 0 && current < p.total {
			stats.ETA = time.Duration(float64(p.total-current)/stats.Rate) * time.Second
		}
	}
	return stats
}

func (p *ProgressTracker) fields(current int64, now time.Time) Fields {
	fields := Fields{
		"operation": p.operation,
		"processed": current,
	}
	if elapsed := now.Sub(p.startTime).Seconds(); elapsed > 0 {
		fields["rate"] = fmt.Sprintf("%.2f/sec", float64(current)/elapsed)
	}
	if p.total > 0 {
		fields["total"] = p.total
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(current)/float64(p.total)*100)
	}
	return fields
}

// ProgressStats contains progress statistics
type ProgressStats struct {
	Operation  string        `json:"operation"`
	Total      int64         `json:"total"`
	Current    int64         `json:"current"`
	Percentage float64       `json:"percentage"`
	Duration   time.Duration `json:"duration"`
	Rate       float64       `json:"rate"`
	ETA        time.Duration `json:"eta,omitempty"`
}

// String returns a human-readable representation of the progress
func (ps ProgressStats) String() string {
	if ps.Total > 0 {
		return fmt.Sprintf("%s: %d/%d (%.1f%%) at %.2f/sec, ETA: %v",
			ps.Operation, ps.Current, ps.Total, ps.Percentage, ps.Rate, ps.ETA)
	}
	return fmt.Sprintf("%s: %d processed at %.2f/sec, elapsed: %v",
		ps.Operation, ps.Current, ps.Rate, ps.Duration)
}

// TimedOperation runs fn and logs its duration and outcome.
func TimedOperation(operation string, logger Logger, fn func() error) error {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	start := time.Now()
	log := logger.WithComponent("operation").WithField("operation", operation)
	log.Debug("Starting operation")

	err := fn()

	log = log.WithField("duration", time.Since(start).String())
	if err != nil {
		log.WithError(err).Error("Operation failed")
	} else {
		log.Info("Operation completed")
	}
	return err
}
