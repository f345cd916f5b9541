// Package reconciler drives batch classification: it loads reference data
// once, compiles parsing rules once, then classifies and normalizes rows in
// parallel and hands update records to a sink.
//
// Example usage:
//
//	svc, err := reconciler.NewService(loader, source, sink, reconciler.DefaultConfig(), classifier.DefaultConfig())
//	result, err := svc.Run(ctx)
//	fmt.Println(result.Stats)
package reconciler

import (
	"fmt"
	"runtime"
	"time"
)

// Config holds configuration options for the batch driver
type Config struct {
	// Workers is the number of rows classified concurrently
	Workers int `json:"workers" mapstructure:"workers"`

	// BatchSize is the number of rows read from the source and written to
	// the sink at a time
	BatchSize int `json:"batch_size" mapstructure:"batch_size"`

	// Optional transaction date window; rows outside it are skipped
	StartDate *time.Time `json:"start_date,omitempty" mapstructure:"-"`
	EndDate   *time.Time `json:"end_date,omitempty" mapstructure:"-"`

	// ProgressReporting logs throughput every ProgressInterval
	ProgressReporting bool          `json:"progress_reporting" mapstructure:"progress_reporting"`
	ProgressInterval  time.Duration `json:"progress_interval" mapstructure:"progress_interval"`

	// ContinueOnWriteError keeps processing later batches after a sink
	// failure; the errors are returned together at the end
	ContinueOnWriteError bool `json:"continue_on_write_error" mapstructure:"continue_on_write_error"`
}

// DefaultConfig returns a default configuration for the batch driver
func DefaultConfig() *Config {
	return &Config{
		Workers:              runtime.NumCPU(),
		BatchSize:            1000,
		ProgressReporting:    false,
		ProgressInterval:     5 * time.Second,
		ContinueOnWriteError: true,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}

	if c.StartDate != nil && c.EndDate != nil && c.StartDate.After(*c.EndDate) {
		return fmt.Errorf("start date must be before end date")
	}

	if c.ProgressReporting && c.ProgressInterval <= 0 {
		return fmt.Errorf("progress interval must be positive when progress reporting is enabled")
	}

	return nil
}

// Clone creates a copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
