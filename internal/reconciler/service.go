package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"bank-statement-classifier/internal/classifier"
	"bank-statement-classifier/internal/currency"
	"bank-statement-classifier/internal/formula"
	"bank-statement-classifier/internal/models"
	apperrors "bank-statement-classifier/pkg/errors"
	"bank-statement-classifier/pkg/logger"
)

// Service runs classification batches
type Service struct {
	loader           ReferenceLoader
	source           RowSource
	sink             ResultSink
	config           *Config
	classifierConfig *classifier.Config
	logger           logger.Logger
}

// RunResult contains the outcome of a batch run
type RunResult struct {
	Stats         RunStats              `json:"stats"`
	CompileErrors []*apperrors.AppError `json:"compile_errors,omitempty"`
	StartedAt     time.Time             `json:"started_at"`
	FinishedAt    time.Time             `json:"finished_at"`
}

// NewService creates a batch driver
func NewService(
	loader ReferenceLoader,
	source RowSource,
	sink ResultSink,
	config *Config,
	classifierConfig *classifier.Config,
) (*Service, error) {
	if loader == nil || source == nil || sink == nil {
		return nil, apperrors.ValidationError(apperrors.CodeMissingField, "data_access", nil, nil).
			WithSuggestion("provide a reference loader, a row source and a result sink")
	}

	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "reconciler", config, err)
	}

	if classifierConfig == nil {
		classifierConfig = classifier.DefaultConfig()
	}
	if err := classifierConfig.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "classifier", classifierConfig, err)
	}

	return &Service{
		loader:           loader,
		source:           source,
		sink:             sink,
		config:           config.Clone(),
		classifierConfig: classifierConfig.Clone(),
		logger:           logger.GetGlobalLogger().WithComponent("reconciler"),
	}, nil
}

// Prepared is reference data compiled for a run.
type Prepared struct {
	Processor     *Processor
	RulesLoaded   int
	CompileErrors []*apperrors.AppError
}

// Prepare loads reference data, compiles every rule once and builds the row
// processor. Rules that fail to compile never match; their errors are
// returned in Prepared rather than as a failure.
func Prepare(ref *ReferenceData, classifierConfig *classifier.Config) (*Prepared, error) {
	if ref == nil {
		return nil, apperrors.ReferenceError(apperrors.CodeMissingReference, "reference data", "all", nil)
	}

	rules := append([]*models.ParsingRule(nil), ref.Rules...)
	classifier.SortRulesByID(rules)

	compileErrs := compileErrors(formula.CompileRules(rules))

	c, err := classifier.NewClassifier(
		classifier.NewReference(ref.Counteragents, rules, ref.Payments, ref.SalaryBase, ref.SalaryLatest),
		classifierConfig,
	)
	if err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "classifier", classifierConfig, err)
	}

	return &Prepared{
		Processor:     NewProcessor(c, currency.NewRateTable(ref.Rates), currency.NewCodeCacheFrom(ref.CurrencyCodes)),
		RulesLoaded:   len(rules),
		CompileErrors: compileErrs,
	}, nil
}

func compileErrors(err error) []*apperrors.AppError {
	var out []*apperrors.AppError
	for _, e := range multierr.Errors(err) {
		var rce *formula.RuleCompileError
		if errors.As(e, &rce) {
			condition := ""
			var ce *formula.CompileError
			if errors.As(rce.Err, &ce) {
				condition = ce.Condition
			}
			out = append(out, apperrors.CompileError(rce.RuleID, condition, rce.Err))
			continue
		}
		out = append(out, apperrors.Wrap(e, apperrors.CategoryCompile, apperrors.CodeInvalidCondition, "rule compilation failed"))
	}
	return out
}

// Run executes one full batch: load, compile, then read, classify and write
// until the source is exhausted or ctx is cancelled.
func (s *Service) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{StartedAt: time.Now()}
	defer func() {
		result.FinishedAt = time.Now()
		result.Stats.Duration = result.FinishedAt.Sub(result.StartedAt)
	}()

	var ref *ReferenceData
	err := logger.TimedOperation("load reference data", s.logger, func() error {
		var loadErr error
		ref, loadErr = s.loader.LoadReference(ctx)
		return loadErr
	})
	if err != nil {
		return result, apperrors.WrapIfNeeded(err, apperrors.CategoryReference, apperrors.CodeMissingReference, "failed to load reference data")
	}

	prepared, err := Prepare(ref, s.classifierConfig)
	if err != nil {
		return result, err
	}
	result.CompileErrors = prepared.CompileErrors
	result.Stats.RulesLoaded = prepared.RulesLoaded
	result.Stats.RulesFailed = len(prepared.CompileErrors)

	for _, ce := range prepared.CompileErrors {
		s.logger.WithFields(logger.Fields{
			"rule_id":   ce.Context["rule_id"],
			"condition": ce.Context["condition"],
		}).WithError(ce.Cause).Warn("Parsing rule skipped: condition does not compile")
	}

	s.logger.WithFields(logger.Fields{
		"counteragents": len(ref.Counteragents),
		"rules":         prepared.RulesLoaded,
		"payments":      len(ref.Payments),
		"rate_dates":    len(ref.Rates),
	}).Info("Reference data ready")

	var progress *logger.ProgressTracker
	if s.config.ProgressReporting {
		progress = logger.NewProgressTracker(logger.ProgressConfig{
			Operation:   "classify rows",
			LogInterval: s.config.ProgressInterval,
			Logger:      s.logger,
		})
	}

	stats, runErr := s.processAll(ctx, prepared.Processor, result.Stats, progress)
	result.Stats = stats

	if progress != nil {
		if runErr != nil {
			progress.CompleteWithError(runErr)
		} else {
			progress.Complete()
		}
	}

	s.logger.WithField("stats", result.Stats.String()).Info("Batch run finished")
	return result, runErr
}

func (s *Service) processAll(ctx context.Context, processor *Processor, stats RunStats, progress *logger.ProgressTracker) (RunStats, error) {
	filter := newRowFilter(s.config)
	var writeErrs error

	for {
		if err := ctx.Err(); err != nil {
			return stats, multierr.Append(writeErrs, err)
		}

		rows, readErr := s.source.NextBatch(ctx, s.config.BatchSize)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return stats, multierr.Append(writeErrs,
				apperrors.StorageError(apperrors.CodeQueryFailed, "read rows", readErr))
		}

		if len(rows) > 0 {
			stats.Batches++
			stats.RowsRead += int64(len(rows))

			keep, skipped := filter.split(rows)
			stats = stats.addSkipped(skipped)

			records, err := s.ProcessRows(ctx, processor, keep)
			if err != nil {
				return stats, multierr.Append(writeErrs, err)
			}
			for _, record := range records {
				stats = stats.addRecord(record)
			}

			written, err := s.sink.Write(ctx, records)
			stats.RowsWritten += int64(written)
			if err != nil {
				stats.WriteFailures++
				wrapped := apperrors.WrapIfNeeded(err, apperrors.CategoryStorage, apperrors.CodeWriteFailed, "failed to write results")
				s.logger.WithError(err).WithField("batch", stats.Batches).Error("Writing batch failed")
				writeErrs = multierr.Append(writeErrs, wrapped)
				if !s.config.ContinueOnWriteError {
					return stats, writeErrs
				}
			}

			if progress != nil {
				progress.Add(int64(len(rows)))
			}
		}

		if errors.Is(readErr, io.EOF) {
			return stats, writeErrs
		}
	}
}

// ProcessRows classifies rows concurrently. The returned records keep the
// order of rows.
func (s *Service) ProcessRows(ctx context.Context, processor *Processor, rows []*models.RawRow) ([]*models.UpdateRecord, error) {
	records := make([]*models.UpdateRecord, len(rows))
	if len(rows) == 0 {
		return records, nil
	}

	p := pool.New().WithContext(ctx).WithMaxGoroutines(s.config.Workers)
	for i, row := range rows {
		i, row := i, row
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			records[i] = processor.ProcessRow(row)
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, fmt.Errorf("classifying batch: %w", err)
	}
	return records, nil
}
