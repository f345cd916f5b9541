package reporter

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"

	"bank-statement-classifier/internal/reconciler"
	"bank-statement-classifier/pkg/errors"
	"bank-statement-classifier/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with fallbacks: a failed JSON or
// CSV rendering falls back to the console format, and a report file that
// cannot be written is saved next to it under a backup name.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report_config",
			config,
			err,
		).WithSuggestion("check the report configuration values")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely renders result to writer, falling back to the console
// format when the configured format fails.
func (srg *SafeReportGenerator) GenerateReportSafely(result *reconciler.RunResult, writer io.Writer) error {
	if result == nil {
		return errors.ValidationError(errors.CodeMissingField, "result", nil, nil).
			WithSuggestion("provide a run result")
	}
	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("provide an output writer")
	}

	srg.logger.WithField("format", srg.config.Format).Debug("Generating report")

	// Render into a buffer first so a failed format leaves no partial output.
	var buf bytes.Buffer
	err := srg.GenerateReport(result, &buf)
	if err != nil && srg.config.Format != FormatConsole {
		srg.logger.WithError(err).Warn("Report generation failed, falling back to console format")
		buf.Reset()
		fmt.Fprintf(&buf, "NOTE: report generated in console format after an error: %v\n\n", err)

		fallback := *srg.config
		fallback.Format = FormatConsole
		err = (&ReportGenerator{config: &fallback}).GenerateReport(result, &buf)
	}
	if err != nil {
		return wrapGenerationError(err)
	}

	if _, err := buf.WriteTo(writer); err != nil {
		return wrapGenerationError(err)
	}
	return nil
}

// WriteReportFile renders result into path on fsys. When path cannot be
// created the report is written to a backup path in the same directory and
// that path is returned.
func (srg *SafeReportGenerator) WriteReportFile(fsys afero.Fs, path string, result *reconciler.RunResult) (string, error) {
	file, err := fsys.Create(path)
	if err != nil {
		backup := backupPath(path)
		srg.logger.WithError(err).WithFields(logger.Fields{
			"original_file": path,
			"backup_file":   backup,
		}).Warn("Cannot create report file, using backup location")

		file, err = fsys.Create(backup)
		if err != nil {
			return "", errors.FileError(errors.CodeFileWrite, path, err)
		}
		path = backup
	}
	defer file.Close()

	if err := srg.GenerateReportSafely(result, file); err != nil {
		return path, err
	}

	srg.logger.WithField("file_path", path).Info("Report written")
	return path, nil
}

// backupPath creates a backup file path
func backupPath(originalPath string) string {
	dir := filepath.Dir(originalPath)
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]

	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", name, ext))
}

// wrapGenerationError wraps generation errors with context
func wrapGenerationError(err error) error {
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr
	}

	return errors.InternalError(
		errors.CodeUnexpectedError,
		"report_generation",
		err,
	).WithSuggestion("check the output destination and report format settings")
}
