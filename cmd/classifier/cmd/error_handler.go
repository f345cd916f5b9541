package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"bank-statement-classifier/cmd/classifier/config"
	apperrors "bank-statement-classifier/pkg/errors"
	"bank-statement-classifier/pkg/logger"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	out     io.Writer
	logger  logger.Logger
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler writing to out
func NewCLIErrorHandler(out io.Writer) *CLIErrorHandler {
	return &CLIErrorHandler{
		out:     out,
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool(config.KeyVerbose),
	}
}

// HandleError prints err and returns the process exit code. Several
// combined errors are printed one after another and the highest exit code
// wins.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	errs := multierr.Errors(err)
	if len(errs) > 1 {
		fmt.Fprintf(h.out, "%d errors occurred:\n\n", len(errs))
	}

	code := 0
	for i, e := range errs {
		if i > 0 {
			fmt.Fprintln(h.out)
		}
		if c := h.handleOne(e); c > code {
			code = c
		}
	}
	return code
}

func (h *CLIErrorHandler) handleOne(err error) int {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return h.handleAppError(appErr)
	}
	return h.handleGenericError(err)
}

// handleAppError handles AppError with detailed context
func (h *CLIErrorHandler) handleAppError(err *apperrors.AppError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	if help := categoryHelp(err.Category); help != "" {
		fmt.Fprintf(h.out, "\n%s\n", help)
	}

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleGenericError handles errors that are not AppErrors
func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fmt.Fprintf(h.out, "Error: File not found: %v\n", err)
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	case errors.Is(err, fs.ErrPermission):
		fmt.Fprintf(h.out, "Error: Permission denied: %v\n", err)
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	case isDiskFullError(err):
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	if !h.verbose {
		fmt.Fprintf(h.out, "\nRun with --verbose for more detail\n")
	}
	return 1
}

// categoryHelp returns category-specific help text
func categoryHelp(category apperrors.ErrorCategory) string {
	switch category {
	case apperrors.CategoryFile:
		return `File error help:
• Check that the run directory contains the expected files
• Verify the path passed with --dir or --rules-file
• Ensure you have permission to read inputs and write results`

	case apperrors.CategoryParse:
		return `Parse error help:
• Check the CSV header row; columns are matched by name
• Ensure the file uses UTF-8 encoding
• Check rules.yaml against 'classifier rules export' output`

	case apperrors.CategoryValidation:
		return `Validation error help:
• Dates use YYYY-MM-DD
• Amounts are decimal numbers without currency symbols`

	case apperrors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and CLASSIFIER_ environment variables
• Verify configuration file syntax if using --config
• Use 'classifier <command> --help' to see all available options`

	case apperrors.CategoryCompile:
		return `Rule error help:
• Run 'classifier rules check' to list every failing condition
• Conditions look like AND(EQ(docprodgroup, "COM"), CONTAINS(nomination, "fee"))`

	case apperrors.CategoryStorage:
		return `Database error help:
• Check CLASSIFIER_DATABASE_URL and that the database is reachable
• Check the table names under postgres.tables in the config file`

	default:
		return ""
	}
}

func isDiskFullError(err error) bool {
	if errors.Is(err, syscall.ENOSPC) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no space left") || strings.Contains(msg, "disk full")
}
