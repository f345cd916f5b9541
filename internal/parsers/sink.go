package parsers

import (
	"context"
	"encoding/csv"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/spf13/afero"

	"bank-statement-classifier/internal/models"
	apperrors "bank-statement-classifier/pkg/errors"
)

// ResultColumns is the header row written by CSVResultSink.
var ResultColumns = []string{
	"dockey",
	"entries_id",
	"counteragent_id",
	"counteragent_inn",
	"applied_rule_id",
	"project_id",
	"financial_code_id",
	"nominal_currency_id",
	"payment_id",
	"processing_case",
	"account_currency",
	"account_amount",
	"nominal_currency",
	"nominal_amount",
	"rate_missing",
}

// CSVResultSink writes update records to a CSV file. The file is truncated
// when the sink is created, so rerunning a batch yields the same file.
type CSVResultSink struct {
	path   string
	mu     sync.Mutex
	file   afero.File
	writer *csv.Writer
}

// NewCSVResultSink creates path on fsys, creating parent directories.
func NewCSVResultSink(fsys afero.Fs, path string) (*CSVResultSink, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.FileError(apperrors.CodeFileWrite, path, err)
		}
	}

	file, err := fsys.Create(path)
	if err != nil {
		return nil, apperrors.FileError(apperrors.CodeFileWrite, path, err)
	}

	w := csv.NewWriter(file)
	if err := w.Write(ResultColumns); err != nil {
		file.Close()
		return nil, apperrors.FileError(apperrors.CodeFileWrite, path, err)
	}

	return &CSVResultSink{path: path, file: file, writer: w}, nil
}

// Write implements reconciler.ResultSink.
func (s *CSVResultSink) Write(ctx context.Context, records []*models.UpdateRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	written := 0
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if r == nil {
			continue
		}
		if err := s.writer.Write(resultRow(r)); err != nil {
			return written, apperrors.FileError(apperrors.CodeFileWrite, s.path, err)
		}
		written++
	}

	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return written, apperrors.FileError(apperrors.CodeFileWrite, s.path, err)
	}
	return written, nil
}

// Close flushes and closes the file.
func (s *CSVResultSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return apperrors.FileError(apperrors.CodeFileWrite, s.path, err)
	}
	return s.file.Close()
}

func resultRow(r *models.UpdateRecord) []string {
	res := r.Result
	if res == nil {
		res = &models.ClassificationResult{}
	}
	ruleID := ""
	if res.AppliedRuleID != nil {
		ruleID = strconv.FormatInt(*res.AppliedRuleID, 10)
	}
	return []string{
		r.DocKey,
		r.EntriesID,
		formatNullUUID(res.CounteragentID),
		res.CounteragentINN,
		ruleID,
		formatNullUUID(res.ProjectID),
		formatNullUUID(res.FinancialCodeID),
		formatNullUUID(res.NominalCurrencyID),
		res.PaymentID,
		r.ProcessingCase,
		r.AccountCurrency,
		r.AccountAmount.StringFixed(2),
		r.NominalCurrency,
		r.NominalAmount.StringFixed(2),
		strconv.FormatBool(r.RateMissing),
	}
}
