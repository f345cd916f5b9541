package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/multierr"

	"bank-statement-classifier/internal/models"
	apperrors "bank-statement-classifier/pkg/errors"
	"bank-statement-classifier/pkg/logger"
)

// Writer persists update records with one batched UPDATE per record inside
// a single transaction per call.
type Writer struct {
	db     DB
	table  string
	logger logger.Logger
}

// NewWriter creates a result writer for the raw row table.
func NewWriter(db DB, config *Config) *Writer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Writer{
		db:     db,
		table:  config.Tables.Rows,
		logger: logger.GetGlobalLogger().WithComponent("postgres"),
	}
}

// updateQuery sets every classification column on one row. Locked rows are
// excluded by the WHERE clause.
func updateQuery(table string) string {
	return fmt.Sprintf(`UPDATE %s SET
	counteragent_id = @counteragent_id,
	counteragent_inn = @counteragent_inn,
	applied_rule_id = @applied_rule_id,
	project_id = @project_id,
	financial_code_id = @financial_code_id,
	nominal_currency_id = @nominal_currency_id,
	payment_id = @payment_id,
	processing_case = @processing_case,
	nominal_currency = @nominal_currency,
	nominal_amount = @nominal_amount,
	rate_missing = @rate_missing,
	counteragent_processed = @counteragent_processed,
	inn_blank = @inn_blank,
	inn_nonblank_no_match = @inn_nonblank_no_match,
	payment_id_match = @payment_id_match,
	payment_id_counteragent_mismatch = @payment_id_counteragent_mismatch,
	parsing_rule_match = @parsing_rule_match,
	parsing_rule_counteragent_mismatch = @parsing_rule_counteragent_mismatch,
	parsing_rule_dominance = @parsing_rule_dominance
WHERE %s = @dockey AND %s = @entriesid AND NOT COALESCE(%s, false)`,
		quoteTable(table), models.ColumnDocKey, models.ColumnEntriesID, models.ColumnParsingLock)
}

// updateArgs maps an update record to the named arguments of updateQuery.
func updateArgs(r *models.UpdateRecord) pgx.NamedArgs {
	res := r.Result
	if res == nil {
		res = &models.ClassificationResult{}
	}
	var paymentID any
	if res.PaymentID != "" {
		paymentID = res.PaymentID
	}
	var inn any
	if res.CounteragentINN != "" {
		inn = res.CounteragentINN
	}

	return pgx.NamedArgs{
		"dockey":                             r.DocKey,
		"entriesid":                          r.EntriesID,
		"counteragent_id":                    res.CounteragentID,
		"counteragent_inn":                   inn,
		"applied_rule_id":                    res.AppliedRuleID,
		"project_id":                         res.ProjectID,
		"financial_code_id":                  res.FinancialCodeID,
		"nominal_currency_id":                res.NominalCurrencyID,
		"payment_id":                         paymentID,
		"processing_case":                    r.ProcessingCase,
		"nominal_currency":                   r.NominalCurrency,
		"nominal_amount":                     r.NominalAmount,
		"rate_missing":                       r.RateMissing,
		"counteragent_processed":             res.Cases.CounteragentProcessed,
		"inn_blank":                          res.Cases.INNBlank,
		"inn_nonblank_no_match":              res.Cases.INNNonblankNoMatch,
		"payment_id_match":                   res.Cases.PaymentIDMatch,
		"payment_id_counteragent_mismatch":   res.Cases.PaymentIDCounteragentMismatch,
		"parsing_rule_match":                 res.Cases.ParsingRuleMatch,
		"parsing_rule_counteragent_mismatch": res.Cases.ParsingRuleCounteragentMismatch,
		"parsing_rule_dominance":             res.Cases.ParsingRuleDominance,
	}
}

// Write implements reconciler.ResultSink. It returns the number of rows
// actually updated; rows that are locked or absent count as not written.
// Any failed statement rolls back the whole call.
func (w *Writer) Write(ctx context.Context, records []*models.UpdateRecord) (int, error) {
	batch := &pgx.Batch{}
	query := updateQuery(w.table)
	for _, r := range records {
		if r == nil {
			continue
		}
		batch.Queue(query, updateArgs(r))
	}
	if batch.Len() == 0 {
		return 0, nil
	}

	written := 0
	err := pgx.BeginFunc(ctx, w.db, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)

		var errs error
		for i := 0; i < batch.Len(); i++ {
			tag, err := br.Exec()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("record %d: %w", i+1, err))
				continue
			}
			written += int(tag.RowsAffected())
		}
		return multierr.Combine(errs, br.Close())
	})
	if err != nil {
		return 0, apperrors.StorageError(apperrors.CodeWriteFailed, "update "+w.table, err).
			WithContext("records", batch.Len())
	}

	w.logger.WithFields(logger.Fields{
		"records": batch.Len(),
		"updated": written,
	}).Debug("Wrote result batch")

	return written, nil
}
