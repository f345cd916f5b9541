package parsers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"

	"bank-statement-classifier/internal/models"
	"bank-statement-classifier/internal/reconciler"
	apperrors "bank-statement-classifier/pkg/errors"
	"bank-statement-classifier/pkg/logger"
)

// Column names of the reference CSV files.
const (
	columnID             = "id"
	columnINN            = "inn"
	columnName           = "name"
	columnPaymentID      = "payment_id"
	columnCounteragentID = "counteragent_id"
	columnProjectID      = "project_id"
	columnFinancialCode  = "financial_code_id"
	columnCurrencyID     = "currency_id"
	columnCode           = "code"
	columnDate           = "date"
)

// FileReferenceLoader loads reference data from CSV and YAML files.
// Counteragents and rules are required; the payment, salary, rate and
// currency tables are skipped with a warning when their file does not exist.
type FileReferenceLoader struct {
	fs     afero.Fs
	config *SourceConfig
	logger logger.Logger
}

// NewFileReferenceLoader creates a loader over fsys.
func NewFileReferenceLoader(fsys afero.Fs, config *SourceConfig) (*FileReferenceLoader, error) {
	if config == nil {
		config = DefaultSourceConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "source", config, err)
	}
	return &FileReferenceLoader{
		fs:     fsys,
		config: config.Clone(),
		logger: logger.GetGlobalLogger().WithComponent("parsers"),
	}, nil
}

// LoadReference implements reconciler.ReferenceLoader.
func (l *FileReferenceLoader) LoadReference(ctx context.Context) (*reconciler.ReferenceData, error) {
	ref := &reconciler.ReferenceData{}
	var err error

	if ref.Counteragents, err = l.loadCounteragents(l.config.Path(l.config.CounteragentsFile)); err != nil {
		return nil, err
	}
	if ref.Rules, err = LoadRules(l.fs, l.config.Path(l.config.RulesFile)); err != nil {
		return nil, err
	}

	optional := []struct {
		name string
		dst  *[]*models.Payment
	}{
		{l.config.PaymentsFile, &ref.Payments},
		{l.config.SalaryBaseFile, &ref.SalaryBase},
		{l.config.SalaryLatestFile, &ref.SalaryLatest},
	}
	for _, o := range optional {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		payments, err := l.loadPayments(l.config.Path(o.name))
		if err != nil {
			return nil, err
		}
		*o.dst = payments
	}

	if ref.Rates, err = l.LoadRates(l.config.Path(l.config.RatesFile)); err != nil {
		return nil, err
	}
	if ref.CurrencyCodes, err = l.loadCurrencyCodes(l.config.Path(l.config.CurrenciesFile)); err != nil {
		return nil, err
	}

	l.logger.WithFields(logger.Fields{
		"counteragents": len(ref.Counteragents),
		"rules":         len(ref.Rules),
		"payments":      len(ref.Payments),
		"salary_base":   len(ref.SalaryBase),
		"salary_latest": len(ref.SalaryLatest),
		"rate_dates":    len(ref.Rates),
		"currencies":    len(ref.CurrencyCodes),
	}).Info("Loaded reference files")

	return ref, nil
}

// openOptional opens a table that may be absent. It returns nil, nil when
// the path is empty or the file does not exist.
func (l *FileReferenceLoader) openOptional(path string) (*csvFile, error) {
	if path == "" {
		return nil, nil
	}
	cf, err := openCSV(l.fs, path, &l.config.Parse, l.logger)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.WithField("file_path", path).Warn("Optional reference file not found, table left empty")
			return nil, nil
		}
		return nil, err
	}
	return cf, nil
}

func (l *FileReferenceLoader) loadCounteragents(path string) ([]*models.Counteragent, error) {
	cf, err := openCSV(l.fs, path, &l.config.Parse, l.logger)
	if err != nil {
		return nil, err
	}
	defer cf.Close()

	if err := cf.require(columnID, columnINN); err != nil {
		return nil, err
	}

	var out []*models.Counteragent
	for {
		record, err := cf.next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}

		raw := cf.value(record, columnID)
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, cf.invalid(columnID, raw, err)
		}
		out = append(out, &models.Counteragent{
			ID:   id,
			INN:  cf.value(record, columnINN),
			Name: cf.value(record, columnName),
		})
	}
}

func (l *FileReferenceLoader) loadPayments(path string) ([]*models.Payment, error) {
	cf, err := l.openOptional(path)
	if cf == nil || err != nil {
		return nil, err
	}
	defer cf.Close()

	if err := cf.require(columnPaymentID); err != nil {
		return nil, err
	}

	var out []*models.Payment
	for {
		record, err := cf.next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}

		p := &models.Payment{PaymentID: cf.value(record, columnPaymentID)}
		if p.PaymentID == "" {
			continue
		}
		targets := []struct {
			column string
			dst    *uuid.NullUUID
		}{
			{columnCounteragentID, &p.CounteragentID},
			{columnProjectID, &p.ProjectID},
			{columnFinancialCode, &p.FinancialCodeID},
			{columnCurrencyID, &p.CurrencyID},
		}
		for _, t := range targets {
			raw := cf.value(record, t.column)
			id, err := parseNullUUID(raw)
			if err != nil {
				return nil, cf.invalid(t.column, raw, err)
			}
			*t.dst = id
		}
		out = append(out, p)
	}
}

// LoadRates reads a wide rate table: a date column followed by one column
// per currency code holding GEL per one unit of that currency. Blank cells
// mean no rate for that date.
func (l *FileReferenceLoader) LoadRates(path string) ([]*models.ExchangeRateRow, error) {
	cf, err := l.openOptional(path)
	if cf == nil || err != nil {
		return nil, err
	}
	defer cf.Close()

	if err := cf.require(columnDate); err != nil {
		return nil, err
	}

	var out []*models.ExchangeRateRow
	for {
		record, err := cf.next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}

		rawDate := cf.value(record, columnDate)
		date, err := models.ParseTimeWithFormats(rawDate)
		if err != nil {
			return nil, cf.invalid(columnDate, rawDate, err)
		}

		row := &models.ExchangeRateRow{Date: date, Rates: make(map[string]decimal.Decimal)}
		for i, header := range cf.headers {
			if header == columnDate || i >= len(record) {
				continue
			}
			raw := strings.TrimSpace(record[i])
			if raw == "" {
				continue
			}
			rate, err := models.ParseDecimalFromString(raw)
			if err != nil {
				return nil, cf.invalid(header, raw, err)
			}
			if !rate.IsPositive() {
				return nil, cf.invalid(header, raw, fmt.Errorf("rate must be positive"))
			}
			row.Rates[strings.ToUpper(header)] = rate
		}
		out = append(out, row)
	}
}

func (l *FileReferenceLoader) loadCurrencyCodes(path string) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string)
	cf, err := l.openOptional(path)
	if cf == nil || err != nil {
		return out, err
	}
	defer cf.Close()

	if err := cf.require(columnID, columnCode); err != nil {
		return nil, err
	}

	for {
		record, err := cf.next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}

		raw := cf.value(record, columnID)
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, cf.invalid(columnID, raw, err)
		}
		if _, dup := out[id]; dup {
			return nil, apperrors.ReferenceError(apperrors.CodeDuplicateKey, "currencies", raw, nil)
		}
		out[id] = strings.ToUpper(cf.value(record, columnCode))
	}
}
