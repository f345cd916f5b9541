package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"bank-statement-classifier/internal/models"
	"bank-statement-classifier/internal/reconciler"
	apperrors "bank-statement-classifier/pkg/errors"
	"bank-statement-classifier/pkg/logger"
)

// Loader loads reference data from PostgreSQL.
type Loader struct {
	db     DB
	tables Tables
	logger logger.Logger
}

// NewLoader creates a reference loader over db.
func NewLoader(db DB, config *Config) *Loader {
	if config == nil {
		config = DefaultConfig()
	}
	return &Loader{
		db:     db,
		tables: config.Tables,
		logger: logger.GetGlobalLogger().WithComponent("postgres"),
	}
}

func counteragentsQuery(table string) string {
	return fmt.Sprintf(`SELECT id, inn, COALESCE(name, '') FROM %s WHERE inn IS NOT NULL AND inn <> ''`, quoteTable(table))
}

func rulesQuery(table string) string {
	return fmt.Sprintf(`SELECT id, condition, counteragent_id, project_id, financial_code_id, nominal_currency_id, COALESCE(payment_id, '')
FROM %s
ORDER BY id`, quoteTable(table))
}

func paymentsQuery(table string) string {
	return fmt.Sprintf(`SELECT payment_id, counteragent_id, project_id, financial_code_id, currency_id
FROM %s
WHERE payment_id IS NOT NULL AND payment_id <> ''`, quoteTable(table))
}

func ratesQuery(table string) string {
	return fmt.Sprintf(`SELECT date, currency_code, rate FROM %s WHERE rate > 0 ORDER BY date, currency_code`, quoteTable(table))
}

func currenciesQuery(table string) string {
	return fmt.Sprintf(`SELECT id, code FROM %s`, quoteTable(table))
}

// LoadReference implements reconciler.ReferenceLoader.
func (l *Loader) LoadReference(ctx context.Context) (*reconciler.ReferenceData, error) {
	ref := &reconciler.ReferenceData{}
	var err error

	if ref.Counteragents, err = l.LoadCounteragents(ctx); err != nil {
		return nil, err
	}
	if ref.Rules, err = l.LoadRules(ctx); err != nil {
		return nil, err
	}
	if ref.Payments, err = l.loadPayments(ctx, l.tables.Payments); err != nil {
		return nil, err
	}
	if ref.SalaryBase, err = l.loadPayments(ctx, l.tables.SalaryBase); err != nil {
		return nil, err
	}
	if ref.SalaryLatest, err = l.loadPayments(ctx, l.tables.SalaryLatest); err != nil {
		return nil, err
	}
	if ref.Rates, err = l.LoadRates(ctx); err != nil {
		return nil, err
	}
	if ref.CurrencyCodes, err = l.loadCurrencies(ctx); err != nil {
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
	}).Info("Loaded reference tables")

	return ref, nil
}

// LoadCounteragents reads every counteragent with a tax identifier.
func (l *Loader) LoadCounteragents(ctx context.Context) ([]*models.Counteragent, error) {
	rows, err := l.db.Query(ctx, counteragentsQuery(l.tables.Counteragents))
	if err != nil {
		return nil, queryError(l.tables.Counteragents, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Counteragent, error) {
		ca := &models.Counteragent{}
		err := row.Scan(&ca.ID, &ca.INN, &ca.Name)
		return ca, err
	})
	if err != nil {
		return nil, queryError(l.tables.Counteragents, err)
	}
	return out, nil
}

// LoadRules reads parsing rules ordered by id. Conditions are not compiled.
func (l *Loader) LoadRules(ctx context.Context) ([]*models.ParsingRule, error) {
	rows, err := l.db.Query(ctx, rulesQuery(l.tables.Rules))
	if err != nil {
		return nil, queryError(l.tables.Rules, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.ParsingRule, error) {
		r := &models.ParsingRule{}
		err := row.Scan(
			&r.ID,
			&r.Condition,
			&r.Outcome.CounteragentID,
			&r.Outcome.ProjectID,
			&r.Outcome.FinancialCodeID,
			&r.Outcome.NominalCurrencyID,
			&r.Outcome.PaymentID,
		)
		return r, err
	})
	if err != nil {
		return nil, queryError(l.tables.Rules, err)
	}
	return out, nil
}

func (l *Loader) loadPayments(ctx context.Context, table string) ([]*models.Payment, error) {
	if table == "" {
		return nil, nil
	}
	rows, err := l.db.Query(ctx, paymentsQuery(table))
	if err != nil {
		return nil, queryError(table, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Payment, error) {
		p := &models.Payment{}
		err := row.Scan(&p.PaymentID, &p.CounteragentID, &p.ProjectID, &p.FinancialCodeID, &p.CurrencyID)
		return p, err
	})
	if err != nil {
		return nil, queryError(table, err)
	}
	return out, nil
}

type rateRecord struct {
	date time.Time
	code string
	rate decimal.Decimal
}

// LoadRates reads the long-format rate table (date, currency_code, rate) and
// groups it into one row per date.
func (l *Loader) LoadRates(ctx context.Context) ([]*models.ExchangeRateRow, error) {
	if l.tables.Rates == "" {
		return nil, nil
	}
	rows, err := l.db.Query(ctx, ratesQuery(l.tables.Rates))
	if err != nil {
		return nil, queryError(l.tables.Rates, err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (rateRecord, error) {
		var r rateRecord
		err := row.Scan(&r.date, &r.code, &r.rate)
		return r, err
	})
	if err != nil {
		return nil, queryError(l.tables.Rates, err)
	}
	return groupRates(records), nil
}

// groupRates folds rate records, sorted by date, into per-date rows.
func groupRates(records []rateRecord) []*models.ExchangeRateRow {
	var out []*models.ExchangeRateRow
	var current *models.ExchangeRateRow
	for _, r := range records {
		key := models.DateKey(r.date)
		if current == nil || models.DateKey(current.Date) != key {
			current = &models.ExchangeRateRow{Date: r.date, Rates: make(map[string]decimal.Decimal)}
			out = append(out, current)
		}
		current.Rates[strings.ToUpper(strings.TrimSpace(r.code))] = r.rate
	}
	return out
}

func (l *Loader) loadCurrencies(ctx context.Context) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string)
	if l.tables.Currencies == "" {
		return out, nil
	}
	rows, err := l.db.Query(ctx, currenciesQuery(l.tables.Currencies))
	if err != nil {
		return nil, queryError(l.tables.Currencies, err)
	}
	var (
		id   uuid.UUID
		code string
	)
	_, err = pgx.ForEachRow(rows, []any{&id, &code}, func() error {
		out[id] = strings.ToUpper(strings.TrimSpace(code))
		return nil
	})
	if err != nil {
		return nil, queryError(l.tables.Currencies, err)
	}
	return out, nil
}

func queryError(table string, err error) error {
	return apperrors.StorageError(apperrors.CodeQueryFailed, "load "+table, err).
		WithContext("table", table)
}
