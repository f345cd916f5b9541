// Package sample generates synthetic run directories for file-based
// classification runs. Every classification path is represented: rows with a
// known tax ID, rows resolved by a parsing rule, rows carrying a payment
// identifier in free text, rows in a foreign currency, unknown tax IDs and
// locked rows. Generation is deterministic for a given seed.
package sample

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"

	"bank-statement-classifier/internal/models"
	"bank-statement-classifier/internal/parsers"
	apperrors "bank-statement-classifier/pkg/errors"
)

// Generator writes the files of one run directory.
type Generator struct {
	Rows          int
	Counteragents int
	Payments      int
	StartDate     time.Time
	EndDate       time.Time
	MinAmount     decimal.Decimal
	MaxAmount     decimal.Decimal
	// LockEvery marks every n-th row as parsing-locked (0 disables)
	LockEvery     int
	Seed          int64
}

// DefaultGenerator returns a generator for a small month-long run.
func DefaultGenerator() *Generator {
	return &Generator{
		Rows:          500,
		Counteragents: 25,
		Payments:      40,
		StartDate:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		MinAmount:     decimal.NewFromInt(1),
		MaxAmount:     decimal.NewFromInt(25000),
		LockEvery:     17,
		Seed:          1,
	}
}

// Validate checks the generator settings
func (g *Generator) Validate() error {
	if g.Rows <= 0 {
		return fmt.Errorf("rows must be positive, got %d", g.Rows)
	}
	if g.Counteragents <= 0 || g.Payments <= 0 {
		return fmt.Errorf("counteragents and payments must be positive")
	}
	if g.EndDate.Before(g.StartDate) {
		return fmt.Errorf("end date must not be before start date")
	}
	if !g.MinAmount.IsPositive() || g.MaxAmount.LessThan(g.MinAmount) {
		return fmt.Errorf("invalid amount range %s..%s", g.MinAmount, g.MaxAmount)
	}
	if g.LockEvery < 0 {
		return fmt.Errorf("lock interval cannot be negative")
	}
	return nil
}

// Summary counts what was generated
type Summary struct {
	Rows          int
	Locked        int
	Counteragents int
	Payments      int
	Rules         int
	RateDates     int
}

// currency ids and codes of the generated currency table
type currencyRef struct {
	id   uuid.UUID
	code string
}

type world struct {
	rng           *rand.Rand
	currencies    []currencyRef
	counteragents []*models.Counteragent
	payments      []*models.Payment
	rules         []*models.ParsingRule
	dates         []time.Time
}

// Generate writes a complete run directory into config.Dir on fsys using the
// file names and delimiter of config.
func (g *Generator) Generate(fsys afero.Fs, config *parsers.SourceConfig) (*Summary, error) {
	if err := g.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "sample", g, err)
	}
	if config == nil {
		config = parsers.DefaultSourceConfig()
	}
	if err := fsys.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, apperrors.FileError(apperrors.CodeFileWrite, config.Dir, err)
	}

	w := g.build()
	summary := &Summary{
		Counteragents: len(w.counteragents),
		Payments:      len(w.payments),
		Rules:         len(w.rules),
		RateDates:     len(w.dates),
	}

	rows, locked := g.rows(w)
	summary.Rows, summary.Locked = len(rows)-1, locked

	tables := []struct {
		name    string
		records [][]string
	}{
		{config.CounteragentsFile, counteragentRecords(w)},
		{config.PaymentsFile, paymentRecords(w)},
		{config.RatesFile, rateRecords(w)},
		{config.CurrenciesFile, currencyRecords(w)},
		{config.RowsFile, rows},
	}
	for _, t := range tables {
		if t.name == "" {
			continue
		}
		if err := writeCSV(fsys, config.Path(t.name), config.Parse.Delimiter, t.records); err != nil {
			return nil, err
		}
	}

	rulesPath := config.Path(config.RulesFile)
	file, err := fsys.Create(rulesPath)
	if err != nil {
		return nil, apperrors.FileError(apperrors.CodeFileWrite, rulesPath, err)
	}
	defer file.Close()
	if err := parsers.WriteRules(file, w.rules); err != nil {
		return nil, apperrors.FileError(apperrors.CodeFileWrite, rulesPath, err)
	}

	return summary, nil
}

func (g *Generator) build() *world {
	w := &world{rng: rand.New(rand.NewSource(g.Seed))}

	for _, code := range []string{"GEL", "USD", "EUR"} {
		w.currencies = append(w.currencies, currencyRef{id: w.uuid(), code: code})
	}

	for i := 0; i < g.Counteragents; i++ {
		w.counteragents = append(w.counteragents, &models.Counteragent{
			ID:   w.uuid(),
			INN:  fmt.Sprintf("%011d", 10000000000+w.rng.Int63n(89999999999)),
			Name: fmt.Sprintf("Counteragent %03d LLC", i+1),
		})
	}

	for i := 0; i < g.Payments; i++ {
		ca := w.counteragents[w.rng.Intn(len(w.counteragents))]
		cur := w.currencies[i%len(w.currencies)]
		w.payments = append(w.payments, &models.Payment{
			PaymentID:       fmt.Sprintf("PAY-%06d", i+1),
			CounteragentID:  uuid.NullUUID{UUID: ca.ID, Valid: true},
			ProjectID:       uuid.NullUUID{UUID: w.uuid(), Valid: true},
			FinancialCodeID: uuid.NullUUID{UUID: w.uuid(), Valid: true},
			CurrencyID:      uuid.NullUUID{UUID: cur.id, Valid: true},
		})
	}

	commission := uuid.NullUUID{UUID: w.uuid(), Valid: true}
	payroll := uuid.NullUUID{UUID: w.uuid(), Valid: true}
	w.rules = []*models.ParsingRule{
		{ID: 1, Condition: `EQ(docprodgroup, "COM")`, Outcome: models.RuleOutcome{FinancialCodeID: commission}},
		{ID: 2, Condition: `CONTAINS(docnomination, "salary")`, Outcome: models.RuleOutcome{ProjectID: payroll}},
		{ID: 3, Condition: `AND(EQ(docprodgroup, "TRF"), GT(entrydbamt, 10000))`, Outcome: models.RuleOutcome{
			CounteragentID: uuid.NullUUID{UUID: w.counteragents[0].ID, Valid: true},
		}},
	}

	for d := g.StartDate; !d.After(g.EndDate); d = d.AddDate(0, 0, 1) {
		w.dates = append(w.dates, d)
	}
	return w
}

func (w *world) uuid() uuid.UUID {
	id, err := uuid.NewRandomFromReader(w.rng)
	if err != nil {
		panic(err)
	}
	return id
}

// scenario selects which classification path a generated row exercises.
type scenario int

const (
	scenarioKnownINN scenario = iota
	scenarioPaymentID
	scenarioUnknownINN
	scenarioCommission
	scenarioForeign
	scenarioCount
)

var rowHeader = []string{
	models.ColumnDocKey, models.ColumnEntriesID,
	models.ColumnSenderINN, models.ColumnBeneficiaryINN,
	models.ColumnProductGroup, models.ColumnNomination, models.ColumnComment,
	models.ColumnDebit, models.ColumnCredit,
	models.ColumnAccountCurrency, models.ColumnTransactionDate, models.ColumnParsingLock,
}

func (g *Generator) rows(w *world) ([][]string, int) {
	records := [][]string{rowHeader}
	locked := 0

	for i := 0; i < g.Rows; i++ {
		date := w.dates[w.rng.Intn(len(w.dates))]
		amount := g.amount(w.rng)
		ca := w.counteragents[w.rng.Intn(len(w.counteragents))]

		var inn, group, nomination, comment string
		currencyCode := "GEL"
		switch scenario(i % int(scenarioCount)) {
		case scenarioKnownINN:
			inn, group, nomination = ca.INN, "TRF", "invoice settlement"
		case scenarioPaymentID:
			p := w.payments[(i/int(scenarioCount))%len(w.payments)]
			group, nomination = "TRF", "payment id: "+p.PaymentID
		case scenarioUnknownINN:
			inn, group, nomination = fmt.Sprintf("%09d", w.rng.Intn(999999999)), "TRF", "transfer"
		case scenarioCommission:
			inn, group, nomination, comment = ca.INN, "COM", "bank fee", "monthly service"
		case scenarioForeign:
			inn, group, nomination, currencyCode = ca.INN, "TRF", "salary advance", "USD"
		}

		debit, credit := amount.StringFixed(2), ""
		if w.rng.Intn(2) == 0 {
			debit, credit = "", amount.StringFixed(2)
		}

		lock := g.LockEvery > 0 && (i+1)%g.LockEvery == 0
		if lock {
			locked++
		}

		records = append(records, []string{
			fmt.Sprintf("DOC%07d", i/2+1), fmt.Sprintf("E%02d", i%2+1),
			inn, inn,
			group, nomination, comment,
			debit, credit,
			currencyCode, date.Format("2006-01-02"), fmt.Sprint(lock),
		})
	}
	return records, locked
}

func (g *Generator) amount(rng *rand.Rand) decimal.Decimal {
	span := g.MaxAmount.Sub(g.MinAmount)
	return decimal.NewFromFloat(rng.Float64()).Mul(span).Add(g.MinAmount).Round(2)
}

func counteragentRecords(w *world) [][]string {
	records := [][]string{{"id", "inn", "name"}}
	for _, ca := range w.counteragents {
		records = append(records, []string{ca.ID.String(), ca.INN, ca.Name})
	}
	return records
}

func paymentRecords(w *world) [][]string {
	records := [][]string{{"payment_id", "counteragent_id", "project_id", "financial_code_id", "currency_id"}}
	for _, p := range w.payments {
		records = append(records, []string{
			p.PaymentID,
			p.CounteragentID.UUID.String(),
			p.ProjectID.UUID.String(),
			p.FinancialCodeID.UUID.String(),
			p.CurrencyID.UUID.String(),
		})
	}
	return records
}

// rateRecords writes GEL rates of USD and EUR around realistic levels.
func rateRecords(w *world) [][]string {
	records := [][]string{{"date", "USD", "EUR"}}
	usd, eur := decimal.RequireFromString("2.68"), decimal.RequireFromString("2.93")
	for _, d := range w.dates {
		drift := decimal.NewFromFloat((w.rng.Float64() - 0.5) / 50)
		records = append(records, []string{
			d.Format("2006-01-02"),
			usd.Add(drift).StringFixed(4),
			eur.Add(drift).StringFixed(4),
		})
	}
	return records
}

func currencyRecords(w *world) [][]string {
	records := [][]string{{"id", "code"}}
	for _, c := range w.currencies {
		records = append(records, []string{c.id.String(), c.code})
	}
	return records
}

func writeCSV(fsys afero.Fs, path string, delimiter rune, records [][]string) error {
	file, err := fsys.Create(path)
	if err != nil {
		return apperrors.FileError(apperrors.CodeFileWrite, path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if delimiter != 0 {
		w.Comma = delimiter
	}
	if err := w.WriteAll(records); err != nil {
		return apperrors.FileError(apperrors.CodeFileWrite, path, err)
	}
	return nil
}
