package reconciler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bank-statement-classifier/internal/classifier"
	"bank-statement-classifier/internal/models"
	apperrors "bank-statement-classifier/pkg/errors"
)

var (
	alphaID = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	betaID  = uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000002")
	usdID   = uuid.MustParse("cccccccc-0000-0000-0000-000000000003")
	eurID   = uuid.MustParse("dddddddd-0000-0000-0000-000000000004")
	projID  = uuid.MustParse("eeeeeeee-0000-0000-0000-000000000005")
)

type staticLoader struct {
	ref *ReferenceData
	err error
}

func (l *staticLoader) LoadReference(context.Context) (*ReferenceData, error) {
	return l.ref, l.err
}

type sliceSource struct {
	rows []*models.RawRow
	err  error
}

func (s *sliceSource) NextBatch(_ context.Context, size int) ([]*models.RawRow, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.rows) == 0 {
		return nil, io.EOF
	}
	n := size
	if n > len(s.rows) {
		n = len(s.rows)
	}
	batch := s.rows[:n]
	s.rows = s.rows[n:]
	return batch, nil
}

type memorySink struct {
	mu      sync.Mutex
	records []*models.UpdateRecord
	failOn  int
	calls   int
}

func (m *memorySink) Write(_ context.Context, records []*models.UpdateRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failOn == m.calls {
		return 0, errors.New("connection reset")
	}
	m.records = append(m.records, records...)
	return len(records), nil
}

func testReference() *ReferenceData {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	return &ReferenceData{
		Counteragents: []*models.Counteragent{
			{ID: alphaID, INN: "01234567890"},
		},
		Rules: []*models.ParsingRule{
			{ID: 20, Condition: `EQ(DocProdGroup, "COM")`, Outcome: models.RuleOutcome{
				CounteragentID:    uuid.NullUUID{UUID: betaID, Valid: true},
				NominalCurrencyID: uuid.NullUUID{UUID: usdID, Valid: true},
			}},
			{ID: 10, Condition: `EQ(DocProdGroup, "COM"`},
			{ID: 30, Condition: `CONTAINS(DocNomination, "rent")`, Outcome: models.RuleOutcome{
				ProjectID: uuid.NullUUID{UUID: projID, Valid: true},
			}},
		},
		Payments: []*models.Payment{
			{PaymentID: "PAY-1", CounteragentID: uuid.NullUUID{UUID: alphaID, Valid: true}, CurrencyID: uuid.NullUUID{UUID: eurID, Valid: true}},
		},
		Rates: []*models.ExchangeRateRow{{
			Date: day,
			Rates: map[string]decimal.Decimal{
				"USD": decimal.RequireFromString("2.7"),
				"EUR": decimal.RequireFromString("3.0"),
			},
		}},
		CurrencyCodes: map[uuid.UUID]string{usdID: "USD", eurID: "EUR"},
	}
}

func testRows() []*models.RawRow {
	return []*models.RawRow{
		models.NewRawRow(map[string]interface{}{
			"DocKey": "D1", "EntriesId": "1",
			"DocProdGroup": "COM", "EntryCrAmt": "270",
			"account_currency_amount": "270", "account_currency_code": "GEL",
			"transaction_date": "2024-03-15",
		}),
		models.NewRawRow(map[string]interface{}{
			"DocKey": "D2", "EntriesId": "2",
			"DocSenderInn": "1234567890", "DocNomination": "payment id: pay-1",
			"account_currency_amount": "100", "account_currency_code": "USD",
			"transaction_date": "2024-03-15",
		}),
		models.NewRawRow(map[string]interface{}{
			"DocKey": "D3", "EntriesId": "3",
			"DocProdGroup": "COM", "account_currency_amount": "10",
			"account_currency_code": "GEL", "transaction_date": "2024-03-16",
		}),
		models.NewRawRow(map[string]interface{}{
			"DocKey": "D4", "EntriesId": "4",
			"DocProdGroup": "COM", "parsing_lock": "true",
		}),
		models.NewRawRow(map[string]interface{}{
			"DocKey": "D5", "EntriesId": "5",
			"DocNomination": "office rent", "account_currency_amount": "5",
			"account_currency_code": "GEL",
		}),
	}
}

func newTestService(t *testing.T, sink *memorySink, config *Config) *Service {
	t.Helper()
	if config == nil {
		config = DefaultConfig()
		config.BatchSize = 2
		config.Workers = 3
	}
	svc, err := NewService(&staticLoader{ref: testReference()}, &sliceSource{rows: testRows()}, sink, config, classifier.DefaultConfig())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func recordsByKey(records []*models.UpdateRecord) map[string]*models.UpdateRecord {
	out := make(map[string]*models.UpdateRecord, len(records))
	for _, r := range records {
		out[r.DocKey] = r
	}
	return out
}

func TestService_Run(t *testing.T) {
	sink := &memorySink{}
	svc := newTestService(t, sink, nil)

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	stats := result.Stats
	if stats.RowsRead != 5 {
		t.Errorf("RowsRead = %d, want 5", stats.RowsRead)
	}
	if stats.LockedSkipped != 1 {
		t.Errorf("LockedSkipped = %d, want 1", stats.LockedSkipped)
	}
	if stats.Rows != 4 || stats.RowsWritten != 4 {
		t.Errorf("Rows/RowsWritten = %d/%d, want 4/4", stats.Rows, stats.RowsWritten)
	}
	if stats.Batches != 3 {
		t.Errorf("Batches = %d, want 3", stats.Batches)
	}
	if stats.RulesLoaded != 3 || stats.RulesFailed != 1 {
		t.Errorf("RulesLoaded/RulesFailed = %d/%d, want 3/1", stats.RulesLoaded, stats.RulesFailed)
	}
	if len(result.CompileErrors) != 1 || result.CompileErrors[0].Context["rule_id"] != int64(10) {
		t.Errorf("CompileErrors = %v, want one for rule 10", result.CompileErrors)
	}
	if stats.RateMissing != 1 {
		t.Errorf("RateMissing = %d, want 1", stats.RateMissing)
	}

	records := recordsByKey(sink.records)
	if _, ok := records["D4"]; ok {
		t.Error("locked row D4 must not be written")
	}

	d1 := records["D1"]
	if d1.Result.AppliedRuleID == nil || *d1.Result.AppliedRuleID != 20 {
		t.Errorf("D1 AppliedRuleID = %v, want 20", d1.Result.AppliedRuleID)
	}
	if d1.NominalCurrency != "USD" || !d1.NominalAmount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("D1 nominal = %s %s, want USD 100", d1.NominalCurrency, d1.NominalAmount)
	}

	d2 := records["D2"]
	if !d2.Result.Cases.CounteragentProcessed || !d2.Result.Cases.PaymentIDMatch {
		t.Errorf("D2 cases = %+v, want case 1 and case 4", d2.Result.Cases)
	}
	if d2.NominalCurrency != "EUR" || !d2.NominalAmount.Equal(decimal.NewFromInt(90)) {
		t.Errorf("D2 nominal = %s %s, want EUR 90", d2.NominalCurrency, d2.NominalAmount)
	}
	if d2.ProcessingCase != "Case 1: counteragent identified by INN\nCase 4: payment ID matched" {
		t.Errorf("D2 ProcessingCase = %q", d2.ProcessingCase)
	}

	d3 := records["D3"]
	if !d3.RateMissing {
		t.Error("D3 has no rate for its date and should be flagged")
	}
	if d3.NominalCurrency != "USD" || !d3.NominalAmount.Equal(decimal.NewFromInt(10)) {
		t.Errorf("D3 nominal = %s %s, want unconverted USD 10", d3.NominalCurrency, d3.NominalAmount)
	}

	d5 := records["D5"]
	if d5.Result.ProjectID.UUID != projID || d5.NominalCurrency != "GEL" || d5.RateMissing {
		t.Errorf("D5 = %+v, want rule 30 project and GEL nominal", d5)
	}
}

func TestService_RunIsIdempotent(t *testing.T) {
	first := &memorySink{}
	second := &memorySink{}

	if _, err := newTestService(t, first, nil).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := newTestService(t, second, nil).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	a, b := recordsByKey(first.records), recordsByKey(second.records)
	for key, ra := range a {
		rb := b[key]
		if rb == nil || ra.ProcessingCase != rb.ProcessingCase || !ra.NominalAmount.Equal(rb.NominalAmount) ||
			ra.Result.CounteragentID != rb.Result.CounteragentID {
			t.Errorf("record %s differs between runs", key)
		}
	}
}

func TestService_WriteFailure(t *testing.T) {
	tests := []struct {
		name        string
		continueOn  bool
		wantWritten int64
		wantBatches int64
	}{
		{"continue", true, 2, 3},
		{"stop", false, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.BatchSize = 2
			config.ContinueOnWriteError = tt.continueOn

			sink := &memorySink{failOn: 1}
			result, err := newTestService(t, sink, config).Run(context.Background())
			if err == nil {
				t.Fatal("Run() expected a write error")
			}
			appErr, ok := apperrors.AsAppError(err)
			if !ok || appErr.Category != apperrors.CategoryStorage {
				t.Errorf("Run() error = %v, want storage error", err)
			}
			if result.Stats.RowsWritten != tt.wantWritten {
				t.Errorf("RowsWritten = %d, want %d", result.Stats.RowsWritten, tt.wantWritten)
			}
			if result.Stats.Batches != tt.wantBatches {
				t.Errorf("Batches = %d, want %d", result.Stats.Batches, tt.wantBatches)
			}
		})
	}
}

func TestService_LoaderAndSourceErrors(t *testing.T) {
	sink := &memorySink{}

	svc, _ := NewService(&staticLoader{err: errors.New("db down")}, &sliceSource{}, sink, nil, nil)
	if _, err := svc.Run(context.Background()); err == nil {
		t.Error("Run() expected loader error")
	}

	svc, _ = NewService(&staticLoader{ref: testReference()}, &sliceSource{err: errors.New("cursor closed")}, sink, nil, nil)
	_, err := svc.Run(context.Background())
	appErr, ok := apperrors.AsAppError(err)
	if !ok || appErr.Code != apperrors.CodeQueryFailed {
		t.Errorf("Run() error = %v, want query_failed", err)
	}
}

func TestService_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestService(t, &memorySink{}, nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestNewService_Validation(t *testing.T) {
	if _, err := NewService(nil, &sliceSource{}, &memorySink{}, nil, nil); err == nil {
		t.Error("NewService() with nil loader should fail")
	}

	bad := DefaultConfig()
	bad.Workers = 0
	if _, err := NewService(&staticLoader{}, &sliceSource{}, &memorySink{}, bad, nil); err == nil {
		t.Error("NewService() with zero workers should fail")
	}
}

func TestProcessRows_PreservesOrder(t *testing.T) {
	prepared, err := Prepare(testReference(), classifier.DefaultConfig())
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	svc := newTestService(t, &memorySink{}, nil)

	var rows []*models.RawRow
	for i := 0; i < 50; i++ {
		rows = append(rows, models.NewRawRow(map[string]interface{}{"dockey": uuid.NewString()}))
	}

	records, err := svc.ProcessRows(context.Background(), prepared.Processor, rows)
	if err != nil {
		t.Fatalf("ProcessRows() error = %v", err)
	}
	for i, r := range records {
		if r.DocKey != rows[i].DocKey() {
			t.Fatalf("records[%d].DocKey = %s, want %s", i, r.DocKey, rows[i].DocKey())
		}
	}
}

func TestRowFilter(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	f := rowFilter{start: &start, end: &end}

	tests := []struct {
		name string
		row  map[string]interface{}
		want SkipReason
	}{
		{"in window", map[string]interface{}{"transaction_date": "2024-01-15"}, SkipNone},
		{"before", map[string]interface{}{"transaction_date": "2023-12-31"}, SkipOutOfWindow},
		{"after", map[string]interface{}{"transaction_date": "01.02.2024"}, SkipOutOfWindow},
		{"no date", map[string]interface{}{}, SkipNone},
		{"locked", map[string]interface{}{"parsing_lock": true, "transaction_date": "2024-01-15"}, SkipLocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.check(models.NewRawRow(tt.row)); got != tt.want {
				t.Errorf("check() = %q, want %q", got, tt.want)
			}
		})
	}
}
