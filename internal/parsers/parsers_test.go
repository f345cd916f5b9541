package parsers

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"

	"bank-statement-classifier/internal/models"
	apperrors "bank-statement-classifier/pkg/errors"
)

const (
	counteragentA = "11111111-1111-1111-1111-111111111111"
	counteragentB = "22222222-2222-2222-2222-222222222222"
	currencyUSD   = "aaaaaaaa-0000-0000-0000-000000000001"
	currencyEUR   = "aaaaaaaa-0000-0000-0000-000000000002"
)

func writeFile(t *testing.T, fsys afero.Fs, path, content string) {
	t.Helper()
	if err := afero.WriteFile(fsys, path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}

func runDir(t *testing.T) (afero.Fs, *SourceConfig) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	config := DefaultSourceConfig()
	config.Dir = "/run"

	writeFile(t, fsys, "/run/counteragents.csv", "id,inn,name\n"+
		counteragentA+",0123456789,Alpha LLC\n"+
		counteragentB+",01234567890,Beta LLC\n")
	writeFile(t, fsys, "/run/rules.yaml", `rules:
  - id: 2
    condition: EQ(docprodgroup, "COM")
    financial_code_id: 33333333-3333-3333-3333-333333333333
  - id: 1
    condition: CONTAINS(docnomination, "rent")
    counteragent_id: `+counteragentA+`
`)
	writeFile(t, fsys, "/run/payments.csv", "payment_id,counteragent_id,project_id,financial_code_id,currency_id\n"+
		"PAY-0001,"+counteragentB+",,,"+currencyUSD+"\n"+
		",,,,\n")
	writeFile(t, fsys, "/run/rates.csv", "date,USD,EUR\n"+
		"2024-01-15,2.7,3.0\n"+
		"2024-01-16,2.68,\n")
	writeFile(t, fsys, "/run/currencies.csv", "id,code\n"+
		currencyUSD+",usd\n"+
		currencyEUR+",EUR\n")
	return fsys, config
}

func TestParseConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *ParseConfig)
		wantErr bool
	}{
		{"default", func(c *ParseConfig) {}, false},
		{"semicolon", func(c *ParseConfig) { c.Delimiter = ';' }, false},
		{"no header", func(c *ParseConfig) { c.HasHeader = false }, true},
		{"quote delimiter", func(c *ParseConfig) { c.Delimiter = '"' }, true},
		{"comment equals delimiter", func(c *ParseConfig) { c.Comment = ',' }, true},
		{"negative field size", func(c *ParseConfig) { c.MaxFieldSize = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultParseConfig()
			tt.modify(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSourceConfig(t *testing.T) {
	c := DefaultSourceConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("DefaultSourceConfig().Validate() error = %v", err)
	}

	c.Dir = "/data"
	if got := c.Path("rows.csv"); got != "/data/rows.csv" {
		t.Errorf("Path() = %q, want %q", got, "/data/rows.csv")
	}
	if got := c.Path("/abs/rows.csv"); got != "/abs/rows.csv" {
		t.Errorf("Path() = %q, want %q", got, "/abs/rows.csv")
	}
	if got := c.Path(""); got != "" {
		t.Errorf("Path() = %q, want empty", got)
	}

	bad := DefaultSourceConfig()
	bad.RulesFile = "rules.json"
	if err := bad.Validate(); err == nil {
		t.Error("Validate() should reject a non-YAML rules file")
	}

	bad = DefaultSourceConfig()
	bad.RowsFile = " "
	if err := bad.Validate(); err == nil {
		t.Error("Validate() should reject an empty rows file")
	}
}

func TestCSVRowSource_NextBatch(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/rows.csv", "DocKey,EntriesId,DocSenderInn,EntryDbAmt,DocNomination\n"+
		"D1,E1,0123456789,,rent for january\n"+
		",,,,\n"+
		"D2,E2,,150.00,\"fee, monthly\"\n"+
		"D3,E3,01234567890,,\n")

	src := NewCSVRowSource(fsys, "/rows.csv", nil)
	ctx := context.Background()

	first, err := src.NextBatch(ctx, 2)
	if err != nil {
		t.Fatalf("NextBatch() error = %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("NextBatch() returned %d rows, want 2", len(first))
	}
	if got := first[0].DocKey(); got != "D1" {
		t.Errorf("DocKey() = %q, want %q", got, "D1")
	}
	if got := first[0].Direction(); got != models.DirectionIncoming {
		t.Errorf("Direction() = %v, want %v", got, models.DirectionIncoming)
	}
	if got := first[1].Direction(); got != models.DirectionOutgoing {
		t.Errorf("Direction() = %v, want %v", got, models.DirectionOutgoing)
	}
	if got := first[1].Fields.String(models.ColumnNomination); got != "fee, monthly" {
		t.Errorf("docnomination = %q, want %q", got, "fee, monthly")
	}
	if _, ok := first[1].Fields.Get(models.ColumnSenderINN); ok {
		t.Error("empty cell should read as null")
	}

	second, err := src.NextBatch(ctx, 2)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("NextBatch() error = %v, want io.EOF", err)
	}
	if len(second) != 1 || second[0].EntriesID() != "E3" {
		t.Fatalf("NextBatch() = %v, want the single row E3", second)
	}

	third, err := src.NextBatch(ctx, 2)
	if !errors.Is(err, io.EOF) || len(third) != 0 {
		t.Errorf("NextBatch() after end = (%v, %v), want (empty, io.EOF)", third, err)
	}
	if got := src.RowsRead(); got != 3 {
		t.Errorf("RowsRead() = %d, want 3", got)
	}
	if err := src.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestCSVRowSource_Errors(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/nokey.csv", "docnomination\nrent\n")
	writeFile(t, fsys, "/empty.csv", "")

	tests := []struct {
		name     string
		path     string
		wantCode apperrors.ErrorCode
		wantEOF  bool
	}{
		{"missing file", "/absent.csv", apperrors.CodeFileNotFound, false},
		{"missing key columns", "/nokey.csv", apperrors.CodeMissingColumn, false},
		{"empty file", "/empty.csv", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := NewCSVRowSource(fsys, tt.path, nil).NextBatch(context.Background(), 10)
			if tt.wantEOF {
				if !errors.Is(err, io.EOF) || len(rows) != 0 {
					t.Errorf("NextBatch() = (%v, %v), want (empty, io.EOF)", rows, err)
				}
				return
			}
			appErr, ok := apperrors.AsAppError(err)
			if !ok {
				t.Fatalf("NextBatch() error = %v, want AppError", err)
			}
			if appErr.Code != tt.wantCode {
				t.Errorf("Code = %v, want %v", appErr.Code, tt.wantCode)
			}
		})
	}
}

func TestCSVRowSource_Cancelled(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/rows.csv", "dockey,entriesid\nD1,E1\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCSVRowSource(fsys, "/rows.csv", nil).NextBatch(ctx, 10)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("NextBatch() error = %v, want context.Canceled", err)
	}
}

func TestCSVRowSource_InvalidEncoding(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/rows.csv", "dockey,entriesid\nD1,\xff\xfe\n")

	_, err := NewCSVRowSource(fsys, "/rows.csv", nil).NextBatch(context.Background(), 10)
	appErr, ok := apperrors.AsAppError(err)
	if !ok || appErr.Category != apperrors.CategoryParse {
		t.Errorf("NextBatch() error = %v, want parse error", err)
	}
}

func TestDecodeRules(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantLen  int
		wantCode apperrors.ErrorCode
	}{
		{
			name: "valid",
			input: `rules:
  - id: 5
    condition: ISBLANK(docsenderinn)
    nominal_currency_id: ` + currencyUSD + `
    payment_id: PAY-9
`,
			wantLen: 1,
		},
		{
			name:    "empty document",
			input:   "",
			wantLen: 0,
		},
		{
			name: "duplicate id",
			input: `rules:
  - id: 1
    condition: TRUE
  - id: 1
    condition: FALSE
`,
			wantCode: apperrors.CodeDuplicateKey,
		},
		{
			name: "bad uuid",
			input: `rules:
  - id: 1
    condition: TRUE
    counteragent_id: not-a-uuid
`,
			wantCode: apperrors.CodeInvalidData,
		},
		{
			name: "unknown field",
			input: `rules:
  - id: 1
    conditon: TRUE
`,
			wantCode: apperrors.CodeInvalidFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := DecodeRules(strings.NewReader(tt.input), "rules.yaml")
			if tt.wantCode != "" {
				appErr, ok := apperrors.AsAppError(err)
				if !ok {
					t.Fatalf("DecodeRules() error = %v, want AppError", err)
				}
				if appErr.Code != tt.wantCode {
					t.Errorf("Code = %v, want %v", appErr.Code, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeRules() error = %v", err)
			}
			if len(rules) != tt.wantLen {
				t.Errorf("DecodeRules() returned %d rules, want %d", len(rules), tt.wantLen)
			}
		})
	}
}

func TestWriteRules(t *testing.T) {
	in := []*models.ParsingRule{{
		ID:        7,
		Condition: `OR(EQ(docprodgroup, "SAL"), STARTS_WITH(docnomination, "salary"))`,
		Outcome: models.RuleOutcome{
			CounteragentID: uuid.NullUUID{UUID: uuid.MustParse(counteragentA), Valid: true},
			PaymentID:      "SAL-2024",
		},
	}}

	var buf bytes.Buffer
	if err := WriteRules(&buf, in); err != nil {
		t.Fatalf("WriteRules() error = %v", err)
	}
	if strings.Contains(buf.String(), "project_id") {
		t.Errorf("WriteRules() should omit unset outcome fields:\n%s", buf.String())
	}

	out, err := DecodeRules(&buf, "buffer")
	if err != nil {
		t.Fatalf("DecodeRules() error = %v", err)
	}
	if len(out) != 1 || out[0].Condition != in[0].Condition || out[0].Outcome != in[0].Outcome {
		t.Errorf("DecodeRules(WriteRules()) = %+v, want %+v", out[0], in[0])
	}
}

func TestFileReferenceLoader_LoadReference(t *testing.T) {
	fsys, config := runDir(t)

	loader, err := NewFileReferenceLoader(fsys, config)
	if err != nil {
		t.Fatalf("NewFileReferenceLoader() error = %v", err)
	}

	ref, err := loader.LoadReference(context.Background())
	if err != nil {
		t.Fatalf("LoadReference() error = %v", err)
	}

	if len(ref.Counteragents) != 2 {
		t.Errorf("Counteragents = %d, want 2", len(ref.Counteragents))
	}
	if ref.Counteragents[1].Name != "Beta LLC" {
		t.Errorf("Counteragents[1].Name = %q, want %q", ref.Counteragents[1].Name, "Beta LLC")
	}

	if len(ref.Rules) != 2 {
		t.Fatalf("Rules = %d, want 2", len(ref.Rules))
	}
	if ref.Rules[0].ID != 2 {
		t.Errorf("Rules keep file order: Rules[0].ID = %d, want 2", ref.Rules[0].ID)
	}
	if !ref.Rules[1].Outcome.CounteragentID.Valid {
		t.Error("Rules[1] should carry a counteragent")
	}

	if len(ref.Payments) != 1 || ref.Payments[0].PaymentID != "PAY-0001" {
		t.Errorf("Payments = %v, want [PAY-0001]", ref.Payments)
	}
	if ref.Payments[0].ProjectID.Valid {
		t.Error("blank project_id should be null")
	}
	if len(ref.SalaryBase) != 0 || len(ref.SalaryLatest) != 0 {
		t.Error("missing salary files should load as empty tables")
	}

	if len(ref.Rates) != 2 {
		t.Fatalf("Rates = %d, want 2", len(ref.Rates))
	}
	usd, ok := ref.Rates[0].Rate("USD")
	if !ok || !usd.Equal(decimal.RequireFromString("2.7")) {
		t.Errorf("Rate(USD) = %v, %v, want 2.7", usd, ok)
	}
	if _, ok := ref.Rates[1].Rate("EUR"); ok {
		t.Error("blank rate cell should mean no rate")
	}
	wantDate := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	if !ref.Rates[1].Date.Equal(wantDate) {
		t.Errorf("Rates[1].Date = %v, want %v", ref.Rates[1].Date, wantDate)
	}

	if got := ref.CurrencyCodes[uuid.MustParse(currencyUSD)]; got != "USD" {
		t.Errorf("CurrencyCodes[USD] = %q, want %q", got, "USD")
	}
}

func TestFileReferenceLoader_Errors(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, fsys afero.Fs)
		wantCode apperrors.ErrorCode
	}{
		{
			name:     "missing counteragents",
			setup:    func(t *testing.T, fsys afero.Fs) { fsys.Remove("/run/counteragents.csv") },
			wantCode: apperrors.CodeFileNotFound,
		},
		{
			name:     "missing rules",
			setup:    func(t *testing.T, fsys afero.Fs) { fsys.Remove("/run/rules.yaml") },
			wantCode: apperrors.CodeFileNotFound,
		},
		{
			name: "bad counteragent id",
			setup: func(t *testing.T, fsys afero.Fs) {
				writeFile(t, fsys, "/run/counteragents.csv", "id,inn\nnope,123\n")
			},
			wantCode: apperrors.CodeInvalidData,
		},
		{
			name: "negative rate",
			setup: func(t *testing.T, fsys afero.Fs) {
				writeFile(t, fsys, "/run/rates.csv", "date,USD\n2024-01-15,-2.7\n")
			},
			wantCode: apperrors.CodeInvalidData,
		},
		{
			name: "rates without date column",
			setup: func(t *testing.T, fsys afero.Fs) {
				writeFile(t, fsys, "/run/rates.csv", "day,USD\n2024-01-15,2.7\n")
			},
			wantCode: apperrors.CodeMissingColumn,
		},
		{
			name: "duplicate currency",
			setup: func(t *testing.T, fsys afero.Fs) {
				writeFile(t, fsys, "/run/currencies.csv", "id,code\n"+currencyUSD+",USD\n"+currencyUSD+",USD\n")
			},
			wantCode: apperrors.CodeDuplicateKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys, config := runDir(t)
			tt.setup(t, fsys)

			loader, err := NewFileReferenceLoader(fsys, config)
			if err != nil {
				t.Fatalf("NewFileReferenceLoader() error = %v", err)
			}
			_, err = loader.LoadReference(context.Background())
			appErr, ok := apperrors.AsAppError(err)
			if !ok {
				t.Fatalf("LoadReference() error = %v, want AppError", err)
			}
			if appErr.Code != tt.wantCode {
				t.Errorf("Code = %v, want %v", appErr.Code, tt.wantCode)
			}
		})
	}
}

func TestCSVResultSink(t *testing.T) {
	fsys := afero.NewMemMapFs()
	sink, err := NewCSVResultSink(fsys, "/out/results.csv")
	if err != nil {
		t.Fatalf("NewCSVResultSink() error = %v", err)
	}

	ruleID := int64(4)
	records := []*models.UpdateRecord{
		{
			DocKey:    "D1",
			EntriesID: "E1",
			Result: &models.ClassificationResult{
				CounteragentID: uuid.NullUUID{UUID: uuid.MustParse(counteragentA), Valid: true},
				AppliedRuleID:  &ruleID,
			},
			ProcessingCase:  "Case 1: counteragent identified by INN\nCase 6: parsing rule #4 applied",
			AccountCurrency: "GEL",
			AccountAmount:   decimal.RequireFromString("270"),
			NominalCurrency: "USD",
			NominalAmount:   decimal.RequireFromString("100"),
		},
		nil,
		{DocKey: "D2", EntriesID: "E2", AccountCurrency: "GEL", NominalCurrency: "USD", RateMissing: true},
	}

	n, err := sink.Write(context.Background(), records)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Write() = %d, want 2", n)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := afero.ReadFile(fsys, "/out/results.csv")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("output has %d rows, want 3", len(rows))
	}
	if len(rows[0]) != len(ResultColumns) {
		t.Errorf("header has %d columns, want %d", len(rows[0]), len(ResultColumns))
	}

	first := rows[1]
	if first[4] != "4" {
		t.Errorf("applied_rule_id = %q, want %q", first[4], "4")
	}
	if !strings.Contains(first[9], "\nCase 6") {
		t.Errorf("processing_case = %q, want multi-line case", first[9])
	}
	if first[13] != "100.00" {
		t.Errorf("nominal_amount = %q, want %q", first[13], "100.00")
	}
	if rows[2][14] != "true" {
		t.Errorf("rate_missing = %q, want %q", rows[2][14], "true")
	}
}
