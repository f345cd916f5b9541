package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Canonical (lower-case) column names of a raw bank-statement row.
const (
	ColumnDocKey               = "dockey"
	ColumnEntriesID            = "entriesid"
	ColumnSenderINN            = "docsenderinn"
	ColumnBeneficiaryINN       = "docbenefinn"
	ColumnSenderAccount        = "docsenderacctno"
	ColumnBeneficiaryAccount   = "docbenefacctno"
	ColumnCorrespondentAccount = "doccoracct"
	ColumnProductGroup         = "docprodgroup"
	ColumnNomination           = "docnomination"
	ColumnInformation          = "docinformation"
	ColumnComment              = "doccomment"
	ColumnDebit                = "entrydbamt"
	ColumnCredit               = "entrycramt"
	ColumnAccountAmount        = "account_currency_amount"
	ColumnAccountCurrency      = "account_currency_code"
	ColumnTransactionDate      = "transaction_date"
	ColumnParsingLock          = "parsing_lock"
)

// DefaultFreeTextColumns lists the free-text columns in the order they are
// scanned for embedded payment identifiers.
var DefaultFreeTextColumns = []string{
	ColumnNomination,
	ColumnInformation,
	ColumnComment,
}

// Direction of a bank-statement row relative to the company account.
type Direction string

const (
	// DirectionIncoming is a row whose debit amount is blank; the
	// counterparty is the sender.
	DirectionIncoming Direction = "INCOMING"
	// DirectionOutgoing is a row with a debit amount; the counterparty is
	// the beneficiary.
	DirectionOutgoing Direction = "OUTGOING"
)

// String returns the string representation of Direction
func (d Direction) String() string {
	return string(d)
}

// RawRow is one bank-statement line.
type RawRow struct {
	Fields FieldMap
}

// NewRawRow builds a row from an arbitrary key/value record.
func NewRawRow(raw map[string]interface{}) *RawRow {
	return &RawRow{Fields: NewFieldMap(raw)}
}

// DocKey returns the document half of the natural key.
func (r *RawRow) DocKey() string {
	return r.Fields.String(ColumnDocKey)
}

// EntriesID returns the entry half of the natural key.
func (r *RawRow) EntriesID() string {
	return r.Fields.String(ColumnEntriesID)
}

// Key returns the composite natural key used in logs and reports.
func (r *RawRow) Key() string {
	return fmt.Sprintf("%s/%s", r.DocKey(), r.EntriesID())
}

// Direction is a pure function of whether the debit amount is populated.
func (r *RawRow) Direction() Direction {
	if r.Fields.IsBlank(ColumnDebit) {
		return DirectionIncoming
	}
	return DirectionOutgoing
}

// CounterpartyINN returns the raw tax identifier of the counterparty side
// selected by Direction.
func (r *RawRow) CounterpartyINN() string {
	if r.Direction() == DirectionIncoming {
		return r.Fields.String(ColumnSenderINN)
	}
	return r.Fields.String(ColumnBeneficiaryINN)
}

// ParsingLocked reports the persisted "do not reclassify" flag.
func (r *RawRow) ParsingLocked() bool {
	return r.Fields.Bool(ColumnParsingLock)
}

// AccountAmount returns the amount in account currency. When the explicit
// column is missing it falls back to credit minus debit.
func (r *RawRow) AccountAmount() decimal.Decimal {
	if amt, ok := r.Fields.Decimal(ColumnAccountAmount); ok {
		return amt
	}
	credit, _ := r.Fields.Decimal(ColumnCredit)
	debit, _ := r.Fields.Decimal(ColumnDebit)
	return credit.Sub(debit)
}

// AccountCurrency returns the ISO code of the account currency.
func (r *RawRow) AccountCurrency() string {
	return r.Fields.String(ColumnAccountCurrency)
}

// TransactionDate returns the transaction (value) date.
func (r *RawRow) TransactionDate() (time.Time, bool) {
	return r.Fields.Time(ColumnTransactionDate)
}
