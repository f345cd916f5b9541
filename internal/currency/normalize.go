// Package currency converts account-currency amounts into a nominal currency
// through the GEL pivot.
//
// Rates are quoted as GEL per one unit of a currency, so GEL always has rate
// 1. Converting from currency A to currency N goes through GEL:
//
//	nominal = amount * rate(A) / rate(N)
//
// The converted amount is computed from the table rates and rounded once to
// AmountPrecision places. The cross rate rate(N)/rate(A), rounded to
// RatePrecision places, is for display only.
package currency

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Pivot is the currency every rate is quoted against.
const Pivot = "GEL"

const (
	// RatePrecision is the number of decimal places kept on a derived rate
	RatePrecision int32 = 10
	// AmountPrecision is the number of decimal places kept on a converted amount
	AmountPrecision int32 = 2
)

// ErrRateNotFound is returned when the rate table has no usable rate for a
// currency on the requested date. No nearby date is tried.
var ErrRateNotFound = errors.New("exchange rate not found")

// RateError describes which rate was missing.
type RateError struct {
	Currency string
	Date     time.Time
}

func (e *RateError) Error() string {
	return fmt.Sprintf("%s: %s on %s", ErrRateNotFound, e.Currency, e.Date.Format("2006-01-02"))
}

// Is makes errors.Is(err, ErrRateNotFound) hold for every RateError.
func (e *RateError) Is(target error) bool {
	return target == ErrRateNotFound
}

// Normalize converts amount from the account currency into the nominal
// currency using the rates of date. Equal currencies return the amount
// unchanged without consulting the table.
func Normalize(amount decimal.Decimal, account, nominal string, date time.Time, rates *RateTable) (decimal.Decimal, error) {
	account = normalizeCode(account)
	nominal = normalizeCode(nominal)

	if account == nominal {
		return amount, nil
	}

	accountRate, nominalRate, err := pairRates(account, nominal, date, rates)
	if err != nil {
		return decimal.Zero, err
	}

	return amount.Mul(accountRate).DivRound(nominalRate, AmountPrecision), nil
}

// CrossRate returns how many units of account currency one unit of nominal
// currency costs on date, rounded to RatePrecision.
func CrossRate(account, nominal string, date time.Time, rates *RateTable) (decimal.Decimal, error) {
	account = normalizeCode(account)
	nominal = normalizeCode(nominal)

	if account == nominal {
		return decimal.NewFromInt(1), nil
	}

	accountRate, nominalRate, err := pairRates(account, nominal, date, rates)
	if err != nil {
		return decimal.Zero, err
	}

	return nominalRate.DivRound(accountRate, RatePrecision), nil
}

func pairRates(account, nominal string, date time.Time, rates *RateTable) (decimal.Decimal, decimal.Decimal, error) {
	accountRate, err := rates.Rate(account, date)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	nominalRate, err := rates.Rate(nominal, date)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return accountRate, nominalRate, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
