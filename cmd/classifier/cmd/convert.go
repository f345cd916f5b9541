package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bank-statement-classifier/cmd/classifier/config"
	"bank-statement-classifier/internal/currency"
	"bank-statement-classifier/internal/models"
	"bank-statement-classifier/internal/parsers"
	"bank-statement-classifier/internal/storage/postgres"
	apperrors "bank-statement-classifier/pkg/errors"
)

const (
	keyAmount    = "amount"
	keyFrom      = "from"
	keyTo        = "to"
	keyDate      = "date"
	keyRatesFile = "rates-file"
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert an amount into a nominal currency through GEL rates",
	Long: `Convert computes the nominal amount of a single account amount the way a
classification run does: the cross rate rate(to)/rate(from) of the given date
is rounded to 10 places and the amount divided by it is rounded to 2 places.
Only the rates of the exact date are used.

Examples:
  classifier convert --amount 270 --from GEL --to USD --date 2024-01-15
  classifier convert --amount 100 --from EUR --to USD --date 2024-01-15 --rates-file rates.csv`,
	PreRunE: bindFlags,
	RunE:    runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().String(keyAmount, "", "amount in the account currency (required)")
	convertCmd.Flags().String(keyFrom, "", "account currency code (required)")
	convertCmd.Flags().String(keyTo, "", "nominal currency code (required)")
	convertCmd.Flags().String(keyDate, "", "rate date YYYY-MM-DD (required)")
	convertCmd.Flags().String(keyRatesFile, "rates.csv", "rate CSV file for --source file")
	convertCmd.Flags().String(config.KeySource, string(config.SourceFile), "rate source: file, postgres")
	convertCmd.Flags().String(config.KeyDatabaseURL, "", "PostgreSQL connection URL (or CLASSIFIER_DATABASE_URL)")

	for _, name := range []string{keyAmount, keyFrom, keyTo, keyDate} {
		convertCmd.MarkFlagRequired(name)
	}
}

// conversion is one requested conversion
type conversion struct {
	Amount  decimal.Decimal
	From    string
	To      string
	Date    time.Time
	Rate    decimal.Decimal
	Nominal decimal.Decimal
}

func (c conversion) String() string {
	return fmt.Sprintf("%s %s = %s %s on %s (cross rate %s)",
		c.Amount.StringFixed(currency.AmountPrecision), c.From,
		c.Nominal.StringFixed(currency.AmountPrecision), c.To,
		c.Date.Format(config.DateLayout), c.Rate.StringFixed(currency.RatePrecision))
}

func runConvert(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()

	amount, err := models.ParseDecimalFromString(v.GetString(keyAmount))
	if err != nil {
		return apperrors.ValidationError(apperrors.CodeInvalidAmount, keyAmount, v.GetString(keyAmount), err)
	}
	date, err := config.ParseDate(v.GetString(keyDate))
	if err != nil || date == nil {
		return apperrors.ValidationError(apperrors.CodeInvalidDate, keyDate, v.GetString(keyDate), err)
	}

	rows, err := loadRates(cmd.Context(), v)
	if err != nil {
		return err
	}

	c, err := convert(currency.NewRateTable(rows), amount, v.GetString(keyFrom), v.GetString(keyTo), *date)
	if err != nil {
		return err
	}
	return printConversion(cmd.OutOrStdout(), c)
}

// convert normalizes one amount against rates.
func convert(rates *currency.RateTable, amount decimal.Decimal, from, to string, date time.Time) (conversion, error) {
	c := conversion{Amount: amount, From: from, To: to, Date: date}

	rate, err := currency.CrossRate(from, to, date, rates)
	if err != nil {
		return c, rateError(err, date)
	}
	nominal, err := currency.Normalize(amount, from, to, date, rates)
	if err != nil {
		return c, rateError(err, date)
	}

	c.Rate, c.Nominal = rate, nominal
	return c, nil
}

func rateError(err error, date time.Time) error {
	if errors.Is(err, currency.ErrRateNotFound) {
		return apperrors.ReferenceError(apperrors.CodeMissingReference, "exchange rates", date.Format(config.DateLayout), err).
			WithSuggestion("load the rates of that date; nearby dates are not used")
	}
	return err
}

func printConversion(w io.Writer, c conversion) error {
	_, err := fmt.Fprintln(w, c.String())
	return err
}

// loadRates reads the exchange-rate rows of the selected source.
func loadRates(ctx context.Context, v *viper.Viper) ([]*models.ExchangeRateRow, error) {
	source, err := config.SourceFrom(v)
	if err != nil {
		return nil, err
	}

	if source == config.SourcePostgres {
		pgConfig, err := config.PostgresConfig(v)
		if err != nil {
			return nil, err
		}
		pool, err := postgres.Connect(ctx, pgConfig)
		if err != nil {
			return nil, err
		}
		defer pool.Close()
		return postgres.NewLoader(pool, pgConfig).LoadRates(ctx)
	}

	loader, err := parsers.NewFileReferenceLoader(afero.NewOsFs(), nil)
	if err != nil {
		return nil, err
	}
	return loader.LoadRates(v.GetString(keyRatesFile))
}
