package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bank-statement-classifier/cmd/classifier/config"
	apperrors "bank-statement-classifier/pkg/errors"
	"bank-statement-classifier/pkg/logger"
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Generate a synthetic run directory",
	Long: `Sample writes statement rows and reference tables that exercise every
classification path: tax ID matches, payment identifiers in free text,
parsing rules, foreign account currencies, unknown tax IDs and locked rows.
The output is a valid input for 'classifier classify --dir'.

Examples:
  classifier sample --dir ./demo
  classifier sample --dir ./demo --rows 10000 --seed 7 --start-date 2024-03-01 --end-date 2024-03-31`,
	PreRunE: bindFlags,
	RunE:    runSample,
}

func init() {
	rootCmd.AddCommand(sampleCmd)

	f := sampleCmd.Flags()
	f.StringP(config.KeyDir, "d", ".", "directory to write the run files into")
	f.Int(config.KeyRows, 500, "number of statement rows")
	f.Int(config.KeyCounteragents, 25, "number of counteragents")
	f.Int(config.KeyPayments, 40, "number of payments")
	f.Int(config.KeyLockEvery, 17, "mark every n-th row as parsing-locked (0 disables)")
	f.Int64(config.KeySeed, 1, "random seed")
	f.String(config.KeyStartDate, "", "first transaction date (YYYY-MM-DD)")
	f.String(config.KeyEndDate, "", "last transaction date (YYYY-MM-DD)")
}

func runSample(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()

	g, err := config.SampleGenerator(v)
	if err != nil {
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "sample", nil, err)
	}
	srcConfig, err := config.SourceConfig(v)
	if err != nil {
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "files", nil, err)
	}

	summary, err := g.Generate(afero.NewOsFs(), srcConfig)
	if err != nil {
		return err
	}

	logger.GetGlobalLogger().WithComponent("cli").WithFields(logger.Fields{
		"dir":  srcConfig.Dir,
		"seed": g.Seed,
	}).Debug("Sample data generated")

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d rows (%d locked), %d counteragents, %d payments, %d rules and %d rate dates to %s\n",
		summary.Rows, summary.Locked, summary.Counteragents, summary.Payments, summary.Rules, summary.RateDates, srcConfig.Dir)
	return nil
}
