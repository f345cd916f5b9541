package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bank-statement-classifier/cmd/classifier/config"
	"bank-statement-classifier/internal/models"
	"bank-statement-classifier/internal/parsers"
	"bank-statement-classifier/internal/reconciler"
	"bank-statement-classifier/internal/storage/postgres"
	apperrors "bank-statement-classifier/pkg/errors"
)

const keyRulesFile = "rules-file"

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect parsing rules",
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Compile every parsing rule and report the ones that fail",
	Long: `Check compiles the condition of every parsing rule without classifying any
row. A rule whose condition does not compile never matches during a run; this
command lists such rules and exits with a non-zero status.

Examples:
  classifier rules check --rules-file rules.yaml
  classifier rules check --source postgres`,
	PreRunE: bindFlags,
	RunE:    runRulesCheck,
}

var rulesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the parsing rules of the database to a YAML rule file",
	Long: `Export reads the parsing rule table and writes it in the rules.yaml format
used by file runs.

Example:
  classifier rules export --source postgres -o rules.yaml`,
	PreRunE: bindFlags,
	RunE:    runRulesExport,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesCheckCmd, rulesExportCmd)

	for _, c := range []*cobra.Command{rulesCheckCmd, rulesExportCmd} {
		c.Flags().String(config.KeySource, string(config.SourceFile), "rule source: file, postgres")
		c.Flags().String(config.KeyDatabaseURL, "", "PostgreSQL connection URL (or CLASSIFIER_DATABASE_URL)")
		c.Flags().String(keyRulesFile, "rules.yaml", "YAML rule file for --source file")
	}
	rulesExportCmd.Flags().StringP(config.KeyOutputFile, "o", "", "output file (default: stdout)")
}

// loadRules reads the rules of the selected source.
func loadRules(ctx context.Context, v *viper.Viper) ([]*models.ParsingRule, error) {
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
		return postgres.NewLoader(pool, pgConfig).LoadRules(ctx)
	}

	return parsers.LoadRules(afero.NewOsFs(), v.GetString(keyRulesFile))
}

func runRulesCheck(cmd *cobra.Command, args []string) error {
	rules, err := loadRules(cmd.Context(), viper.GetViper())
	if err != nil {
		return err
	}
	return checkRules(rules, cmd.OutOrStdout())
}

// checkRules compiles rules and prints one line per failing rule. It returns
// the first compile error when any rule fails.
func checkRules(rules []*models.ParsingRule, w io.Writer) error {
	prepared, err := reconciler.Prepare(&reconciler.ReferenceData{Rules: rules}, nil)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Checked %d rules: %d compiled, %d failed\n",
		len(rules), len(rules)-len(prepared.CompileErrors), len(prepared.CompileErrors))

	for _, ce := range prepared.CompileErrors {
		fmt.Fprintf(w, "  rule #%v: %v\n", ce.Context["rule_id"], ce.Cause)
		if condition, ok := ce.Context["condition"].(string); ok && condition != "" {
			fmt.Fprintf(w, "    condition: %s\n", condition)
		}
	}

	if len(prepared.CompileErrors) > 0 {
		first := prepared.CompileErrors[0]
		return apperrors.New(apperrors.CategoryCompile, apperrors.CodeInvalidCondition,
			fmt.Sprintf("%d parsing rules do not compile", len(prepared.CompileErrors))).
			WithContext("first_rule_id", first.Context["rule_id"]).
			WithSuggestion("fix the listed conditions; failing rules never match")
	}
	return nil
}

func runRulesExport(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	rules, err := loadRules(cmd.Context(), v)
	if err != nil {
		return err
	}

	path := v.GetString(config.KeyOutputFile)
	if path == "" {
		return parsers.WriteRules(cmd.OutOrStdout(), rules)
	}

	fsys := afero.NewOsFs()
	file, err := fsys.Create(path)
	if err != nil {
		return apperrors.FileError(apperrors.CodeFileWrite, path, err)
	}
	defer file.Close()

	if err := parsers.WriteRules(file, rules); err != nil {
		return apperrors.FileError(apperrors.CodeFileWrite, path, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d rules to %s\n", len(rules), path)
	return nil
}
