package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bank-statement-classifier/cmd/classifier/config"
	"bank-statement-classifier/pkg/logger"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "classifier",
	Short: "Bank statement classification tool",
	Long: `Classifier resolves the counteragent, project, financial code and payment
of bank statement rows. Rows are matched by tax ID, then by parsing rules,
then by payment identifiers found in free-text fields, and every amount is
normalized into its nominal currency through GEL rates.

Data is read from CSV/YAML files in a run directory or from PostgreSQL.

Examples:
  classifier classify --dir ./run-2024-01
  classifier classify --source postgres --start-date 2024-01-01 --output-format json
  classifier rules check --rules-file rules.yaml
  classifier convert --amount 270 --from GEL --to USD --date 2024-01-15
  classifier schedule --source postgres --cron "0 */15 * * * *"`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, config.KeyVerbose, "v", false, "verbose output")

	viper.BindPFlag(config.KeyVerbose, rootCmd.PersistentFlags().Lookup(config.KeyVerbose))
}

// initConfig reads .env, the config file and CLASSIFIER_ environment variables.
func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error reading .env file: %s\n", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(4)
		}
	}

	viper.SetEnvPrefix("CLASSIFIER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// setupLogging installs the global logger before any command runs.
func setupLogging(cmd *cobra.Command, args []string) error {
	logConfig, err := config.LoggerConfig(viper.GetViper())
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(logConfig)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger.SetGlobalLogger(log)

	if used := viper.ConfigFileUsed(); used != "" {
		log.WithField("config_file", used).Debug("Using config file")
	}
	return nil
}

// bindFlags binds the flags of the running command to viper. Binding at run
// time lets several commands share a key such as output-format.
func bindFlags(cmd *cobra.Command, args []string) error {
	return viper.BindPFlags(cmd.Flags())
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
