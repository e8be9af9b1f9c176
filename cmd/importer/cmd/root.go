package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"statement-import-service/internal/config"
	"statement-import-service/pkg/logger"
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
	Use:   "importer",
	Short: "Bank statement import service",
	Long: `Importer runs the statement import pipeline: a two-phase upload flow
that analyzes a CSV statement against the account ledger, waits for the
user's confirmation and then commits the new transactions.

Examples:
  importer serve --config importer.yaml
  importer analyze --file jan.csv --existing ledger.csv --account acct-1
  importer version`,
	Version:       getVersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig points flag-bound keys at the service's environment prefix
func initConfig() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()

	if cfgFile != "" && viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", cfgFile)
	}
}

// loadServiceConfig reads the service configuration from --config and the
// IMPORTER_* environment. --verbose forces debug logging.
func loadServiceConfig() (*config.Config, error) {
	cfg, err := config.Load(config.New(), cfgFile)
	if err != nil {
		return nil, err
	}
	if viper.GetBool("verbose") {
		cfg.Log.Level = logger.DebugLevel
	}
	return cfg, nil
}

// setupLogger builds the process logger and installs it globally
func setupLogger(cfg *logger.Config) (logger.Logger, error) {
	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	logger.SetGlobalLogger(log)
	return log, nil
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
