package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dwflow/internal/config"
	"dwflow/internal/observability"
	"dwflow/pkg/models"
)

var (
	cfgFile string
	verbose bool

	rootCmd = &cobra.Command{
		Use:   "dwflow",
		Short: "Load the e-commerce data warehouse from OLTP",
		Long: "dwflow runs the batch ETL pipeline that rebuilds the e-commerce star\n" +
			"schema: it truncates and reloads the dimension tables, loads the fact\n" +
			"tables against a fresh surrogate-key snapshot, audits every step in\n" +
			"etl_logs and reconciles the loaded revenue against the source.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				observability.Default().SetLevel(observability.DebugLevel)
			}
		},
	}
)

// Execute runs the root command; load failures exit non-zero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.dwflow/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func initConfig() {
	if cfgFile != "" {
		os.Setenv("DWFLOW_CONFIG", cfgFile)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home + "/.dwflow")
	}
	viper.SetEnvPrefix("DWFLOW")
	viper.AutomaticEnv()

	// A missing config file is fine; commands validate what they need.
	viper.ReadInConfig()
}

// loadValidatedConfig loads the config file and rejects incomplete
// connection settings before any command touches a database.
func loadValidatedConfig() (*models.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
