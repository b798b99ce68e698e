package cmd

import (
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"dwflow/internal/config"
	"dwflow/pkg/models"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive configuration setup",
	Run:   runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) {
	fmt.Println("Setting up dwflow...")
	fmt.Println()

	if config.Exists() {
		var overwrite bool
		prompt := &survey.Confirm{
			Message: "Configuration already exists. Do you want to overwrite it?",
			Default: false,
		}
		survey.AskOne(prompt, &overwrite)
		if !overwrite {
			fmt.Println("Setup cancelled.")
			return
		}
	}

	cfg := &models.Config{Tuning: models.DefaultTuning()}

	fmt.Println("OLTP source database")
	fmt.Println("--------------------")
	if err := askConnection(&cfg.OLTP, "mysql",
		"user:password@tcp(localhost:3306)/ecommerce_oltp?parseTime=true"); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("Warehouse database")
	fmt.Println("------------------")
	if err := askConnection(&cfg.Warehouse, "snowflake",
		"user:password@account/ECOMMERCE_DW/PUBLIC"); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	var tune bool
	survey.AskOne(&survey.Confirm{
		Message: "Adjust batch tuning (defaults: dims 1000, facts 5000, commit 10000, checkpoint 20000)?",
		Default: false,
	}, &tune)
	if tune {
		if err := askTuning(&cfg.Tuning); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}

	if err := config.Save(cfg); err != nil {
		fmt.Printf("Error saving configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Printf("Configuration saved to %s\n", config.GetConfigFile())
	fmt.Println("Run 'dwflow validate' to verify the connections.")
}

func askConnection(conn *models.ConnectionConfig, defaultDriver, dsnHelp string) error {
	questions := []*survey.Question{
		{
			Name: "driver",
			Prompt: &survey.Select{
				Message: "Driver:",
				Options: []string{"mysql", "snowflake"},
				Default: defaultDriver,
			},
		},
		{
			Name: "dsn",
			Prompt: &survey.Input{
				Message: "DSN:",
				Help:    "e.g. " + dsnHelp,
			},
			Validate: survey.Required,
		},
		{
			Name: "database",
			Prompt: &survey.Input{
				Message: "Database name:",
			},
			Validate: survey.Required,
		},
	}
	return survey.Ask(questions, conn)
}

func askTuning(tuning *models.TuningConfig) error {
	questions := []*survey.Question{
		{
			Name: "dimensionbatchsize",
			Prompt: &survey.Input{
				Message: "Dimension batch size:",
				Default: fmt.Sprintf("%d", tuning.DimensionBatchSize),
			},
		},
		{
			Name: "factbatchsize",
			Prompt: &survey.Input{
				Message: "Fact batch size:",
				Default: fmt.Sprintf("%d", tuning.FactBatchSize),
			},
		},
		{
			Name: "commitinterval",
			Prompt: &survey.Input{
				Message: "Commit interval (rows):",
				Default: fmt.Sprintf("%d", tuning.CommitInterval),
			},
		},
		{
			Name: "checkpointinterval",
			Prompt: &survey.Input{
				Message: "Checkpoint interval (rows):",
				Default: fmt.Sprintf("%d", tuning.CheckpointInterval),
			},
		},
	}
	return survey.Ask(questions, tuning)
}
