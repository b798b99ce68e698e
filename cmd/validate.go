package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dwflow/internal/pipeline"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check pipeline prerequisites without loading anything",
	Long: "Connect to both databases and verify the schemas are ready for a\n" +
		"load: all twelve OLTP source tables exist, the warehouse exposes the\n" +
		"dim_/fact_ tables, and the OLTP calendar is populated.",
	Run: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) {
	cfg, err := loadValidatedConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	p := pipeline.New(cfg)
	if err := p.ValidatePrerequisites(cmd.Context()); err != nil {
		color.Red("Validation failed: %v", err)
		os.Exit(1)
	}

	color.Green("All prerequisites satisfied; ready to run")
}
