package cmd

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"dwflow/internal/pipeline"
	"dwflow/pkg/models"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full ETL pipeline",
	Long: "Run the complete warehouse reload: validate prerequisites, truncate\n" +
		"and reload all dimensions, load all fact tables and reconcile totals.\n" +
		"Exits 0 on success, 1 on failure.",
	Run: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) {
	cfg, err := loadValidatedConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	p := pipeline.New(cfg)
	result := p.Run(cmd.Context())

	printRunResult(result)

	if !result.Success {
		os.Exit(1)
	}
}

func printRunResult(result *models.RunResult) {
	fmt.Println()
	if result.Success {
		color.Green("Pipeline completed in %ds", result.DurationSeconds)
	} else {
		color.Red("Pipeline failed after %ds", result.DurationSeconds)
		for _, msg := range result.Errors {
			color.Red("  %s", msg)
		}
	}
	fmt.Println()

	if len(result.Dimensions) == 0 && len(result.Facts) == 0 {
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Table", "Extracted", "Inserted"})
	table.SetBorder(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	appendCounts(table, result.Dimensions)
	appendCounts(table, result.Facts)
	table.Append([]string{
		"TOTAL",
		strconv.Itoa(result.TotalExtracted()),
		strconv.Itoa(result.TotalInserted()),
	})
	table.Render()
}

func appendCounts(table *tablewriter.Table, counts map[string]models.LoadCount) {
	for _, name := range sortedKeys(counts) {
		c := counts[name]
		table.Append([]string{name, strconv.Itoa(c.Extracted), strconv.Itoa(c.Inserted)})
	}
}

func sortedKeys(counts map[string]models.LoadCount) []string {
	keys := make([]string, 0, len(counts))
	for name := range counts {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys
}
