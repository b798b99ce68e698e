package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"dwflow/internal/audit"
	"dwflow/internal/db"
	"dwflow/pkg/models"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent load runs from the audit log",
	Long: "Read etl_logs in the warehouse and print the most recent load runs\n" +
		"plus a summary of the last full pipeline execution.",
	Run: runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 20, "number of runs to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := loadValidatedConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	dw := db.NewService("warehouse", cfg.Warehouse)
	if err := dw.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer dw.Close()

	ctx := cmd.Context()

	runs, err := audit.RecentRuns(ctx, dw.DB(), statusLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(runs) == 0 {
		fmt.Println("No load runs recorded yet.")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Process", "Table", "Started", "Duration", "Extracted", "Inserted", "Status"})
	table.SetBorder(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, run := range runs {
		table.Append([]string{
			strconv.FormatInt(run.ID, 10),
			run.ProcessName,
			run.TargetTable,
			run.StartTime.Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%ds", run.DurationSeconds),
			strconv.Itoa(run.Extracted),
			strconv.Itoa(run.Inserted),
			formatStatus(run.Status),
		})
	}
	table.Render()

	summary, err := audit.RunSummary(ctx, dw.DB())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if summary == nil {
		fmt.Println("\nNo full pipeline run recorded yet.")
		return
	}
	printRunSummary(summary)
}

func formatStatus(status models.RunStatus) string {
	switch status {
	case models.StatusCompleted:
		return color.GreenString(string(status))
	case models.StatusError:
		return color.RedString(string(status))
	default:
		return color.YellowString(string(status))
	}
}

func printRunSummary(summary *models.RunSummary) {
	fmt.Println("\nLast full pipeline run:")
	fmt.Printf("  Started:    %s\n", summary.StartTime.Format(time.RFC3339))
	if summary.EndTime != nil {
		fmt.Printf("  Finished:   %s\n", summary.EndTime.Format(time.RFC3339))
	}
	fmt.Printf("  Steps:      %d", summary.TotalProcesses)
	if summary.FailedSteps > 0 {
		fmt.Printf("  (%s)", color.RedString("%d failed", summary.FailedSteps))
	}
	fmt.Println()
	fmt.Printf("  Extracted:  %d\n", summary.TotalExtracted)
	fmt.Printf("  Inserted:   %d\n", summary.TotalInserted)
	fmt.Printf("  Duration:   %ds\n", summary.TotalSeconds)
}
