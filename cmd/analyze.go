package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"dwflow/internal/db"
	"dwflow/internal/olap"
)

var (
	analyzeYear     int
	analyzeLimit    int
	analyzeProvince string
	analyzeCategory string
	analyzeStore    string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run aggregate queries against the star schema",
	Long: "Slice the loaded warehouse along its dimensions: sales by province,\n" +
		"category, warehouse or year, monthly trends, the conversion funnel,\n" +
		"search activity by device and sales by payment method.",
}

var analyzeSalesCmd = &cobra.Command{
	Use:   "sales",
	Short: "Aggregate sales along one dimension",
	Run:   runAnalyzeSales,
}

var analyzeMonthlyCmd = &cobra.Command{
	Use:   "monthly",
	Short: "Monthly sales trend for a year",
	Run:   runAnalyzeMonthly,
}

var analyzeFunnelCmd = &cobra.Command{
	Use:   "funnel",
	Short: "Web event conversion funnel for a year",
	Run:   runAnalyzeFunnel,
}

var analyzeSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search activity by device type for a year",
	Run:   runAnalyzeSearch,
}

var analyzePaymentsCmd = &cobra.Command{
	Use:   "payments",
	Short: "Sales by payment method",
	Run:   runAnalyzePayments,
}

func init() {
	analyzeSalesCmd.Flags().StringVar(&analyzeProvince, "province", "", "filter by province")
	analyzeSalesCmd.Flags().StringVar(&analyzeCategory, "category", "", "filter by product category")
	analyzeSalesCmd.Flags().StringVar(&analyzeStore, "warehouse", "", "filter by warehouse name")
	analyzeSalesCmd.Flags().IntVar(&analyzeYear, "year", 0, "filter by year")

	analyzeMonthlyCmd.Flags().IntVar(&analyzeYear, "year", time.Now().Year(), "year to report")
	analyzeFunnelCmd.Flags().IntVar(&analyzeYear, "year", time.Now().Year(), "year to report")
	analyzeSearchCmd.Flags().IntVar(&analyzeYear, "year", time.Now().Year(), "year to report")
	analyzeSearchCmd.Flags().IntVar(&analyzeLimit, "limit", 10, "number of device types to show")

	analyzeCmd.AddCommand(analyzeSalesCmd)
	analyzeCmd.AddCommand(analyzeMonthlyCmd)
	analyzeCmd.AddCommand(analyzeFunnelCmd)
	analyzeCmd.AddCommand(analyzeSearchCmd)
	analyzeCmd.AddCommand(analyzePaymentsCmd)
	rootCmd.AddCommand(analyzeCmd)
}

// connectOLAP opens the warehouse connection and wraps it in an OLAP
// service. The returned close function must always be deferred.
func connectOLAP() (*olap.Service, func(), error) {
	cfg, err := loadValidatedConfig()
	if err != nil {
		return nil, nil, err
	}
	dw := db.NewService("warehouse", cfg.Warehouse)
	if err := dw.Connect(); err != nil {
		return nil, nil, err
	}
	return olap.NewService(dw.DB()), func() { dw.Close() }, nil
}

func runAnalyzeSales(cmd *cobra.Command, args []string) {
	svc, closeDB, err := connectOLAP()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeDB()

	ctx := cmd.Context()
	var summary *olap.SalesSummary
	switch {
	case analyzeProvince != "":
		summary, err = svc.SalesByProvince(ctx, analyzeProvince)
	case analyzeCategory != "":
		summary, err = svc.SalesByCategory(ctx, analyzeCategory)
	case analyzeStore != "":
		summary, err = svc.SalesByWarehouse(ctx, analyzeStore)
	case analyzeYear != 0:
		summary, err = svc.SalesByYear(ctx, analyzeYear)
	default:
		fmt.Fprintln(os.Stderr, "Error: one of --province, --category, --warehouse or --year is required")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if summary == nil {
		fmt.Println("No sales match the given filter.")
		return
	}
	printSalesSummary(summary)
}

func printSalesSummary(s *olap.SalesSummary) {
	fmt.Printf("Sales summary for %s\n\n", s.Dimension)
	fmt.Printf("  Orders:           %d\n", s.Orders)
	fmt.Printf("  Unique customers: %d\n", s.UniqueCustomers)
	fmt.Printf("  Units sold:       %d\n", s.Units)
	fmt.Printf("  Total sales:      %.2f\n", s.TotalSales)
	fmt.Printf("  Avg per order:    %.2f\n", s.AvgPerOrder)
	fmt.Printf("  Total margin:     %.2f (%.2f%%)\n", s.TotalMargin, s.MarginPercent)
	fmt.Printf("  Total tax:        %.2f\n", s.TotalTax)
}

func runAnalyzeMonthly(cmd *cobra.Command, args []string) {
	svc, closeDB, err := connectOLAP()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeDB()

	months, err := svc.MonthlySales(cmd.Context(), analyzeYear)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(months) == 0 {
		fmt.Printf("No sales recorded for %d.\n", analyzeYear)
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Month", "Orders", "Units", "Sales", "Margin"})
	table.SetBorder(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, m := range months {
		table.Append([]string{
			m.MonthName,
			strconv.Itoa(m.Orders),
			strconv.Itoa(m.Units),
			fmt.Sprintf("%.2f", m.TotalSales),
			fmt.Sprintf("%.2f", m.TotalMargin),
		})
	}
	table.Render()
}

func runAnalyzeFunnel(cmd *cobra.Command, args []string) {
	svc, closeDB, err := connectOLAP()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeDB()

	stages, err := svc.ConversionFunnel(cmd.Context(), analyzeYear)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(stages) == 0 {
		fmt.Printf("No web events recorded for %d.\n", analyzeYear)
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Event", "Category", "Conversion", "Events", "Customers"})
	table.SetBorder(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, stage := range stages {
		conversion := ""
		if stage.IsConversion {
			conversion = "yes"
		}
		table.Append([]string{
			stage.EventType,
			stage.Category,
			conversion,
			strconv.Itoa(stage.Events),
			strconv.Itoa(stage.Customers),
		})
	}
	table.Render()
}

func runAnalyzeSearch(cmd *cobra.Command, args []string) {
	svc, closeDB, err := connectOLAP()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeDB()

	activity, err := svc.TopSearchActivity(cmd.Context(), analyzeYear, analyzeLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(activity) == 0 {
		fmt.Printf("No searches recorded for %d.\n", analyzeYear)
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Device", "Searches", "Avg Results", "Recognized %", "Conversion %"})
	table.SetBorder(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, a := range activity {
		table.Append([]string{
			a.DeviceType,
			strconv.Itoa(a.Searches),
			fmt.Sprintf("%.1f", a.AvgResults),
			fmt.Sprintf("%.1f", a.RecognizedRate),
			fmt.Sprintf("%.1f", a.ConversionRate),
		})
	}
	table.Render()
}

func runAnalyzePayments(cmd *cobra.Command, args []string) {
	svc, closeDB, err := connectOLAP()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeDB()

	payments, err := svc.SalesByPaymentMethod(cmd.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(payments) == 0 {
		fmt.Println("No completed sales with a resolved payment method.")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Payment Type", "Orders", "Sales"})
	table.SetBorder(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, p := range payments {
		table.Append([]string{
			p.PaymentType,
			strconv.Itoa(p.Orders),
			fmt.Sprintf("%.2f", p.TotalSales),
		})
	}
	table.Render()
}
