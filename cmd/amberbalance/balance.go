package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"amberbalance/internal/billing"
	"amberbalance/internal/config"
	"amberbalance/pkg/models"
)

var balanceDaily bool

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the current billing-cycle balance",
	Long: `Fetches usage for the current billing cycle and displays the running
balance: energy cost, fees, daily statistics and the projected month total.`,
	RunE: runBalance,
}

func init() {
	balanceCmd.Flags().BoolVar(&balanceDaily, "daily", false, "Show the per-day breakdown")
	rootCmd.AddCommand(balanceCmd)
}

func runBalance(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger()
	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}

	siteIDs, err := resolveSiteIDs(cmd, cfg, client)
	if err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("loading timezone: %w", err)
	}

	for _, siteID := range siteIDs {
		engine := newEngine(client, cfg, siteID, loc, logger)
		payload, err := engine.Refresh(cmd.Context())
		if err != nil {
			return fmt.Errorf("refreshing %s: %w", siteID, err)
		}
		printReport(cfg.GetName(), payload, engine.LastUpdate())
	}

	return nil
}

// newEngine builds a per-site engine from the shared config.
func newEngine(source billing.UsageSource, cfg *config.Config, siteID string, loc *time.Location, logger *slog.Logger) *billing.Engine {
	return billing.NewEngine(source, billing.EngineOptions{
		SiteID:          siteID,
		BillingStartDay: cfg.GetBillingStartDay(),
		SurchargeCents:  cfg.SurchargeCents,
		Subscription:    cfg.Subscription,
		Location:        loc,
		Logger:          logger,
	})
}

func printReport(name string, payload *models.Payload, updatedAt time.Time) {
	t := payload.Totals

	fmt.Printf("\n%s — site %s\n", name, payload.SiteID)
	fmt.Printf("Cycle %s to %s (%d of %d days elapsed)\n",
		payload.RangeStart, payload.RangeEnd, t.DaysElapsed, t.DaysElapsed+t.DaysRemaining)
	fmt.Println("----------------------------------------")

	if balanceDaily && len(payload.Daily) > 0 {
		fmt.Printf("%-12s %9s %9s %9s\n", "Date", "In kWh", "Out kWh", "Position")
		for _, d := range payload.Daily {
			fmt.Printf("%-12s %9.2f %9.2f %9s\n", d.Date, d.ImportKWh, d.ExportKWh, money(d.Position))
		}
		fmt.Println("----------------------------------------")
	}

	fmt.Printf("%-22s %10s\n", "Import:", money(t.ImportValue))
	fmt.Printf("%-22s %10s\n", "Export:", money(t.ExportValue))
	fmt.Printf("%-22s %10s\n", "Energy total:", money(t.EnergyTotal))
	fmt.Printf("%-22s %10s\n", "Fees:", money(t.Fees))
	fmt.Printf("%-22s %10s\n", "Position:", money(t.Position))
	fmt.Println("----------------------------------------")
	fmt.Printf("%-22s %10s / %s / %s kWh\n", "In/out/net:",
		humanize.CommafWithDigits(t.ImportKWh, 2),
		humanize.CommafWithDigits(t.ExportKWh, 2),
		humanize.CommafWithDigits(t.NetKWh, 2))
	fmt.Printf("%-22s %10s\n", "Average daily cost:", money(t.AverageDailyCost))
	fmt.Printf("%-22s %10s\n", "Projected month:", money(t.ProjectedMonthTotal))
	if t.BestDayDate != nil {
		fmt.Printf("%-22s %10s (%s)\n", "Best day:", money(t.BestDay), t.BestDayDate)
	}
	if t.WorstDayDate != nil {
		fmt.Printf("%-22s %10s (%s)\n", "Worst day:", money(t.WorstDay), t.WorstDayDate)
	}
	if t.MostAverageDayDate != nil {
		fmt.Printf("%-22s %10s (%s)\n", "Most average day:", money(t.MostAverageDay), t.MostAverageDayDate)
	}
	fmt.Printf("%-22s %6d in credit, %d owing\n", "Days:", t.DaysInCredit, t.DaysOwing)
	if !updatedAt.IsZero() {
		fmt.Printf("\nUpdated %s\n", humanize.Time(updatedAt))
	}
}

// money formats an exact decimal as a dollar amount rounded to cents,
// parenthesizing credits so they read like a statement.
func money(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if len(s) > 0 && s[0] == '-' {
		return "($" + s[1:] + ")"
	}
	return "$" + s
}
