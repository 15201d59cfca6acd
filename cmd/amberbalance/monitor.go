package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"amberbalance/internal/billing"
	"amberbalance/internal/publisher"
)

var monitorInterval time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Continuously refresh and publish the balance",
	Long: `Runs a refresh loop for every configured site, publishing each successful
payload to MQTT and/or Home Assistant. When a refresh fails, the previously
published payload remains the latest known state and the next tick retries.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 0, "Refresh interval (default: refresh_minutes from config, or 1h)")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Monitor started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

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

	if !cfg.MQTT.Enabled && !cfg.HomeAssistant.Enabled {
		fmt.Println("Note: no publishing targets enabled, running refresh loop only")
	}

	pub, err := publisher.New(cfg.MQTT, cfg.HomeAssistant)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer pub.Close()

	engines := make([]*billing.Engine, 0, len(siteIDs))
	for _, siteID := range siteIDs {
		engines = append(engines, newEngine(client, cfg, siteID, loc, logger))
	}

	interval := monitorInterval
	if interval <= 0 {
		interval = cfg.GetRefreshInterval()
	}
	fmt.Printf("Monitoring %d site(s) every %s\n", len(engines), interval)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	refreshAll := func() {
		g, gctx := errgroup.WithContext(ctx)
		for _, engine := range engines {
			engine := engine
			g.Go(func() error {
				payload, err := engine.Refresh(gctx)
				if err != nil {
					// Previous payload is retained; next tick retries
					logger.Warn("refresh failed", "site_id", engine.SiteID(), "error", err)
					return nil
				}
				if err := pub.Publish(payload, engine.LastUpdate()); err != nil {
					logger.Warn("publish failed", "site_id", engine.SiteID(), "error", err)
					return nil
				}
				fmt.Printf("✓ %s position %s (%d days)\n",
					engine.SiteID(), money(payload.Totals.Position), payload.Totals.DaysElapsed)
				return nil
			})
		}
		// Errors are logged per site, never propagated
		_ = g.Wait()
	}

	refreshAll()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down")
			return nil
		case <-ticker.C:
			refreshAll()
		}
	}
}
