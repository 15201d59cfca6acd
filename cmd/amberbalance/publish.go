package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"amberbalance/internal/publisher"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Refresh once and publish the balance",
	Long: `Runs a single refresh for every configured site and publishes each payload
to MQTT and/or Home Assistant, then exits. Suitable for cron.`,
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Publish started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if !cfg.MQTT.Enabled && !cfg.HomeAssistant.Enabled {
		return fmt.Errorf("no publishing targets enabled in config")
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

	pub, err := publisher.New(cfg.MQTT, cfg.HomeAssistant)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer pub.Close()

	published := 0
	for _, siteID := range siteIDs {
		engine := newEngine(client, cfg, siteID, loc, logger)
		payload, err := engine.Refresh(cmd.Context())
		if err != nil {
			return fmt.Errorf("refreshing %s: %w", siteID, err)
		}
		if err := pub.Publish(payload, engine.LastUpdate()); err != nil {
			return fmt.Errorf("publishing %s: %w", siteID, err)
		}
		fmt.Printf("✓ Published %s position %s\n", siteID, money(payload.Totals.Position))
		published++
	}

	fmt.Printf("\nTotal sites published: %d\n", published)
	return nil
}
