package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"amberbalance/internal/amber"
	"amberbalance/internal/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "amberbalance",
	Short: "Track your Amber Electric billing-cycle balance",
	Long: `AmberBalance tracks how much you owe (or are owed) for the current billing
cycle of an Amber Electric site. It fetches daily usage from the Amber API,
applies your surcharge and subscription fees, and computes per-day and
cycle-to-date positions with projections.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the configuration file
func loadConfig() (*config.Config, error) {
	return config.Load(getConfigPath())
}

// saveConfig saves the configuration file
func saveConfig(cfg *config.Config) error {
	return config.Save(getConfigPath(), cfg)
}

// newLogger builds the process logger. Debug level with --verbose, warnings
// and above otherwise so one-shot commands stay quiet.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newClient builds an Amber API client from the config, requiring a token.
func newClient(cfg *config.Config, logger *slog.Logger) (*amber.Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("no API token configured. Add 'token' to %s (create one at app.amber.com.au/developers)", getConfigPath())
	}
	return amber.NewClient(cfg.Token, logger), nil
}

// resolveSiteIDs returns the configured site ids, discovering them from the
// API (and saving them back to the config) when none are configured.
func resolveSiteIDs(cmd *cobra.Command, cfg *config.Config, client *amber.Client) ([]string, error) {
	if len(cfg.SiteIDs) > 0 {
		return cfg.SiteIDs, nil
	}

	fmt.Println("No site ids configured, discovering from API...")
	siteIDs, err := client.DiscoverSites(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("discovering sites: %w", err)
	}
	if len(siteIDs) == 0 {
		return nil, fmt.Errorf("no sites found for this account")
	}

	cfg.SiteIDs = siteIDs
	if err := saveConfig(cfg); err != nil {
		fmt.Printf("Warning: Could not save discovered sites: %v\n", err)
	} else {
		fmt.Printf("✓ Discovered %d site(s), saved to config\n", len(siteIDs))
	}
	return siteIDs, nil
}
