package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List sites on the Amber account",
	Long:  `Queries the Amber API for the sites attached to your account and displays their metadata.`,
	RunE:  runSites,
}

func init() {
	rootCmd.AddCommand(sitesCmd)
}

func runSites(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client, err := newClient(cfg, newLogger())
	if err != nil {
		return err
	}

	sites, err := client.ListSites(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing sites: %w", err)
	}

	if len(sites) == 0 {
		fmt.Println("No sites found")
		return nil
	}

	for _, site := range sites {
		fmt.Printf("\nSite %s\n", site.ID)
		fmt.Println("----------------------------------------")
		fmt.Printf("%-12s %s\n", "NMI:", site.NMI)
		fmt.Printf("%-12s %s\n", "Network:", site.Network)
		fmt.Printf("%-12s %s\n", "Status:", site.Status)
		if site.ActiveFrom != "" {
			fmt.Printf("%-12s %s\n", "Active from:", site.ActiveFrom)
		}
		for _, ch := range site.Channels {
			fmt.Printf("%-12s %s (%s, tariff %s)\n", "Channel:", ch.Identifier, ch.Type, ch.Tariff)
		}
	}

	fmt.Printf("\nTotal: %d site(s)\n", len(sites))
	return nil
}
