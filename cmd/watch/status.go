package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/substackintel/pipeline/internal/syncer"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the server's sync status and local data freshness",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}

	client := syncer.NewAPIClient(cfg.ServerURL, nil)
	resp, err := client.SyncStatus(cmd.Context())
	if err != nil {
		return err
	}

	data := resp.Data
	fmt.Printf("status:     %s\n", data.Status)
	if data.LastSync != nil {
		age := time.Since(*data.LastSync).Round(time.Second)
		fmt.Printf("last sync:  %s (%s ago)\n", data.LastSync.Format(time.RFC3339), age)
		fmt.Printf("freshness:  %s\n", syncer.FreshnessOf(*data.LastSync, time.Now()))
	} else {
		fmt.Println("last sync:  never")
		fmt.Printf("freshness:  %s\n", syncer.FreshnessUnknown)
	}
	fmt.Printf("emails:     %d\n", data.Stats.EmailsFetched)
	fmt.Printf("companies:  %d (%d new)\n", data.Stats.CompaniesExtracted, data.Stats.NewCompanies)
	fmt.Printf("mentions:   %d\n", data.Stats.TotalMentions)
	return nil
}
