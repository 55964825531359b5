package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func newStorageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect and prune saved images",
	}
	cmd.AddCommand(newStorageStatsCmd(), newStorageCleanupCmd())
	return cmd
}

func newStorageStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show image folder statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats map[string]interface{}
			if err := newAPIClient(flagServer).do(cmd.Context(), http.MethodGet, "/api/storage/stats", nil, &stats); err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
}

func newStorageCleanupCmd() *cobra.Command {
	var flagMaxAge int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete saved images older than --max-age-hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagMaxAge < 0 {
				return fmt.Errorf("--max-age-hours must not be negative")
			}
			var result map[string]interface{}
			path := fmt.Sprintf("/api/storage/cleanup?maxAgeHours=%d", flagMaxAge)
			if err := newAPIClient(flagServer).do(cmd.Context(), http.MethodPost, path, nil, &result); err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().IntVar(&flagMaxAge, "max-age-hours", 24, "Age threshold in hours")
	return cmd
}
