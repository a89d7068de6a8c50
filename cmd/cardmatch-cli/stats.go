package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// newStatsCmd creates the stats subcommand.
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			stats, err := eng.Stats(ctx)
			if err != nil {
				return fmt.Errorf("stats failed: %w", err)
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				return enc.Encode(stats)
			}

			ui.Section("store")
			ui.KeyValue("products", stats.Products)
			ui.KeyValue("indexed products", stats.IndexedProducts)
			ui.KeyValue("vector chunks", stats.VectorChunks)
			ui.KeyValue("rule chunks", stats.RuleChunks)
			return nil
		},
	}
}
