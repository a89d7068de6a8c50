// Package main provides CLI commands for store cleanup.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardmatch-ai/cardmatch/internal/store"
)

// newPurgeCmd creates the purge subcommand.
func newPurgeCmd() *cobra.Command {
	var (
		productID int
		all       bool
		yes       bool
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete indexed cards from the store",
		Long: `Purge removes a card's document and chunks from the store. With --all it
empties the store and drops cached search results.

WARNING: purge is irreversible. --all refuses to run without --yes.

Example:
  cardmatch purge --product 301
  cardmatch purge --all --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			if productID > 0 && all {
				return fmt.Errorf("use either --product or --all, not both")
			}
			if productID <= 0 && !all {
				return fmt.Errorf("nothing to purge, pass --product or --all")
			}
			if all && !yes {
				return fmt.Errorf("refusing to purge the whole store without --yes")
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			var spin *Spinner
			if !outputJSON && IsTerminal() {
				spin = NewSpinner("purging")
				spin.Start()
				defer spin.Stop()
			}

			if all {
				logger.Warn().Msg("Purging all products")

				if err := eng.Purge(ctx); err != nil {
					return fmt.Errorf("purge failed: %w", err)
				}
				if spin != nil {
					spin.Stop()
				}

				if outputJSON {
					enc := json.NewEncoder(os.Stdout)
					return enc.Encode(map[string]string{"purged": "all"})
				}
				ui.Success("store emptied, cached search results dropped")
				return nil
			}

			// Load first so the confirmation can name the card.
			doc, err := eng.Product(ctx, productID)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("product %d is not in the store", productID)
			}
			if err != nil {
				return fmt.Errorf("load product %d: %w", productID, err)
			}

			if spin != nil {
				spin.UpdateMessage(fmt.Sprintf("deleting %s", doc.Name))
			}
			if err := eng.DeleteProduct(ctx, productID); err != nil {
				return fmt.Errorf("delete product %d: %w", productID, err)
			}
			if spin != nil {
				spin.Stop()
			}

			logger.Info().Int("product_id", productID).Msg("Product purged")

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				return enc.Encode(map[string]int{"purged": productID})
			}
			ui.Success("deleted %q (product %d)", doc.Name, productID)
			return nil
		},
	}

	cmd.Flags().IntVarP(&productID, "product", "p", 0, "product to delete")
	cmd.Flags().BoolVar(&all, "all", false, "empty the whole store")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm a destructive --all purge")

	return cmd
}
