package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
)

// newSearchCmd creates the search subcommand.
func newSearchCmd() *cobra.Command {
	var (
		feeMax     int
		spendMax   int
		cardType   string
		onlineOnly bool
		topM       int
		evidence   int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank candidate cards for a spending query",
		Long: `Search embeds the query, retrieves matching benefit chunks, and folds them
into per-card candidates with score breakdowns and evidence.

Filters narrow the candidate set before ranking. Cards whose fee or spend
requirement is unknown pass fee and spend filters.

Example:
  cardmatch search "simple payment and online shopping discounts"
  cardmatch search "movie nights" --fee-max 15000 --type credit`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			query := strings.Join(args, " ")

			var filters catalog.FilterSet
			if cmd.Flags().Changed("fee-max") {
				filters.FeeMax = &feeMax
			}
			if cmd.Flags().Changed("spend-max") {
				filters.SpendMax = &spendMax
			}
			if cardType != "" {
				pt := catalog.ProductType(cardType)
				if !pt.Valid() {
					return fmt.Errorf("unknown card type %q", cardType)
				}
				filters.ProductType = &pt
			}
			if cmd.Flags().Changed("online-only") {
				filters.OnlineOnly = &onlineOnly
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			start := time.Now()
			cands, err := eng.Search(ctx, query, filters, topM, evidence)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			elapsed := time.Since(start)

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"query":      query,
					"latency_ms": elapsed.Milliseconds(),
					"candidates": cands,
				})
			}

			if len(cands) == 0 {
				ui.Warning("no candidates matched %q", query)
				return nil
			}

			ui.Section("candidates")
			headers := []string{"#", "Product", "Issuer", "Type", "Fee", "Score"}
			rows := make([][]string, 0, len(cands))
			for i, c := range cands {
				fee := "-"
				if c.FeeTotal != nil {
					fee = strconv.Itoa(*c.FeeTotal)
				}
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					c.Name,
					c.Issuer,
					string(c.Type),
					fee,
					fmt.Sprintf("%.4f", c.AggregateScore),
				})
			}
			ui.Table(headers, rows)

			for _, c := range cands {
				ui.Newline()
				ui.Step("%s (base %.4f, core bonus %.2f, coverage %.2f, %d chunks)",
					c.Name, c.Breakdown.BaseScore, c.Breakdown.CoreBonus,
					c.Breakdown.CoverageBonus, c.Breakdown.TotalChunks)
				for _, ev := range c.Evidence {
					text := ev.Chunk.Text
					if len(text) > 96 {
						text = text[:96] + "..."
					}
					fmt.Printf("    • [%s] %s (%.4f)\n", ev.Chunk.Metadata.CategoryStd, text, ev.Score)
				}
			}
			ui.Newline()
			ui.Info("%d candidates in %s", len(cands), FormatDuration(elapsed))
			return nil
		},
	}

	cmd.Flags().IntVar(&feeMax, "fee-max", 0, "maximum annual fee in KRW")
	cmd.Flags().IntVar(&spendMax, "spend-max", 0, "maximum monthly spend requirement in KRW")
	cmd.Flags().StringVarP(&cardType, "type", "t", "", "card family: credit, debit, or prepaid")
	cmd.Flags().BoolVar(&onlineOnly, "online-only", false, "match only online-only cards")
	cmd.Flags().IntVar(&topM, "top", 5, "number of candidates to return")
	cmd.Flags().IntVar(&evidence, "evidence", 3, "evidence chunks kept per candidate")

	return cmd
}
