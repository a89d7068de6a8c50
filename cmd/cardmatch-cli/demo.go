package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
	"github.com/cardmatch-ai/cardmatch/internal/config"
	"github.com/cardmatch-ai/cardmatch/internal/index"
	"github.com/cardmatch-ai/cardmatch/internal/observability"
	"github.com/cardmatch-ai/cardmatch/internal/selection"
	"github.com/cardmatch-ai/cardmatch/pkg/engine"
)

func newDemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Interactive demo over a built-in card catalog",
		Long: `Run an interactive demo against a built-in card catalog.

This demo:
1. Seeds four sample cards through the full segmentation and indexing pipeline
2. Runs a scripted search and a recommendation from canned estimates
3. Lets you describe your own spending and see ranked candidates

The demo uses mock embeddings and an in-memory store, so it needs no API
key and leaves nothing behind.

Example:
  cardmatch demo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo()
		},
	}

	return cmd
}

func runDemo() error {
	ctx := context.Background()

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║     💳 cardmatch Interactive Demo                                ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════════╝")
	fmt.Println()

	demoCfg := config.DefaultConfig()
	demoCfg.Store.Driver = "memory"
	demoCfg.Cache.Driver = "memory"
	demoCfg.Embedding.APIKey = ""

	demoLogger := observability.NewLogger(observability.LogConfig{
		Level:       "error",
		Format:      "console",
		ServiceName: "demo",
	})

	eng, err := engine.New(demoCfg, demoLogger)
	if err != nil {
		return fmt.Errorf("demo engine: %w", err)
	}
	defer eng.Close()

	records := demoCatalog()
	fmt.Printf("📇 Seeding %d demo cards (mock embeddings, in-memory store)\n", len(records))

	bar := NewProgressBar(int64(len(records)), "indexing")
	report := eng.IndexBatch(ctx, records, index.Options{
		Overwrite: true,
		OnProgress: func(p index.Progress) {
			bar.Set(int64(p.Done))
		},
	})
	bar.Finish()
	fmt.Printf("   ✓ %d cards indexed in %v\n\n", report.Indexed, report.Elapsed.Round(time.Millisecond))

	// Scripted pass: one search, then a recommendation over canned estimates.
	sample := "discounts on simple payment and online shopping"
	fmt.Printf("🔎 Sample query: %q\n", sample)
	printDemoCandidates(ctx, eng, sample)

	fmt.Println("🏆 Recommendation from canned benefit estimates:")
	sel, err := eng.Recommend(ctx, demoEstimates(), selection.Preferences{})
	if err != nil {
		return fmt.Errorf("demo recommend: %w", err)
	}
	fmt.Printf("   %s wins: %d KRW net after the %d KRW annual fee\n\n",
		sel.Winner.Name, sel.Winner.NetBenefit, sel.Winner.FeeTotal)

	fmt.Println("═══════════════════════════════════════════════════════════════════")
	fmt.Println("🎯 Interactive Mode")
	fmt.Println("   Describe your spending, e.g. \"movie nights and subway commuting\"")
	fmt.Println("   Type 'examples' to see sample prompts")
	fmt.Println("   Type 'quit' or 'exit' to end the demo")
	fmt.Println("═══════════════════════════════════════════════════════════════════")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("❓ Your spending: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}

		if query == "quit" || query == "exit" {
			fmt.Println("\n👋 Thanks for trying cardmatch!")
			break
		}

		if query == "examples" {
			showDemoExamples()
			continue
		}

		printDemoCandidates(ctx, eng, query)
	}

	return nil
}

func printDemoCandidates(ctx context.Context, eng *engine.Engine, query string) {
	start := time.Now()
	cands, err := eng.Search(ctx, query, catalog.FilterSet{}, 3, 2)
	elapsed := time.Since(start)
	if err != nil {
		fmt.Printf("   ✗ search failed: %v\n\n", err)
		return
	}

	fmt.Printf("\n📊 Candidates (found in %v):\n", elapsed.Round(time.Millisecond))
	fmt.Println("─────────────────────────────────────────")

	if len(cands) == 0 {
		fmt.Println("   No cards matched. Try rephrasing, or type 'examples'.")
		fmt.Println()
		return
	}

	for i, c := range cands {
		fee := "no fee data"
		if c.FeeTotal != nil {
			fee = fmt.Sprintf("%d KRW/year", *c.FeeTotal)
		}
		fmt.Printf("   %d. %s (%s, %s, score %.4f)\n", i+1, c.Name, c.Issuer, fee, c.AggregateScore)
		for _, ev := range c.Evidence {
			text := ev.Chunk.Text
			if len(text) > 100 {
				text = text[:100] + "..."
			}
			fmt.Printf("      • %s\n", text)
		}
	}
	fmt.Println()
}

func showDemoExamples() {
	fmt.Println("\n📝 Example prompts you can try:")
	fmt.Println("   • I pay for everything with NaverPay and shop online a lot")
	fmt.Println("   • movie nights every weekend")
	fmt.Println("   • groceries at the mart and coffee every morning")
	fmt.Println("   • subway and bus commuting five days a week")
	fmt.Println("   • I mostly pay utility bills and local taxes with my card")
	fmt.Println()
}

// demoCatalog returns the built-in sample cards. The last card's fine print
// excludes tax payments, so a tax-heavy prompt drops it from the ranking.
func demoCatalog() []catalog.BenefitRecord {
	return []catalog.BenefitRecord{
		{
			ProductID:           501,
			Name:                "Smart Pay Plus",
			Issuer:              "Shinhan Card",
			Type:                catalog.ProductTypeCredit,
			FeeTotal:            catalog.IntPtr(17000),
			MinSpendRequirement: 300000,
			Benefits: []catalog.BenefitEntry{
				{
					CategoryLabel: "Simple Payment",
					RawHTML:       "<li>10% discount on simple payment services including NaverPay and KakaoPay charges</li>",
				},
				{
					CategoryLabel: "Online Shopping",
					RawHTML:       "<li>5% discount on online shopping at Coupang, Gmarket, and 11st open markets nationwide</li>",
				},
			},
		},
		{
			ProductID:           502,
			Name:                "Cinema Joy",
			Issuer:              "KB Kookmin Card",
			Type:                catalog.ProductTypeCredit,
			FeeTotal:            catalog.IntPtr(5000),
			MinSpendRequirement: 200000,
			Benefits: []catalog.BenefitEntry{
				{
					CategoryLabel: "Movie",
					RawHTML:       "<li>6000 KRW discount on movie tickets at CGV, Megabox, and Lotte Cinema on weekends</li>",
				},
				{
					CategoryLabel: "Dining",
					RawHTML:       "<li>15% discount at family restaurants and major dining franchises across the country</li>",
				},
			},
		},
		{
			ProductID:           503,
			Name:                "Daily Saver",
			Issuer:              "Lotte Card",
			Type:                catalog.ProductTypeDebit,
			FeeTotal:            catalog.IntPtr(0),
			MinSpendRequirement: 200000,
			Benefits: []catalog.BenefitEntry{
				{
					CategoryLabel: "Supermarket",
					RawHTML:       "<li>7% discount on grocery purchases at Emart, Homeplus, and Lotte Mart stores every day</li>",
				},
				{
					CategoryLabel: "Living",
					RawHTML: "<li>5% discount on utility and telecom bill payments registered for automatic charge</li>" +
						"<li>National and local tax payments are excluded from the discount benefit entirely</li>",
				},
			},
		},
		{
			ProductID:           504,
			Name:                "Metro Commuter",
			Issuer:              "Hana Card",
			Type:                catalog.ProductTypeCredit,
			FeeTotal:            catalog.IntPtr(10000),
			MinSpendRequirement: 250000,
			Benefits: []catalog.BenefitEntry{
				{
					CategoryLabel: "Public Transit",
					RawHTML:       "<li>10% discount on subway and bus fares charged through the registered transit function</li>",
				},
				{
					CategoryLabel: "Cafe",
					RawHTML:       "<li>10% discount at major coffee chains and independent cafes nationwide on weekdays</li>",
				},
			},
		},
	}
}

// demoEstimates returns canned annual benefit estimates for the seeded cards,
// standing in for the budget simulation step.
func demoEstimates() []selection.BenefitEstimate {
	return []selection.BenefitEstimate{
		{
			ProductID:             501,
			AnnualBenefitEstimate: 216000,
			ConditionsMet:         true,
			CategoryCoverage:      map[string]int{"digital_payment": 180000, "online_shopping": 36000},
			WarningCount:          1,
		},
		{
			ProductID:             502,
			AnnualBenefitEstimate: 48000,
			ConditionsMet:         true,
			CategoryCoverage:      map[string]int{"movie": 48000},
			WarningCount:          0,
		},
		{
			ProductID:             504,
			AnnualBenefitEstimate: 96000,
			ConditionsMet:         true,
			CategoryCoverage:      map[string]int{"transit": 72000, "cafe": 24000},
			WarningCount:          0,
		},
	}
}
