package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/xeipuuv/gojsonschema"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
	"github.com/cardmatch-ai/cardmatch/internal/selection"
)

// estimatesSchema validates the per-card benefit estimates file before it is
// decoded, so a malformed file fails with field-level messages instead of a
// zero-value recommendation.
const estimatesSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "array",
	"minItems": 1,
	"items": {
		"type": "object",
		"required": ["product_id", "annual_benefit_estimate", "conditions_met"],
		"properties": {
			"product_id": {"type": "integer", "minimum": 1},
			"annual_benefit_estimate": {"type": "integer"},
			"conditions_met": {"type": "boolean"},
			"category_coverage": {
				"type": "object",
				"additionalProperties": {"type": "integer"}
			},
			"warning_count": {"type": "integer", "minimum": 0}
		},
		"additionalProperties": false
	}
}`

// intentSchema validates the optional intent file carrying user preferences.
const intentSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"preferred_type": {"type": "string", "enum": ["credit", "debit", "prepaid"]}
	},
	"additionalProperties": false
}`

type intentFile struct {
	PreferredType string `json:"preferred_type,omitempty"`
}

// newRecommendCmd creates the recommend subcommand.
func newRecommendCmd() *cobra.Command {
	var (
		estimatesPath string
		intentPath    string
		preferredType string
	)

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Pick the best card from benefit estimates",
		Long: `Recommend reads per-card annual benefit estimates produced by the budget
simulation step, scores them against stored card facts, and prints the
winner with the full ranking.

The optional intent file carries user preferences applied at the end of
the tie-break ladder. --preferred-type overrides the intent file.

Example:
  cardmatch recommend --estimates estimates.json
  cardmatch recommend --estimates estimates.json --intent intent.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			raw, err := os.ReadFile(estimatesPath)
			if err != nil {
				return fmt.Errorf("read estimates: %w", err)
			}
			if err := validateJSON(estimatesSchema, raw, estimatesPath); err != nil {
				return err
			}
			var estimates []selection.BenefitEstimate
			if err := json.Unmarshal(raw, &estimates); err != nil {
				return fmt.Errorf("parse estimates %s: %w", estimatesPath, err)
			}

			var prefs selection.Preferences
			if intentPath != "" {
				rawIntent, err := os.ReadFile(intentPath)
				if err != nil {
					return fmt.Errorf("read intent: %w", err)
				}
				if err := validateJSON(intentSchema, rawIntent, intentPath); err != nil {
					return err
				}
				var intent intentFile
				if err := json.Unmarshal(rawIntent, &intent); err != nil {
					return fmt.Errorf("parse intent %s: %w", intentPath, err)
				}
				if intent.PreferredType != "" {
					pt := catalog.ProductType(intent.PreferredType)
					prefs.PreferredType = &pt
				}
			}
			if preferredType != "" {
				pt := catalog.ProductType(preferredType)
				if !pt.Valid() {
					return fmt.Errorf("unknown preferred type %q", preferredType)
				}
				prefs.PreferredType = &pt
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			sel, err := eng.Recommend(ctx, estimates, prefs)
			switch {
			case errors.Is(err, selection.ErrNoEstimates):
				return fmt.Errorf("estimates file %s holds no entries", estimatesPath)
			case errors.Is(err, selection.ErrNoScorable):
				return fmt.Errorf("none of the estimated products exist in the store, index the catalog first")
			case err != nil:
				return fmt.Errorf("recommend failed: %w", err)
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(sel)
			}

			w := sel.Winner
			ui.Section("recommendation")
			ui.Success("%s wins with a net annual benefit of %d KRW", w.Name, w.NetBenefit)
			ui.KeyValue("product", fmt.Sprintf("%d (%s)", w.ProductID, w.Type))
			ui.KeyValue("annual benefit", w.AnnualBenefitEstimate)
			ui.KeyValue("annual fee", w.FeeTotal)
			ui.KeyValue("covered categories", w.CoverageScore)
			if w.Penalty > 0 {
				ui.Warning("%d warnings exceeded the trust threshold, score reduced", w.WarningCount)
			}
			if len(sel.TieBreak) > 0 {
				ui.Info("score tie resolved by %s", strings.Join(sel.TieBreak, ", then "))
			}
			for _, rej := range sel.Rejected {
				if rej.ProductID > 0 {
					ui.Warning("estimate for product %d excluded: %s", rej.ProductID, rej.Reason)
				} else {
					ui.Warning("estimate excluded: %s", rej.Reason)
				}
			}

			ui.Section("ranking")
			headers := []string{"#", "Product", "Type", "Net", "Fee", "Score", "Warnings"}
			rows := make([][]string, 0, len(sel.Ranked))
			for i, c := range sel.Ranked {
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					c.Name,
					string(c.Type),
					strconv.Itoa(c.NetBenefit),
					strconv.Itoa(c.FeeTotal),
					fmt.Sprintf("%.1f", c.FinalScore),
					strconv.Itoa(c.WarningCount),
				})
			}
			ui.Table(headers, rows)
			return nil
		},
	}

	cmd.Flags().StringVarP(&estimatesPath, "estimates", "e", "", "path to the benefit estimates JSON file (required)")
	cmd.Flags().StringVarP(&intentPath, "intent", "i", "", "path to the intent JSON file with user preferences")
	cmd.Flags().StringVar(&preferredType, "preferred-type", "", "preferred card family: credit, debit, or prepaid")
	cmd.MarkFlagRequired("estimates")

	return cmd
}

// validateJSON checks raw input against a schema and reports every violation.
func validateJSON(schema string, raw []byte, path string) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("validate %s: %w", path, err)
	}
	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, issue := range result.Errors() {
		issues = append(issues, issue.String())
	}
	return fmt.Errorf("%s failed validation:\n  %s", path, strings.Join(issues, "\n  "))
}
