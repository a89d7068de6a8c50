package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
	"github.com/cardmatch-ai/cardmatch/internal/index"
)

// newIndexCmd creates the index subcommand.
func newIndexCmd() *cobra.Command {
	var (
		file      string
		overwrite bool
		workers   int
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Embed and index a benefit catalog file",
		Long: `Index reads a JSON benefit catalog, segments each card's benefit sections
into evidence chunks, embeds them, and upserts the result into the store.

Already-indexed cards are skipped unless --overwrite is set. When the
embedding quota runs out mid-run, the completed portion stays durable and
the report names the offset to resume from.

Example:
  cardmatch index --file catalog.json
  cardmatch index --file catalog.json --overwrite --workers 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()

			records, err := readCatalog(file)
			if err != nil {
				return err
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			logger.Info().
				Int("records", len(records)).
				Bool("overwrite", overwrite).
				Int("workers", workers).
				Msg("Starting index run")

			opts := index.Options{
				Overwrite: overwrite,
				Workers:   workers,
			}

			// One synced multi-bar when workers fan out, a plain
			// single-line bar otherwise.
			var multiBar *mpb.Bar
			var lineBar *ProgressBar
			if !outputJSON {
				if workers > 1 {
					multiBar = ui.ProgressBar("indexing", int64(len(records)))
					if multiBar != nil {
						opts.OnProgress = func(p index.Progress) {
							multiBar.SetCurrent(int64(p.Done))
						}
					}
				} else {
					lineBar = NewProgressBar(int64(len(records)), "indexing")
					opts.OnProgress = func(p index.Progress) {
						lineBar.Set(int64(p.Done))
					}
				}
			}

			report := eng.IndexBatch(ctx, records, opts)

			if multiBar != nil && !multiBar.Completed() {
				multiBar.Abort(true)
			}
			if lineBar != nil {
				if report.QuotaExhausted {
					lineBar.Abort()
				} else {
					lineBar.Finish()
				}
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			ui.Section("index report")
			ui.KeyValue("run", report.RunID)
			ui.KeyValue("total", report.Total)
			ui.KeyValue("indexed", report.Indexed)
			ui.KeyValue("skipped", report.Skipped)
			ui.KeyValue("empty", report.Empty)
			ui.KeyValue("failed", report.Failed)
			ui.KeyValue("elapsed", FormatDuration(report.Elapsed))
			ui.Newline()

			for _, r := range report.Results {
				if r.Status == index.StatusFailed && r.Err != nil {
					ui.Error("product %d: %v", r.ProductID, r.Err)
				}
			}

			if report.QuotaExhausted {
				ui.Warning("embedding quota exhausted, %d records were not attempted", report.Aborted)
				if report.ResumeFrom != nil {
					ui.Warning("re-run with the catalog sliced from offset %d to finish", *report.ResumeFrom)
				}
				return nil
			}

			if report.Failed > 0 {
				ui.Warning("%d of %d products failed, see errors above", report.Failed, report.Total)
				return nil
			}

			ui.Success("indexed %d of %d products in %s", report.Indexed, report.Total, FormatDuration(report.Elapsed))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the JSON benefit catalog (required)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "re-embed cards that are already indexed")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent embedding workers (0 uses the configured default)")
	cmd.MarkFlagRequired("file")

	return cmd
}

// readCatalog loads a benefit catalog file. The file holds a JSON array of
// benefit records as produced by the ingestion collaborator.
func readCatalog(path string) ([]catalog.BenefitRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var records []catalog.BenefitRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("catalog %s holds no records", path)
	}

	for i, rec := range records {
		if rec.ProductID <= 0 {
			return nil, fmt.Errorf("catalog record %d: missing product_id", i)
		}
		if rec.Type != "" && !rec.Type.Valid() {
			return nil, fmt.Errorf("catalog record %d: unknown product type %q", i, rec.Type)
		}
	}

	return records, nil
}
