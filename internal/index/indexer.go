// Package index builds and upserts embedded product documents.
package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
	"github.com/cardmatch-ai/cardmatch/internal/embedding"
	"github.com/cardmatch-ai/cardmatch/internal/observability"
	"github.com/cardmatch-ai/cardmatch/internal/segment"
	"github.com/cardmatch-ai/cardmatch/internal/store"
)

// Status is the per-product outcome of an indexing attempt.
type Status string

const (
	// StatusIndexed means the document was embedded and upserted.
	StatusIndexed Status = "indexed"
	// StatusSkipped means the product was already indexed and overwrite was off.
	StatusSkipped Status = "skipped"
	// StatusEmpty means the record had no extractable text and was not stored.
	StatusEmpty Status = "empty"
	// StatusFailed means embedding or storage failed.
	StatusFailed Status = "failed"
	// StatusAborted means the run stopped before reaching this record.
	StatusAborted Status = "aborted"
)

// Result is the outcome for one product.
type Result struct {
	ProductID  int    `json:"product_id"`
	Status     Status `json:"status"`
	Chunks     int    `json:"chunks"`
	RuleChunks int    `json:"rule_chunks"`
	Err        error  `json:"-"`
}

// Progress is delivered to the batch progress callback after each product.
type Progress struct {
	RunID     string
	Done      int
	Total     int
	ProductID int
	Status    Status
}

// Report summarizes one batch run.
type Report struct {
	RunID          string        `json:"run_id"`
	Total          int           `json:"total"`
	Indexed        int           `json:"indexed"`
	Skipped        int           `json:"skipped"`
	Empty          int           `json:"empty"`
	Failed         int           `json:"failed"`
	Aborted        int           `json:"aborted"`
	QuotaExhausted bool          `json:"quota_exhausted"`
	ResumeFrom     *int          `json:"resume_from,omitempty"`
	Elapsed        time.Duration `json:"elapsed"`
	Results        []Result      `json:"results"`
}

// Options control one batch run.
type Options struct {
	Overwrite  bool
	Workers    int
	OnProgress func(Progress)
}

// Config holds indexer defaults.
type Config struct {
	BatchSize int
	Workers   int
}

// Indexer turns benefit records into embedded documents in the store.
type Indexer struct {
	logger    *observability.Logger
	segmenter *segment.Segmenter
	embedder  embedding.Embedder
	docs      store.DocumentStore
	batchSize int
	workers   int
}

// NewIndexer creates an indexer, applying defaults for zero config values.
func NewIndexer(logger *observability.Logger, seg *segment.Segmenter, embedder embedding.Embedder, docs store.DocumentStore, cfg Config) *Indexer {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > embedding.MaxBatchSize {
		batchSize = embedding.MaxBatchSize
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Indexer{
		logger:    logger.WithComponent("indexer"),
		segmenter: seg,
		embedder:  embedder,
		docs:      docs,
		batchSize: batchSize,
		workers:   workers,
	}
}

// IndexProduct segments, embeds and upserts one record. Without overwrite, a
// product already indexed by the same model and dimension is left untouched.
func (ix *Indexer) IndexProduct(ctx context.Context, rec catalog.BenefitRecord, overwrite bool) (Result, error) {
	res := Result{ProductID: rec.ProductID}

	if !overwrite {
		existing, err := ix.docs.Get(ctx, rec.ProductID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			res.Status = StatusFailed
			res.Err = err
			return res, fmt.Errorf("check existing %d: %w", rec.ProductID, err)
		}
		if err == nil && existing.Indexed() && ix.metaCurrent(existing.EmbeddingMeta) {
			res.Status = StatusSkipped
			res.Chunks = len(existing.Chunks)
			res.RuleChunks = len(existing.RuleChunks)
			ix.logger.Debug().Int("product_id", rec.ProductID).Msg("already indexed, skipping")
			return res, nil
		}
	}

	chunks, rules := ix.segmenter.BuildDocuments(rec)
	if len(chunks) == 0 && len(rules) == 0 {
		res.Status = StatusEmpty
		ix.logger.Warn().Int("product_id", rec.ProductID).Msg("no extractable text, record skipped")
		return res, nil
	}

	if err := ix.embedChunks(ctx, chunks); err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res, fmt.Errorf("embed product %d: %w", rec.ProductID, err)
	}

	now := time.Now().UTC()
	doc := catalog.ProductDocument{
		ProductID:           rec.ProductID,
		Name:                rec.Name,
		Issuer:              rec.Issuer,
		Type:                rec.Type,
		Brands:              rec.Brands,
		FeeTotal:            rec.FeeTotal,
		MinSpendRequirement: rec.MinSpendRequirement,
		OnlineOnly:          rec.OnlineOnly,
		Discontinued:        rec.Discontinued,
		Chunks:              chunks,
		RuleChunks:          rules,
		EmbeddingMeta: &catalog.EmbeddingMeta{
			Model:     ix.embedder.Model(),
			Dimension: ix.embedder.Dimension(),
			IndexedAt: now,
		},
		UpdatedAt: now,
	}
	if err := ix.docs.Upsert(ctx, doc); err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res, fmt.Errorf("upsert product %d: %w", rec.ProductID, err)
	}

	res.Status = StatusIndexed
	res.Chunks = len(chunks)
	res.RuleChunks = len(rules)
	ix.logger.Debug().
		Int("product_id", rec.ProductID).
		Int("chunks", len(chunks)).
		Int("rule_chunks", len(rules)).
		Msg("product indexed")
	return res, nil
}

// embedChunks fills chunk vectors in place, batching requests.
func (ix *Indexer) embedChunks(ctx context.Context, chunks []catalog.Chunk) error {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	for start := 0; start < len(texts); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := ix.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		for i, v := range vectors {
			chunks[start+i].Vector = v
		}
	}
	return nil
}

// metaCurrent reports whether stored embedding metadata matches the active
// embedder. A model or dimension change invalidates stored vectors.
func (ix *Indexer) metaCurrent(meta *catalog.EmbeddingMeta) bool {
	return meta != nil && meta.Model == ix.embedder.Model() && meta.Dimension == ix.embedder.Dimension()
}

// IndexBatch indexes records concurrently. On quota exhaustion the run stops,
// marks unreached records aborted and reports the position to resume from.
func (ix *Indexer) IndexBatch(ctx context.Context, recs []catalog.BenefitRecord, opts Options) Report {
	start := time.Now()
	report := Report{
		RunID: uuid.New().String(),
		Total: len(recs),
	}
	if len(recs) == 0 {
		return report
	}

	logger := ix.logger.With().Str("run_id", report.RunID).Logger()
	logger.Info().Int("total", len(recs)).Bool("overwrite", opts.Overwrite).Msg("index run started")

	workers := opts.Workers
	if workers <= 0 {
		workers = ix.workers
	}
	if workers > len(recs) {
		workers = len(recs)
	}

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type workItem struct {
		index int
		rec   catalog.BenefitRecord
	}
	workChan := make(chan workItem, len(recs))
	for i, rec := range recs {
		workChan <- workItem{index: i, rec: rec}
	}
	close(workChan)

	results := make([]Result, len(recs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var quotaOnce sync.Once
	done := 0

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workChan {
				if batchCtx.Err() != nil {
					mu.Lock()
					results[item.index] = Result{ProductID: item.rec.ProductID, Status: StatusAborted, Err: batchCtx.Err()}
					mu.Unlock()
					continue
				}

				res, err := ix.IndexProduct(batchCtx, item.rec, opts.Overwrite)
				if err != nil {
					if errors.Is(err, embedding.ErrQuotaExhausted) {
						quotaOnce.Do(func() {
							mu.Lock()
							report.QuotaExhausted = true
							mu.Unlock()
							logger.Error().Int("product_id", item.rec.ProductID).Msg("embedding quota exhausted, aborting run")
							cancel()
						})
					} else {
						logger.Error().Err(err).Int("product_id", item.rec.ProductID).Msg("indexing failed")
					}
				}

				mu.Lock()
				results[item.index] = res
				done++
				progress := Progress{
					RunID:     report.RunID,
					Done:      done,
					Total:     len(recs),
					ProductID: item.rec.ProductID,
					Status:    res.Status,
				}
				mu.Unlock()

				if opts.OnProgress != nil {
					opts.OnProgress(progress)
				}
			}
		}()
	}
	wg.Wait()

	report.Results = results
	for _, r := range results {
		switch r.Status {
		case StatusIndexed:
			report.Indexed++
		case StatusSkipped:
			report.Skipped++
		case StatusEmpty:
			report.Empty++
		case StatusAborted:
			report.Aborted++
		default:
			report.Failed++
		}
	}

	if report.QuotaExhausted {
		for i, r := range results {
			if r.Status == StatusFailed || r.Status == StatusAborted {
				resume := i
				report.ResumeFrom = &resume
				break
			}
		}
	}

	report.Elapsed = time.Since(start)
	logger.Info().
		Int("indexed", report.Indexed).
		Int("skipped", report.Skipped).
		Int("empty", report.Empty).
		Int("failed", report.Failed).
		Int("aborted", report.Aborted).
		Dur("elapsed", report.Elapsed).
		Msg("index run finished")

	return report
}
