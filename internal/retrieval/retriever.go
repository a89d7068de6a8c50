// Package retrieval turns a query into ranked candidate products: one query
// embedding, a filtered coarse fetch, an exact cosine re-score across every
// vector-bound chunk of the fetched products, and per-product aggregation.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cardmatch-ai/cardmatch/internal/cache"
	"github.com/cardmatch-ai/cardmatch/internal/catalog"
	"github.com/cardmatch-ai/cardmatch/internal/embedding"
	"github.com/cardmatch-ai/cardmatch/internal/observability"
	"github.com/cardmatch-ai/cardmatch/internal/store"
)

// Retrieval defaults.
const (
	DefaultTopK           = 50
	DefaultOverProvision  = 3
	DefaultMaxFetch       = 300
	DefaultRescoreWorkers = 4
)

// vectorDocTypes are the chunk types eligible for similarity search.
var vectorDocTypes = []catalog.DocType{
	catalog.DocTypeSummary,
	catalog.DocTypeCore,
	catalog.DocTypeNotes,
}

// RetrieverConfig holds retriever tuning.
type RetrieverConfig struct {
	// TopK is the number of chunks returned when the caller passes none.
	TopK int
	// OverProvision multiplies the coarse fetch size so the exact re-score
	// sees more products than the final cut needs.
	OverProvision int
	// MaxFetch caps the coarse fetch regardless of over-provisioning.
	MaxFetch int
	// RescoreWorkers bounds the re-scoring worker pool.
	RescoreWorkers int
	CacheResults   bool
	CacheTTL       time.Duration
}

// Retriever embeds queries once and returns the globally best chunks across
// all products passing the filter set.
type Retriever struct {
	logger   *observability.Logger
	docs     store.DocumentStore
	embedder embedding.Embedder
	cache    cache.Client
	config   RetrieverConfig
}

// NewRetriever creates a retriever. The cache client may be nil, in which
// case results are never cached.
func NewRetriever(logger *observability.Logger, docs store.DocumentStore, embedder embedding.Embedder, cacheClient cache.Client, cfg RetrieverConfig) *Retriever {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.OverProvision <= 0 {
		cfg.OverProvision = DefaultOverProvision
	}
	if cfg.MaxFetch <= 0 {
		cfg.MaxFetch = DefaultMaxFetch
	}
	if cfg.RescoreWorkers <= 0 {
		cfg.RescoreWorkers = DefaultRescoreWorkers
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Retriever{
		logger:   logger.WithComponent("retriever"),
		docs:     docs,
		embedder: embedder,
		cache:    cacheClient,
		config:   cfg,
	}
}

// SearchChunks returns the topK chunks most similar to the query across all
// products passing the filter set, sorted by descending similarity. The
// coarse index fetch only selects which products to score; final ordering
// always comes from the exact cosine pass.
func (r *Retriever) SearchChunks(ctx context.Context, query string, filters catalog.FilterSet, topK int) ([]store.ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query text required")
	}
	if topK <= 0 {
		topK = r.config.TopK
	}

	cacheKey := r.buildCacheKey(query, filters, topK)
	if cached, ok := r.checkCache(ctx, cacheKey); ok {
		r.logger.Debug().Str("query", query).Msg("cache hit")
		return cached, nil
	}

	start := time.Now()
	queryVector, err := r.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	fetchLimit := topK * r.config.OverProvision
	if fetchLimit > r.config.MaxFetch {
		fetchLimit = r.config.MaxFetch
	}
	coarse, err := r.docs.VectorSearch(ctx, queryVector, store.SearchOptions{
		Filters:  filters,
		DocTypes: vectorDocTypes,
		Limit:    fetchLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("candidate fetch: %w", err)
	}
	if len(coarse) == 0 {
		r.logger.Debug().Str("query", query).Msg("no candidates passed the filter set")
		return nil, nil
	}

	productIDs := distinctProducts(coarse)
	rescored, err := r.rescoreProducts(ctx, queryVector, productIDs)
	if err != nil {
		return nil, fmt.Errorf("rescore candidates: %w", err)
	}

	sort.Slice(rescored, func(i, j int) bool {
		if rescored[i].Score != rescored[j].Score {
			return rescored[i].Score > rescored[j].Score
		}
		return rescored[i].Chunk.DocID < rescored[j].Chunk.DocID
	})
	if len(rescored) > topK {
		rescored = rescored[:topK]
	}

	// Results carry text and metadata only; vectors stay in the store.
	for i := range rescored {
		rescored[i].Chunk.Vector = nil
	}

	r.cacheResult(ctx, cacheKey, rescored)

	r.logger.Debug().
		Str("query", query).
		Int("coarse", len(coarse)).
		Int("products", len(productIDs)).
		Int("chunks", len(rescored)).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Msg("retrieval complete")

	return rescored, nil
}

// rescoreProducts computes exact cosine similarity between the query vector
// and every vector-bound chunk of each product, sharded across a worker pool
// and merged by concatenation.
func (r *Retriever) rescoreProducts(ctx context.Context, queryVector []float32, productIDs []int) ([]store.ScoredChunk, error) {
	workers := r.config.RescoreWorkers
	if workers > len(productIDs) {
		workers = len(productIDs)
	}

	workChan := make(chan int, len(productIDs))
	for _, id := range productIDs {
		workChan <- id
	}
	close(workChan)

	var (
		mu       sync.Mutex
		scored   []store.ScoredChunk
		firstErr error
		wg       sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for productID := range workChan {
				if ctx.Err() != nil {
					return
				}
				doc, err := r.docs.Get(ctx, productID)
				if err != nil {
					// A product deleted between fetch and re-score simply
					// drops out of the result.
					if errors.Is(err, store.ErrNotFound) {
						continue
					}
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				local := make([]store.ScoredChunk, 0, len(doc.Chunks))
				for _, ch := range doc.Chunks {
					if len(ch.Vector) == 0 || !ch.DocType.VectorBound() {
						continue
					}
					local = append(local, store.ScoredChunk{
						Chunk: ch,
						Score: store.Cosine(queryVector, ch.Vector),
					})
				}
				mu.Lock()
				scored = append(scored, local...)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return scored, nil
}

// distinctProducts returns the product IDs behind the coarse candidates,
// first-seen order.
func distinctProducts(chunks []store.ScoredChunk) []int {
	seen := make(map[int]struct{}, len(chunks))
	var ids []int
	for _, sc := range chunks {
		id := sc.Chunk.Metadata.ProductID
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// buildCacheKey hashes the full request material, including the embedder
// model so a model swap never serves stale scores.
func (r *Retriever) buildCacheKey(query string, filters catalog.FilterSet, topK int) string {
	material, _ := json.Marshal(struct {
		Query   string            `json:"query"`
		Filters catalog.FilterSet `json:"filters"`
		TopK    int               `json:"top_k"`
		Model   string            `json:"model"`
	}{query, filters, topK, r.embedder.Model()})
	sum := sha256.Sum256(material)
	return cache.CacheKey("search", hex.EncodeToString(sum[:]))
}

// checkCache returns a cached result set. Any cache failure reads as a miss.
func (r *Retriever) checkCache(ctx context.Context, key string) ([]store.ScoredChunk, bool) {
	if r.cache == nil || !r.config.CacheResults {
		return nil, false
	}
	raw, err := r.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			r.logger.Warn().Err(err).Msg("cache read failed, serving uncached")
		}
		return nil, false
	}
	var cached []store.ScoredChunk
	if err := json.Unmarshal(raw, &cached); err != nil {
		r.logger.Warn().Err(err).Msg("cache entry unreadable, serving uncached")
		return nil, false
	}
	return cached, true
}

// cacheResult stores a result set best-effort.
func (r *Retriever) cacheResult(ctx context.Context, key string, chunks []store.ScoredChunk) {
	if r.cache == nil || !r.config.CacheResults {
		return
	}
	raw, err := json.Marshal(chunks)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, raw, r.config.CacheTTL); err != nil {
		r.logger.Warn().Err(err).Msg("cache write failed")
	}
}
