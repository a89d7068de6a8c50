// Package engine is the embeddable entry point to cardmatch: it wires the
// document store, cache, embedding client and the pipeline stages
// (segmentation, indexing, retrieval, aggregation, selection) from a single
// Config and exposes them as one facade. The HTTP API and the CLI are both
// thin adapters over this package.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/cardmatch-ai/cardmatch/internal/cache"
	"github.com/cardmatch-ai/cardmatch/internal/catalog"
	"github.com/cardmatch-ai/cardmatch/internal/config"
	"github.com/cardmatch-ai/cardmatch/internal/embedding"
	"github.com/cardmatch-ai/cardmatch/internal/index"
	"github.com/cardmatch-ai/cardmatch/internal/observability"
	"github.com/cardmatch-ai/cardmatch/internal/retrieval"
	"github.com/cardmatch-ai/cardmatch/internal/segment"
	"github.com/cardmatch-ai/cardmatch/internal/selection"
	"github.com/cardmatch-ai/cardmatch/internal/store"
)

// Engine bundles the full recommendation pipeline over one document store.
// It is safe for concurrent use.
type Engine struct {
	logger *observability.Logger
	cfg    *config.Config

	docs     store.DocumentStore
	cache    cache.Client
	embedder embedding.Embedder

	segmenter  *segment.Segmenter
	indexer    *index.Indexer
	retriever  *retrieval.Retriever
	aggregator *retrieval.Aggregator
	selector   *selection.Selector
}

// New builds an Engine from configuration. A nil cfg uses defaults; a nil
// logger builds one from the observability section. Without an embedding API
// key the engine falls back to deterministic mock embeddings, which is only
// useful for local development and tests.
func New(cfg *config.Config, logger *observability.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{
			Level:       cfg.Observability.LogLevel,
			Format:      cfg.Observability.LogFormat,
			ServiceName: cfg.Observability.ServiceName,
		})
	}

	docs, err := openStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	cacheClient, err := openCache(cfg.Cache)
	if err != nil {
		_ = docs.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}

	embedder, err := newEmbedder(cfg.Embedding, logger)
	if err != nil {
		_ = cacheClient.Close()
		_ = docs.Close()
		return nil, fmt.Errorf("embedding client: %w", err)
	}

	segmenter := segment.NewSegmenter(logger, segment.Config{
		MaxChunkChars:   cfg.Segmenter.MaxChunkChars,
		MergeBelowChars: cfg.Segmenter.MergeBelowChars,
		MinKeepChars:    cfg.Segmenter.MinKeepChars,
	})

	indexer := index.NewIndexer(logger, segmenter, embedder, docs, index.Config{
		BatchSize: cfg.Embedding.BatchSize,
		Workers:   cfg.Indexing.Workers,
	})

	retriever := retrieval.NewRetriever(logger, docs, embedder, cacheClient, retrieval.RetrieverConfig{
		TopK:           cfg.Retrieval.TopK,
		OverProvision:  cfg.Retrieval.OverProvisionFactor,
		MaxFetch:       cfg.Retrieval.MaxFetchProducts,
		RescoreWorkers: cfg.Retrieval.RescoreWorkers,
		CacheResults:   cfg.Retrieval.CacheResults,
		CacheTTL:       cfg.Retrieval.CacheTTL,
	})

	aggregator := retrieval.NewAggregator(logger, docs, retrieval.AggregatorConfig{
		EvidencePerCard: cfg.Aggregation.EvidencePerCard,
		TopM:            cfg.Aggregation.TopM,
		SecondCoreBonus: cfg.Aggregation.SecondCoreBonus,
		ThirdCoreBonus:  cfg.Aggregation.ThirdCoreBonus,
		SecondCoreRatio: cfg.Aggregation.SecondCoreRatio,
		ThirdCoreRatio:  cfg.Aggregation.ThirdCoreRatio,
		CoverageBonus:   cfg.Aggregation.CoverageBonus,
	})

	selector := selection.NewSelector(logger, docs, selection.SelectorConfig{
		WarningPenalty:   cfg.Selection.WarningPenalty,
		WarningThreshold: cfg.Selection.WarningThreshold,
	})

	return &Engine{
		logger:     logger.WithComponent("engine"),
		cfg:        cfg,
		docs:       docs,
		cache:      cacheClient,
		embedder:   embedder,
		segmenter:  segmenter,
		indexer:    indexer,
		retriever:  retriever,
		aggregator: aggregator,
		selector:   selector,
	}, nil
}

func openStore(cfg config.StoreConfig) (store.DocumentStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(store.SQLiteConfig{
			Path:         cfg.SQLite.Path,
			JournalMode:  cfg.SQLite.JournalMode,
			MaxOpenConns: cfg.SQLite.MaxOpenConns,
		})
	case "postgres":
		return store.NewPostgresStore(store.PostgresConfig{
			DSN:             cfg.Postgres.DSN,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func openCache(cfg config.CacheConfig) (cache.Client, error) {
	switch cfg.Driver {
	case "", "memory":
		return cache.NewMemoryClient(cfg.MaxEntries), nil
	case "redis":
		return cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

func newEmbedder(cfg config.EmbeddingConfig, logger *observability.Logger) (embedding.Embedder, error) {
	if cfg.APIKey == "" {
		logger.Warn().
			Int("dimension", cfg.Dimension).
			Msg("no embedding api key configured, using mock embeddings")
		return embedding.NewMockClient(cfg.Dimension), nil
	}

	return embedding.NewClient(embedding.Config{
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		BaseURL:           cfg.BaseURL,
		Dimension:         cfg.Dimension,
		BatchSize:         cfg.BatchSize,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	})
}

// IndexProduct segments, embeds and stores a single benefit record.
func (e *Engine) IndexProduct(ctx context.Context, rec catalog.BenefitRecord, overwrite bool) (index.Result, error) {
	return e.indexer.IndexProduct(ctx, rec, overwrite)
}

// IndexBatch indexes records concurrently and reports per-record outcomes,
// including a resume point if the embedding quota runs out mid-run.
func (e *Engine) IndexBatch(ctx context.Context, recs []catalog.BenefitRecord, opts index.Options) index.Report {
	return e.indexer.IndexBatch(ctx, recs, opts)
}

// SearchChunks returns the raw top-k evidence chunks for a query, exactly
// re-scored, without per-product aggregation.
func (e *Engine) SearchChunks(ctx context.Context, query string, filters catalog.FilterSet, topK int) ([]store.ScoredChunk, error) {
	return e.retriever.SearchChunks(ctx, query, filters, topK)
}

// Search runs retrieval and aggregation: the query is embedded once, evidence
// chunks are fetched and re-scored, then folded into at most topM ranked
// product candidates carrying at most evidencePerCard chunks each. Zero topM
// or evidencePerCard fall back to configured defaults.
func (e *Engine) Search(ctx context.Context, query string, filters catalog.FilterSet, topM, evidencePerCard int) ([]retrieval.Candidate, error) {
	chunks, err := e.retriever.SearchChunks(ctx, query, filters, e.cfg.Retrieval.TopK)
	if err != nil {
		return nil, err
	}
	return e.aggregator.Aggregate(ctx, query, chunks, filters, topM, evidencePerCard)
}

// Recommend ranks benefit estimates by net annual value and picks a winner.
func (e *Engine) Recommend(ctx context.Context, estimates []selection.BenefitEstimate, prefs selection.Preferences) (*selection.Selection, error) {
	return e.selector.Select(ctx, estimates, prefs)
}

// Product returns the stored document for one product.
func (e *Engine) Product(ctx context.Context, productID int) (catalog.ProductDocument, error) {
	return e.docs.Get(ctx, productID)
}

// DeleteProduct removes one product's document. Cached search results that
// still mention it are left to expire.
func (e *Engine) DeleteProduct(ctx context.Context, productID int) error {
	return e.docs.Delete(ctx, productID)
}

// Stats reports store contents.
func (e *Engine) Stats(ctx context.Context) (store.Stats, error) {
	return e.docs.Stats(ctx)
}

// Ready verifies the store and cache are reachable. A cache miss on the
// probe key is the healthy outcome.
func (e *Engine) Ready(ctx context.Context) error {
	if _, err := e.docs.Stats(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if _, err := e.cache.Get(ctx, "readyz"); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}

// Purge removes every stored document and drops cached search results, which
// would otherwise keep serving evidence for products that no longer exist.
func (e *Engine) Purge(ctx context.Context) error {
	if err := e.docs.Purge(ctx); err != nil {
		return fmt.Errorf("purge store: %w", err)
	}
	if err := e.cache.DeleteByPrefix(ctx, "search:"); err != nil {
		e.logger.Warn().Err(err).Msg("cache purge failed, stale entries expire by ttl")
	}
	return nil
}

// Close releases the store and cache connections.
func (e *Engine) Close() error {
	cerr := e.cache.Close()
	if err := e.docs.Close(); err != nil {
		return err
	}
	return cerr
}
