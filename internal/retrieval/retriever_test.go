package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardmatch-ai/cardmatch/internal/cache"
	"github.com/cardmatch-ai/cardmatch/internal/catalog"
	"github.com/cardmatch-ai/cardmatch/internal/embedding"
	"github.com/cardmatch-ai/cardmatch/internal/store"
)

// countingEmbedder tracks query embedding calls to observe cache hits.
type countingEmbedder struct {
	*embedding.MockClient
	mu      sync.Mutex
	singles int
}

func (c *countingEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.singles++
	c.mu.Unlock()
	return c.MockClient.EmbedSingle(ctx, text)
}

func (c *countingEmbedder) singleCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.singles
}

// failingEmbedder refuses query embeddings.
type failingEmbedder struct {
	embedding.Embedder
}

func (failingEmbedder) EmbedSingle(context.Context, string) ([]float32, error) {
	return nil, errors.New("backend down")
}

// erroringCache fails every operation.
type erroringCache struct{}

func (erroringCache) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("cache down")
}
func (erroringCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}
func (erroringCache) Delete(context.Context, string) error         { return errors.New("cache down") }
func (erroringCache) DeleteByPrefix(context.Context, string) error { return errors.New("cache down") }
func (erroringCache) Close() error                                 { return nil }

type chunkSpec struct {
	docType catalog.DocType
	text    string
}

// seedProduct embeds the given texts with the mock and stores the document.
func seedProduct(t *testing.T, docs store.DocumentStore, mc *embedding.MockClient, doc catalog.ProductDocument, specs []chunkSpec) {
	t.Helper()
	ctx := context.Background()
	for i, cs := range specs {
		vector, err := mc.EmbedSingle(ctx, cs.text)
		require.NoError(t, err)
		doc.Chunks = append(doc.Chunks, catalog.Chunk{
			DocID:   catalog.VectorDocID(doc.ProductID, cs.docType, i),
			DocType: cs.docType,
			Text:    cs.text,
			Vector:  vector,
			Metadata: catalog.ChunkMetadata{
				ProductID:           doc.ProductID,
				FeeTotal:            doc.FeeTotal,
				MinSpendRequirement: doc.MinSpendRequirement,
				Type:                doc.Type,
				Issuer:              doc.Issuer,
			},
		})
	}
	doc.EmbeddingMeta = &catalog.EmbeddingMeta{
		Model:     mc.Model(),
		Dimension: mc.Dimension(),
		IndexedAt: time.Now().UTC(),
	}
	require.NoError(t, docs.Upsert(ctx, doc))
}

func TestSearchChunks_RanksByExactCosine(t *testing.T) {
	docs := store.NewMemoryStore()
	mc := embedding.NewMockClient(256)

	seedProduct(t, docs, mc, catalog.ProductDocument{ProductID: 1, Name: "Cafe Card"}, []chunkSpec{
		{catalog.DocTypeCore, "coffee discount at major cafe chains on weekday mornings"},
	})
	seedProduct(t, docs, mc, catalog.ProductDocument{ProductID: 2, Name: "Cinema Card"}, []chunkSpec{
		{catalog.DocTypeCore, "movie ticket discount at cinema locations on weekend evenings"},
	})

	r := NewRetriever(nil, docs, mc, nil, RetrieverConfig{})
	results, err := r.SearchChunks(context.Background(), "coffee cafe discount", catalog.FilterSet{}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, 1, results[0].Chunk.Metadata.ProductID, "three shared tokens beat one")
	assert.Greater(t, results[0].Score, results[1].Score)
	for _, sc := range results {
		assert.Empty(t, sc.Chunk.Vector, "results must not carry vectors")
	}
}

func TestSearchChunks_ExcludesDiscontinuedAndFiltered(t *testing.T) {
	docs := store.NewMemoryStore()
	mc := embedding.NewMockClient(256)
	text := "coffee discount at major cafe chains"

	seedProduct(t, docs, mc, catalog.ProductDocument{
		ProductID: 1, Name: "Keeper", FeeTotal: catalog.IntPtr(15000),
	}, []chunkSpec{{catalog.DocTypeCore, text}})
	seedProduct(t, docs, mc, catalog.ProductDocument{
		ProductID: 2, Name: "Gone", Discontinued: true,
	}, []chunkSpec{{catalog.DocTypeCore, text}})
	seedProduct(t, docs, mc, catalog.ProductDocument{
		ProductID: 3, Name: "Too Costly", FeeTotal: catalog.IntPtr(30000),
	}, []chunkSpec{{catalog.DocTypeCore, text}})

	r := NewRetriever(nil, docs, mc, nil, RetrieverConfig{})
	filters := catalog.FilterSet{FeeMax: catalog.IntPtr(20000)}
	results, err := r.SearchChunks(context.Background(), "coffee cafe", filters, 10)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Chunk.Metadata.ProductID)
}

func TestSearchChunks_TopKBoundsResults(t *testing.T) {
	docs := store.NewMemoryStore()
	mc := embedding.NewMockClient(256)

	seedProduct(t, docs, mc, catalog.ProductDocument{ProductID: 1, Name: "Wide Card"}, []chunkSpec{
		{catalog.DocTypeSummary, "credit card with coffee grocery and transit benefits"},
		{catalog.DocTypeCore, "coffee discount at cafe chains"},
		{catalog.DocTypeCore, "grocery points at supermarkets"},
		{catalog.DocTypeNotes, "combined discount caps apply monthly"},
	})

	r := NewRetriever(nil, docs, mc, nil, RetrieverConfig{})
	results, err := r.SearchChunks(context.Background(), "coffee cafe discount", catalog.FilterSet{}, 2)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestSearchChunks_EmptyQueryRejected(t *testing.T) {
	r := NewRetriever(nil, store.NewMemoryStore(), embedding.NewMockClient(8), nil, RetrieverConfig{})

	_, err := r.SearchChunks(context.Background(), "   ", catalog.FilterSet{}, 5)
	assert.Error(t, err)
}

func TestSearchChunks_EmptyStoreReturnsEmpty(t *testing.T) {
	r := NewRetriever(nil, store.NewMemoryStore(), embedding.NewMockClient(8), nil, RetrieverConfig{})

	results, err := r.SearchChunks(context.Background(), "coffee", catalog.FilterSet{}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchChunks_CachesRepeatQueries(t *testing.T) {
	docs := store.NewMemoryStore()
	counting := &countingEmbedder{MockClient: embedding.NewMockClient(256)}

	seedProduct(t, docs, counting.MockClient, catalog.ProductDocument{ProductID: 1, Name: "Cafe Card"}, []chunkSpec{
		{catalog.DocTypeCore, "coffee discount at cafe chains"},
	})

	memCache := cache.NewMemoryClient(100)
	defer memCache.Close()
	r := NewRetriever(nil, docs, counting, memCache, RetrieverConfig{CacheResults: true, CacheTTL: time.Minute})

	ctx := context.Background()
	first, err := r.SearchChunks(ctx, "coffee", catalog.FilterSet{}, 5)
	require.NoError(t, err)
	require.Equal(t, 1, counting.singleCalls())

	second, err := r.SearchChunks(ctx, "coffee", catalog.FilterSet{}, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, counting.singleCalls(), "repeat query must be served from cache")
	assert.Equal(t, first, second)

	// A different topK is a different request.
	_, err = r.SearchChunks(ctx, "coffee", catalog.FilterSet{}, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, counting.singleCalls())
}

func TestSearchChunks_CacheFailureDegradesToUncached(t *testing.T) {
	docs := store.NewMemoryStore()
	mc := embedding.NewMockClient(256)

	seedProduct(t, docs, mc, catalog.ProductDocument{ProductID: 1, Name: "Cafe Card"}, []chunkSpec{
		{catalog.DocTypeCore, "coffee discount at cafe chains"},
	})

	r := NewRetriever(nil, docs, mc, erroringCache{}, RetrieverConfig{CacheResults: true})
	results, err := r.SearchChunks(context.Background(), "coffee", catalog.FilterSet{}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Chunk.Metadata.ProductID)
}

func TestSearchChunks_EmbedderErrorSurfaces(t *testing.T) {
	mc := embedding.NewMockClient(8)
	r := NewRetriever(nil, store.NewMemoryStore(), failingEmbedder{Embedder: mc}, nil, RetrieverConfig{})

	_, err := r.SearchChunks(context.Background(), "coffee", catalog.FilterSet{}, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed query")
}
