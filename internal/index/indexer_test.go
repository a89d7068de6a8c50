package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
	"github.com/cardmatch-ai/cardmatch/internal/embedding"
	"github.com/cardmatch-ai/cardmatch/internal/segment"
	"github.com/cardmatch-ai/cardmatch/internal/store"
)

// scriptedEmbedder delegates to the deterministic mock but fails every call
// after a spent budget, for exercising abort paths.
type scriptedEmbedder struct {
	mu        sync.Mutex
	inner     *embedding.MockClient
	model     string
	calls     int
	failAfter int // successful calls allowed; negative means never fail
	failWith  error
}

func newScriptedEmbedder(dimension, failAfter int, failWith error) *scriptedEmbedder {
	return &scriptedEmbedder{
		inner:     embedding.NewMockClient(dimension),
		failAfter: failAfter,
		failWith:  failWith,
	}
}

func (s *scriptedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	exhausted := s.failAfter >= 0 && s.calls > s.failAfter
	failWith := s.failWith
	s.mu.Unlock()
	if exhausted {
		return nil, failWith
	}
	return s.inner.Embed(ctx, texts)
}

func (s *scriptedEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *scriptedEmbedder) Model() string {
	if s.model != "" {
		return s.model
	}
	return s.inner.Model()
}

func (s *scriptedEmbedder) Dimension() int {
	return s.inner.Dimension()
}

func (s *scriptedEmbedder) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestIndexer(t *testing.T, embedder embedding.Embedder) (*Indexer, *store.MemoryStore) {
	t.Helper()
	docs := store.NewMemoryStore()
	seg := segment.NewSegmenter(nil, segment.Config{})
	return NewIndexer(nil, seg, embedder, docs, Config{}), docs
}

// identityRecord has a name and issuer but no benefits: it segments into a
// single summary chunk and no rules.
func identityRecord(id int) catalog.BenefitRecord {
	return catalog.BenefitRecord{
		ProductID: id,
		Name:      fmt.Sprintf("Card %d", id),
		Issuer:    "Hana Card",
		Type:      catalog.ProductTypeCredit,
	}
}

func benefitRecord(id int) catalog.BenefitRecord {
	return catalog.BenefitRecord{
		ProductID:           id,
		Name:                "Daily Rewards",
		Issuer:              "Hana Card",
		Type:                catalog.ProductTypeCredit,
		MinSpendRequirement: 300000,
		Benefits: []catalog.BenefitEntry{
			{
				CategoryLabel: "Cafe",
				RawHTML: "<li>10% discount at major coffee chains and independent cafes nationwide on weekdays</li>" +
					"<li>Gift card purchases and prepaid top-up transactions are excluded from rewards</li>",
			},
		},
	}
}

func TestIndexProduct_IndexesNewRecord(t *testing.T) {
	ix, docs := newTestIndexer(t, embedding.NewMockClient(32))
	ctx := context.Background()

	res, err := ix.IndexProduct(ctx, benefitRecord(101), false)
	require.NoError(t, err)

	// Summary plus one core chunk are vector-bound; the exclusion line
	// becomes a rule chunk.
	assert.Equal(t, StatusIndexed, res.Status)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, 1, res.RuleChunks)

	doc, err := docs.Get(ctx, 101)
	require.NoError(t, err)
	assert.True(t, doc.Indexed(), "stored document should hold vectors")
	require.NotNil(t, doc.EmbeddingMeta)
	assert.Equal(t, "mock-embedding-model", doc.EmbeddingMeta.Model)
	assert.Equal(t, 32, doc.EmbeddingMeta.Dimension)
	assert.False(t, doc.EmbeddingMeta.IndexedAt.IsZero())
	for _, ch := range doc.Chunks {
		assert.Len(t, ch.Vector, 32, "chunk %s should carry a vector", ch.DocID)
	}
	for _, ch := range doc.RuleChunks {
		assert.Empty(t, ch.Vector, "rule chunk %s must stay unembedded", ch.DocID)
	}
}

func TestIndexProduct_SkipsWhenAlreadyIndexed(t *testing.T) {
	embedder := newScriptedEmbedder(32, -1, nil)
	ix, docs := newTestIndexer(t, embedder)
	ctx := context.Background()

	_, err := ix.IndexProduct(ctx, benefitRecord(101), false)
	require.NoError(t, err)
	first, err := docs.Get(ctx, 101)
	require.NoError(t, err)
	callsAfterFirst := embedder.callCount()

	res, err := ix.IndexProduct(ctx, benefitRecord(101), false)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, 2, res.Chunks, "skip reports the stored chunk count")
	assert.Equal(t, callsAfterFirst, embedder.callCount(), "skip must not call the embedder")

	second, err := docs.Get(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, first.EmbeddingMeta.IndexedAt, second.EmbeddingMeta.IndexedAt, "document must be untouched")
}

func TestIndexProduct_OverwriteReindexes(t *testing.T) {
	embedder := newScriptedEmbedder(32, -1, nil)
	ix, docs := newTestIndexer(t, embedder)
	ctx := context.Background()

	_, err := ix.IndexProduct(ctx, benefitRecord(101), false)
	require.NoError(t, err)
	first, err := docs.Get(ctx, 101)
	require.NoError(t, err)
	callsAfterFirst := embedder.callCount()

	res, err := ix.IndexProduct(ctx, benefitRecord(101), true)
	require.NoError(t, err)
	assert.Equal(t, StatusIndexed, res.Status)
	assert.Greater(t, embedder.callCount(), callsAfterFirst, "overwrite re-embeds")

	// The pipeline is deterministic, so identical input stores identical
	// chunk sets both times.
	second, err := docs.Get(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, first.Chunks, second.Chunks)
	assert.Equal(t, first.RuleChunks, second.RuleChunks)
}

func TestIndexProduct_ModelChangeInvalidatesSkip(t *testing.T) {
	first := newScriptedEmbedder(32, -1, nil)
	ixA, docs := newTestIndexer(t, first)
	ctx := context.Background()

	_, err := ixA.IndexProduct(ctx, benefitRecord(101), false)
	require.NoError(t, err)

	// Same store, new embedder identity: the stored vectors no longer match
	// and the record must be re-embedded even without overwrite.
	second := newScriptedEmbedder(32, -1, nil)
	second.model = "mock-embedding-model-v2"
	seg := segment.NewSegmenter(nil, segment.Config{})
	ixB := NewIndexer(nil, seg, second, docs, Config{})

	res, err := ixB.IndexProduct(ctx, benefitRecord(101), false)
	require.NoError(t, err)
	assert.Equal(t, StatusIndexed, res.Status)

	doc, err := docs.Get(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, "mock-embedding-model-v2", doc.EmbeddingMeta.Model)
}

func TestIndexProduct_EmptyRecordNotStored(t *testing.T) {
	ix, docs := newTestIndexer(t, embedding.NewMockClient(32))
	ctx := context.Background()

	res, err := ix.IndexProduct(ctx, catalog.BenefitRecord{ProductID: 9}, false)
	require.NoError(t, err)
	assert.Equal(t, StatusEmpty, res.Status)

	_, err = docs.Get(ctx, 9)
	assert.ErrorIs(t, err, store.ErrNotFound, "empty records must not be stored")
}

func TestIndexProduct_EmbedderFailureReported(t *testing.T) {
	embedder := newScriptedEmbedder(32, 0, errors.New("connection reset"))
	ix, docs := newTestIndexer(t, embedder)
	ctx := context.Background()

	res, err := ix.IndexProduct(ctx, benefitRecord(101), false)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Error(t, res.Err)

	_, err = docs.Get(ctx, 101)
	assert.ErrorIs(t, err, store.ErrNotFound, "failed records must not be stored")
}

func TestIndexBatch_ReportsCounts(t *testing.T) {
	ix, _ := newTestIndexer(t, embedding.NewMockClient(32))
	ctx := context.Background()

	// Pre-index record 1 so the batch sees it as already done.
	_, err := ix.IndexProduct(ctx, identityRecord(1), false)
	require.NoError(t, err)

	recs := []catalog.BenefitRecord{
		identityRecord(1),
		identityRecord(2),
		benefitRecord(3),
		{ProductID: 4}, // nothing to extract
	}

	var mu sync.Mutex
	var doneSeen []int
	report := ix.IndexBatch(ctx, recs, Options{
		Workers: 2,
		OnProgress: func(p Progress) {
			mu.Lock()
			doneSeen = append(doneSeen, p.Done)
			mu.Unlock()
		},
	})

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Empty)
	assert.Zero(t, report.Failed)
	assert.Zero(t, report.Aborted)
	assert.False(t, report.QuotaExhausted)
	assert.Nil(t, report.ResumeFrom)

	// Results stay in input order regardless of worker scheduling.
	require.Len(t, report.Results, 4)
	assert.Equal(t, StatusSkipped, report.Results[0].Status)
	assert.Equal(t, StatusIndexed, report.Results[1].Status)
	assert.Equal(t, StatusIndexed, report.Results[2].Status)
	assert.Equal(t, StatusEmpty, report.Results[3].Status)
	for i, r := range report.Results {
		assert.Equal(t, recs[i].ProductID, r.ProductID)
	}

	// Every record produced exactly one progress tick with a unique counter.
	sort.Ints(doneSeen)
	assert.Equal(t, []int{1, 2, 3, 4}, doneSeen)
}

func TestIndexBatch_QuotaAbortSetsResumePoint(t *testing.T) {
	// Each identity record costs one embed call; allow two, then the quota
	// error hits record 2 and the rest of the run must stop.
	quotaErr := fmt.Errorf("status 429: %w", embedding.ErrQuotaExhausted)
	embedder := newScriptedEmbedder(32, 2, quotaErr)
	ix, docs := newTestIndexer(t, embedder)
	ctx := context.Background()

	recs := []catalog.BenefitRecord{
		identityRecord(1),
		identityRecord(2),
		identityRecord(3),
		identityRecord(4),
		identityRecord(5),
	}

	report := ix.IndexBatch(ctx, recs, Options{Workers: 1})

	assert.True(t, report.QuotaExhausted)
	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Aborted)
	require.NotNil(t, report.ResumeFrom)
	assert.Equal(t, 2, *report.ResumeFrom, "resume from the first record the run did not finish")

	assert.Equal(t, StatusFailed, report.Results[2].Status)
	assert.ErrorIs(t, report.Results[2].Err, embedding.ErrQuotaExhausted)
	assert.Equal(t, StatusAborted, report.Results[3].Status)
	assert.Equal(t, StatusAborted, report.Results[4].Status)

	// Nothing past the quota hit reached the store.
	_, err := docs.Get(ctx, 4)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Rerunning the unfinished tail after a quota top-up completes the set.
	embedder.mu.Lock()
	embedder.failAfter = -1
	embedder.mu.Unlock()

	second := ix.IndexBatch(ctx, recs[*report.ResumeFrom:], Options{Workers: 1})
	assert.Equal(t, 3, second.Indexed)
	assert.Zero(t, second.Failed)
	assert.False(t, second.QuotaExhausted)
}

func TestIndexBatch_EmptyInput(t *testing.T) {
	ix, _ := newTestIndexer(t, embedding.NewMockClient(32))

	report := ix.IndexBatch(context.Background(), nil, Options{})

	assert.NotEmpty(t, report.RunID)
	assert.Zero(t, report.Total)
	assert.Empty(t, report.Results)
}

func TestIndexBatch_CancelledContextAbortsAll(t *testing.T) {
	ix, _ := newTestIndexer(t, embedding.NewMockClient(32))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	recs := []catalog.BenefitRecord{identityRecord(1), identityRecord(2)}
	report := ix.IndexBatch(ctx, recs, Options{Workers: 2})

	assert.Equal(t, 2, report.Aborted)
	assert.Zero(t, report.Indexed)
	assert.False(t, report.QuotaExhausted)
	assert.Nil(t, report.ResumeFrom, "resume points are only reported for quota stops")
}
