package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
	"github.com/cardmatch-ai/cardmatch/internal/config"
	"github.com/cardmatch-ai/cardmatch/internal/index"
	"github.com/cardmatch-ai/cardmatch/internal/retrieval"
	"github.com/cardmatch-ai/cardmatch/internal/selection"
	"github.com/cardmatch-ai/cardmatch/internal/store"
)

// newTestEngine wires the default memory store and cache with mock
// embeddings, the same path a developer gets with no API key configured.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Embedding.Dimension = 256
	eng, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func paymentCard(id int) catalog.BenefitRecord {
	fee := 17000
	return catalog.BenefitRecord{
		ProductID:           id,
		Name:                "Smart Pay Plus",
		Issuer:              "Shinhan Card",
		Type:                catalog.ProductTypeCredit,
		FeeTotal:            &fee,
		MinSpendRequirement: 300000,
		Benefits: []catalog.BenefitEntry{{
			CategoryLabel: "Simple Payment",
			RawHTML:       "<li>10% discount on simple payment services including NaverPay and KakaoPay charges</li>",
		}},
	}
}

func movieCard(id int) catalog.BenefitRecord {
	fee := 5000
	return catalog.BenefitRecord{
		ProductID:           id,
		Name:                "Cinema Joy",
		Issuer:              "KB Kookmin Card",
		Type:                catalog.ProductTypeCredit,
		FeeTotal:            &fee,
		MinSpendRequirement: 200000,
		Benefits: []catalog.BenefitEntry{{
			CategoryLabel: "Movie",
			RawHTML:       "<li>4000 won discount on movie tickets at major cinema chains on weekend evenings</li>",
		}},
	}
}

// taxCard carries an exclusion clause the veto must catch.
func taxCard(id int) catalog.BenefitRecord {
	fee := 12000
	return catalog.BenefitRecord{
		ProductID:           id,
		Name:                "City Life",
		Issuer:              "Lotte Card",
		Type:                catalog.ProductTypeCredit,
		FeeTotal:            &fee,
		MinSpendRequirement: 250000,
		Benefits: []catalog.BenefitEntry{{
			CategoryLabel: "Living",
			RawHTML: "<li>7% discount on utility and telecom bill payments charged to the card monthly</li>" +
				"<li>National and local tax payments are excluded from the discount benefit entirely</li>",
		}},
	}
}

func productIDs(cands []retrieval.Candidate) []int {
	ids := make([]int, 0, len(cands))
	for _, c := range cands {
		ids = append(ids, c.ProductID)
	}
	return ids
}

func TestEngine_WorkedExample(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	report := eng.IndexBatch(ctx, []catalog.BenefitRecord{paymentCard(301), movieCard(302)}, index.Options{})
	require.Equal(t, 2, report.Indexed)

	feeMax := 20000
	cands, err := eng.Search(ctx, "best card for simple payment discounts", catalog.FilterSet{FeeMax: &feeMax}, 5, 3)
	require.NoError(t, err)
	require.NotEmpty(t, cands)
	assert.Equal(t, 301, cands[0].ProductID)
	assert.Equal(t, "Smart Pay Plus", cands[0].Name)

	// A tighter fee ceiling drops the 17000 won card entirely.
	tightFee := 10000
	cands, err = eng.Search(ctx, "best card for simple payment discounts", catalog.FilterSet{FeeMax: &tightFee}, 5, 3)
	require.NoError(t, err)
	assert.NotContains(t, productIDs(cands), 301)

	// 216000 won estimated benefit against the 17000 fee beats the cheaper
	// movie card: net 199000, one covered category, one warning under the
	// penalty threshold.
	sel, err := eng.Recommend(ctx, []selection.BenefitEstimate{
		{ProductID: 301, AnnualBenefitEstimate: 216000, ConditionsMet: true, CategoryCoverage: map[string]int{"digital_payment": 216000}, WarningCount: 1},
		{ProductID: 302, AnnualBenefitEstimate: 48000, ConditionsMet: true, CategoryCoverage: map[string]int{"movie": 48000}},
	}, selection.Preferences{})
	require.NoError(t, err)
	assert.Equal(t, 301, sel.Winner.ProductID)
	assert.Equal(t, 199000, sel.Winner.NetBenefit)
	assert.InDelta(t, 199001.0, sel.Winner.FinalScore, 1e-9)
	assert.Equal(t, sel.Winner, sel.Ranked[0])
}

func TestEngine_ExclusionVetoEndToEnd(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	report := eng.IndexBatch(ctx, []catalog.BenefitRecord{paymentCard(301), taxCard(303)}, index.Options{})
	require.Equal(t, 2, report.Indexed)

	// The stated tax use case trips the card's exclusion clause.
	cands, err := eng.Search(ctx, "I mostly pay local taxes with this card", catalog.FilterSet{}, 5, 3)
	require.NoError(t, err)
	assert.NotContains(t, productIDs(cands), 303)

	// A query that never mentions an excluded use case ranks it normally.
	cands, err = eng.Search(ctx, "everyday discounts on my monthly bills", catalog.FilterSet{}, 5, 3)
	require.NoError(t, err)
	assert.Contains(t, productIDs(cands), 303)
}

func TestEngine_PurgeClearsStoreAndCachedSearches(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.IndexProduct(ctx, paymentCard(301), false)
	require.NoError(t, err)

	cands, err := eng.Search(ctx, "simple payment discount", catalog.FilterSet{}, 5, 3)
	require.NoError(t, err)
	require.NotEmpty(t, cands)

	require.NoError(t, eng.Purge(ctx))

	stats, err := eng.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Products)

	// The identical query must not be answered from the result cache.
	cands, err = eng.Search(ctx, "simple payment discount", catalog.FilterSet{}, 5, 3)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestEngine_ProductLifecycle(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.IndexProduct(ctx, paymentCard(301), false)
	require.NoError(t, err)

	doc, err := eng.Product(ctx, 301)
	require.NoError(t, err)
	assert.Equal(t, "Smart Pay Plus", doc.Name)
	require.NotNil(t, doc.FeeTotal)
	assert.Equal(t, 17000, *doc.FeeTotal)

	require.NoError(t, eng.DeleteProduct(ctx, 301))
	_, err = eng.Product(ctx, 301)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNew_RejectsUnknownDrivers(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Driver = "bolt"
	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store driver")

	cfg = config.DefaultConfig()
	cfg.Cache.Driver = "memcached"
	_, err = New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache driver")
}
