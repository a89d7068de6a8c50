package selection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
	"github.com/cardmatch-ai/cardmatch/internal/store"
)

func newTestSelector(t *testing.T) (*Selector, *store.MemoryStore) {
	t.Helper()
	docs := store.NewMemoryStore()
	return NewSelector(nil, docs, SelectorConfig{}), docs
}

func seedCard(t *testing.T, docs store.DocumentStore, id int, name string, cardType catalog.ProductType, fee *int, minSpend int) {
	t.Helper()
	require.NoError(t, docs.Upsert(context.Background(), catalog.ProductDocument{
		ProductID:           id,
		Name:                name,
		Issuer:              "Hana Card",
		Type:                cardType,
		FeeTotal:            fee,
		MinSpendRequirement: minSpend,
	}))
}

func TestSelect_WorkedNetBenefit(t *testing.T) {
	sel, docs := newTestSelector(t)
	seedCard(t, docs, 11, "Pay Anywhere", catalog.ProductTypeCredit, catalog.IntPtr(17000), 300000)

	// net = 216000 - 17000 = 199000; one covered category adds 1;
	// final = 199001.
	result, err := sel.Select(context.Background(), []BenefitEstimate{{
		ProductID:             11,
		AnnualBenefitEstimate: 216000,
		ConditionsMet:         true,
		CategoryCoverage:      map[string]int{"digital_payment": 216000},
		WarningCount:          1,
	}}, Preferences{})
	require.NoError(t, err)

	assert.Equal(t, 11, result.Winner.ProductID)
	assert.Equal(t, "Pay Anywhere", result.Winner.Name)
	assert.Equal(t, 199000, result.Winner.NetBenefit)
	assert.Equal(t, 1, result.Winner.CoverageScore)
	assert.Zero(t, result.Winner.Penalty)
	assert.InDelta(t, 199001.0, result.Winner.FinalScore, 1e-9)
	assert.Empty(t, result.TieBreak, "no tie, no ladder stages")
	assert.Empty(t, result.Rejected)
}

func TestSelect_UnmetConditionsZeroTheEstimate(t *testing.T) {
	sel, docs := newTestSelector(t)
	seedCard(t, docs, 1, "Strict Card", catalog.ProductTypeCredit, catalog.IntPtr(17000), 500000)

	// No unearned credit: the estimate becomes 0 but the fee still charges,
	// so net = -17000. Coverage still counts the positive category.
	result, err := sel.Select(context.Background(), []BenefitEstimate{{
		ProductID:             1,
		AnnualBenefitEstimate: 300000,
		ConditionsMet:         false,
		CategoryCoverage:      map[string]int{"cafe": 50000},
	}}, Preferences{})
	require.NoError(t, err)

	assert.Zero(t, result.Winner.AnnualBenefitEstimate)
	assert.Equal(t, -17000, result.Winner.NetBenefit)
	assert.InDelta(t, -16999.0, result.Winner.FinalScore, 1e-9)
}

func TestSelect_WarningPenaltyAppliesOverThreshold(t *testing.T) {
	sel, docs := newTestSelector(t)
	seedCard(t, docs, 1, "Noisy Card", catalog.ProductTypeCredit, catalog.IntPtr(0), 0)
	seedCard(t, docs, 2, "Quiet Card", catalog.ProductTypeCredit, catalog.IntPtr(0), 0)

	// Identical estimates; three warnings cost 0.5, two cost nothing.
	result, err := sel.Select(context.Background(), []BenefitEstimate{
		{ProductID: 1, AnnualBenefitEstimate: 100000, ConditionsMet: true, WarningCount: 3},
		{ProductID: 2, AnnualBenefitEstimate: 100000, ConditionsMet: true, WarningCount: 2},
	}, Preferences{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Winner.ProductID)
	assert.InDelta(t, 0.5, result.Ranked[1].Penalty, 1e-9)
	assert.Zero(t, result.Ranked[0].Penalty)
	assert.InDelta(t, 99999.5, result.Ranked[1].FinalScore, 1e-9)
}

func TestSelect_TieBrokenByLowerFee(t *testing.T) {
	sel, docs := newTestSelector(t)
	seedCard(t, docs, 1, "High Fee", catalog.ProductTypeCredit, catalog.IntPtr(10000), 200000)
	seedCard(t, docs, 2, "Low Fee", catalog.ProductTypeCredit, catalog.IntPtr(5000), 200000)

	// 200000-10000 = 195000-5000 = 190000: exact tie, lower fee wins.
	result, err := sel.Select(context.Background(), []BenefitEstimate{
		{ProductID: 1, AnnualBenefitEstimate: 200000, ConditionsMet: true},
		{ProductID: 2, AnnualBenefitEstimate: 195000, ConditionsMet: true},
	}, Preferences{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Winner.ProductID)
	assert.Equal(t, result.Ranked[0].FinalScore, result.Ranked[1].FinalScore, "test needs an exact tie")
	assert.Equal(t, []string{"fee_total"}, result.TieBreak)
}

func TestSelect_TieFallsToLowerMinSpend(t *testing.T) {
	sel, docs := newTestSelector(t)
	seedCard(t, docs, 1, "Demanding", catalog.ProductTypeCredit, catalog.IntPtr(10000), 300000)
	seedCard(t, docs, 2, "Easy", catalog.ProductTypeCredit, catalog.IntPtr(10000), 100000)

	result, err := sel.Select(context.Background(), []BenefitEstimate{
		{ProductID: 1, AnnualBenefitEstimate: 150000, ConditionsMet: true},
		{ProductID: 2, AnnualBenefitEstimate: 150000, ConditionsMet: true},
	}, Preferences{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Winner.ProductID)
	assert.Equal(t, []string{"fee_total", "min_spend_requirement"}, result.TieBreak)
}

func TestSelect_TieFallsToPreferredType(t *testing.T) {
	sel, docs := newTestSelector(t)
	seedCard(t, docs, 1, "Credit Pick", catalog.ProductTypeCredit, catalog.IntPtr(10000), 200000)
	seedCard(t, docs, 2, "Debit Pick", catalog.ProductTypeDebit, catalog.IntPtr(10000), 200000)

	estimates := []BenefitEstimate{
		{ProductID: 1, AnnualBenefitEstimate: 150000, ConditionsMet: true},
		{ProductID: 2, AnnualBenefitEstimate: 150000, ConditionsMet: true},
	}

	debit := catalog.ProductTypeDebit
	withPref, err := sel.Select(context.Background(), estimates, Preferences{PreferredType: &debit})
	require.NoError(t, err)
	assert.Equal(t, 2, withPref.Winner.ProductID)
	assert.Equal(t, []string{"fee_total", "min_spend_requirement", "preferred_type"}, withPref.TieBreak)

	// Without a preference the tie resolves deterministically by product id,
	// and the preference stage never runs.
	noPref, err := sel.Select(context.Background(), estimates, Preferences{})
	require.NoError(t, err)
	assert.Equal(t, 1, noPref.Winner.ProductID)
	assert.Equal(t, []string{"fee_total", "min_spend_requirement"}, noPref.TieBreak)
}

func TestSelect_EmptyInputIsCallerError(t *testing.T) {
	sel, _ := newTestSelector(t)

	_, err := sel.Select(context.Background(), nil, Preferences{})
	assert.ErrorIs(t, err, ErrNoEstimates)
}

func TestSelect_UnresolvableCandidatesExcluded(t *testing.T) {
	sel, docs := newTestSelector(t)
	seedCard(t, docs, 1, "Known", catalog.ProductTypeCredit, catalog.IntPtr(0), 0)

	result, err := sel.Select(context.Background(), []BenefitEstimate{
		{ProductID: 999, AnnualBenefitEstimate: 500000, ConditionsMet: true},
		{ProductID: 1, AnnualBenefitEstimate: 100000, ConditionsMet: true},
	}, Preferences{})
	require.NoError(t, err)

	require.Len(t, result.Ranked, 1)
	assert.Equal(t, 1, result.Winner.ProductID)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, 999, result.Rejected[0].ProductID)
	assert.NotEmpty(t, result.Rejected[0].Reason)

	_, err = sel.Select(context.Background(), []BenefitEstimate{
		{ProductID: 999, AnnualBenefitEstimate: 500000, ConditionsMet: true},
	}, Preferences{})
	assert.ErrorIs(t, err, ErrNoScorable)
}

func TestSelect_RankedKeepsWinnerFirst(t *testing.T) {
	sel, docs := newTestSelector(t)
	seedCard(t, docs, 1, "Bronze", catalog.ProductTypeCredit, catalog.IntPtr(5000), 0)
	seedCard(t, docs, 2, "Gold", catalog.ProductTypeCredit, catalog.IntPtr(5000), 0)
	seedCard(t, docs, 3, "Silver", catalog.ProductTypeCredit, catalog.IntPtr(5000), 0)

	result, err := sel.Select(context.Background(), []BenefitEstimate{
		{ProductID: 1, AnnualBenefitEstimate: 50000, ConditionsMet: true},
		{ProductID: 2, AnnualBenefitEstimate: 250000, ConditionsMet: true},
		{ProductID: 3, AnnualBenefitEstimate: 150000, ConditionsMet: true},
	}, Preferences{})
	require.NoError(t, err)

	require.Len(t, result.Ranked, 3)
	assert.Equal(t, result.Winner, result.Ranked[0])
	assert.Equal(t, []int{2, 3, 1}, []int{
		result.Ranked[0].ProductID,
		result.Ranked[1].ProductID,
		result.Ranked[2].ProductID,
	})
}

func TestSelect_UnknownFeeScoredAsZero(t *testing.T) {
	sel, docs := newTestSelector(t)
	seedCard(t, docs, 1, "No Fee Data", catalog.ProductTypeCredit, nil, 0)

	result, err := sel.Select(context.Background(), []BenefitEstimate{
		{ProductID: 1, AnnualBenefitEstimate: 80000, ConditionsMet: true},
	}, Preferences{})
	require.NoError(t, err)

	assert.Zero(t, result.Winner.FeeTotal)
	assert.Equal(t, 80000, result.Winner.NetBenefit)
}
