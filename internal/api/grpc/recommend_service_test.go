package grpc

import (
	"context"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
	"github.com/cardmatch-ai/cardmatch/internal/config"
	"github.com/cardmatch-ai/cardmatch/pkg/engine"
)

func newTestService(t *testing.T) (*RecommendService, *engine.Engine) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Embedding.Dimension = 128
	eng, err := engine.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return NewRecommendService(nil, eng), eng
}

func cardRecord(id int, fee int) catalog.BenefitRecord {
	return catalog.BenefitRecord{
		ProductID:           id,
		Name:                "Everyday Cafe",
		Issuer:              "Hana Card",
		Type:                catalog.ProductTypeCredit,
		FeeTotal:            &fee,
		MinSpendRequirement: 300000,
		Benefits: []catalog.BenefitEntry{{
			CategoryLabel: "Cafe",
			RawHTML:       "<li>10% discount at major coffee chains and independent cafes nationwide on weekdays</li>",
		}},
	}
}

func TestSearch_RequiresQuery(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Search(context.Background(), connect.NewRequest(&SearchRequest{Query: "   "}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestSearch_RejectsUnknownProductType(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Search(context.Background(), connect.NewRequest(&SearchRequest{
		Query:       "coffee discounts",
		ProductType: "charge",
	}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestSearch_ReturnsCandidatesWithEvidence(t *testing.T) {
	svc, eng := newTestService(t)
	ctx := context.Background()

	_, err := eng.IndexProduct(ctx, cardRecord(11, 17000), false)
	require.NoError(t, err)

	resp, err := svc.Search(ctx, connect.NewRequest(&SearchRequest{Query: "coffee and cafe discounts"}))
	require.NoError(t, err)

	require.Len(t, resp.Msg.Candidates, 1)
	cand := resp.Msg.Candidates[0]
	assert.Equal(t, 11, cand.ProductID)
	assert.Equal(t, "Everyday Cafe", cand.Name)
	assert.Equal(t, "credit", cand.Type)
	require.NotNil(t, cand.FeeTotal)
	assert.Equal(t, 17000, *cand.FeeTotal)
	assert.Positive(t, cand.AggregateScore)
	require.NotEmpty(t, cand.Evidence)
	assert.NotEmpty(t, cand.Evidence[0].DocID)
	assert.NotEmpty(t, cand.Evidence[0].Text)
}

func TestSearch_AppliesFeeFilter(t *testing.T) {
	svc, eng := newTestService(t)
	ctx := context.Background()

	_, err := eng.IndexProduct(ctx, cardRecord(11, 17000), false)
	require.NoError(t, err)

	feeMax := 10000
	resp, err := svc.Search(ctx, connect.NewRequest(&SearchRequest{
		Query:  "coffee and cafe discounts",
		FeeMax: &feeMax,
	}))
	require.NoError(t, err)
	assert.Empty(t, resp.Msg.Candidates)
}

func TestRecommend_RequiresEstimates(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Recommend(context.Background(), connect.NewRequest(&RecommendRequest{}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestRecommend_RejectsUnknownPreferredType(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Recommend(context.Background(), connect.NewRequest(&RecommendRequest{
		Estimates:     []*EstimateInput{{ProductID: 11, AnnualBenefitEstimate: 1000, ConditionsMet: true}},
		PreferredType: "charge",
	}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestRecommend_RanksByNetBenefit(t *testing.T) {
	svc, eng := newTestService(t)
	ctx := context.Background()

	_, err := eng.IndexProduct(ctx, cardRecord(11, 17000), false)
	require.NoError(t, err)
	cheap := cardRecord(12, 5000)
	cheap.Name = "Cinema Joy"
	_, err = eng.IndexProduct(ctx, cheap, false)
	require.NoError(t, err)

	resp, err := svc.Recommend(ctx, connect.NewRequest(&RecommendRequest{
		Estimates: []*EstimateInput{
			{ProductID: 11, AnnualBenefitEstimate: 216000, ConditionsMet: true, CategoryCoverage: map[string]int{"cafe": 216000}},
			{ProductID: 12, AnnualBenefitEstimate: 48000, ConditionsMet: true},
			{ProductID: 999, AnnualBenefitEstimate: 900000, ConditionsMet: true},
		},
	}))
	require.NoError(t, err)

	require.NotNil(t, resp.Msg.Winner)
	assert.Equal(t, 11, resp.Msg.Winner.ProductID)
	assert.Equal(t, 199000, resp.Msg.Winner.NetBenefit)
	require.Len(t, resp.Msg.Ranked, 2)
	assert.Equal(t, resp.Msg.Winner.ProductID, resp.Msg.Ranked[0].ProductID)
	assert.Empty(t, resp.Msg.TieBreak)
	require.Len(t, resp.Msg.Rejected, 1)
	assert.Equal(t, 999, resp.Msg.Rejected[0].ProductID)
	assert.NotEmpty(t, resp.Msg.Rejected[0].Reason)
}

func TestRecommend_AllUnresolvableFailsPrecondition(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Recommend(context.Background(), connect.NewRequest(&RecommendRequest{
		Estimates: []*EstimateInput{{ProductID: 999, AnnualBenefitEstimate: 1000, ConditionsMet: true}},
	}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
}
