// Package grpc provides the Connect RPC surface over the recommendation
// engine. Request and response messages are plain Go structs with JSON tags;
// the service speaks the Connect protocol as well as gRPC and gRPC-Web.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
	"github.com/cardmatch-ai/cardmatch/internal/observability"
	"github.com/cardmatch-ai/cardmatch/internal/retrieval"
	"github.com/cardmatch-ai/cardmatch/internal/selection"
	"github.com/cardmatch-ai/cardmatch/pkg/engine"
)

// Procedure paths, in the shape Connect code generation would produce.
const (
	SearchProcedure    = "/cardmatch.v1.RecommendService/Search"
	RecommendProcedure = "/cardmatch.v1.RecommendService/Recommend"
)

// RecommendService implements the Connect recommendation service.
type RecommendService struct {
	logger *observability.Logger
	engine *engine.Engine
}

// NewRecommendService creates a new recommendation service.
func NewRecommendService(logger *observability.Logger, eng *engine.Engine) *RecommendService {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &RecommendService{
		logger: logger.WithComponent("rpc"),
		engine: eng,
	}
}

// NewRecommendServiceHandler returns the URL prefix and the handler serving
// both procedures, ready to mount on any mux.
func NewRecommendServiceHandler(svc *RecommendService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(SearchProcedure, connect.NewUnaryHandler(SearchProcedure, svc.Search, opts...))
	mux.Handle(RecommendProcedure, connect.NewUnaryHandler(RecommendProcedure, svc.Recommend, opts...))
	return "/cardmatch.v1.RecommendService/", mux
}

// SearchRequest asks for ranked product candidates for a query.
type SearchRequest struct {
	Query           string `json:"query"`
	FeeMax          *int   `json:"fee_max,omitempty"`
	SpendMax        *int   `json:"spend_max,omitempty"`
	ProductType     string `json:"product_type,omitempty"`
	OnlineOnly      *bool  `json:"online_only,omitempty"`
	TopM            int32  `json:"top_m,omitempty"`
	EvidencePerCard int32  `json:"evidence_per_card,omitempty"`
}

// SearchResponse carries the ranked candidates.
type SearchResponse struct {
	Query      string       `json:"query"`
	LatencyMs  int64        `json:"latency_ms"`
	Candidates []*Candidate `json:"candidates"`
}

// Candidate is one scored product with its supporting evidence.
type Candidate struct {
	ProductID           int         `json:"product_id"`
	Name                string      `json:"name,omitempty"`
	Issuer              string      `json:"issuer,omitempty"`
	Type                string      `json:"type"`
	FeeTotal            *int        `json:"fee_total,omitempty"`
	MinSpendRequirement int         `json:"min_spend_requirement"`
	AggregateScore      float64     `json:"aggregate_score"`
	BaseScore           float64     `json:"base_score"`
	CoreBonus           float64     `json:"core_bonus"`
	CoverageBonus       float64     `json:"coverage_bonus"`
	TotalChunks         int         `json:"total_chunks"`
	Evidence            []*Evidence `json:"evidence"`
}

// Evidence is one re-scored chunk backing a candidate.
type Evidence struct {
	DocID    string  `json:"doc_id"`
	DocType  string  `json:"doc_type"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
	Category string  `json:"category,omitempty"`
}

// RecommendRequest asks for a winner among externally estimated benefits.
type RecommendRequest struct {
	Estimates     []*EstimateInput `json:"estimates"`
	PreferredType string           `json:"preferred_type,omitempty"`
}

// EstimateInput is one product's annual benefit estimate.
type EstimateInput struct {
	ProductID             int            `json:"product_id"`
	AnnualBenefitEstimate int            `json:"annual_benefit_estimate"`
	ConditionsMet         bool           `json:"conditions_met"`
	CategoryCoverage      map[string]int `json:"category_coverage,omitempty"`
	WarningCount          int            `json:"warning_count,omitempty"`
}

// RecommendResponse carries the winner and the full ranking.
type RecommendResponse struct {
	Winner   *RankedCard   `json:"winner"`
	Ranked   []*RankedCard `json:"ranked"`
	TieBreak []string      `json:"tie_break,omitempty"`
	Rejected []*Rejection  `json:"rejected,omitempty"`
}

// Rejection names an estimate the selector excluded before scoring.
type Rejection struct {
	ProductID int    `json:"product_id,omitempty"`
	Reason    string `json:"reason"`
}

// RankedCard is one fully scored card in the final ranking.
type RankedCard struct {
	ProductID             int     `json:"product_id"`
	Name                  string  `json:"name,omitempty"`
	Type                  string  `json:"type"`
	FeeTotal              int     `json:"fee_total"`
	MinSpendRequirement   int     `json:"min_spend_requirement"`
	AnnualBenefitEstimate int     `json:"annual_benefit_estimate"`
	ConditionsMet         bool    `json:"conditions_met"`
	NetBenefit            int     `json:"net_benefit"`
	CoverageScore         int     `json:"coverage_score"`
	Penalty               float64 `json:"penalty"`
	FinalScore            float64 `json:"final_score"`
	WarningCount          int     `json:"warning_count"`
}

// correlate makes sure the call carries a request ID. RPC handlers may be
// mounted without the HTTP middleware stack, so the service provisions its
// own when none arrived.
func correlate(ctx context.Context) context.Context {
	if observability.RequestIDFromContext(ctx) == "" {
		ctx = observability.ContextWithRequestID(ctx, uuid.New().String())
	}
	return ctx
}

// Search handles candidate retrieval queries.
func (s *RecommendService) Search(ctx context.Context, req *connect.Request[SearchRequest]) (*connect.Response[SearchResponse], error) {
	ctx = correlate(ctx)
	msg := req.Msg

	if strings.TrimSpace(msg.Query) == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("query is required"))
	}

	filters, err := filtersFromRequest(msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	started := time.Now()
	cands, err := s.engine.Search(ctx, msg.Query, filters, int(msg.TopM), int(msg.EvidencePerCard))
	if err != nil {
		s.logger.WithContext(ctx).Error().Err(err).Msg("search failed")
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	resp := &SearchResponse{
		Query:      msg.Query,
		LatencyMs:  time.Since(started).Milliseconds(),
		Candidates: make([]*Candidate, 0, len(cands)),
	}
	for i := range cands {
		resp.Candidates = append(resp.Candidates, toCandidate(&cands[i]))
	}

	return connect.NewResponse(resp), nil
}

// Recommend handles final selection over benefit estimates.
func (s *RecommendService) Recommend(ctx context.Context, req *connect.Request[RecommendRequest]) (*connect.Response[RecommendResponse], error) {
	ctx = correlate(ctx)
	msg := req.Msg

	if len(msg.Estimates) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("estimates are required"))
	}

	estimates := make([]selection.BenefitEstimate, 0, len(msg.Estimates))
	for _, in := range msg.Estimates {
		if in == nil {
			continue
		}
		estimates = append(estimates, selection.BenefitEstimate{
			ProductID:             in.ProductID,
			AnnualBenefitEstimate: in.AnnualBenefitEstimate,
			ConditionsMet:         in.ConditionsMet,
			CategoryCoverage:      in.CategoryCoverage,
			WarningCount:          in.WarningCount,
		})
	}

	var prefs selection.Preferences
	if msg.PreferredType != "" {
		pt := catalog.ProductType(msg.PreferredType)
		if !pt.Valid() {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown preferred_type %q", msg.PreferredType))
		}
		prefs.PreferredType = &pt
	}

	sel, err := s.engine.Recommend(ctx, estimates, prefs)
	switch {
	case errors.Is(err, selection.ErrNoEstimates):
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, selection.ErrNoScorable):
		return nil, connect.NewError(connect.CodeFailedPrecondition, err)
	case err != nil:
		s.logger.WithContext(ctx).Error().Err(err).Msg("recommend failed")
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	resp := &RecommendResponse{
		Winner:   toRankedCard(sel.Winner),
		Ranked:   make([]*RankedCard, 0, len(sel.Ranked)),
		TieBreak: sel.TieBreak,
	}
	for i := range sel.Ranked {
		resp.Ranked = append(resp.Ranked, toRankedCard(sel.Ranked[i]))
	}
	for _, rej := range sel.Rejected {
		resp.Rejected = append(resp.Rejected, &Rejection{ProductID: rej.ProductID, Reason: rej.Reason})
	}

	return connect.NewResponse(resp), nil
}

func filtersFromRequest(msg *SearchRequest) (catalog.FilterSet, error) {
	filters := catalog.FilterSet{
		FeeMax:     msg.FeeMax,
		SpendMax:   msg.SpendMax,
		OnlineOnly: msg.OnlineOnly,
	}
	if msg.ProductType != "" {
		pt := catalog.ProductType(msg.ProductType)
		if !pt.Valid() {
			return catalog.FilterSet{}, fmt.Errorf("unknown product_type %q", msg.ProductType)
		}
		filters.ProductType = &pt
	}
	return filters, nil
}

func toCandidate(c *retrieval.Candidate) *Candidate {
	out := &Candidate{
		ProductID:           c.ProductID,
		Name:                c.Name,
		Issuer:              c.Issuer,
		Type:                string(c.Type),
		FeeTotal:            c.FeeTotal,
		MinSpendRequirement: c.MinSpendRequirement,
		AggregateScore:      c.AggregateScore,
		BaseScore:           c.Breakdown.BaseScore,
		CoreBonus:           c.Breakdown.CoreBonus,
		CoverageBonus:       c.Breakdown.CoverageBonus,
		TotalChunks:         c.Breakdown.TotalChunks,
		Evidence:            make([]*Evidence, 0, len(c.Evidence)),
	}
	for _, ev := range c.Evidence {
		out.Evidence = append(out.Evidence, &Evidence{
			DocID:    ev.Chunk.DocID,
			DocType:  string(ev.Chunk.DocType),
			Text:     ev.Chunk.Text,
			Score:    ev.Score,
			Category: ev.Chunk.Metadata.CategoryStd,
		})
	}
	return out
}

func toRankedCard(c selection.ScoredCandidate) *RankedCard {
	return &RankedCard{
		ProductID:             c.ProductID,
		Name:                  c.Name,
		Type:                  string(c.Type),
		FeeTotal:              c.FeeTotal,
		MinSpendRequirement:   c.MinSpendRequirement,
		AnnualBenefitEstimate: c.AnnualBenefitEstimate,
		ConditionsMet:         c.ConditionsMet,
		NetBenefit:            c.NetBenefit,
		CoverageScore:         c.CoverageScore,
		Penalty:               c.Penalty,
		FinalScore:            c.FinalScore,
		WarningCount:          c.WarningCount,
	}
}
