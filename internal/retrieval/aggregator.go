package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
	"github.com/cardmatch-ai/cardmatch/internal/observability"
	"github.com/cardmatch-ai/cardmatch/internal/segment"
	"github.com/cardmatch-ai/cardmatch/internal/store"
)

// Aggregation defaults.
const (
	DefaultEvidencePerCard = 3
	DefaultTopM            = 5

	DefaultSecondCoreBonus = 0.04
	DefaultThirdCoreBonus  = 0.02
	DefaultCoverageBonus   = 0.08

	// A repeat core match only earns its bonus when it holds up against the
	// best one.
	DefaultSecondCoreRatio = 0.90
	DefaultThirdCoreRatio  = 0.85
)

// AggregatorConfig holds the scoring knobs. The bonus values are tuning
// constants with no derivation; they are fields so deployments can adjust
// them without a rebuild.
type AggregatorConfig struct {
	EvidencePerCard int
	TopM            int
	SecondCoreBonus float64
	ThirdCoreBonus  float64
	SecondCoreRatio float64
	ThirdCoreRatio  float64
	// CoverageBonus is granted once per distinct query-mentioned category
	// the product's chunks cover.
	CoverageBonus float64
}

// Candidate is one product that survived grouping, hard filters and the
// exclusion veto.
type Candidate struct {
	ProductID           int                 `json:"product_id"`
	Name                string              `json:"name,omitempty"`
	Issuer              string              `json:"issuer,omitempty"`
	Type                catalog.ProductType `json:"type"`
	FeeTotal            *int                `json:"fee_total,omitempty"`
	MinSpendRequirement int                 `json:"min_spend_requirement"`
	Evidence            []store.ScoredChunk `json:"evidence"`
	AggregateScore      float64             `json:"aggregate_score"`
	Breakdown           ScoreBreakdown      `json:"score_breakdown"`
}

// ScoreBreakdown exposes the aggregate score's parts for explanations.
type ScoreBreakdown struct {
	BaseScore     float64 `json:"base_score"`
	CoreBonus     float64 `json:"core_bonus"`
	CoverageBonus float64 `json:"coverage_bonus"`
	TotalChunks   int     `json:"total_chunks"`
}

// Aggregator folds a chunk list into per-product candidates.
type Aggregator struct {
	logger *observability.Logger
	docs   store.DocumentStore
	config AggregatorConfig
}

// NewAggregator creates an aggregator, applying defaults for zero config
// values.
func NewAggregator(logger *observability.Logger, docs store.DocumentStore, cfg AggregatorConfig) *Aggregator {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	if cfg.EvidencePerCard <= 0 {
		cfg.EvidencePerCard = DefaultEvidencePerCard
	}
	if cfg.TopM <= 0 {
		cfg.TopM = DefaultTopM
	}
	if cfg.SecondCoreBonus == 0 {
		cfg.SecondCoreBonus = DefaultSecondCoreBonus
	}
	if cfg.ThirdCoreBonus == 0 {
		cfg.ThirdCoreBonus = DefaultThirdCoreBonus
	}
	if cfg.SecondCoreRatio == 0 {
		cfg.SecondCoreRatio = DefaultSecondCoreRatio
	}
	if cfg.ThirdCoreRatio == 0 {
		cfg.ThirdCoreRatio = DefaultThirdCoreRatio
	}
	if cfg.CoverageBonus == 0 {
		cfg.CoverageBonus = DefaultCoverageBonus
	}
	return &Aggregator{
		logger: logger.WithComponent("aggregator"),
		docs:   docs,
		config: cfg,
	}
}

// Aggregate groups the retrieved chunks by product, scores each group,
// applies hard filters and the exclusion veto, and returns the best topM
// candidates. The evidence cap bounds what each candidate carries but never
// moves its score: all scoring terms run over the whole group.
func (a *Aggregator) Aggregate(ctx context.Context, query string, chunks []store.ScoredChunk, filters catalog.FilterSet, topM, evidencePerCard int) ([]Candidate, error) {
	if topM <= 0 {
		topM = a.config.TopM
	}
	if evidencePerCard <= 0 {
		evidencePerCard = a.config.EvidencePerCard
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	queryCategories := segment.ExtractQueryCategories(query)

	groups := make(map[int][]store.ScoredChunk)
	for _, sc := range chunks {
		id := sc.Chunk.Metadata.ProductID
		if id == 0 {
			continue
		}
		groups[id] = append(groups[id], sc)
	}

	candidates := make([]Candidate, 0, len(groups))
	for id, group := range groups {
		sortByPriority(group, queryCategories)

		evidence := group
		if len(evidence) > evidencePerCard {
			evidence = evidence[:evidencePerCard]
		}

		meta := evidence[0].Chunk.Metadata
		if filters.SpendMax != nil && meta.MinSpendRequirement > *filters.SpendMax {
			a.logger.Debug().Int("product_id", id).Msg("spend requirement over ceiling, disqualified")
			continue
		}
		if filters.FeeMax != nil && meta.FeeTotal != nil && *meta.FeeTotal > *filters.FeeMax {
			a.logger.Debug().Int("product_id", id).Msg("fee over ceiling, disqualified")
			continue
		}

		breakdown := a.scoreGroup(group, queryCategories)
		score := (breakdown.BaseScore + breakdown.CoreBonus + breakdown.CoverageBonus) /
			math.Sqrt(float64(breakdown.TotalChunks))

		candidates = append(candidates, Candidate{
			ProductID:           id,
			Issuer:              meta.Issuer,
			Type:                meta.Type,
			FeeTotal:            meta.FeeTotal,
			MinSpendRequirement: meta.MinSpendRequirement,
			Evidence:            evidence,
			AggregateScore:      score,
			Breakdown:           breakdown,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].AggregateScore != candidates[j].AggregateScore {
			return candidates[i].AggregateScore > candidates[j].AggregateScore
		}
		return candidates[i].ProductID < candidates[j].ProductID
	})

	// The veto runs before the topM cut so a rejected product never costs a
	// better one its slot. A veto lookup failure fails the search: serving
	// unvetoed candidates would break the exclusion guarantee.
	candidates, err := a.applyExclusionVeto(ctx, query, candidates)
	if err != nil {
		return nil, fmt.Errorf("exclusion veto: %w", err)
	}

	if len(candidates) > topM {
		candidates = candidates[:topM]
	}

	a.resolveNames(ctx, candidates)

	a.logger.Debug().
		Str("query", query).
		Int("groups", len(groups)).
		Int("candidates", len(candidates)).
		Msg("aggregation complete")

	return candidates, nil
}

// scoreGroup computes the score parts over the product's whole chunk group.
func (a *Aggregator) scoreGroup(group []store.ScoredChunk, queryCategories map[string]struct{}) ScoreBreakdown {
	var coreScores []float64
	bestOverall := group[0].Score
	matched := make(map[string]struct{})

	for _, sc := range group {
		if sc.Score > bestOverall {
			bestOverall = sc.Score
		}
		if sc.Chunk.DocType == catalog.DocTypeCore {
			coreScores = append(coreScores, sc.Score)
		}
		if cat := sc.Chunk.Metadata.CategoryStd; cat != "" {
			if _, ok := queryCategories[cat]; ok {
				matched[cat] = struct{}{}
			}
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(coreScores)))

	base := bestOverall
	if len(coreScores) > 0 {
		base = coreScores[0]
	}

	var bonus float64
	if len(coreScores) >= 2 && coreScores[1] >= a.config.SecondCoreRatio*base {
		bonus += a.config.SecondCoreBonus
	}
	if len(coreScores) >= 3 && coreScores[2] >= a.config.ThirdCoreRatio*base {
		bonus += a.config.ThirdCoreBonus
	}

	return ScoreBreakdown{
		BaseScore:     base,
		CoreBonus:     bonus,
		CoverageBonus: a.config.CoverageBonus * float64(len(matched)),
		TotalChunks:   len(group),
	}
}

// applyExclusionVeto drops candidates whose stored exclusion chunks name a
// use case the query states. No query keywords means no veto and no lookup.
func (a *Aggregator) applyExclusionVeto(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}
	keywords := segment.ExtractQueryKeywords(query)
	if len(keywords) == 0 {
		return candidates, nil
	}

	ids := make([]int, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ProductID
	}
	exclusions, err := a.docs.RuleChunks(ctx, ids, []catalog.DocType{catalog.DocTypeExclusion})
	if err != nil {
		return nil, err
	}

	kept := candidates[:0]
	for _, c := range candidates {
		if kw := vetoKeyword(exclusions[c.ProductID], keywords); kw != "" {
			a.logger.Debug().
				Int("product_id", c.ProductID).
				Str("keyword", kw).
				Msg("exclusion veto, candidate rejected")
			continue
		}
		kept = append(kept, c)
	}
	return kept, nil
}

// vetoKeyword returns the first query keyword appearing verbatim in any
// exclusion chunk, or empty string.
func vetoKeyword(exclusions []catalog.Chunk, keywords []string) string {
	for _, ch := range exclusions {
		text := strings.ToLower(ch.Text)
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				return kw
			}
		}
	}
	return ""
}

// resolveNames fills product names from the stored documents. Name lookup is
// cosmetic: failures log and leave the field empty.
func (a *Aggregator) resolveNames(ctx context.Context, candidates []Candidate) {
	for i := range candidates {
		doc, err := a.docs.Get(ctx, candidates[i].ProductID)
		if err != nil {
			a.logger.Warn().Err(err).Int("product_id", candidates[i].ProductID).Msg("name lookup failed")
			continue
		}
		candidates[i].Name = doc.Name
		if candidates[i].Issuer == "" {
			candidates[i].Issuer = doc.Issuer
		}
	}
}

// sortByPriority orders a product's chunks for evidence selection: cores
// matching a query-mentioned category first, then notes, then summaries,
// then everything else, ties by descending similarity.
func sortByPriority(group []store.ScoredChunk, queryCategories map[string]struct{}) {
	sort.SliceStable(group, func(i, j int) bool {
		pi := chunkPriority(group[i].Chunk, queryCategories)
		pj := chunkPriority(group[j].Chunk, queryCategories)
		if pi != pj {
			return pi < pj
		}
		if group[i].Score != group[j].Score {
			return group[i].Score > group[j].Score
		}
		return group[i].Chunk.DocID < group[j].Chunk.DocID
	})
}

func chunkPriority(ch catalog.Chunk, queryCategories map[string]struct{}) int {
	if ch.DocType == catalog.DocTypeCore && ch.Metadata.CategoryStd != "" {
		if _, ok := queryCategories[ch.Metadata.CategoryStd]; ok {
			return 0
		}
	}
	switch ch.DocType {
	case catalog.DocTypeNotes:
		return 1
	case catalog.DocTypeSummary:
		return 2
	default:
		return 3
	}
}
