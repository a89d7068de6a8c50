// Package selection picks the single best product from externally computed
// benefit estimates.
package selection

import (
	"context"
	"errors"
	"sort"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
	"github.com/cardmatch-ai/cardmatch/internal/observability"
	"github.com/cardmatch-ai/cardmatch/internal/store"
)

// Selection errors. An empty estimate list is a caller error, not a fallback
// condition.
var (
	ErrNoEstimates = errors.New("no benefit estimates to select from")
	ErrNoScorable  = errors.New("no scorable candidates after exclusions")
)

// DefaultWarningPenalty is subtracted once when a candidate carries more
// than DefaultWarningThreshold warnings.
const (
	DefaultWarningPenalty   = 0.5
	DefaultWarningThreshold = 2
)

// BenefitEstimate is one product's externally computed annual benefit.
type BenefitEstimate struct {
	ProductID             int            `json:"product_id"`
	AnnualBenefitEstimate int            `json:"annual_benefit_estimate"`
	ConditionsMet         bool           `json:"conditions_met"`
	CategoryCoverage      map[string]int `json:"category_coverage,omitempty"`
	WarningCount          int            `json:"warning_count"`
}

// Preferences carries optional user preferences applied at the end of the
// tie-break ladder.
type Preferences struct {
	PreferredType *catalog.ProductType `json:"preferred_type,omitempty"`
}

// ScoredCandidate is a ranked product with its score parts.
type ScoredCandidate struct {
	ProductID             int                 `json:"product_id"`
	Name                  string              `json:"name,omitempty"`
	Type                  catalog.ProductType `json:"type"`
	FeeTotal              int                 `json:"fee_total"`
	MinSpendRequirement   int                 `json:"min_spend_requirement"`
	AnnualBenefitEstimate int                 `json:"annual_benefit_estimate"`
	ConditionsMet         bool                `json:"conditions_met"`
	NetBenefit            int                 `json:"net_benefit"`
	CoverageScore         int                 `json:"coverage_score"`
	Penalty               float64             `json:"penalty"`
	FinalScore            float64             `json:"final_score"`
	WarningCount          int                 `json:"warning_count"`
}

// Rejection names an estimate excluded before scoring.
type Rejection struct {
	ProductID int    `json:"product_id,omitempty"`
	Reason    string `json:"reason"`
}

// Selection is the ranked outcome. Ranked[0] is always the winner. TieBreak
// names the ladder stages that ran, in order, when the top score was tied.
type Selection struct {
	Winner   ScoredCandidate   `json:"winner"`
	Ranked   []ScoredCandidate `json:"ranked"`
	TieBreak []string          `json:"tie_break,omitempty"`
	Rejected []Rejection       `json:"rejected,omitempty"`
}

// SelectorConfig holds the selector's tuning knobs.
type SelectorConfig struct {
	WarningPenalty   float64
	WarningThreshold int
}

// Selector scores benefit estimates against stored product facts.
type Selector struct {
	logger *observability.Logger
	docs   store.DocumentStore
	config SelectorConfig
}

// NewSelector creates a selector, applying defaults for zero config values.
func NewSelector(logger *observability.Logger, docs store.DocumentStore, cfg SelectorConfig) *Selector {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	if cfg.WarningPenalty == 0 {
		cfg.WarningPenalty = DefaultWarningPenalty
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = DefaultWarningThreshold
	}
	return &Selector{
		logger: logger.WithComponent("selector"),
		docs:   docs,
		config: cfg,
	}
}

// Select scores every estimate and returns the ranked candidates with the
// tie-broken winner first. Unmet conditions zero the estimate before the fee
// is charged against it. Candidates whose product cannot be resolved are
// excluded with a logged reason rather than failing the batch.
func (s *Selector) Select(ctx context.Context, estimates []BenefitEstimate, prefs Preferences) (*Selection, error) {
	if len(estimates) == 0 {
		return nil, ErrNoEstimates
	}

	ranked := make([]ScoredCandidate, 0, len(estimates))
	var rejected []Rejection
	for _, est := range estimates {
		if est.ProductID == 0 {
			s.logger.Warn().Msg("estimate without product id excluded")
			rejected = append(rejected, Rejection{Reason: "missing product id"})
			continue
		}
		doc, err := s.docs.Get(ctx, est.ProductID)
		if err != nil {
			s.logger.Warn().Err(err).Int("product_id", est.ProductID).Msg("product unresolvable, estimate excluded")
			rejected = append(rejected, Rejection{ProductID: est.ProductID, Reason: err.Error()})
			continue
		}
		ranked = append(ranked, s.score(est, doc))
	}
	if len(ranked) == 0 {
		return nil, ErrNoScorable
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.FeeTotal != b.FeeTotal {
			return a.FeeTotal < b.FeeTotal
		}
		if a.MinSpendRequirement != b.MinSpendRequirement {
			return a.MinSpendRequirement < b.MinSpendRequirement
		}
		return a.ProductID < b.ProductID
	})

	winnerAt, trail := s.breakTies(ranked, prefs)
	if winnerAt != 0 {
		// Ties share a score, so promoting the winner keeps the order sorted.
		ranked[0], ranked[winnerAt] = ranked[winnerAt], ranked[0]
	}

	s.logger.Debug().
		Int("candidates", len(ranked)).
		Int("winner", ranked[0].ProductID).
		Float64("final_score", ranked[0].FinalScore).
		Strs("tie_break", trail).
		Msg("selection complete")

	return &Selection{Winner: ranked[0], Ranked: ranked, TieBreak: trail, Rejected: rejected}, nil
}

// score computes one candidate's parts. An unknown fee counts as zero, the
// same leniency the retrieval filters give it.
func (s *Selector) score(est BenefitEstimate, doc catalog.ProductDocument) ScoredCandidate {
	estimate := est.AnnualBenefitEstimate
	if !est.ConditionsMet {
		estimate = 0
	}

	fee := 0
	if doc.FeeTotal != nil {
		fee = *doc.FeeTotal
	} else {
		s.logger.Debug().Int("product_id", est.ProductID).Msg("fee unknown, scored as zero")
	}

	coverage := 0
	for _, amount := range est.CategoryCoverage {
		if amount > 0 {
			coverage++
		}
	}

	var penalty float64
	if est.WarningCount > s.config.WarningThreshold {
		penalty = s.config.WarningPenalty
	}

	net := estimate - fee
	return ScoredCandidate{
		ProductID:             est.ProductID,
		Name:                  doc.Name,
		Type:                  doc.Type,
		FeeTotal:              fee,
		MinSpendRequirement:   doc.MinSpendRequirement,
		AnnualBenefitEstimate: estimate,
		ConditionsMet:         est.ConditionsMet,
		NetBenefit:            net,
		CoverageScore:         coverage,
		Penalty:               penalty,
		FinalScore:            float64(net) + float64(coverage) - penalty,
		WarningCount:          est.WarningCount,
	}
}

// breakTies returns the winner's index and the trail of ladder stages that
// ran. The ladder narrows only among exact score ties: lowest fee, then
// lowest spend requirement, then the preferred type when any tied candidate
// matches it.
func (s *Selector) breakTies(ranked []ScoredCandidate, prefs Preferences) (int, []string) {
	tied := []int{0}
	for i := 1; i < len(ranked); i++ {
		if ranked[i].FinalScore != ranked[0].FinalScore {
			break
		}
		tied = append(tied, i)
	}
	if len(tied) == 1 {
		return 0, nil
	}

	trail := []string{"fee_total"}
	tied = narrowInt(tied, func(i int) int { return ranked[i].FeeTotal })
	if len(tied) > 1 {
		trail = append(trail, "min_spend_requirement")
		tied = narrowInt(tied, func(i int) int { return ranked[i].MinSpendRequirement })
	}
	if len(tied) > 1 && prefs.PreferredType != nil {
		trail = append(trail, "preferred_type")
		var matching []int
		for _, i := range tied {
			if ranked[i].Type == *prefs.PreferredType {
				matching = append(matching, i)
			}
		}
		if len(matching) > 0 {
			tied = matching
		}
	}
	return tied[0], trail
}

// narrowInt keeps the indices holding the minimum of the keyed value.
func narrowInt(indices []int, key func(int) int) []int {
	min := key(indices[0])
	for _, i := range indices[1:] {
		if v := key(i); v < min {
			min = v
		}
	}
	out := indices[:0]
	for _, i := range indices {
		if key(i) == min {
			out = append(out, i)
		}
	}
	return out
}
