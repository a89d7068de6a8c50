package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
	"github.com/cardmatch-ai/cardmatch/internal/observability"
	"github.com/cardmatch-ai/cardmatch/internal/retrieval"
	"github.com/cardmatch-ai/cardmatch/pkg/engine"
)

// SearchHandler handles candidate retrieval requests.
type SearchHandler struct {
	logger *observability.Logger
	engine *engine.Engine
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(logger *observability.Logger, eng *engine.Engine) *SearchHandler {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &SearchHandler{
		logger: logger,
		engine: eng,
	}
}

// SearchRequestDTO represents the API request for candidate search.
type SearchRequestDTO struct {
	Query           string `json:"query"`
	FeeMax          *int   `json:"fee_max,omitempty"`
	SpendMax        *int   `json:"spend_max,omitempty"`
	ProductType     string `json:"product_type,omitempty"`
	OnlineOnly      *bool  `json:"online_only,omitempty"`
	TopM            int    `json:"top_m,omitempty"`
	EvidencePerCard int    `json:"evidence_per_card,omitempty"`
}

// SearchResponseDTO represents the API response.
type SearchResponseDTO struct {
	Query      string                `json:"query"`
	LatencyMs  int64                 `json:"latency_ms"`
	Candidates []retrieval.Candidate `json:"candidates"`
}

// Search handles POST /api/v1/search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var reqDTO SearchRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if strings.TrimSpace(reqDTO.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required", "")
		return
	}

	filters := catalog.FilterSet{
		FeeMax:     reqDTO.FeeMax,
		SpendMax:   reqDTO.SpendMax,
		OnlineOnly: reqDTO.OnlineOnly,
	}
	if reqDTO.ProductType != "" {
		pt := catalog.ProductType(reqDTO.ProductType)
		if !pt.Valid() {
			writeError(w, http.StatusBadRequest, "unknown product_type", reqDTO.ProductType)
			return
		}
		filters.ProductType = &pt
	}

	started := time.Now()
	cands, err := h.engine.Search(r.Context(), reqDTO.Query, filters, reqDTO.TopM, reqDTO.EvidencePerCard)
	if err != nil {
		h.logger.WithContext(r.Context()).Error().Err(err).Msg("Search failed")
		writeError(w, http.StatusInternalServerError, "search failed", err.Error())
		return
	}
	if cands == nil {
		cands = []retrieval.Candidate{}
	}

	writeJSON(w, http.StatusOK, SearchResponseDTO{
		Query:      reqDTO.Query,
		LatencyMs:  time.Since(started).Milliseconds(),
		Candidates: cands,
	})
}
