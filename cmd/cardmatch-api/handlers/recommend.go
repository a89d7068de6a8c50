package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
	"github.com/cardmatch-ai/cardmatch/internal/observability"
	"github.com/cardmatch-ai/cardmatch/internal/selection"
	"github.com/cardmatch-ai/cardmatch/pkg/engine"
)

// RecommendHandler handles final selection requests.
type RecommendHandler struct {
	logger *observability.Logger
	engine *engine.Engine
}

// NewRecommendHandler creates a new recommend handler.
func NewRecommendHandler(logger *observability.Logger, eng *engine.Engine) *RecommendHandler {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &RecommendHandler{
		logger: logger,
		engine: eng,
	}
}

// RecommendRequestDTO represents the API request for final selection.
type RecommendRequestDTO struct {
	Estimates     []selection.BenefitEstimate `json:"estimates"`
	PreferredType string                      `json:"preferred_type,omitempty"`
}

// Recommend handles POST /api/v1/recommend.
func (h *RecommendHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	var reqDTO RecommendRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	var prefs selection.Preferences
	if reqDTO.PreferredType != "" {
		pt := catalog.ProductType(reqDTO.PreferredType)
		if !pt.Valid() {
			writeError(w, http.StatusBadRequest, "unknown preferred_type", reqDTO.PreferredType)
			return
		}
		prefs.PreferredType = &pt
	}

	sel, err := h.engine.Recommend(r.Context(), reqDTO.Estimates, prefs)
	switch {
	case errors.Is(err, selection.ErrNoEstimates):
		writeError(w, http.StatusBadRequest, "estimates are required", "")
		return
	case errors.Is(err, selection.ErrNoScorable):
		writeError(w, http.StatusUnprocessableEntity, "no scorable estimates", err.Error())
		return
	case err != nil:
		h.logger.WithContext(r.Context()).Error().Err(err).Msg("Recommend failed")
		writeError(w, http.StatusInternalServerError, "recommend failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sel)
}
