package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
	"github.com/cardmatch-ai/cardmatch/internal/index"
	"github.com/cardmatch-ai/cardmatch/internal/observability"
	"github.com/cardmatch-ai/cardmatch/pkg/engine"
)

// IndexHandler handles catalog indexing requests.
type IndexHandler struct {
	logger *observability.Logger
	engine *engine.Engine
}

// NewIndexHandler creates a new index handler.
func NewIndexHandler(logger *observability.Logger, eng *engine.Engine) *IndexHandler {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &IndexHandler{
		logger: logger,
		engine: eng,
	}
}

// IndexRequestDTO represents the API request for batch indexing.
type IndexRequestDTO struct {
	Records   []catalog.BenefitRecord `json:"records"`
	Overwrite bool                    `json:"overwrite,omitempty"`
	Workers   int                     `json:"workers,omitempty"`
}

// Index handles POST /api/v1/products/index. The response is the full batch
// report; a quota abort is reported in the body, not as an HTTP failure,
// because the completed portion of the run is durable.
func (h *IndexHandler) Index(w http.ResponseWriter, r *http.Request) {
	var reqDTO IndexRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if len(reqDTO.Records) == 0 {
		writeError(w, http.StatusBadRequest, "records are required", "")
		return
	}

	report := h.engine.IndexBatch(r.Context(), reqDTO.Records, index.Options{
		Overwrite: reqDTO.Overwrite,
		Workers:   reqDTO.Workers,
	})

	writeJSON(w, http.StatusOK, report)
}
