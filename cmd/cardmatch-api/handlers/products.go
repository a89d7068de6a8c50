package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cardmatch-ai/cardmatch/internal/observability"
	"github.com/cardmatch-ai/cardmatch/internal/store"
	"github.com/cardmatch-ai/cardmatch/pkg/engine"
)

// ProductHandler handles stored document lookups and store statistics.
type ProductHandler struct {
	logger *observability.Logger
	engine *engine.Engine
}

// NewProductHandler creates a new product handler.
func NewProductHandler(logger *observability.Logger, eng *engine.Engine) *ProductHandler {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &ProductHandler{
		logger: logger,
		engine: eng,
	}
}

// Get handles GET /api/v1/products/{productID}.
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := productIDParam(w, r)
	if !ok {
		return
	}

	doc, err := h.engine.Product(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "product not found", "")
		return
	}
	if err != nil {
		h.logger.WithContext(r.Context()).Error().Err(err).Int("product_id", id).Msg("Product lookup failed")
		writeError(w, http.StatusInternalServerError, "product lookup failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// Delete handles DELETE /api/v1/products/{productID}.
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := productIDParam(w, r)
	if !ok {
		return
	}

	if err := h.engine.DeleteProduct(r.Context(), id); err != nil {
		h.logger.WithContext(r.Context()).Error().Err(err).Int("product_id", id).Msg("Product delete failed")
		writeError(w, http.StatusInternalServerError, "product delete failed", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/v1/stats.
func (h *ProductHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		h.logger.WithContext(r.Context()).Error().Err(err).Msg("Stats failed")
		writeError(w, http.StatusInternalServerError, "stats failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "productID"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid product id", chi.URLParam(r, "productID"))
		return 0, false
	}
	return id, true
}
