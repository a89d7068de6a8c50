// Package main provides the API router setup.
package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cardmatch-ai/cardmatch/cmd/cardmatch-api/handlers"
	"github.com/cardmatch-ai/cardmatch/cmd/cardmatch-api/middleware"
	apigrpc "github.com/cardmatch-ai/cardmatch/internal/api/grpc"
	"github.com/cardmatch-ai/cardmatch/internal/config"
	"github.com/cardmatch-ai/cardmatch/internal/observability"
	"github.com/cardmatch-ai/cardmatch/pkg/engine"
)

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg *config.Config, eng *engine.Engine) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestCorrelation)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(chimiddleware.Timeout(cfg.Server.ReadTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"cardmatch"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := eng.Ready(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "detail": err.Error()})
			return
		}
		w.Write([]byte(`{"status":"ready"}`))
	})

	// The Connect service shares the server with the REST routes.
	rpcService := apigrpc.NewRecommendService(logger, eng)
	rpcPrefix, rpcHandler := apigrpc.NewRecommendServiceHandler(rpcService)
	r.Handle(rpcPrefix+"*", rpcHandler)

	indexHandler := handlers.NewIndexHandler(logger, eng)
	searchHandler := handlers.NewSearchHandler(logger, eng)
	recommendHandler := handlers.NewRecommendHandler(logger, eng)
	productHandler := handlers.NewProductHandler(logger, eng)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/products/index", indexHandler.Index)
		r.Post("/search", searchHandler.Search)
		r.Post("/recommend", recommendHandler.Recommend)
		r.Get("/stats", productHandler.Stats)

		r.Route("/products/{productID}", func(r chi.Router) {
			r.Get("/", productHandler.Get)
			r.Delete("/", productHandler.Delete)
		})
	})

	return r
}
