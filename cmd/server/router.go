package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brunobiangulo/mindforge/auth"
)

// newRouter wires middleware and routes. /health and /metrics stay outside
// authentication.
func newRouter(h *handler, verifier *auth.Verifier, origins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(logMiddleware)
	r.Use(chimiddleware.Recoverer)

	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(verifier))

		r.Route("/mindmaps", func(r chi.Router) {
			r.Post("/", h.handleGenerate)
			r.Get("/", h.handleList)
			r.Post("/parse", h.handleParse)
			r.Get("/search", h.handleSearch)
			r.Get("/{id}", h.handleGet)
			r.Delete("/{id}", h.handleDelete)
			r.Patch("/{id}/nodes/{nodeID}", h.handleMoveNode)
			r.Delete("/{id}/nodes/{nodeID}", h.handleRemoveNode)
		})

		r.Post("/chat", h.handleChat)
		r.Get("/usage", h.handleUsage)
		r.Post("/transcribe", h.handleTranscribe)
		r.Post("/ocr", h.handleOCR)
		r.Post("/documents/analyze", h.handleAnalyze)
	})

	return r
}
