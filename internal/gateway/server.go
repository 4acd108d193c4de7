// Package gateway implements the AI Gateway HTTP service: an
// OpenAI-compatible surface over the configured provider drivers, the prompt
// registry, the embedding-model registry, and the Auto-Router.
//
// Requests are handled independently; the only mutable state shared across
// requests is the embedding-model registry, which serialises its own writes.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fylr-ai/fylr/internal/health"
	"github.com/fylr-ai/fylr/internal/modelreg"
	"github.com/fylr-ai/fylr/internal/observe"
	"github.com/fylr-ai/fylr/internal/prompt"
	"github.com/fylr-ai/fylr/pkg/provider"
	"github.com/fylr-ai/fylr/pkg/provider/auto"
)

// Server holds the gateway's dependencies. All fields must be set before
// Router is called.
type Server struct {
	Prompts   *prompt.Registry
	Models    *modelreg.Registry
	Providers *provider.Registry
	Auto      *auto.Router
	Metrics   *observe.Metrics
	Health    *health.Handler
	Version   string
}

// Router builds the gateway's HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(observe.Middleware(s.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "X-Correlation-ID"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.Health.Healthz)
	r.Get("/readyz", s.Health.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", s.handleChat)
		r.Post("/embeddings", s.handleEmbeddings)
		r.Post("/rerank", s.handleRerank)
		r.Post("/tts", s.handleTTS)

		r.Get("/prompts", s.handleListPrompts)
		r.Get("/prompts/{id}", s.handleGetPrompt)

		r.Get("/embeddings/models", s.handleListModels)
		r.Patch("/embeddings/models/default", s.handleSetDefaultModel)
		r.Patch("/embeddings/models/deprecate", s.handleDeprecateModel)
	})

	return r
}

// handleRoot serves the service banner.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "fylr-ai-gateway",
		"version": s.Version,
	})
}

// errorBody is the JSON error envelope for all non-2xx responses.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type,omitempty"`
	} `json:"error"`
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "err", err)
	}
}

// writeError sends the error envelope with an explicit status code.
func writeError(w http.ResponseWriter, status int, message, kind string) {
	var body errorBody
	body.Error.Message = message
	body.Error.Type = kind
	writeJSON(w, status, body)
}

// writeDriverError maps a driver failure to an HTTP error. Upstream HTTP
// failures keep their status code; everything else is a 500, except
// capability misses and lookup failures which are caller errors.
func writeDriverError(w http.ResponseWriter, err error) {
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		writeError(w, apiErr.StatusCode, err.Error(), "upstream_error")
		return
	}
	var unsupported *provider.UnsupportedError
	if errors.As(err, &unsupported) {
		writeError(w, http.StatusBadRequest, err.Error(), "unsupported_operation")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error(), "internal_error")
}
