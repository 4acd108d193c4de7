package gateway

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fylr-ai/fylr/internal/prompt"
)

func (s *Server) handleListPrompts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"prompts": s.Prompts.List(),
	})
}

func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	version := r.URL.Query().Get("version")

	info, err := s.Prompts.Inspect(id, version)
	if err != nil {
		if errors.Is(err, prompt.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error(), "not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error(), "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, info)
}
