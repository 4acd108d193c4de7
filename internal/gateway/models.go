package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fylr-ai/fylr/internal/modelreg"
)

// modelPatch addresses one registry entry for the PATCH endpoints.
type modelPatch struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Models.All())
}

func (s *Server) handleSetDefaultModel(w http.ResponseWriter, r *http.Request) {
	s.patchModel(w, r, s.Models.SetDefault)
}

func (s *Server) handleDeprecateModel(w http.ResponseWriter, r *http.Request) {
	s.patchModel(w, r, s.Models.Deprecate)
}

func (s *Server) patchModel(w http.ResponseWriter, r *http.Request, apply func(provider, model string) (modelreg.Model, error)) {
	var req modelPatch
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "invalid_request")
		return
	}
	if req.Provider == "" || req.Model == "" {
		writeError(w, http.StatusBadRequest, "provider and model are required", "invalid_request")
		return
	}

	updated, err := apply(req.Provider, req.Model)
	if err != nil {
		if errors.Is(err, modelreg.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error(), "not_found")
			return
		}
		writeError(w, http.StatusConflict, err.Error(), "conflict")
		return
	}
	writeJSON(w, http.StatusOK, modelreg.ListedModel{Model: updated, FullModel: updated.FullModel()})
}
