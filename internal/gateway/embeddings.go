package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fylr-ai/fylr/internal/modelreg"
)

// stringOrList accepts either a single string or a list of strings, always
// normalising to a list.
type stringOrList []string

func (s *stringOrList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("input must be a string or a list of strings")
	}
	*s = list
	return nil
}

// embeddingsRequest is the gateway embeddings call body. fullModel pins the
// model with a "timestamp@version@provider/model" string; provider/model
// address it directly; with neither, the registry default serves the call.
type embeddingsRequest struct {
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	FullModel string         `json:"fullModel"`
	Input     stringOrList   `json:"input"`
	Options   map[string]any `json:"options"`
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req embeddingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "invalid_request")
		return
	}
	if len(req.Input) == 0 {
		writeError(w, http.StatusBadRequest, "input is required", "invalid_request")
		return
	}

	providerName, model := req.Provider, req.Model
	if req.FullModel != "" {
		var err error
		providerName, model, err = modelreg.ParseFullModel(req.FullModel)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "invalid_request")
			return
		}
	}
	if providerName == "" || model == "" {
		def, ok := s.Models.Default()
		if !ok {
			writeError(w, http.StatusBadRequest, "no provider/model given and no default embedding model configured", "invalid_request")
			return
		}
		providerName, model = def.Provider, def.Model
	}

	driver, err := s.Providers.Embeddings(providerName)
	if err != nil {
		writeDriverError(w, err)
		return
	}

	start := time.Now()
	resp, err := driver.Embed(r.Context(), model, req.Input)
	s.Metrics.EmbeddingDuration.Record(r.Context(), time.Since(start).Seconds())
	if err != nil {
		s.Metrics.RecordProviderRequest(r.Context(), providerName, "embeddings", "error")
		s.Metrics.RecordProviderError(r.Context(), providerName, "embeddings")
		writeDriverError(w, err)
		return
	}
	s.Metrics.RecordProviderRequest(r.Context(), providerName, "embeddings", "ok")

	data := make([]map[string]any, len(resp.Data))
	for i, e := range resp.Data {
		data[i] = map[string]any{
			"object":    "embedding",
			"embedding": e.Vector,
			"index":     e.Index,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider": providerName,
		"model":    model,
		"data":     data,
		"usage":    coerceUsage(resp.Usage),
	})
}
