package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

// rerankDocument accepts either a bare string or an object with text and
// optional metadata.
type rerankDocument struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (d *rerankDocument) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		d.Text = text
		return nil
	}
	type plain rerankDocument
	return json.Unmarshal(data, (*plain)(d))
}

// rerankRequest is the gateway rerank call body.
type rerankRequest struct {
	Provider  string           `json:"provider"`
	Query     string           `json:"query"`
	Documents []rerankDocument `json:"documents"`
	Model     string           `json:"model"`
	TopN      int              `json:"top_n"`
}

// defaultRerankProvider serves rerank calls that do not name a provider.
const defaultRerankProvider = "jina"

func (s *Server) handleRerank(w http.ResponseWriter, r *http.Request) {
	var req rerankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "invalid_request")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required", "invalid_request")
		return
	}

	providerName := req.Provider
	if providerName == "" {
		providerName = defaultRerankProvider
	}
	driver, err := s.Providers.Rerank(providerName)
	if err != nil {
		writeDriverError(w, err)
		return
	}

	texts := make([]string, len(req.Documents))
	for i, d := range req.Documents {
		texts[i] = d.Text
	}

	start := time.Now()
	results, err := driver.Rerank(r.Context(), req.Model, req.Query, texts, req.TopN)
	s.Metrics.RerankDuration.Record(r.Context(), time.Since(start).Seconds())
	if err != nil {
		s.Metrics.RecordProviderRequest(r.Context(), providerName, "rerank", "error")
		s.Metrics.RecordProviderError(r.Context(), providerName, "rerank")
		writeDriverError(w, err)
		return
	}
	s.Metrics.RecordProviderRequest(r.Context(), providerName, "rerank", "ok")

	out := make([]map[string]any, 0, len(results))
	for _, res := range results {
		entry := map[string]any{
			"index":           res.Index,
			"relevance_score": res.RelevanceScore,
		}
		if res.Index >= 0 && res.Index < len(req.Documents) {
			entry["document"] = req.Documents[res.Index]
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model":   req.Model,
		"results": out,
	})
}
