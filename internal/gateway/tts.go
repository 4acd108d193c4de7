package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fylr-ai/fylr/pkg/provider"
)

// ttsRequest is the gateway speech synthesis body.
type ttsRequest struct {
	Provider string         `json:"provider"`
	Text     string         `json:"text"`
	Model    string         `json:"model"`
	Voice    string         `json:"voice"`
	Options  map[string]any `json:"options"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "invalid_request")
		return
	}
	if req.Provider == "" {
		writeError(w, http.StatusBadRequest, "provider is required", "invalid_request")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required", "invalid_request")
		return
	}

	driver, err := s.Providers.TTS(req.Provider)
	if err != nil {
		writeDriverError(w, err)
		return
	}

	start := time.Now()
	data, mime, err := driver.Speak(r.Context(), provider.TTSRequest{
		Text:    req.Text,
		Model:   req.Model,
		Voice:   req.Voice,
		Options: req.Options,
	})
	s.Metrics.TTSDuration.Record(r.Context(), time.Since(start).Seconds())
	if err != nil {
		s.Metrics.RecordProviderRequest(r.Context(), req.Provider, "tts", "error")
		s.Metrics.RecordProviderError(r.Context(), req.Provider, "tts")
		writeDriverError(w, err)
		return
	}
	s.Metrics.RecordProviderRequest(r.Context(), req.Provider, "tts", "ok")

	if mime == "" {
		mime = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mime)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
