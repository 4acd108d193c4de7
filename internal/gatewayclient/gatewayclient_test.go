package gatewayclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fylr-ai/fylr/internal/resilience"
)

func TestChat(t *testing.T) {
	var gotPath string
	var gotReq ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o",
			"choices": [{"message": {"role": "assistant", "content": "two keywords"}, "finish_reason": "stop"}],
			"usage": {"total_tokens": 9}
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Chat(context.Background(), ChatRequest{
		PromptType: "summary_keywords",
		PromptVars: map[string]any{"episode_title": "Tides"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if gotPath != "/v1/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotReq.PromptType != "summary_keywords" {
		t.Errorf("request prompt type = %q", gotReq.PromptType)
	}
	if resp.Content() != "two keywords" {
		t.Errorf("content = %q", resp.Content())
	}
}

func TestChatResponse_ContentEmpty(t *testing.T) {
	var r ChatResponse
	if got := r.Content(); got != "" {
		t.Errorf("content = %q, want empty for no choices", got)
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req struct {
			FullModel string   `json:"fullModel"`
			Input     []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.FullModel != "1718000000@1@jina/jina-clip-v2" {
			t.Errorf("fullModel = %q", req.FullModel)
		}
		if len(req.Input) != 2 {
			t.Errorf("inputs = %v", req.Input)
		}
		w.Header().Set("Content-Type", "application/json")
		// Out-of-order indices: Vectors must restore input order.
		w.Write([]byte(`{
			"provider": "jina",
			"model": "jina-clip-v2",
			"data": [
				{"index": 1, "embedding": [0.3, 0.4]},
				{"index": 0, "embedding": [0.1, 0.2]}
			]
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Embed(context.Background(), "1718000000@1@jina/jina-clip-v2", []string{"one", "two"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	vectors := resp.Vectors()
	if len(vectors) != 2 {
		t.Fatalf("vectors = %d, want 2", len(vectors))
	}
	if vectors[0][0] != 0.1 || vectors[1][0] != 0.3 {
		t.Errorf("vectors out of input order: %v", vectors)
	}
}

func TestSpeak(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/tts" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req TTSRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Provider != "elevenlabs" || req.Voice != "voice-a" {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("RIFFdata"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	data, mime, err := c.Speak(context.Background(), TTSRequest{
		Provider: "elevenlabs",
		Text:     "Hello listeners.",
		Voice:    "voice-a",
	})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if string(data) != "RIFFdata" {
		t.Errorf("audio = %q", data)
	}
	if mime != "audio/wav" {
		t.Errorf("mime = %q", mime)
	}
}

func TestChat_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "no provider for model"}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Chat(context.Background(), ChatRequest{PromptType: "episode_summary"})
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("err = %v, want status code in message", err)
	}
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.Chat(ctx, ChatRequest{}); err == nil {
			t.Fatalf("call %d unexpectedly succeeded", i)
		}
	}
	// The breaker has tripped: the next call fails fast without a request.
	_, err := c.Chat(ctx, ChatRequest{})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
}
