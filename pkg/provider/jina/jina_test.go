package jina

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fylr-ai/fylr/pkg/provider"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestEmbed(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "jina-clip-v2" || len(req.Input) != 2 {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": "jina-clip-v2",
			"data": [
				{"index": 0, "embedding": [0.1, 0.2]},
				{"index": 1, "embedding": [0.3, 0.4]}
			],
			"usage": {"total_tokens": 12}
		}`))
	}))
	defer srv.Close()

	d, err := New("jk-test", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := d.Embed(context.Background(), "jina-clip-v2", []string{"one", "two"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if gotAuth != "Bearer jk-test" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if resp.Provider != "jina" || resp.Model != "jina-clip-v2" {
		t.Errorf("response identity = %s/%s", resp.Provider, resp.Model)
	}
	if len(resp.Data) != 2 || resp.Data[1].Vector[0] != 0.3 {
		t.Errorf("data = %+v", resp.Data)
	}
	if resp.Usage["total_tokens"] != float64(12) {
		t.Errorf("usage = %v", resp.Usage)
	}
}

func TestEmbed_EmptyInputs(t *testing.T) {
	d, err := New("jk-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := d.Embed(context.Background(), "jina-clip-v2", nil); err == nil {
		t.Fatal("expected error for empty inputs")
	}
}

func TestRerank(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/rerank" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Query != "tides" || req.TopN != 2 {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"results": [
				{"index": 2, "relevance_score": 0.91},
				{"index": 0, "relevance_score": 0.42}
			]
		}`))
	}))
	defer srv.Close()

	d, err := New("jk-test", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	results, err := d.Rerank(context.Background(), "jina-reranker-v2", "tides",
		[]string{"a", "b", "c"}, 2)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Index != 2 || results[0].RelevanceScore != 0.91 {
		t.Errorf("top result = %+v", results[0])
	}
}

func TestRerank_EmptyDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected API call for empty documents")
	}))
	defer srv.Close()

	d, err := New("jk-test", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	results, err := d.Rerank(context.Background(), "jina-reranker-v2", "q", nil, 5)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %v, want empty", results)
	}
}

func TestEmbed_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail": "invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	d, err := New("bad-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = d.Embed(context.Background(), "jina-clip-v2", []string{"one"})
	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *provider.APIError", err)
	}
	if apiErr.Provider != "jina" || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("api error = %+v", apiErr)
	}
}
