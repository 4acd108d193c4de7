// Package jina provides an embeddings and rerank driver backed by the Jina
// AI API.
package jina

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fylr-ai/fylr/pkg/provider"
)

const defaultBaseURL = "https://api.jina.ai"

// Driver implements embedding and rerank capabilities against the Jina API.
type Driver struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// config holds optional configuration for the driver.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Driver.
type Option func(*config)

// WithBaseURL overrides the default Jina API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Jina driver.
func New(apiKey string, opts ...Option) (*Driver, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("jina: apiKey must not be empty")
	}

	cfg := &config{
		baseURL: defaultBaseURL,
		timeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(cfg)
	}

	return &Driver{
		apiKey:  apiKey,
		baseURL: cfg.baseURL,
		client:  &http.Client{Timeout: cfg.timeout},
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string { return "jina" }

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage map[string]any `json:"usage"`
}

// Embed implements provider.EmbeddingCapable.
func (d *Driver) Embed(ctx context.Context, model string, inputs []string) (*provider.EmbeddingResponse, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("jina: inputs must not be empty")
	}

	var resp embeddingResponse
	err := d.post(ctx, "/v1/embeddings", embeddingRequest{Model: model, Input: inputs}, &resp)
	if err != nil {
		return nil, fmt.Errorf("jina: embeddings: %w", err)
	}

	out := &provider.EmbeddingResponse{
		Provider: "jina",
		Model:    resp.Model,
		Usage:    resp.Usage,
	}
	if out.Model == "" {
		out.Model = model
	}
	for _, e := range resp.Data {
		out.Data = append(out.Data, provider.Embedding{Index: e.Index, Vector: e.Embedding})
	}
	return out, nil
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank implements provider.RerankCapable. An empty document list
// short-circuits to an empty result without calling the API.
func (d *Driver) Rerank(ctx context.Context, model, query string, documents []string, topN int) ([]provider.RerankResult, error) {
	if len(documents) == 0 {
		return []provider.RerankResult{}, nil
	}

	var resp rerankResponse
	err := d.post(ctx, "/v1/rerank", rerankRequest{
		Model:     model,
		Query:     query,
		Documents: documents,
		TopN:      topN,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("jina: rerank: %w", err)
	}

	results := make([]provider.RerankResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, provider.RerankResult{Index: r.Index, RelevanceScore: r.RelevanceScore})
	}
	return results, nil
}

// post sends a JSON request and decodes the JSON response into out.
func (d *Driver) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &provider.APIError{Provider: "jina", StatusCode: resp.StatusCode, Body: string(data)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
