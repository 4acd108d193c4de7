// Package mock provides configurable in-memory drivers for tests.
package mock

import (
	"context"

	"github.com/fylr-ai/fylr/pkg/provider"
)

// Driver implements every capability interface with overridable function
// fields. The zero value returns canned defaults and records nothing.
type Driver struct {
	ChatFunc       func(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error)
	ChatStreamFunc func(ctx context.Context, req provider.ChatRequest) (<-chan provider.Delta, error)
	EmbedFunc      func(ctx context.Context, model string, inputs []string) (*provider.EmbeddingResponse, error)
	RerankFunc     func(ctx context.Context, model, query string, documents []string, topN int) ([]provider.RerankResult, error)
	SpeakFunc      func(ctx context.Context, req provider.TTSRequest) ([]byte, string, error)

	// ChatRequests records every request passed to Chat and ChatStream.
	// Not safe for concurrent mutation; fine for sequential tests.
	ChatRequests []provider.ChatRequest

	// EmbedInputs records every input batch passed to Embed.
	EmbedInputs [][]string

	// SpeakRequests records every request passed to Speak.
	SpeakRequests []provider.TTSRequest
}

// Chat implements provider.ChatCapable.
func (d *Driver) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	d.ChatRequests = append(d.ChatRequests, req)
	if d.ChatFunc != nil {
		return d.ChatFunc(ctx, req)
	}
	return &provider.ChatResponse{
		ID:           "mock-1",
		Model:        req.Model,
		Content:      "mock response",
		Role:         "assistant",
		FinishReason: "stop",
		Usage:        map[string]any{"total_tokens": 1},
	}, nil
}

// ChatStream implements provider.ChatCapable.
func (d *Driver) ChatStream(ctx context.Context, req provider.ChatRequest) (<-chan provider.Delta, error) {
	d.ChatRequests = append(d.ChatRequests, req)
	if d.ChatStreamFunc != nil {
		return d.ChatStreamFunc(ctx, req)
	}
	ch := make(chan provider.Delta, 2)
	ch <- provider.Delta{Role: "assistant", Content: "mock response"}
	ch <- provider.Delta{FinishReason: "stop"}
	close(ch)
	return ch, nil
}

// Embed implements provider.EmbeddingCapable. The default returns one
// three-dimensional vector per input.
func (d *Driver) Embed(ctx context.Context, model string, inputs []string) (*provider.EmbeddingResponse, error) {
	d.EmbedInputs = append(d.EmbedInputs, inputs)
	if d.EmbedFunc != nil {
		return d.EmbedFunc(ctx, model, inputs)
	}
	resp := &provider.EmbeddingResponse{Provider: "mock", Model: model}
	for i := range inputs {
		resp.Data = append(resp.Data, provider.Embedding{
			Index:  i,
			Vector: []float32{float32(i), 0.5, -0.5},
		})
	}
	return resp, nil
}

// Rerank implements provider.RerankCapable. The default scores documents in
// their original order with descending scores.
func (d *Driver) Rerank(ctx context.Context, model, query string, documents []string, topN int) ([]provider.RerankResult, error) {
	if d.RerankFunc != nil {
		return d.RerankFunc(ctx, model, query, documents, topN)
	}
	n := len(documents)
	if topN > 0 && topN < n {
		n = topN
	}
	results := make([]provider.RerankResult, 0, n)
	for i := 0; i < n; i++ {
		results = append(results, provider.RerankResult{
			Index:          i,
			RelevanceScore: 1 - float64(i)/float64(len(documents)+1),
		})
	}
	return results, nil
}

// Speak implements provider.TTSCapable.
func (d *Driver) Speak(ctx context.Context, req provider.TTSRequest) ([]byte, string, error) {
	d.SpeakRequests = append(d.SpeakRequests, req)
	if d.SpeakFunc != nil {
		return d.SpeakFunc(ctx, req)
	}
	return []byte("mock-audio"), "audio/wav", nil
}
