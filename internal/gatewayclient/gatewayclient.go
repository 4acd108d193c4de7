// Package gatewayclient is the workers' HTTP client for the AI Gateway. All
// calls go through a circuit breaker so a struggling gateway fails fast
// instead of tying every worker up in timeouts.
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fylr-ai/fylr/internal/resilience"
)

// Client calls the gateway's chat, embeddings, and TTS endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *resilience.Breaker
}

// New builds a client for the gateway at baseURL. The timeout is generous
// because synthesis chat calls can run long.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 120 * time.Second},
		breaker: resilience.NewBreaker(resilience.Config{
			Name: "ai-gateway",
		}),
	}
}

// ChatRequest is the gateway chat call shape used by workers. Most calls
// address a registered prompt via PromptType and let the Auto-Router pick
// the model.
type ChatRequest struct {
	Provider      string         `json:"provider,omitempty"`
	Model         string         `json:"model,omitempty"`
	Messages      []ChatMessage  `json:"messages,omitempty"`
	PromptType    string         `json:"prompt_type,omitempty"`
	PromptVersion string         `json:"prompt_version,omitempty"`
	PromptVars    map[string]any `json:"prompt_vars,omitempty"`
	Options       map[string]any `json:"options,omitempty"`
}

// ChatMessage mirrors the gateway message shape.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the subset of the gateway chat response workers consume.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage map[string]any `json:"usage"`
}

// Content returns the first choice's message content.
func (r *ChatResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Chat runs a blocking chat completion.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var out ChatResponse
	err := c.breaker.Do(func() error {
		return c.post(ctx, "/v1/chat/completions", req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type embeddingsRequest struct {
	Provider  string   `json:"provider,omitempty"`
	Model     string   `json:"model,omitempty"`
	FullModel string   `json:"fullModel,omitempty"`
	Input     []string `json:"input"`
}

// EmbeddingData is one vector of a gateway embeddings response.
type EmbeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// EmbeddingsResponse is the gateway embeddings response.
type EmbeddingsResponse struct {
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Data     []EmbeddingData `json:"data"`
	Usage    map[string]any  `json:"usage"`
}

// Vectors returns the embeddings in input order.
func (r *EmbeddingsResponse) Vectors() [][]float32 {
	out := make([][]float32, len(r.Data))
	for _, d := range r.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out
}

// Embed requests embeddings for a batch of inputs. fullModel pins the
// embedding model ("timestamp@version@provider/model"); when empty the
// gateway's default model serves the call.
func (c *Client) Embed(ctx context.Context, fullModel string, inputs []string) (*EmbeddingsResponse, error) {
	var out EmbeddingsResponse
	err := c.breaker.Do(func() error {
		return c.post(ctx, "/v1/embeddings", embeddingsRequest{
			FullModel: fullModel,
			Input:     inputs,
		}, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// TTSRequest is the gateway speech call shape.
type TTSRequest struct {
	Provider string         `json:"provider"`
	Text     string         `json:"text"`
	Model    string         `json:"model,omitempty"`
	Voice    string         `json:"voice"`
	Options  map[string]any `json:"options,omitempty"`
}

// Speak synthesises speech and returns the raw audio bytes with their MIME
// type.
func (c *Client) Speak(ctx context.Context, req TTSRequest) (data []byte, mime string, err error) {
	err = c.breaker.Do(func() error {
		payload, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("gatewayclient: marshal tts request: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/v1/tts", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("gatewayclient: build tts request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return fmt.Errorf("gatewayclient: tts: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("gatewayclient: tts returned %d: %s", resp.StatusCode, body)
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("gatewayclient: read tts body: %w", err)
		}
		mime = resp.Header.Get("Content-Type")
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return data, mime, nil
}

// post sends a JSON request and decodes the JSON response into out.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("gatewayclient: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("gatewayclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gatewayclient: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gatewayclient: %s returned %d: %s", path, resp.StatusCode, data)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gatewayclient: decode %s response: %w", path, err)
	}
	return nil
}
