// Package provider defines the capability interfaces for AI model backends.
//
// A driver wraps one upstream API (OpenAI-compatible, Jina, ElevenLabs, …) and
// implements whichever capability interfaces the upstream supports: chat
// completion, embeddings, reranking, or text-to-speech. Callers discover
// capabilities with a type assertion and must treat a failed assertion as
// "not supported" rather than an error condition of the driver.
//
// Implementors must be safe for concurrent use. Channels returned by
// ChatStream must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package provider

import (
	"context"
	"fmt"
)

// Message is a single chat message in provider-neutral form.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`
}

// ChatRequest carries everything a chat-capable driver needs for one call.
// Messages must be non-empty; everything else is optional.
type ChatRequest struct {
	// Model is the upstream model identifier (e.g. "gpt-4o-mini").
	Model string

	// Messages is the ordered conversation history.
	Messages []Message

	// Tools holds raw tool definitions in the upstream's wire shape. Drivers
	// pass them through without interpretation.
	Tools []map[string]any

	// ToolChoice mirrors the OpenAI tool_choice field ("auto", "none", or a
	// structured selector). Nil means upstream default.
	ToolChoice any

	// Options carries extra generation parameters (temperature, max_tokens,
	// top_p, …) keyed by their upstream names.
	Options map[string]any
}

// ToolCall is a completed tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatResponse is the full (non-streaming) result of a chat call.
type ChatResponse struct {
	// ID is the upstream completion id when the upstream provides one.
	ID string

	// Model is the model that actually served the request.
	Model string

	// Created is the upstream creation timestamp (unix seconds), zero when
	// the upstream does not report one.
	Created int64

	// Content is the assistant's reply text. Empty when the model responds
	// exclusively with tool calls.
	Content string

	// Role is the responding role, normally "assistant".
	Role string

	// ToolCalls lists tool invocations requested by the model.
	ToolCalls []ToolCall

	// FinishReason indicates why generation stopped ("stop", "length",
	// "tool_calls", …).
	FinishReason string

	// Usage is the upstream token accounting, passed through untyped so that
	// gateways can normalise provider-specific shapes.
	Usage map[string]any
}

// ToolCallDelta is an incremental fragment of a streamed tool call. Index
// identifies which call the fragment belongs to; Arguments fragments are
// concatenated in arrival order.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Delta is a single fragment emitted by a streaming chat call. A fragment may
// carry text, tool-call pieces, a finish signal, or any combination.
type Delta struct {
	// Content is the incremental text, possibly empty.
	Content string

	// Role is set on the first fragment of a response.
	Role string

	// ToolCalls holds incremental tool-call fragments.
	ToolCalls []ToolCallDelta

	// FinishReason is set on the final fragment ("" otherwise).
	FinishReason string
}

// Embedding is one vector in an embedding response, in input order.
type Embedding struct {
	Index  int
	Vector []float32
}

// EmbeddingResponse is the result of embedding a batch of inputs.
type EmbeddingResponse struct {
	// Provider and Model identify which backend produced the vectors.
	Provider string
	Model    string

	// Data holds one embedding per input, ordered by input index.
	Data []Embedding

	// Usage is the upstream token accounting, untyped passthrough.
	Usage map[string]any
}

// RerankResult scores one candidate document against the query.
type RerankResult struct {
	// Index is the position of the document in the request's document list.
	Index int `json:"index"`

	// RelevanceScore is the upstream relevance score, higher is better.
	RelevanceScore float64 `json:"relevance_score"`
}

// TTSRequest carries a speech synthesis request.
type TTSRequest struct {
	// Text is the content to speak.
	Text string

	// Model is the upstream TTS model identifier.
	Model string

	// Voice selects the voice (driver-specific naming).
	Voice string

	// Options carries driver-specific tuning (stability, speed, format, …).
	Options map[string]any
}

// ChatCapable is implemented by drivers that can run chat completions.
type ChatCapable interface {
	// Chat sends req and waits for the full response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream sends req and returns a channel of incremental fragments.
	// The channel is closed when generation finishes or ctx is cancelled;
	// callers must drain it. Errors after the stream opens surface as a
	// final Delta with FinishReason "error".
	ChatStream(ctx context.Context, req ChatRequest) (<-chan Delta, error)
}

// EmbeddingCapable is implemented by drivers that can embed text.
type EmbeddingCapable interface {
	// Embed converts each input string into one vector, preserving order.
	Embed(ctx context.Context, model string, inputs []string) (*EmbeddingResponse, error)
}

// RerankCapable is implemented by drivers that can rerank documents.
type RerankCapable interface {
	// Rerank scores documents against query and returns them ordered by
	// descending relevance, truncated to topN when topN > 0.
	Rerank(ctx context.Context, model, query string, documents []string, topN int) ([]RerankResult, error)
}

// TTSCapable is implemented by drivers that can synthesise speech.
type TTSCapable interface {
	// Speak synthesises req.Text and returns the complete audio payload
	// together with its MIME type.
	Speak(ctx context.Context, req TTSRequest) (data []byte, mime string, err error)
}

// UnsupportedError reports that a driver does not implement a capability.
type UnsupportedError struct {
	Provider   string
	Capability string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("provider %q does not support %s", e.Provider, e.Capability)
}

// APIError is an upstream HTTP failure with the response body preserved for
// diagnostics.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider %q: upstream returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}
