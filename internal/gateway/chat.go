package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fylr-ai/fylr/internal/observe"
	"github.com/fylr-ai/fylr/internal/prompt"
	"github.com/fylr-ai/fylr/pkg/provider"
)

// chatRequest is the gateway's chat call body. Either Messages or PromptType
// must be present; with both, rendered prompt messages are prepended as
// context ahead of the caller's messages.
type chatRequest struct {
	Provider      string             `json:"provider"`
	Model         string             `json:"model"`
	Messages      []provider.Message `json:"messages"`
	PromptType    string             `json:"prompt_type"`
	PromptVersion string             `json:"prompt_version"`
	PromptVars    map[string]any     `json:"prompt_vars"`
	Stream        bool               `json:"stream"`
	Tools         []map[string]any   `json:"tools"`
	ToolChoice    any                `json:"tool_choice"`
	Reasoning     any                `json:"reasoning"`
	UserID        string             `json:"user_id"`
	Options       map[string]any     `json:"options"`
}

// chatToolCall is the OpenAI wire shape of a completed tool call.
type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func toWireToolCalls(calls []provider.ToolCall) []chatToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]chatToolCall, len(calls))
	for i, c := range calls {
		out[i].ID = c.ID
		out[i].Type = "function"
		out[i].Function.Name = c.Name
		out[i].Function.Arguments = c.Arguments
	}
	return out
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "invalid_request")
		return
	}
	if len(req.Messages) == 0 && req.PromptType == "" {
		writeError(w, http.StatusBadRequest, "either messages or prompt_type is required", "invalid_request")
		return
	}

	messages, ok := s.assembleMessages(w, &req)
	if !ok {
		return
	}

	providerName, model := s.resolveChatRoute(&req)
	driver, err := s.Providers.Chat(providerName)
	if err != nil {
		writeDriverError(w, err)
		return
	}

	opts := req.Options
	if req.Reasoning != nil {
		if opts == nil {
			opts = map[string]any{}
		}
		opts["reasoning"] = req.Reasoning
	}
	driverReq := provider.ChatRequest{
		Model:      model,
		Messages:   messages,
		Tools:      req.Tools,
		ToolChoice: req.ToolChoice,
		Options:    opts,
	}

	if req.Stream {
		s.streamChat(w, r, providerName, driver, driverReq)
		return
	}

	start := time.Now()
	resp, err := driver.Chat(r.Context(), driverReq)
	s.Metrics.ChatDuration.Record(r.Context(), time.Since(start).Seconds())
	if err != nil {
		s.Metrics.RecordProviderRequest(r.Context(), providerName, "chat", "error")
		s.Metrics.RecordProviderError(r.Context(), providerName, "chat")
		writeDriverError(w, err)
		return
	}
	s.Metrics.RecordProviderRequest(r.Context(), providerName, "chat", "ok")

	id := resp.ID
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}
	created := resp.Created
	if created == 0 {
		created = time.Now().Unix()
	}
	respModel := resp.Model
	if respModel == "" {
		respModel = model
	}
	role := resp.Role
	if role == "" {
		role = "assistant"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      id,
		"object":  "chat.completion",
		"created": created,
		"model":   respModel,
		"choices": []map[string]any{{
			"index": 0,
			"message": map[string]any{
				"role":       role,
				"content":    resp.Content,
				"tool_calls": toWireToolCalls(resp.ToolCalls),
			},
			"finish_reason": resp.FinishReason,
		}},
		"usage": coerceUsage(resp.Usage),
	})
}

// assembleMessages renders the addressed prompt (when any) and prepends the
// result to the caller's messages. Returns false after writing an error
// response.
func (s *Server) assembleMessages(w http.ResponseWriter, req *chatRequest) ([]provider.Message, bool) {
	if req.PromptType == "" {
		return req.Messages, true
	}

	rendered, err := s.Prompts.Render(req.PromptType, req.PromptVersion, req.PromptVars)
	if err != nil {
		var verr *prompt.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		case errors.Is(err, prompt.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error(), "not_found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error(), "render_error")
		}
		return nil, false
	}

	var prefix []provider.Message
	if rendered.Form == "messages" {
		prefix = rendered.Messages
	} else {
		role := "user"
		if len(req.Messages) > 0 {
			role = "system"
		}
		prefix = []provider.Message{{Role: role, Content: rendered.Prompt}}
	}
	return append(prefix, req.Messages...), true
}

// resolveChatRoute picks the concrete provider and model. Empty or "auto"
// provider goes through the Auto-Router using the prompt's complexity class;
// an explicit model in the request always wins.
func (s *Server) resolveChatRoute(req *chatRequest) (providerName, model string) {
	providerName, model = req.Provider, req.Model
	if providerName != "" && providerName != "auto" {
		return providerName, model
	}

	route := s.Auto.RouteForPrompt(req.PromptType, req.PromptVersion)
	providerName = route.Provider
	if model == "" {
		model = route.Model
	}
	return providerName, model
}

// streamChat relays the driver's delta stream as Server-Sent Events. Each
// frame is an OpenAI chat.completion.chunk; the stream always terminates with
// "data: [DONE]". A mid-stream failure emits one error frame before DONE.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, providerName string, driver provider.ChatCapable, req provider.ChatRequest) {
	ctx := r.Context()
	s.Metrics.ActiveStreams.Add(ctx, 1)
	defer s.Metrics.ActiveStreams.Add(ctx, -1)

	start := time.Now()
	deltas, err := driver.ChatStream(ctx, req)
	if err != nil {
		s.Metrics.RecordProviderRequest(ctx, providerName, "chat", "error")
		s.Metrics.RecordProviderError(ctx, providerName, "chat")
		writeDriverError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported by server", "internal_error")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	status := "ok"

	for delta := range deltas {
		if delta.FinishReason == "error" {
			status = "error"
			writeSSE(w, flusher, map[string]any{
				"error": map[string]any{"message": delta.Content, "type": "upstream_error"},
			})
			break
		}

		chunk := map[string]any{}
		if delta.Content != "" {
			chunk["content"] = delta.Content
		}
		if delta.Role != "" {
			chunk["role"] = delta.Role
		}
		if len(delta.ToolCalls) > 0 {
			calls := make([]map[string]any, len(delta.ToolCalls))
			for i, tc := range delta.ToolCalls {
				call := map[string]any{
					"index": tc.Index,
					"type":  "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": tc.Arguments,
					},
				}
				if tc.ID != "" {
					call["id"] = tc.ID
				}
				calls[i] = call
			}
			chunk["tool_calls"] = calls
		}

		var finish any
		if delta.FinishReason != "" {
			finish = delta.FinishReason
		}
		writeSSE(w, flusher, map[string]any{
			"id":      id,
			"object":  "chat.completion.chunk",
			"created": created,
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"delta":         chunk,
				"finish_reason": finish,
			}},
		})
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()

	s.Metrics.ChatDuration.Record(ctx, time.Since(start).Seconds())
	s.Metrics.RecordProviderRequest(ctx, providerName, "chat", status)
	if status == "error" {
		s.Metrics.RecordProviderError(ctx, providerName, "chat")
	}
	observe.Logger(ctx).Debug("chat stream finished", "provider", providerName, "status", status)
}

// writeSSE emits one SSE data frame and flushes it.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// coerceUsage flattens upstream usage maps to integer counters. Some backends
// nest usage values inside objects; those are unwrapped using the first of
// the keys "total", "value", "count", or "tokens" that holds a number.
func coerceUsage(usage map[string]any) map[string]int64 {
	if len(usage) == 0 {
		return map[string]int64{}
	}
	out := make(map[string]int64, len(usage))
	for key, val := range usage {
		if n, ok := asInt64(val); ok {
			out[key] = n
			continue
		}
		nested, ok := val.(map[string]any)
		if !ok {
			continue
		}
		for _, k := range []string{"total", "value", "count", "tokens"} {
			if n, ok := asInt64(nested[k]); ok {
				out[key] = n
				break
			}
		}
	}
	return out
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
