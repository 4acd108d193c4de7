// Package anyllm provides a universal chat driver backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more.
//
// Usage:
//
//	d, err := anyllm.New("anthropic", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/fylr-ai/fylr/pkg/provider"
)

// Driver implements provider.ChatCapable by wrapping
// github.com/mozilla-ai/any-llm-go.
type Driver struct {
	name    string
	backend anyllmlib.Provider
}

// New creates a chat driver backed by the given backend name, one of:
// "openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq",
// "llamacpp", "llamafile".
//
// opts are any-llm-go configuration options (anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL, …). Without an API key option the backend falls
// back to its environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, …).
func New(name string, opts ...anyllmlib.Option) (*Driver, error) {
	if name == "" {
		return nil, fmt.Errorf("anyllm: name must not be empty")
	}
	backend, err := createBackend(name, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", name, err)
	}
	return &Driver{name: name, backend: backend}, nil
}

// Name returns the backend name.
func (d *Driver) Name() string { return d.name }

// createBackend creates the underlying any-llm-go provider by name.
func createBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", name)
	}
}

// Chat implements provider.ChatCapable.
func (d *Driver) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	params, err := d.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anyllm: build params: %w", err)
	}

	resp, err := d.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	choice := resp.Choices[0]
	out := &provider.ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Created:      resp.Created,
		Content:      choice.Message.ContentString(),
		Role:         "assistant",
		FinishReason: choice.FinishReason,
	}
	if resp.Usage != nil {
		out.Usage = map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		}
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, provider.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// ChatStream implements provider.ChatCapable.
func (d *Driver) ChatStream(ctx context.Context, req provider.ChatRequest) (<-chan provider.Delta, error) {
	params, err := d.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anyllm: build params: %w", err)
	}

	backendChunks, backendErrs := d.backend.CompletionStream(ctx, params)

	ch := make(chan provider.Delta, 32)
	go func() {
		defer close(ch)

		roleSent := false
		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			delta := choice.Delta

			out := provider.Delta{
				Content:      delta.Content,
				FinishReason: choice.FinishReason,
			}
			if !roleSent && delta.Role != "" {
				out.Role = delta.Role
				roleSent = true
			}
			for i, tc := range delta.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, provider.ToolCallDelta{
					Index:     i,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		// Check for backend errors after the chunk channel is drained.
		if err := <-backendErrs; err != nil {
			select {
			case ch <- provider.Delta{Content: err.Error(), FinishReason: "error"}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// buildParams converts a ChatRequest into anyllm CompletionParams.
func (d *Driver) buildParams(req provider.ChatRequest) (anyllmlib.CompletionParams, error) {
	if len(req.Messages) == 0 {
		return anyllmlib.CompletionParams{}, fmt.Errorf("messages must not be empty")
	}

	messages := make([]anyllmlib.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := m.Role
		if role == "" {
			role = "user"
		}
		messages = append(messages, anyllmlib.Message{Role: role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{
		Model:    req.Model,
		Messages: messages,
	}

	if t, ok := floatOption(req.Options, "temperature"); ok {
		params.Temperature = &t
	}
	if mt, ok := floatOption(req.Options, "max_tokens"); ok && mt > 0 {
		n := int(mt)
		params.MaxTokens = &n
	}

	for _, td := range req.Tools {
		tool, err := convertTool(td)
		if err != nil {
			return anyllmlib.CompletionParams{}, err
		}
		params.Tools = append(params.Tools, tool)
	}

	return params, nil
}

// convertTool maps a raw tool definition (OpenAI wire shape) to anyllm.Tool.
func convertTool(td map[string]any) (anyllmlib.Tool, error) {
	fn, _ := td["function"].(map[string]any)
	if fn == nil {
		fn = td
	}
	name, _ := fn["name"].(string)
	if name == "" {
		return anyllmlib.Tool{}, fmt.Errorf("tool definition missing function name")
	}
	desc, _ := fn["description"].(string)
	params, _ := fn["parameters"].(map[string]any)
	return anyllmlib.Tool{
		Type: "function",
		Function: anyllmlib.Function{
			Name:        name,
			Description: desc,
			Parameters:  params,
		},
	}, nil
}

func floatOption(opts map[string]any, key string) (float64, bool) {
	if opts == nil {
		return 0, false
	}
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
