// Package openaicompat provides a driver for OpenAI and OpenAI-compatible
// APIs, covering chat completions (plain and streaming), embeddings, and
// text-to-speech.
package openaicompat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/fylr-ai/fylr/pkg/provider"
)

// Driver implements chat, embedding, and TTS capabilities against any
// OpenAI-compatible endpoint.
type Driver struct {
	name   string
	client oai.Client
}

// config holds optional configuration for the driver.
type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Driver.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Use this to point
// the driver at any OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets the SDK retry budget for transient upstream failures.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs an OpenAI-compatible driver. name identifies the driver in
// errors and logs (e.g. "openai", "groq").
func New(name, apiKey string, opts ...Option) (*Driver, error) {
	if name == "" {
		return nil, fmt.Errorf("openaicompat: name must not be empty")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openaicompat: apiKey must not be empty")
	}

	cfg := &config{
		timeout:    60 * time.Second,
		maxRetries: 3,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
		option.WithRequestTimeout(cfg.timeout),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Driver{name: name, client: oai.NewClient(reqOpts...)}, nil
}

// Name returns the configured driver name.
func (d *Driver) Name() string { return d.name }

// Chat implements provider.ChatCapable.
func (d *Driver) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	params, err := d.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("%s: build params: %w", d.name, err)
	}

	resp, err := d.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s: chat completion: %w", d.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty choices in response", d.name)
	}

	choice := resp.Choices[0]
	out := &provider.ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Created:      resp.Created,
		Content:      choice.Message.Content,
		Role:         "assistant",
		FinishReason: choice.FinishReason,
		Usage: map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
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
		return nil, fmt.Errorf("%s: build params: %w", d.name, err)
	}

	stream := d.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("%s: start stream: %w", d.name, err)
	}

	ch := make(chan provider.Delta, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		roleSent := false
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			delta := choice.Delta

			out := provider.Delta{
				Content:      strings.ToValidUTF8(delta.Content, ""),
				FinishReason: choice.FinishReason,
			}
			if !roleSent && delta.Role != "" {
				out.Role = delta.Role
				roleSent = true
			}
			for _, tc := range delta.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, provider.ToolCallDelta{
					Index:     int(tc.Index),
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

		if err := stream.Err(); err != nil {
			select {
			case ch <- provider.Delta{Content: err.Error(), FinishReason: "error"}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Embed implements provider.EmbeddingCapable.
func (d *Driver) Embed(ctx context.Context, model string, inputs []string) (*provider.EmbeddingResponse, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%s: inputs must not be empty", d.name)
	}

	resp, err := d.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: oai.EmbeddingModel(model),
		Input: oai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: inputs,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: embeddings: %w", d.name, err)
	}

	out := &provider.EmbeddingResponse{
		Provider: d.name,
		Model:    resp.Model,
		Usage: map[string]any{
			"prompt_tokens": resp.Usage.PromptTokens,
			"total_tokens":  resp.Usage.TotalTokens,
		},
	}
	for _, e := range resp.Data {
		vec := make([]float32, len(e.Embedding))
		for i, v := range e.Embedding {
			vec[i] = float32(v)
		}
		out.Data = append(out.Data, provider.Embedding{Index: int(e.Index), Vector: vec})
	}
	return out, nil
}

// Speak implements provider.TTSCapable using the audio/speech endpoint.
func (d *Driver) Speak(ctx context.Context, req provider.TTSRequest) (data []byte, mime string, err error) {
	if req.Text == "" {
		return nil, "", fmt.Errorf("%s: text must not be empty", d.name)
	}

	model := req.Model
	if model == "" {
		model = "tts-1"
	}
	voice := req.Voice
	if voice == "" {
		voice = "alloy"
	}

	params := oai.AudioSpeechNewParams{
		Model: oai.SpeechModel(model),
		Input: req.Text,
		Voice: oai.AudioSpeechNewParamsVoice(voice),
	}
	format := "mp3"
	if f, ok := req.Options["response_format"].(string); ok && f != "" {
		format = f
	}
	params.ResponseFormat = oai.AudioSpeechNewParamsResponseFormat(format)
	if speed, ok := numericOption(req.Options, "speed"); ok {
		params.Speed = param.NewOpt(speed)
	}

	resp, err := d.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, "", fmt.Errorf("%s: speech: %w", d.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, "", &provider.APIError{Provider: d.name, StatusCode: resp.StatusCode, Body: string(body)}
	}

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%s: read speech body: %w", d.name, err)
	}
	return data, speechMIME(format), nil
}

// buildParams converts a ChatRequest into OpenAI SDK params.
func (d *Driver) buildParams(req provider.ChatRequest) (oai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return oai.ChatCompletionNewParams{}, fmt.Errorf("messages must not be empty")
	}

	var messages []oai.ChatCompletionMessageParamUnion
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: messages,
	}

	if temp, ok := numericOption(req.Options, "temperature"); ok {
		params.Temperature = param.NewOpt(temp)
	}
	if topP, ok := numericOption(req.Options, "top_p"); ok {
		params.TopP = param.NewOpt(topP)
	}
	if maxTok, ok := numericOption(req.Options, "max_tokens"); ok && maxTok > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(maxTok))
	}

	for _, td := range req.Tools {
		tool, err := convertTool(td)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		params.Tools = append(params.Tools, tool)
	}
	if choice, ok := req.ToolChoice.(string); ok && choice != "" {
		params.ToolChoice = oai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: param.NewOpt(choice),
		}
	}

	return params, nil
}

// convertMessage converts a provider.Message to an OpenAI SDK message param.
func convertMessage(m provider.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content), nil
	case "user", "":
		return oai.UserMessage(m.Content), nil
	case "assistant":
		return oai.AssistantMessage(m.Content), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unknown message role %q", m.Role)
	}
}

// convertTool maps a raw tool definition (OpenAI wire shape) onto SDK params.
func convertTool(td map[string]any) (oai.ChatCompletionToolParam, error) {
	fn, _ := td["function"].(map[string]any)
	if fn == nil {
		// Tolerate flattened definitions without the "function" wrapper.
		fn = td
	}
	name, _ := fn["name"].(string)
	if name == "" {
		return oai.ChatCompletionToolParam{}, fmt.Errorf("tool definition missing function name")
	}
	tool := oai.ChatCompletionToolParam{
		Function: shared.FunctionDefinitionParam{
			Name: name,
		},
	}
	if desc, ok := fn["description"].(string); ok {
		tool.Function.Description = param.NewOpt(desc)
	}
	if ps, ok := fn["parameters"].(map[string]any); ok {
		tool.Function.Parameters = shared.FunctionParameters(ps)
	}
	return tool, nil
}

// numericOption reads a numeric value from an options map, accepting the
// types JSON decoding can produce.
func numericOption(opts map[string]any, key string) (float64, bool) {
	if opts == nil {
		return 0, false
	}
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// speechMIME maps an OpenAI speech response_format to a MIME type.
func speechMIME(format string) string {
	switch format {
	case "mp3":
		return "audio/mpeg"
	case "opus":
		return "audio/opus"
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	case "wav":
		return "audio/wav"
	case "pcm":
		return "audio/pcm"
	default:
		return "application/octet-stream"
	}
}
