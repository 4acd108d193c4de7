// Package generate implements the artifact generators: textual summaries and
// multi-speaker audio podcasts, both driven by AMQP messages carrying an
// entity id.
//
// The shared message lifecycle lives in [Handle]: decode the JSON-encoded id,
// validate it, delegate to the generator, and on failure mark the entity
// failed and publish an error event before dead-lettering the message.
package generate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fylr-ai/fylr/internal/broker"
	"github.com/fylr-ai/fylr/internal/gatewayclient"
	"github.com/fylr-ai/fylr/internal/observe"
)

// Events publishes status updates for a generation job.
type Events interface {
	Publish(ctx context.Context, routingKey, stage, message string, extra map[string]any)
	Error(ctx context.Context, routingKey, stage, message string)
}

// ChatClient runs blocking chat completions against the AI Gateway.
type ChatClient interface {
	Chat(ctx context.Context, req gatewayclient.ChatRequest) (*gatewayclient.ChatResponse, error)
}

// Embedder requests query embeddings from the AI Gateway.
type Embedder interface {
	Embed(ctx context.Context, fullModel string, inputs []string) (*gatewayclient.EmbeddingsResponse, error)
}

// SpeechClient synthesises speech through the AI Gateway.
type SpeechClient interface {
	Speak(ctx context.Context, req gatewayclient.TTSRequest) ([]byte, string, error)
}

// chatPromptRequest builds a gateway chat call that addresses a registered
// prompt and lets the Auto-Router pick the model.
func chatPromptRequest(promptType string, vars map[string]any) gatewayclient.ChatRequest {
	return gatewayclient.ChatRequest{PromptType: promptType, PromptVars: vars}
}

// Generator produces one artifact type from an entity id.
type Generator interface {
	// EntityType names the entity in routing keys ("summary", "podcast").
	EntityType() string

	// Generate runs the full pipeline for the entity. All DB writes commit
	// together on success and roll back on error.
	Generate(ctx context.Context, id string) error

	// MarkFailed records the FAILED state in its own transaction after a
	// rolled-back Generate.
	MarkFailed(ctx context.Context, id string) error
}

// Handle adapts a Generator to the broker's delivery handler. The message
// body must be a JSON-encoded entity id string.
func Handle(gen Generator, events Events) broker.Handler {
	return func(ctx context.Context, d amqp.Delivery) error {
		var id string
		if err := json.Unmarshal(d.Body, &id); err != nil {
			return fmt.Errorf("generate: decode %s message: %w", gen.EntityType(), err)
		}
		if err := uuid.Validate(id); err != nil {
			return fmt.Errorf("generate: invalid %s id %q: %w", gen.EntityType(), id, err)
		}

		key := broker.EntityKey(gen.EntityType(), id)
		log := observe.Logger(ctx).With("entity", gen.EntityType(), "id", id)
		log.Info("generation started")

		if err := gen.Generate(ctx, id); err != nil {
			events.Error(ctx, key, "error", err.Error())
			if merr := gen.MarkFailed(ctx, id); merr != nil {
				log.Error("failed to mark entity failed", "err", merr)
			}
			return fmt.Errorf("generate %s %s: %w", gen.EntityType(), id, err)
		}
		log.Info("generation completed")
		return nil
	}
}
