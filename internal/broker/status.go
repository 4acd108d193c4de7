package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Event is the wire shape of a status publication.
type Event struct {
	EventName string         `json:"eventName"`
	Payload   map[string]any `json:"payload"`
}

// channel is the subset of *amqp.Channel the publisher needs; tests swap in
// a fake.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
}

// StatusPublisher emits progress events on the events exchange. Publishes
// are best-effort: failures and dead channels are logged, never returned,
// so a slow or broken event path cannot fail a message that otherwise
// succeeded.
type StatusPublisher struct {
	ch      channel
	timeout time.Duration
}

// NewStatusPublisher wraps the connection's channel for event publishing.
func NewStatusPublisher(c *Conn) *StatusPublisher {
	return &StatusPublisher{ch: c.ch, timeout: 5 * time.Second}
}

// JobKey builds the routing key for ingest job status events.
func JobKey(jobKey string) string {
	return fmt.Sprintf("job.%s.status", jobKey)
}

// EntityKey builds the routing key for generator status events, e.g.
// "podcast.<id>.status".
func EntityKey(entityType, id string) string {
	return fmt.Sprintf("%s.%s.status", entityType, id)
}

// Publish sends one event to routingKey. The payload always carries stage
// and message; extra fields are merged in.
func (p *StatusPublisher) Publish(ctx context.Context, routingKey, stage, message string, extra map[string]any) {
	if p.ch.IsClosed() {
		slog.Warn("events channel closed, dropping status", "routing_key", routingKey, "stage", stage)
		return
	}

	payload := map[string]any{
		"stage":   stage,
		"message": message,
	}
	for k, v := range extra {
		payload[k] = v
	}
	body, err := json.Marshal(Event{EventName: "jobStatusUpdate", Payload: payload})
	if err != nil {
		slog.Error("marshal status event", "routing_key", routingKey, "err", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err = p.ch.PublishWithContext(pubCtx, EventsExchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		slog.Warn("status publish failed", "routing_key", routingKey, "stage", stage, "err", err)
	}
}

// Error publishes a failure stage with the error flag set.
func (p *StatusPublisher) Error(ctx context.Context, routingKey, stage, message string) {
	p.Publish(ctx, routingKey, stage, message, map[string]any{"error": true})
}
