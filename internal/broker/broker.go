// Package broker wraps the AMQP connection, the exchange/queue topology,
// and the status-event publisher shared by all workers.
//
// Topology: document jobs flow over the topic exchange
// "file-processing-exchange"; generator queues bind by their own name.
// Every consumer queue dead-letters into "fylr-dlx" which routes to
// "<queue>.dlq". Progress events go to the topic exchange "fylr-events" and
// are never consumed by the core itself.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fylr-ai/fylr/internal/config"
)

const (
	// FileProcessingExchange carries ingest job messages.
	FileProcessingExchange = "file-processing-exchange"

	// EventsExchange carries status publications.
	EventsExchange = "fylr-events"

	// DeadLetterExchange routes rejected messages to per-queue DLQs.
	DeadLetterExchange = "fylr-dlx"
)

// Conn is an AMQP connection with its topology declared.
type Conn struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to the broker and declares the shared exchanges. The
// heartbeat comes from cfg; long LLM and TTS calls rely on it being generous.
func Dial(cfg config.Broker) (*Conn, error) {
	conn, err := amqp.DialConfig(cfg.URL(), amqp.Config{
		Heartbeat: cfg.Heartbeat,
		Dial:      amqp.DefaultDial(300 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("broker: dial %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: open channel: %w", err)
	}

	for _, decl := range []struct {
		name, kind string
	}{
		{FileProcessingExchange, "topic"},
		{EventsExchange, "topic"},
		{DeadLetterExchange, "direct"},
	} {
		if err := ch.ExchangeDeclare(decl.name, decl.kind, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("broker: declare exchange %s: %w", decl.name, err)
		}
	}

	slog.Info("broker connected", "host", cfg.Host, "port", cfg.Port, "heartbeat", cfg.Heartbeat)
	return &Conn{conn: conn, ch: ch}, nil
}

// Close shuts the channel and connection down.
func (c *Conn) Close() error {
	if err := c.ch.Close(); err != nil {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}

// Channel exposes the underlying channel for consumers and publishers.
func (c *Conn) Channel() *amqp.Channel {
	return c.ch
}

// DeclareWorkQueue declares a durable queue dead-lettered into
// [DeadLetterExchange] along with its DLQ, and binds it to exchange under
// the given routing keys. Prefetch is forced to 1 so a worker busy with a
// long document does not hoard messages.
func (c *Conn) DeclareWorkQueue(exchange, queue string, routingKeys []string) error {
	dlq := queue + ".dlq"
	if _, err := c.ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare dlq %s: %w", dlq, err)
	}
	if err := c.ch.QueueBind(dlq, queue, DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("broker: bind dlq %s: %w", dlq, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": queue,
	}
	if _, err := c.ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("broker: declare queue %s: %w", queue, err)
	}
	for _, key := range routingKeys {
		if err := c.ch.QueueBind(queue, key, exchange, false, nil); err != nil {
			return fmt.Errorf("broker: bind %s to %s with %s: %w", queue, exchange, key, err)
		}
	}

	if err := c.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("broker: set qos: %w", err)
	}
	return nil
}

// Handler processes one delivery. Returning nil acks; any error nacks
// without requeue, sending the message to the DLQ.
type Handler func(ctx context.Context, d amqp.Delivery) error

// Consume runs the blocking consumer loop on queue until ctx is cancelled
// or the delivery channel closes.
func (c *Conn) Consume(ctx context.Context, queue string, handler Handler) error {
	deliveries, err := c.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("broker: consume %s: %w", queue, err)
	}
	slog.Info("consuming", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("broker: delivery channel for %s closed", queue)
			}
			err := handler(ctx, d)

			// The channel may have died during a long handler; ack/nack on
			// a dead channel would only mask the redelivery that follows.
			if c.ch.IsClosed() {
				slog.Warn("channel closed mid-callback, skipping ack", "queue", queue)
				return fmt.Errorf("broker: channel for %s closed during handling", queue)
			}
			if err != nil {
				slog.Error("message failed", "queue", queue, "err", err)
				if nackErr := d.Nack(false, false); nackErr != nil {
					slog.Error("nack failed", "queue", queue, "err", nackErr)
				}
				continue
			}
			if ackErr := d.Ack(false); ackErr != nil {
				slog.Error("ack failed", "queue", queue, "err", ackErr)
			}
		}
	}
}
