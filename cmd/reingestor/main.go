// Command reingestor consumes re-embedding jobs: it reloads a source's
// stored chunks, embeds them with the requested target model, and swaps the
// new vectors in place.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fylr-ai/fylr/internal/broker"
	"github.com/fylr-ai/fylr/internal/config"
	"github.com/fylr-ai/fylr/internal/gatewayclient"
	"github.com/fylr-ai/fylr/internal/ingest"
	"github.com/fylr-ai/fylr/internal/observe"
	"github.com/fylr-ai/fylr/internal/store"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadIngestor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "reingestor: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	slog.Info("reingestor starting",
		"version", version,
		"queue", cfg.QueueName,
		"routing_keys", cfg.RoutingKeys,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "fylr-reingestor",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer shutdownTelemetry(context.Background())

	db, err := store.New(ctx, cfg.DB.DSN())
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		return 1
	}
	defer db.Close()

	conn, err := broker.Dial(cfg.Broker)
	if err != nil {
		slog.Error("failed to connect to broker", "err", err)
		return 1
	}
	defer conn.Close()

	if err := conn.DeclareWorkQueue(broker.FileProcessingExchange, cfg.QueueName, cfg.RoutingKeys); err != nil {
		slog.Error("failed to declare queue", "queue", cfg.QueueName, "err", err)
		return 1
	}

	reingester := &ingest.Reingester{
		Store:    db,
		Embedder: gatewayclient.New(cfg.GatewayURL),
		Events:   broker.NewStatusPublisher(conn),
		Metrics:  observe.DefaultMetrics(),
	}

	if err := conn.Consume(ctx, cfg.QueueName, reingester.Handle); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consumer stopped", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
