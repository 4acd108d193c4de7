// Command ingestor consumes document ingestion jobs: it fetches the uploaded
// file, extracts and chunks its text, embeds the chunks through the AI
// Gateway, and stores the vectors.
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
	"github.com/fylr-ai/fylr/internal/chunk"
	"github.com/fylr-ai/fylr/internal/config"
	"github.com/fylr-ai/fylr/internal/extract"
	"github.com/fylr-ai/fylr/internal/gatewayclient"
	"github.com/fylr-ai/fylr/internal/ingest"
	"github.com/fylr-ai/fylr/internal/objstore"
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
		fmt.Fprintf(os.Stderr, "ingestor: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	slog.Info("ingestor starting",
		"version", version,
		"queue", cfg.QueueName,
		"routing_keys", cfg.RoutingKeys,
		"ingestor_type", cfg.Type,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "fylr-ingestor",
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

	objects, err := objstore.New(cfg.S3)
	if err != nil {
		slog.Error("failed to connect to object storage", "err", err)
		return 1
	}

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

	worker := &ingest.Worker{
		Store:           db,
		Objects:         objects,
		Embedder:        gatewayclient.New(cfg.GatewayURL),
		Events:          broker.NewStatusPublisher(conn),
		Extractors:      extract.DefaultManager(),
		Chunks:          chunk.DefaultConfig(),
		Metrics:         observe.DefaultMetrics(),
		IngestorType:    cfg.Type,
		IngestorVersion: cfg.Version,
	}

	if err := conn.Consume(ctx, cfg.QueueName, worker.Handle); err != nil && !errors.Is(err, context.Canceled) {
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
