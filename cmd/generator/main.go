// Command generator consumes summary and podcast generation jobs. Each queue
// carries JSON-encoded entity ids; the generators pull library content from
// the database, call the AI Gateway for LLM, embedding, and TTS work, and
// persist the results.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/fylr-ai/fylr/internal/broker"
	"github.com/fylr-ai/fylr/internal/config"
	"github.com/fylr-ai/fylr/internal/gatewayclient"
	"github.com/fylr-ai/fylr/internal/generate"
	"github.com/fylr-ai/fylr/internal/objstore"
	"github.com/fylr-ai/fylr/internal/observe"
	"github.com/fylr-ai/fylr/internal/store"
)

// Generator queues bind by their own name on the file-processing exchange;
// the backend enqueues jobs with these exact routing keys.
const (
	summaryQueue = "summary-generator"
	podcastQueue = "podcast-generator"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadGenerator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generator: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	slog.Info("generator starting", "version", version, "tts_pacing", cfg.TTSPacing)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "fylr-generator",
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

	gw := gatewayclient.New(cfg.GatewayURL)
	metrics := observe.DefaultMetrics()

	// Each queue gets its own connection: generation jobs run for minutes and
	// a shared channel would serialise the two consumers' acks.
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return consume(groupCtx, cfg.Broker, summaryQueue, func(conn *broker.Conn) broker.Handler {
			gen := &generate.SummaryGenerator{
				Store:    generate.DB{Store: db},
				Chat:     gw,
				Embedder: gw,
				Events:   broker.NewStatusPublisher(conn),
				Metrics:  metrics,
			}
			return generate.Handle(gen, broker.NewStatusPublisher(conn))
		})
	})

	group.Go(func() error {
		return consume(groupCtx, cfg.Broker, podcastQueue, func(conn *broker.Conn) broker.Handler {
			gen := &generate.PodcastGenerator{
				Store:      generate.DB{Store: db},
				Chat:       gw,
				Speech:     gw,
				Objects:    objects,
				Events:     broker.NewStatusPublisher(conn),
				Metrics:    metrics,
				HostAVoice: cfg.HostAVoice,
				HostBVoice: cfg.HostBVoice,
				Pacing:     cfg.TTSPacing,
			}
			return generate.Handle(gen, broker.NewStatusPublisher(conn))
		})
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consumer stopped", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// consume dials the broker, declares queue bound by its own name, and runs
// the handler loop until ctx ends.
func consume(ctx context.Context, cfg config.Broker, queue string, build func(conn *broker.Conn) broker.Handler) error {
	conn, err := broker.Dial(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.DeclareWorkQueue(broker.FileProcessingExchange, queue, []string{queue}); err != nil {
		return err
	}
	return conn.Consume(ctx, queue, build(conn))
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
