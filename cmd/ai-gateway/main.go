// Command ai-gateway serves the unified AI provider API: chat completions,
// embeddings, rerank, and TTS behind one HTTP surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fylr-ai/fylr/internal/config"
	"github.com/fylr-ai/fylr/internal/gateway"
	"github.com/fylr-ai/fylr/internal/health"
	"github.com/fylr-ai/fylr/internal/modelreg"
	"github.com/fylr-ai/fylr/internal/observe"
	"github.com/fylr-ai/fylr/internal/prompt"
	"github.com/fylr-ai/fylr/pkg/provider"
	"github.com/fylr-ai/fylr/pkg/provider/anyllm"
	"github.com/fylr-ai/fylr/pkg/provider/auto"
	"github.com/fylr-ai/fylr/pkg/provider/elevenlabs"
	"github.com/fylr-ai/fylr/pkg/provider/jina"
	"github.com/fylr-ai/fylr/pkg/provider/openaicompat"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadGateway()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ai-gateway: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	slog.Info("ai-gateway starting", "version", version, "listen_addr", cfg.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "fylr-ai-gateway",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer shutdownTelemetry(context.Background())

	prompts, err := prompt.Load(cfg.PromptsDir)
	if err != nil {
		slog.Error("failed to load prompts", "dir", cfg.PromptsDir, "err", err)
		return 1
	}
	slog.Info("prompts loaded", "dir", cfg.PromptsDir, "count", len(prompts.List()))

	models, err := modelreg.Load(cfg.ModelsFile)
	if err != nil {
		slog.Error("failed to load embedding models", "file", cfg.ModelsFile, "err", err)
		return 1
	}

	providers, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	table, err := auto.LoadTable(cfg.RoutesFile)
	if err != nil {
		slog.Error("failed to load routing table", "file", cfg.RoutesFile, "err", err)
		return 1
	}
	router, err := auto.New(table, prompts)
	if err != nil {
		slog.Error("invalid routing table", "err", err)
		return 1
	}

	server := &gateway.Server{
		Prompts:   prompts,
		Models:    models,
		Providers: providers,
		Auto:      router,
		Metrics:   observe.DefaultMetrics(),
		Health:    readiness(prompts, models, providers),
		Version:   version,
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("serve error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// readiness wires the dependency probes behind /readyz: the gateway should
// not receive traffic until prompts, drivers, and the embedding-model
// registry are usable.
func readiness(prompts *prompt.Registry, models *modelreg.Registry, providers *provider.Registry) *health.Handler {
	h := health.New()
	h.Add("prompts", func(context.Context) error {
		if len(prompts.List()) == 0 {
			return errors.New("no prompt templates loaded")
		}
		return nil
	})
	h.Add("providers", func(context.Context) error {
		if len(providers.Names()) == 0 {
			return errors.New("no drivers registered")
		}
		return nil
	})
	h.Add("embedding-models", func(context.Context) error {
		if _, ok := models.Default(); !ok {
			return errors.New("no default embedding model")
		}
		return nil
	})
	return h
}

// buildProviders registers every driver the configuration enables.
func buildProviders(cfg *config.Gateway) (*provider.Registry, error) {
	reg := provider.NewRegistry()

	if cfg.OpenAIAPIKey != "" {
		var opts []openaicompat.Option
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openaicompat.WithBaseURL(cfg.OpenAIBaseURL))
		}
		d, err := openaicompat.New("openai", cfg.OpenAIAPIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai driver: %w", err)
		}
		reg.Register("openai", d)
		slog.Info("provider registered", "name", "openai")
	}

	if cfg.JinaAPIKey != "" {
		d, err := jina.New(cfg.JinaAPIKey)
		if err != nil {
			return nil, fmt.Errorf("create jina driver: %w", err)
		}
		reg.Register("jina", d)
		slog.Info("provider registered", "name", "jina")
	}

	if cfg.ElevenLabsAPIKey != "" {
		d, err := elevenlabs.New(cfg.ElevenLabsAPIKey)
		if err != nil {
			return nil, fmt.Errorf("create elevenlabs driver: %w", err)
		}
		reg.Register("elevenlabs", d)
		slog.Info("provider registered", "name", "elevenlabs")
	}

	if cfg.AnyLLMBackend != "" {
		d, err := anyllm.New(cfg.AnyLLMBackend)
		if err != nil {
			return nil, fmt.Errorf("create any-llm driver %q: %w", cfg.AnyLLMBackend, err)
		}
		reg.Register(cfg.AnyLLMBackend, d)
		slog.Info("provider registered", "name", cfg.AnyLLMBackend)
	}

	return reg, nil
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
