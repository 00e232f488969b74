// Command mindstream is the main entry point for the mindstream voice
// assistant server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxtools/mindstream/internal/bus"
	"github.com/voxtools/mindstream/internal/config"
	"github.com/voxtools/mindstream/internal/health"
	"github.com/voxtools/mindstream/internal/httpapi"
	"github.com/voxtools/mindstream/internal/intake"
	"github.com/voxtools/mindstream/internal/observe"
	"github.com/voxtools/mindstream/internal/pipeline"
	"github.com/voxtools/mindstream/internal/procstate"
	"github.com/voxtools/mindstream/internal/settings"
	"github.com/voxtools/mindstream/internal/store"
	"github.com/voxtools/mindstream/internal/store/postgres"
	"github.com/voxtools/mindstream/internal/transport"
	"github.com/voxtools/mindstream/pkg/provider/embeddings"
	ollamaembed "github.com/voxtools/mindstream/pkg/provider/embeddings/ollama"
	oaembed "github.com/voxtools/mindstream/pkg/provider/embeddings/openai"
	"github.com/voxtools/mindstream/pkg/provider/llm"
	"github.com/voxtools/mindstream/pkg/provider/llm/anyllm"
	"github.com/voxtools/mindstream/pkg/provider/stt"
	"github.com/voxtools/mindstream/pkg/provider/stt/whisper"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "mindstream: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "mindstream: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("mindstream starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry first so every later component can record against the global
	// meter provider.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "mindstream"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// Storage: PostgreSQL when a DSN is configured, in-memory otherwise.
	var st store.Store
	if dsn := cfg.Database.PostgresDSN; dsn != "" {
		pg, err := postgres.NewStore(ctx, dsn, cfg.Database.EmbeddingDimensions)
		if err != nil {
			slog.Error("failed to connect to PostgreSQL", "err", err)
			return 1
		}
		defer pg.Close()
		st = pg
		slog.Info("store ready", "backend", "postgres")
	} else {
		st = store.NewMemStore()
		slog.Warn("no postgres_dsn configured, sessions will not survive restarts")
	}

	transcriber, err := buildTranscriber(cfg.Providers.STT)
	if err != nil {
		slog.Error("failed to build STT provider", "err", err)
		return 1
	}
	invoker, err := buildInvoker(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to build LLM provider", "err", err)
		return 1
	}
	embedder, err := buildEmbedder(cfg.Providers.Embeddings)
	if err != nil {
		slog.Error("failed to build embeddings provider", "err", err)
		return 1
	}
	if embedder == nil {
		slog.Info("embeddings disabled, semantic search unavailable")
	}

	printStartupSummary(cfg)

	resolver := settings.NewResolver(st)
	eventBus := bus.New(logger)
	proc := procstate.NewManager()

	orch := pipeline.NewOrchestrator(pipeline.Config{
		Store:         st,
		Bus:           eventBus,
		Resolver:      resolver,
		Invoker:       invoker,
		Proc:          proc,
		Workers:       cfg.Pipeline.Workers,
		SweepInterval: time.Duration(cfg.Pipeline.SweepIntervalMs) * time.Millisecond,
		Metrics:       metrics,
		Logger:        logger,
	})
	orch.Start()
	defer orch.Close()

	intakeMgr := intake.NewManager(intake.Config{
		Transcriber:       transcriber,
		Store:             st,
		Bus:               eventBus,
		Resolver:          resolver,
		Notify:            orch.NewTranscript,
		Embedder:          embedder,
		Metrics:           metrics,
		QueueCapacity:     cfg.Intake.QueueCapacity,
		WorkerIdleTimeout: time.Duration(cfg.Intake.WorkerIdleTimeoutMs) * time.Millisecond,
		Logger:            logger,
	})
	defer intakeMgr.Close()

	wsHandler := transport.NewHandler(st, eventBus, intakeMgr, logger)
	wsHandler.Metrics = metrics
	// The browser UI is served from its own dev origin; the websocket carries
	// no credentials, so the origin check buys nothing here.
	wsHandler.InsecureSkipOriginCheck = true

	api := httpapi.NewHandler(httpapi.Config{
		Store:     st,
		Resolver:  resolver,
		Proc:      proc,
		Pipelines: orch,
		Embedder:  embedder,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	mux.Handle("/api/", api.Routes())
	mux.Handle("GET /metrics", promhttp.Handler())
	newHealthHandler(st, transcriber).Register(mux)

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if tls := cfg.Server.TLS; tls != nil {
			serveErr <- server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			serveErr <- server.ListenAndServe()
		}
	}()

	slog.Info("server ready, press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}
	// Deferred closers drain the intake workers and the pipeline pool before
	// the store goes away.
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildInvoker creates the LLM backend named in cfg. The model is not fixed
// here; it travels with each request so runtime settings changes need no
// reconnect.
func buildInvoker(cfg config.LLMConfig) (llm.Invoker, error) {
	var opts []anyllmlib.Option
	if cfg.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
	}
	inv, err := anyllm.New(cfg.Name, opts...)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Name)
	return inv, nil
}

// buildTranscriber creates the STT backend named in cfg: a whisper-server
// HTTP client or the in-process whisper.cpp bindings.
func buildTranscriber(cfg config.STTConfig) (stt.Transcriber, error) {
	switch cfg.Name {
	case "whisper":
		c, err := whisper.New(cfg.ServerURL)
		if err != nil {
			return nil, fmt.Errorf("create whisper client: %w", err)
		}
		slog.Info("provider created", "kind", "stt", "name", "whisper", "server_url", cfg.ServerURL)
		return c, nil
	case "whisper-native":
		t, err := whisper.NewNative(cfg.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("load whisper model: %w", err)
		}
		slog.Info("provider created", "kind", "stt", "name", "whisper-native", "model_path", cfg.ModelPath)
		return t, nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.Name)
	}
}

// buildEmbedder creates the embeddings backend named in cfg. An empty name
// disables embedding and semantic search.
func buildEmbedder(cfg config.EmbeddingsConfig) (embeddings.Provider, error) {
	switch cfg.Name {
	case "":
		return nil, nil
	case "openai":
		var opts []oaembed.Option
		if cfg.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(cfg.BaseURL))
		}
		p, err := oaembed.New(cfg.APIKey, cfg.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai embedder: %w", err)
		}
		slog.Info("provider created", "kind", "embeddings", "name", "openai", "model", cfg.Model)
		return p, nil
	case "ollama":
		p, err := ollamaembed.New(cfg.BaseURL, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}
		slog.Info("provider created", "kind", "embeddings", "name", "ollama", "model", cfg.Model)
		return p, nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Name)
	}
}

// newHealthHandler wires the readiness checks: storage reachability always,
// plus the whisper server when the HTTP backend is in use.
func newHealthHandler(st store.Store, transcriber stt.Transcriber) *health.Handler {
	checkers := []health.Checker{
		{Name: "store", Check: st.Ping},
	}
	if p, ok := transcriber.(interface {
		Ping(ctx context.Context) error
	}); ok {
		checkers = append(checkers, health.Checker{Name: "stt", Check: p.Ping})
	}
	return health.New(checkers...)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        mindstream startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("LLM", cfg.Providers.LLM.Name)
	printEntry("STT", cfg.Providers.STT.Name)
	printEntry("Embeddings", cfg.Providers.Embeddings.Name)
	if cfg.Database.PostgresDSN != "" {
		printEntry("Store", "postgres")
	} else {
		printEntry("Store", "in-memory")
	}
	if cfg.Server.TLS != nil {
		printEntry("TLS", "enabled")
	}
	printEntry("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printEntry(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
