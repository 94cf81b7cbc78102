package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/forgesprint/internal/adapter/gitws"
	fshttp "github.com/Strob0t/forgesprint/internal/adapter/http"
	fsnats "github.com/Strob0t/forgesprint/internal/adapter/nats"
	fsotel "github.com/Strob0t/forgesprint/internal/adapter/otel"
	"github.com/Strob0t/forgesprint/internal/adapter/postgres"
	"github.com/Strob0t/forgesprint/internal/adapter/ristretto"
	"github.com/Strob0t/forgesprint/internal/adapter/subprocess"
	"github.com/Strob0t/forgesprint/internal/adapter/ws"
	"github.com/Strob0t/forgesprint/internal/config"
	"github.com/Strob0t/forgesprint/internal/gatecheck"
	"github.com/Strob0t/forgesprint/internal/git"
	"github.com/Strob0t/forgesprint/internal/logger"
	"github.com/Strob0t/forgesprint/internal/port/agentchannel"
	"github.com/Strob0t/forgesprint/internal/port/eventbus"
	"github.com/Strob0t/forgesprint/internal/resilience"
	"github.com/Strob0t/forgesprint/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"agent_channel", cfg.Agent.Channel,
		"repo_path", cfg.Workspace.RepoPath,
	)

	ctx := context.Background()

	shutdownTracer := fsotel.InitTracer("forgesprint")
	defer func() { _ = shutdownTracer(context.Background()) }()
	metrics, err := fsotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS (optional: an empty URL disables the durable event stream)
	var bus eventbus.Publisher = eventbus.Nop{}
	if cfg.NATS.URL != "" {
		nb, err := fsnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = nb.Close() }()
		bus = nb
	}

	// Schema cache (L1, in-process)
	cache, err := ristretto.New(cfg.Gates.CacheSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()

	// --- Quality gates ---
	catalog := gatecheck.NewCatalog(cfg.Gates.SchemaDir, cache)
	review := gatecheck.NewPipeline(catalog, nil)
	final := gatecheck.NewPipeline(catalog, []string{
		cfg.Orchestrator.UnitTestCommand,
		cfg.Orchestrator.E2ETestCommand,
	})

	// --- Agent channel ---
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	subprocess.Register(cfg.Agent, review, breaker, log)
	channel, err := agentchannel.New(cfg.Agent.Channel, nil)
	if err != nil {
		return fmt.Errorf("agent channel: %w", err)
	}

	// --- Workspaces ---
	gitPool := git.NewPool(cfg.Git.MaxConcurrent)
	workspaces := gitws.NewManager(cfg.Workspace.RepoPath, cfg.Workspace.WorktreeDir, gitPool)

	// --- Services ---
	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	events := postgres.NewEventStore(pool)

	orch := service.NewOrchestrator(store, events, bus, hub, channel, review, final, workspaces, cfg.Orchestrator, metrics, log)
	runner := service.NewRunner(orch, cfg.Orchestrator.MaxParallel, log)

	// Re-enqueue sprints that were mid-pipeline when the process stopped.
	if err := runner.Resume(ctx); err != nil {
		return fmt.Errorf("resume: %w", err)
	}

	// --- HTTP ---
	handlers := fshttp.NewHandlers(orch, runner, hub)

	r := chi.NewRouter()
	r.Use(fsotel.HTTPMiddleware("forgesprint"))
	r.Use(fshttp.CORS(cfg.Server.CORSOrigin))
	r.Use(fshttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	fshttp.MountRoutes(r, handlers, hub)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := runner.Shutdown(shutdownCtx); err != nil {
		slog.Warn("runner shutdown incomplete", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}
