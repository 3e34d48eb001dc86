// Merlin - Hybrid fraud scoring for payment transactions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

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

	"github.com/opensource-finance/merlin/internal/api"
	"github.com/opensource-finance/merlin/internal/bus"
	"github.com/opensource-finance/merlin/internal/cache"
	"github.com/opensource-finance/merlin/internal/config"
	"github.com/opensource-finance/merlin/internal/domain"
	"github.com/opensource-finance/merlin/internal/engine"
	"github.com/opensource-finance/merlin/internal/repository"
	"github.com/opensource-finance/merlin/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("MERLIN_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting merlin",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	if os.Getenv("MERLIN_CLUSTER") == "true" {
		cfg = domain.ClusterConfig()
		slog.Info("running in cluster mode")
	}

	if path := os.Getenv("MERLIN_SCORING_CONFIG"); path != "" {
		cfg.ScoringConfigPath = path
	}

	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"scoring_config", cfg.ScoringConfigPath,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize scoring config store
	var store *config.Store
	if cfg.ScoringConfigPath != "" {
		store, err = config.NewStoreFromFile(cfg.ScoringConfigPath)
	} else {
		store, err = config.NewStore(nil)
	}
	if err != nil {
		slog.Error("failed to load scoring config", "error", err)
		os.Exit(1)
	}

	// Initialize the scoring engine
	scorer, err := engine.New(store, repo, cacheImpl)
	if err != nil {
		slog.Error("failed to initialize scoring engine", "error", err)
		os.Exit(1)
	}
	health := scorer.Health()
	slog.Info("scoring engine initialized",
		"rules_active", health.RulesActiveCount,
		"sequence_model_loaded", health.SequenceModelLoaded,
	)

	// Watch the scoring config file for hot reloads
	if cfg.ScoringConfigPath != "" {
		stopWatch, err := store.Watch()
		if err != nil {
			slog.Error("failed to watch scoring config", "error", err)
			os.Exit(1)
		}
		defer stopWatch()
		slog.Info("scoring config watcher started", "path", cfg.ScoringConfigPath)
	}

	pipeline := engine.NewPipeline(scorer, repo, cacheImpl, busImpl)

	// Initialize async worker
	var asyncWorker *worker.Worker
	if cfg.AsyncWorkers > 0 || os.Getenv("MERLIN_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, pipeline)

		workers := cfg.AsyncWorkers
		if workers <= 0 {
			workers = 1
		}

		if err := asyncWorker.Start(worker.Config{WorkerCount: workers}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, pipeline, repo, cacheImpl, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("merlin is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("merlin shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ==============================================")
	fmt.Println("                  MERLIN")
	fmt.Println("       Hybrid Fraud Scoring Engine")
	fmt.Println("  ==============================================")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /assess             - Score a transaction")
	fmt.Println("    GET  /assessments/{id}   - Get assessment by ID")
	fmt.Println("    GET  /transactions/{id}  - Get transaction by ID")
	fmt.Println("    GET  /config             - Active scoring config")
	fmt.Println("    POST /config/reload      - Hot-reload scoring config")
	fmt.Println("    GET  /health             - Health check")
	fmt.Println("    GET  /metrics            - Prometheus metrics")
	fmt.Println()
}
