// Kestrel - Feedback-reward payouts with eyes on every entity.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/admission"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/lists"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/payout"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/settlement"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"lists", cfg.Lists.Type,
		"eventbus", cfg.EventBus.Type,
		"settlement", cfg.Settlement.Provider,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Block/whitelist store
	store, err := lists.New(cfg.Lists)
	if err != nil {
		slog.Error("failed to initialize list store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("list store initialized", "type", cfg.Lists.Type)

	// EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Velocity tracker
	var trackerRepo domain.Repository
	if cfg.Velocity.PersistObservations {
		trackerRepo = repo
	}
	tracker := velocity.NewTracker(cfg.Velocity, trackerRepo)
	slog.Info("velocity tracker initialized", "rules", len(cfg.Velocity.Rules))

	// Risk scorer
	scorer, err := risk.NewScorer(cfg.Risk, cfg.Velocity.Rules, tracker, store)
	if err != nil {
		slog.Error("failed to initialize risk scorer", "error", err)
		os.Exit(1)
	}
	slog.Info("risk scorer initialized", "custom_rules", len(cfg.Risk.CustomRules))

	// Admission gate
	gate := admission.NewGate(cfg.Admission, cfg.Risk, busImpl)

	// Settlement provider
	settler, err := settlement.New(cfg.Settlement)
	if err != nil {
		slog.Error("failed to initialize settlement provider", "error", err)
		os.Exit(1)
	}
	slog.Info("settlement provider initialized", "provider", cfg.Settlement.Provider)

	// Metrics + payout queue
	agg := metrics.NewAggregator()
	queue := payout.NewQueue(cfg.Queue, settler, repo, busImpl, agg, tracker)
	queue.Start(ctx)

	// HTTP server
	handler := api.NewHandler(repo, store, busImpl, tracker, scorer, gate, queue, agg, Version)
	srv := api.NewServer(cfg.Server, handler)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the worker before the server so an in-flight settlement finishes.
	queue.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func setupLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║      Reward Payout Risk Engine            ║")
	fmt.Println("  ║      Hover. Assess. Strike.               ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /payouts                - Submit a payout candidate")
	fmt.Println("    GET    /payouts                - List recent payouts")
	fmt.Println("    GET    /payouts/{id}           - Get payout by ID")
	fmt.Println("    DELETE /payouts/{id}           - Cancel a queued payout")
	fmt.Println("    GET    /velocity/{kind}/{id}   - Entity velocity aggregates")
	fmt.Println("    GET    /blocks                 - List active blocks")
	fmt.Println("    POST   /blocks                 - Block an entity")
	fmt.Println("    DELETE /blocks/{kind}/{id}     - Unblock an entity")
	fmt.Println("    POST   /whitelist              - Whitelist an entity")
	fmt.Println("    DELETE /whitelist/{kind}/{id}  - Remove whitelist entry")
	fmt.Println("    GET    /stats                  - Pipeline statistics")
	fmt.Println("    GET    /metrics                - Prometheus metrics")
	fmt.Println("    GET    /health                 - Health check")
	fmt.Println()
}
