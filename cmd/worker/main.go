// Package main is the entrypoint for the standalone PatchPilot scheduler.
// It runs the same job loop the API server embeds, without the HTTP surface,
// for deployments that split the two.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/patchpilot/patchpilot/internal/cache"
	"github.com/patchpilot/patchpilot/internal/cigate"
	"github.com/patchpilot/patchpilot/internal/config"
	"github.com/patchpilot/patchpilot/internal/engine"
	"github.com/patchpilot/patchpilot/internal/executor"
	"github.com/patchpilot/patchpilot/internal/hosting"
	"github.com/patchpilot/patchpilot/internal/publisher"
	"github.com/patchpilot/patchpilot/internal/store"
	"github.com/patchpilot/patchpilot/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("scheduler failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "engine", cfg.Engine.Command, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create store
	pgStore := store.NewPostgresStore(pool)

	// 6. Build the change pipeline
	eng := engine.New(cfg.Engine)
	slog.Info("engine initialized", "engine", eng.Name())

	ghClient := hosting.NewHTTPClient(cfg.GitHub.APIBaseURL, "", cfg.GitHub.Timeout)
	gate := cigate.New(ghClient, cfg.CI)
	pub := publisher.New(ghClient)
	exec := executor.New(eng, gate, pub, cfg.Pipeline, cfg.CI, cfg.Git)

	// 7. Run the scheduler until signalled
	w := worker.New(pgStore, redisCache, exec, cfg.Worker.PollInterval)
	slog.Info("scheduler started", "poll_interval", cfg.Worker.PollInterval)
	w.Run(ctx)

	slog.Info("scheduler stopped gracefully")
	return nil
}
