// Package main is the entrypoint for the PatchPilot API server.
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

	"github.com/patchpilot/patchpilot/internal/api"
	"github.com/patchpilot/patchpilot/internal/api/handler"
	mw "github.com/patchpilot/patchpilot/internal/api/middleware"
	"github.com/patchpilot/patchpilot/internal/cache"
	"github.com/patchpilot/patchpilot/internal/cigate"
	"github.com/patchpilot/patchpilot/internal/config"
	"github.com/patchpilot/patchpilot/internal/engine"
	"github.com/patchpilot/patchpilot/internal/executor"
	"github.com/patchpilot/patchpilot/internal/hosting"
	"github.com/patchpilot/patchpilot/internal/publisher"
	"github.com/patchpilot/patchpilot/internal/scanner"
	"github.com/patchpilot/patchpilot/internal/store"
	"github.com/patchpilot/patchpilot/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
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

	scanSvc := scanner.NewService(pgStore)

	// 7. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: handler.NewHealthHandler(pgStore, redisCache),

		CreateRepository: handler.NewCreateRepositoryHandler(pgStore, cfg.Git.RepoBase),
		ListRepositories: handler.NewListRepositoriesHandler(pgStore),
		GetRepository:    handler.NewGetRepositoryHandler(pgStore),
		UpdateRepository: handler.NewUpdateRepositoryHandler(pgStore),
		DeleteRepository: handler.NewDeleteRepositoryHandler(pgStore),

		CreateJob: handler.NewCreateJobHandler(pgStore, redisCache),
		ListJobs:  handler.NewListJobsHandler(pgStore),
		GetJob:    handler.NewGetJobHandler(pgStore, redisCache),

		TriggerScan:         handler.NewScanHandler(pgStore, scanSvc, redisCache),
		ListVulnerabilities: handler.NewListVulnerabilitiesHandler(pgStore),
		FixVulnerability:    handler.NewFixVulnerabilityHandler(pgStore),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 8. Start the in-process scheduler when enabled
	if cfg.Worker.Enabled {
		w := worker.New(pgStore, redisCache, exec, cfg.Worker.PollInterval)
		go w.Run(ctx)
		slog.Info("scheduler started", "poll_interval", cfg.Worker.PollInterval)
	}

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
