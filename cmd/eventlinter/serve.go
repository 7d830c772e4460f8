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

	"github.com/spf13/cobra"
	"github.com/splashkes/eventlinter/internal/accumulator"
	"github.com/splashkes/eventlinter/internal/api"
	"github.com/splashkes/eventlinter/internal/api/handler"
	mw "github.com/splashkes/eventlinter/internal/api/middleware"
	"github.com/splashkes/eventlinter/internal/cache"
	"github.com/splashkes/eventlinter/internal/config"
	"github.com/splashkes/eventlinter/internal/linter"
	"github.com/splashkes/eventlinter/internal/metrics"
	"github.com/splashkes/eventlinter/internal/rules"
	"github.com/splashkes/eventlinter/internal/run"
	"github.com/splashkes/eventlinter/internal/store"
	"github.com/splashkes/eventlinter/internal/suppress"
	"github.com/splashkes/eventlinter/pkg/models"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the linter API server.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	// 1. Load config: fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := config.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)
	slog.Info("config loaded", "env", cfg.Server.Env, "functions_url", cfg.Linter.FunctionsURL)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
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

	// 5. Linter pipeline
	pgStore := store.NewPostgresStore(pool)
	client := linter.NewHTTPClient(cfg.Linter.FunctionsURL, cfg.Linter.AccessToken, cfg.Linter.RequestTimeout)
	coord := newCoordinator(cfg, client, redisCache, runnerFor(client, true, logger), logger)
	svc := suppress.NewService(pgStore, coord, logger)

	// 6. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.RateLimit.PerMinute),

		HealthHandler:  handler.NewHealthHandler(pgStore, redisCache),
		MetricsHandler: metrics.Handler(),

		StartRunHandler:   handler.NewStartRunHandler(coord),
		CurrentRunHandler: handler.NewCurrentRunHandler(coord),
		FindingsHandler:   handler.NewFindingsHandler(coord),
		RulesHandler:      handler.NewRulesHandler(coord),
		TestRuleHandler:   handler.NewTestRuleHandler(client, redisCache),

		SuppressHandler:         handler.NewSuppressHandler(svc),
		ListSuppressionsHandler: handler.NewListSuppressionsHandler(pgStore),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Kick off the first run so the dashboard has findings on load.
	coord.Start(ctx, models.Scope{})

	select {
	case err := <-errCh:
		coord.Close(context.Background())
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := coord.Close(shutdownCtx); err != nil {
		slog.Warn("linter run did not stop in time", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newCoordinator wires the accumulator, rule registry and catalogue around
// runner. docs may be nil.
func newCoordinator(cfg *config.Config, client linter.Client, docs rules.DocumentCache, runner run.Runner, logger *slog.Logger) *run.Coordinator {
	var catalogue run.CatalogueLoader
	if cfg.Rules.CatalogueURL != "" {
		catalogue = &rules.Catalogue{
			Source:     cfg.Rules.CatalogueURL,
			HTTPClient: &http.Client{Timeout: cfg.Linter.RequestTimeout},
			Cache:      docs,
			TTL:        cfg.Rules.CatalogueTTL,
			Logger:     logger,
		}
	}
	return run.NewCoordinator(runner, accumulator.New(), rules.NewRegistry(), catalogue, logger)
}

// runnerFor streams with a one-shot fallback, or runs one-shot only.
func runnerFor(client linter.Client, stream bool, logger *slog.Logger) run.Runner {
	oneShot := &run.OneShotRunner{Client: client, Logger: logger}
	if !stream {
		return oneShot
	}
	return &run.FallbackRunner{
		Primary:   &run.StreamingRunner{Client: client, Logger: logger},
		Secondary: oneShot,
		Logger:    logger,
	}
}
