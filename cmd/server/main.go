// Package main is the entrypoint for the errorhub API server.
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

	"github.com/kiranshivaraju/errorhub/internal/api"
	"github.com/kiranshivaraju/errorhub/internal/api/handler"
	mw "github.com/kiranshivaraju/errorhub/internal/api/middleware"
	"github.com/kiranshivaraju/errorhub/internal/api/response"
	"github.com/kiranshivaraju/errorhub/internal/cache"
	"github.com/kiranshivaraju/errorhub/internal/config"
	"github.com/kiranshivaraju/errorhub/internal/exceptions"
	"github.com/kiranshivaraju/errorhub/internal/ingest"
	"github.com/kiranshivaraju/errorhub/internal/metrics"
	"github.com/kiranshivaraju/errorhub/internal/projects"
	"github.com/kiranshivaraju/errorhub/internal/store"
	"github.com/kiranshivaraju/errorhub/internal/telemetry"
	"github.com/kiranshivaraju/errorhub/internal/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"admins", len(cfg.Auth.AdminEmails),
		"auto_clear_on_revoke", cfg.Assignment.AutoClearOnRevoke,
	)

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

	// 5. Tracing and metrics
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Server.Env,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// 6. Create store and services
	pgStore := store.NewPostgresStore(pool)

	usersSvc := users.NewService(pgStore, cfg.Auth.AdminEmails)
	directory := projects.NewDirectory(pgStore, redisCache, m, projects.Config{
		AutoClearAssigneeOnRevoke: cfg.Assignment.AutoClearOnRevoke,
		AccessCacheTTL:            cfg.Redis.AccessCacheTTL,
	})
	excOpts := []exceptions.Option{
		exceptions.WithMetrics(m),
		exceptions.WithMaxRetries(cfg.Aggregator.MaxRetries),
	}
	aggregator := exceptions.NewAggregator(pgStore, excOpts...)
	assignments := exceptions.NewAssignments(pgStore, excOpts...)
	ingestSvc := ingest.NewService(aggregator, m)

	// 7. Build router with dependencies
	deps := api.Dependencies{
		Auth: mw.NewAuth(usersSvc,
			mw.WithFailureLimiter(mw.NewAuthThrottle(redisCache, cfg.Auth.FailuresPerMinute))),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMinute),

		HealthHandler:  healthHandler(pgStore, redisCache),
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),

		RegisterUser: handler.NewRegisterHandler(usersSvc),
		ListUsers:    handler.NewListUsersHandler(usersSvc),
		GetUser:      handler.NewGetUserHandler(usersSvc),
		UpdateUser:   handler.NewUpdateUserHandler(usersSvc),

		IngestHandler: handler.NewIngestHandler(ingestSvc),

		MyProjects:        handler.NewMyProjectsHandler(directory),
		CreateProject:     handler.NewCreateProjectHandler(directory),
		ListProjects:      handler.NewListProjectsHandler(directory),
		GetProject:        handler.NewGetProjectHandler(directory),
		UpdateProject:     handler.NewUpdateProjectHandler(directory),
		AddMember:         handler.NewAddMemberHandler(directory),
		RemoveMember:      handler.NewRemoveMemberHandler(directory),
		ProjectExceptions: handler.NewProjectExceptionsHandler(directory, aggregator),

		ListExceptions:  handler.NewListExceptionsHandler(aggregator),
		GetException:    handler.NewGetExceptionHandler(aggregator, directory),
		AssignHandler:   handler.NewAssignHandler(aggregator, assignments, directory),
		UnassignHandler: handler.NewUnassignHandler(aggregator, assignments, directory),

		ListInstances: handler.NewListInstancesHandler(aggregator),
		GetInstance:   handler.NewGetInstanceHandler(aggregator, directory),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
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

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity.
func healthHandler(db, c pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
