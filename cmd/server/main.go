// Package main is the entrypoint for the fingerprintd API server.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/fingerprintd/internal/api"
	"github.com/kiranshivaraju/fingerprintd/internal/api/handler"
	"github.com/kiranshivaraju/fingerprintd/internal/api/response"
	"github.com/kiranshivaraju/fingerprintd/internal/cache"
	"github.com/kiranshivaraju/fingerprintd/internal/config"
	"github.com/kiranshivaraju/fingerprintd/internal/fingerprint"
	"github.com/kiranshivaraju/fingerprintd/internal/metrics"
	"github.com/kiranshivaraju/fingerprintd/internal/store"
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
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel,
	})))
	slog.Info("config loaded", "store_driver", cfg.Store.Driver, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the store
	backend, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	st := store.NewRetryingStore(backend, store.RetryPolicy{
		MaxAttempts:     cfg.Store.RetryMaxAttempts,
		InitialInterval: cfg.Store.RetryInitialInterval,
	})

	// 3. Optional Redis list cache
	var listCache cache.Cache = cache.Noop{}
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		listCache = redisCache
		slog.Info("redis connected", "list_cache_ttl", cfg.Redis.ListCacheTTL)
	}

	// 4. Metrics
	var recorder metrics.Recorder = metrics.Noop{}
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus()
		recorder = prom
		metricsHandler = prom.Handler()
	}

	// 5. Fingerprint service
	opts := []fingerprint.Option{
		fingerprint.WithMetrics(recorder),
		fingerprint.WithStripFields(cfg.Fingerprint.StripFields),
	}
	if cfg.Redis.URL != "" {
		opts = append(opts, fingerprint.WithListCache(listCache, cfg.Redis.ListCacheTTL))
	}
	svc := fingerprint.NewService(st, opts...)

	// 6. Build router with dependencies
	router := api.NewRouter(api.Dependencies{
		Metrics:     recorder,
		CORSOrigins: cfg.Server.CORSOrigins,

		HealthHandler:  healthHandler(st, listCache, cfg.Redis.URL != ""),
		SubmitHandler:  handler.NewSubmitHandler(svc, cfg.Server.MaxBodyBytes),
		ListHandler:    handler.NewListHandler(svc),
		MetricsHandler: metricsHandler,
	})

	// 7. Start HTTP server
	tlsCfg, err := serverTLSConfig(cfg.Server)
	if err != nil {
		return fmt.Errorf("configure tls: %w", err)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		TLSConfig:    tlsCfg,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr, "tls", cfg.Server.TLSEnabled())
		var err error
		if cfg.Server.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
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

// openStore connects the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		s, err := store.OpenSQLite(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		slog.Info("sqlite opened", "path", cfg.Store.SQLitePath)
		return s, func() { _ = s.Close() }, nil

	default:
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		slog.Info("database connected")

		if err := store.RunMigrations(cfg.Database.URL, cfg.Store.MigrationsDir); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")

		return store.NewPostgresStore(pool), pool.Close, nil
	}
}

// serverTLSConfig returns nil when TLS is off. With a client CA configured,
// client certificates are requested and verified but not required.
func serverTLSConfig(cfg config.ServerConfig) (*tls.Config, error) {
	if !cfg.TLSEnabled() {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.ClientCAFile != "" {
		pem, err := os.ReadFile(cfg.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("read client CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.ClientCAFile)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
	}
	return tlsCfg, nil
}

// healthHandler checks database and cache connectivity. A disabled cache is
// reported but never degrades the service.
func healthHandler(s store.Store, c cache.Cache, cacheEnabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if !cacheEnabled {
			checks["cache"] = "disabled"
		} else if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] == "degraded" || checks["cache"] == "degraded"
		if degraded {
			response.JSON(w, http.StatusServiceUnavailable, map[string]any{
				"code":     "DEGRADED",
				"message":  "One or more services degraded",
				"services": checks,
			})
			return
		}

		response.OK(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
