// Package main implements the API server: it migrates the database
// schema, then serves the trading-results HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spimexlab/spimex-api/internal/api"
	"github.com/spimexlab/spimex-api/internal/config"
	"github.com/spimexlab/spimex-api/internal/platform/logger"
	"github.com/spimexlab/spimex-api/internal/platform/postgres"
	"github.com/spimexlab/spimex-api/internal/platform/redisq"
	"github.com/spimexlab/spimex-api/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Database.Require(); err != nil {
		return err
	}

	slogger, err := logger.Setup(cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database.DSN, slogger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	// Migrations run to completion before the server accepts a single
	// request. A failed migration is fatal, never served around.
	if err := runMigrations(db, slogger); err != nil {
		return err
	}

	redisClient, err := redisq.NewClient(cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()

	// The API serves reads from the store even when the broker is down;
	// only ingest acceptance and caching degrade.
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slogger.Warn("broker not reachable at startup", "error", err)
	}

	svc := service.NewTradingService(
		postgres.NewTradingResultStore(db),
		redisq.NewCache(redisClient, cfg.Redis.CacheTTL),
		redisq.NewQueue(redisClient),
		service.IngestOptions{Queue: cfg.Worker.Queue, MaxRetries: cfg.Worker.MaxRetries},
		slogger,
	)
	handler := api.NewTradingHandler(svc, slogger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      newRouter(handler, db, cfg.Server.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slogger.Info("server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slogger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slogger.Info("server stopped")
	return nil
}
