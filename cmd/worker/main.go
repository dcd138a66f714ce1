// Package main implements the task worker: it consumes the ingest
// queue and executes bulletin ingestion.
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spimexlab/spimex-api/internal/bulletin"
	"github.com/spimexlab/spimex-api/internal/config"
	"github.com/spimexlab/spimex-api/internal/platform/logger"
	"github.com/spimexlab/spimex-api/internal/platform/postgres"
	"github.com/spimexlab/spimex-api/internal/platform/redisq"
	"github.com/spimexlab/spimex-api/internal/task"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("worker failed: %v", err)
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

	redisClient, err := redisq.NewClient(cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()

	// The broker carries the queue this process exists to drain; wait
	// for it rather than crash-looping.
	if err := redisq.WaitReady(ctx, redisClient, slogger); err != nil {
		return err
	}

	db, err := postgres.Open(ctx, cfg.Database.DSN, slogger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	queue := redisq.NewQueue(redisClient)
	ingestor := task.NewIngestor(
		bulletin.NewClient(cfg.Bulletin.BaseURL, cfg.Bulletin.RequestTimeout),
		postgres.NewTradingResultStore(db),
		redisq.NewCache(redisClient, cfg.Redis.CacheTTL),
		slogger,
	)

	registry := task.NewRegistry()
	if err := registry.Register(task.TypeIngestBulletins, ingestor.Handle); err != nil {
		return err
	}

	runner := task.NewRunner(queue, registry, nil, slogger, task.RunnerConfig{
		Queue:             cfg.Worker.Queue,
		Concurrency:       cfg.Worker.Concurrency,
		PollInterval:      cfg.Worker.PollInterval,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		StaleTaskAge:      cfg.Worker.StaleTaskAge,
	})
	runner.Start(ctx)

	<-ctx.Done()
	slogger.Info("shutting down worker")
	runner.Stop()
	return nil
}
