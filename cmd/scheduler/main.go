// Package main implements the beat process: it enqueues recurring
// tasks on their cron schedules, gated on leader election so replicas
// never duplicate scheduled work.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/spimexlab/spimex-api/internal/config"
	"github.com/spimexlab/spimex-api/internal/platform/logger"
	"github.com/spimexlab/spimex-api/internal/platform/redisq"
	"github.com/spimexlab/spimex-api/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("scheduler failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
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

	if err := redisq.WaitReady(ctx, redisClient, slogger); err != nil {
		return err
	}

	elector := redisq.NewElector(redisClient, electorID(), cfg.Scheduler.LeaderTTL)
	sched, err := scheduler.New(redisq.NewQueue(redisClient), elector, cfg.Scheduler, cfg.Worker, slogger)
	if err != nil {
		return err
	}

	return sched.Run(ctx)
}

// electorID builds a candidate identifier unique to this process.
func electorID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "scheduler"
	}
	return hostname + "-" + uuid.NewString()[:8]
}
