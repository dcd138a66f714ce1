// Package redisq implements the Redis-backed pieces of the deployment:
// the response cache, the task broker, and the scheduler's leader
// election. Tasks are stored as Hashes and queues are Sorted Sets scored
// by due time, so a due message is claimed by exactly one worker.
package redisq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spimexlab/spimex-api/internal/backoff"
)

// NewClient builds a Redis client from a redis:// URL.
// The caller owns the client lifecycle.
func NewClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// WaitReady pings the broker until it answers or ctx is cancelled.
//
// The deployment topology does not order broker startup before worker or
// scheduler startup, so this retry loop is the only readiness gate those
// processes have. Broker unavailability is treated as transient and
// retried indefinitely rather than being fatal.
func WaitReady(ctx context.Context, client redis.Cmdable, logger *slog.Logger) error {
	strategy := backoff.NewExponential(500*time.Millisecond, 30*time.Second)

	for attempt := 1; ; attempt++ {
		err := client.Ping(ctx).Err()
		if err == nil {
			if attempt > 1 {
				logger.Info("broker reachable", "attempts", attempt)
			}
			return nil
		}

		delay := strategy.Delay(attempt)
		logger.Warn("broker not reachable, retrying",
			"attempt", attempt,
			"retry_in", delay.String(),
			"error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting for broker: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}
