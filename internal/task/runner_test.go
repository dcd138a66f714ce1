package task_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spimexlab/spimex-api/internal/backoff"
	"github.com/spimexlab/spimex-api/internal/platform/redisq"
	"github.com/spimexlab/spimex-api/internal/task"
)

func newTestBroker(t *testing.T) *redisq.Queue {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisq.NewQueue(client)
}

func testRunnerConfig() task.RunnerConfig {
	return task.RunnerConfig{
		Queue:             "ingest",
		Concurrency:       2,
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
		StaleTaskAge:      time.Minute,
	}
}

func TestRunnerExecutesTask(t *testing.T) {
	broker := newTestBroker(t)
	ctx := context.Background()

	var ran atomic.Int32
	registry := task.NewRegistry()
	require.NoError(t, registry.Register(task.TypeIngestBulletins, func(context.Context, *task.Message) error {
		ran.Add(1)
		return nil
	}))

	msg := task.NewMessage(task.TypeIngestBulletins, "ingest", nil, time.Time{})
	require.NoError(t, broker.Enqueue(ctx, msg))

	runner := task.NewRunner(broker, registry, backoff.NewConstant(0), slog.Default(), testRunnerConfig())
	runner.Start(ctx)
	defer runner.Stop()

	require.Eventually(t, func() bool {
		got, err := broker.GetMessage(ctx, msg.ID)
		return err == nil && got.Status == task.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), ran.Load())
}

func TestRunnerRetriesThenSucceeds(t *testing.T) {
	broker := newTestBroker(t)
	ctx := context.Background()

	var attempts atomic.Int32
	registry := task.NewRegistry()
	require.NoError(t, registry.Register(task.TypeIngestBulletins, func(context.Context, *task.Message) error {
		if attempts.Add(1) < 3 {
			return fmt.Errorf("transient download failure")
		}
		return nil
	}))

	msg := task.NewMessage(task.TypeIngestBulletins, "ingest", nil, time.Time{})
	msg.MaxRetries = 5
	require.NoError(t, broker.Enqueue(ctx, msg))

	runner := task.NewRunner(broker, registry, backoff.NewConstant(0), slog.Default(), testRunnerConfig())
	runner.Start(ctx)
	defer runner.Stop()

	require.Eventually(t, func() bool {
		got, err := broker.GetMessage(ctx, msg.ID)
		return err == nil && got.Status == task.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRunnerExhaustsRetries(t *testing.T) {
	broker := newTestBroker(t)
	ctx := context.Background()

	registry := task.NewRegistry()
	require.NoError(t, registry.Register(task.TypeIngestBulletins, func(context.Context, *task.Message) error {
		return fmt.Errorf("permanent failure")
	}))

	msg := task.NewMessage(task.TypeIngestBulletins, "ingest", nil, time.Time{})
	msg.MaxRetries = 1
	require.NoError(t, broker.Enqueue(ctx, msg))

	runner := task.NewRunner(broker, registry, backoff.NewConstant(0), slog.Default(), testRunnerConfig())
	runner.Start(ctx)
	defer runner.Stop()

	require.Eventually(t, func() bool {
		got, err := broker.GetMessage(ctx, msg.ID)
		return err == nil && got.Status == task.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	got, err := broker.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "permanent failure", got.LastError)
}

func TestRunnerParksUnroutableTask(t *testing.T) {
	broker := newTestBroker(t)
	ctx := context.Background()

	msg := task.NewMessage("no_such_type", "ingest", nil, time.Time{})
	msg.MaxRetries = 3
	require.NoError(t, broker.Enqueue(ctx, msg))

	runner := task.NewRunner(broker, task.NewRegistry(), backoff.NewConstant(0), slog.Default(), testRunnerConfig())
	runner.Start(ctx)
	defer runner.Stop()

	// No handler exists, so retrying would never help.
	require.Eventually(t, func() bool {
		got, err := broker.GetMessage(ctx, msg.ID)
		return err == nil && got.Status == task.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunnerStopWaitsForInflight(t *testing.T) {
	broker := newTestBroker(t)
	ctx := context.Background()

	release := make(chan struct{})
	var finished atomic.Bool
	registry := task.NewRegistry()
	require.NoError(t, registry.Register(task.TypeIngestBulletins, func(context.Context, *task.Message) error {
		<-release
		finished.Store(true)
		return nil
	}))

	msg := task.NewMessage(task.TypeIngestBulletins, "ingest", nil, time.Time{})
	require.NoError(t, broker.Enqueue(ctx, msg))

	runner := task.NewRunner(broker, registry, backoff.NewConstant(0), slog.Default(), testRunnerConfig())
	runner.Start(ctx)

	// Let a worker claim the message, then stop while it is blocked.
	require.Eventually(t, func() bool {
		got, err := broker.GetMessage(ctx, msg.ID)
		return err == nil && got.Status == task.StatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		runner.Stop()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Stop returned while a task was still executing")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the task finished")
	}
	assert.True(t, finished.Load())
}
