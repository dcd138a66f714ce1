package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/spimexlab/spimex-api/internal/backoff"
)

// RunnerConfig controls the worker pool.
type RunnerConfig struct {
	// Queue is the broker queue the pool consumes.
	Queue string

	// Concurrency is the number of goroutines polling for work.
	Concurrency int

	// PollInterval is how often an idle worker checks for due messages.
	PollInterval time.Duration

	// HeartbeatInterval is how often a busy worker records liveness
	// for the message it is executing.
	HeartbeatInterval time.Duration

	// StaleTaskAge is the heartbeat age past which a running message is
	// considered abandoned and returned to the queue.
	StaleTaskAge time.Duration
}

// Runner is the worker pool: it polls the broker for due messages,
// executes them through the registry, and settles the outcome back on
// the broker. Handlers must be idempotent since delivery is
// at-least-once: a worker killed mid-task leaves a running message
// whose heartbeat goes stale, and the reaper hands it to another worker.
type Runner struct {
	broker   Broker
	registry *Registry
	strategy backoff.Strategy
	logger   *slog.Logger
	cfg      RunnerConfig

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewRunner creates a Runner. strategy decides retry delays; pass nil
// for the default exponential-with-jitter strategy.
func NewRunner(broker Broker, registry *Registry, strategy backoff.Strategy, logger *slog.Logger, cfg RunnerConfig) *Runner {
	if strategy == nil {
		strategy = backoff.DefaultStrategy()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.StaleTaskAge <= 0 {
		cfg.StaleTaskAge = 5 * time.Minute
	}
	return &Runner{
		broker:   broker,
		registry: registry,
		strategy: strategy,
		logger:   logger.With("component", "task_runner"),
		cfg:      cfg,
	}
}

// Start launches the worker goroutines and the stale-message reaper.
// It returns immediately; use Stop for a graceful shutdown.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	for i := 0; i < r.cfg.Concurrency; i++ {
		r.wg.Add(1)
		go func(id int) {
			defer r.wg.Done()
			r.pollLoop(ctx, id)
		}(i)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.reapLoop(ctx)
	}()

	r.logger.Info("worker pool started",
		"queue", r.cfg.Queue,
		"concurrency", r.cfg.Concurrency,
		"poll_interval", r.cfg.PollInterval)
}

// Stop signals all goroutines to finish and waits for in-flight tasks
// to settle. Tasks already claimed run to completion.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("worker pool stopped", "queue", r.cfg.Queue)
}

func (r *Runner) pollLoop(ctx context.Context, workerID int) {
	log := r.logger.With("worker_id", workerID)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		msgs, err := r.broker.Dequeue(ctx, r.cfg.Queue, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("dequeue failed", "error", err)
		}
		for _, msg := range msgs {
			r.execute(ctx, log, msg)
		}

		// Drained the queue (or hit an error): wait before polling again.
		if len(msgs) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return
		}
	}
}

// execute runs one claimed message through its handler and settles the
// outcome. The heartbeat goroutine keeps the claim fresh for the
// duration of the handler so the reaper does not steal a live task.
func (r *Runner) execute(ctx context.Context, log *slog.Logger, msg *Message) {
	log = log.With("task_id", msg.ID, "task_type", msg.Type)

	handler, err := r.registry.Resolve(msg.Type)
	if err != nil {
		log.Error("unroutable task", "error", err)
		if ferr := r.broker.MarkFailed(ctx, msg, err.Error()); ferr != nil {
			log.Error("failed to park unroutable task", "error", ferr)
		}
		return
	}

	stopHeartbeat := r.startHeartbeat(ctx, log, msg)
	start := time.Now()
	runErr := handler(ctx, msg)
	stopHeartbeat()

	if runErr == nil {
		if err := r.broker.Complete(ctx, msg.ID); err != nil {
			log.Error("failed to mark task completed", "error", err)
			return
		}
		log.Info("task completed", "duration", time.Since(start))
		return
	}

	if msg.RetryCount >= msg.MaxRetries {
		log.Error("task failed permanently",
			"error", runErr,
			"retry_count", msg.RetryCount,
			"max_retries", msg.MaxRetries)
		if err := r.broker.MarkFailed(ctx, msg, runErr.Error()); err != nil {
			log.Error("failed to park task", "error", err)
		}
		return
	}

	delay := r.strategy.Delay(msg.RetryCount + 1)
	log.Warn("task failed, scheduling retry",
		"error", runErr,
		"retry_count", msg.RetryCount,
		"delay", delay)
	if err := r.broker.Retry(ctx, msg, runErr.Error(), delay); err != nil {
		log.Error("failed to requeue task", "error", err)
	}
}

// startHeartbeat periodically refreshes the claim on msg until the
// returned stop function is called.
func (r *Runner) startHeartbeat(ctx context.Context, log *slog.Logger, msg *Message) func() {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(r.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.broker.Heartbeat(ctx, msg.ID); err != nil {
					log.Warn("heartbeat failed", "error", err)
				}
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

func (r *Runner) reapLoop(ctx context.Context) {
	interval := r.cfg.StaleTaskAge / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.broker.ReapStale(ctx, r.cfg.Queue, r.cfg.StaleTaskAge)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Error("reaping stale tasks failed", "error", err)
				}
				continue
			}
			if n > 0 {
				r.logger.Warn("requeued stale tasks", "count", n)
			}
		}
	}
}
