// Package scheduler is the beat process: it enqueues recurring tasks on
// a cron schedule. Any number of replicas may run, but only the elected
// leader enqueues, so scheduled work is never duplicated.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/spimexlab/spimex-api/internal/config"
	"github.com/spimexlab/spimex-api/internal/task"
)

// Leader gates enqueueing on holding a distributed lock.
type Leader interface {
	// TryAcquire attempts to become or remain the leader.
	TryAcquire(ctx context.Context) (bool, error)

	// Resign releases leadership if held.
	Resign(ctx context.Context) error
}

type entry struct {
	name     string
	taskType string
	payload  []byte
	schedule cron.Schedule
	next     time.Time
}

// Scheduler ticks through its configured entries and enqueues each one
// when its cron schedule comes due.
type Scheduler struct {
	broker     task.Broker
	leader     Leader
	logger     *slog.Logger
	queue      string
	maxRetries int
	tick       time.Duration
	entries    []*entry
	wasLeader  bool
}

// New creates a Scheduler from configuration. Entries use standard
// five-field cron specs or descriptors like @daily. Scheduled messages
// go onto the worker queue with the worker's retry budget.
func New(broker task.Broker, leader Leader, cfg config.SchedulerConfig, worker config.WorkerConfig, logger *slog.Logger) (*Scheduler, error) {
	entries := make([]*entry, 0, len(cfg.Entries))
	for _, e := range cfg.Entries {
		schedule, err := cron.ParseStandard(e.Spec)
		if err != nil {
			return nil, fmt.Errorf("parse schedule %q for entry %q: %w", e.Spec, e.Name, err)
		}
		entries = append(entries, &entry{
			name:     e.Name,
			taskType: e.TaskType,
			payload:  []byte(e.Payload),
			schedule: schedule,
		})
	}

	return &Scheduler{
		broker:     broker,
		leader:     leader,
		logger:     logger.With("component", "scheduler"),
		queue:      worker.Queue,
		maxRetries: worker.MaxRetries,
		tick:       cfg.TickInterval,
		entries:    entries,
	}, nil
}

// Run ticks until ctx is cancelled, then resigns leadership and
// returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"tick_interval", s.tick,
		"entries", len(s.entries))

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			resignCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.leader.Resign(resignCtx); err != nil {
				s.logger.Warn("failed to resign leadership", "error", err)
			}
			s.logger.Info("scheduler stopped")
			return nil
		case now := <-ticker.C:
			if err := s.tickOnce(ctx, now.UTC()); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// tickOnce renews leadership and enqueues every due entry. On freshly
// acquired leadership, schedules are aligned forward from now: a beat
// that was down does not backfill missed firings, since the ingest
// handler walks whole date ranges anyway.
func (s *Scheduler) tickOnce(ctx context.Context, now time.Time) error {
	isLeader, err := s.leader.TryAcquire(ctx)
	if err != nil {
		return fmt.Errorf("leader election: %w", err)
	}
	if !isLeader {
		s.wasLeader = false
		return nil
	}

	if !s.wasLeader {
		for _, e := range s.entries {
			e.next = e.schedule.Next(now)
		}
		s.wasLeader = true
		s.logger.Info("acquired scheduler leadership")
		return nil
	}

	for _, e := range s.entries {
		if e.next.After(now) {
			continue
		}

		msg := task.NewMessage(e.taskType, s.queue, e.payload, time.Time{})
		msg.MaxRetries = s.maxRetries
		if err := s.broker.Enqueue(ctx, msg); err != nil {
			// Leave next untouched: the entry fires again next tick.
			s.logger.Error("failed to enqueue scheduled task",
				"entry", e.name,
				"task_type", e.taskType,
				"error", err)
			continue
		}

		e.next = e.schedule.Next(now)
		s.logger.Info("enqueued scheduled task",
			"entry", e.name,
			"task_type", e.taskType,
			"task_id", msg.ID,
			"next_run", e.next)
	}
	return nil
}
