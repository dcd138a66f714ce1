package redisq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/spimexlab/spimex-api/internal/task"
)

// Broker errors.
var (
	ErrMessageExists   = errors.New("task message already enqueued")
	ErrMessageNotFound = errors.New("task message not found")
)

// Key layout. Queues are Sorted Sets of message IDs scored by due time;
// each message body lives in its own Hash; a per-queue Set tracks
// membership for the stale-message reaper.
func taskKey(id string) string       { return "task:" + id }
func queueKey(name string) string    { return "queue:" + name }
func queueIDsKey(name string) string { return "queue:" + name + ":ids" }

// terminalTTL bounds how long completed and failed message bodies stay
// readable before Redis drops them.
const terminalTTL = 24 * time.Hour

// claimScript removes a due message from its queue and marks it running
// in one step. A worker dying mid-claim therefore leaves the message
// either still queued or already running, both of which are recoverable;
// it can never strand a pending message outside the queue.
var claimScript = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[2], "status", ARGV[2], "heartbeat_at", ARGV[3], "updated_at", ARGV[3])
return 1
`)

// Queue implements task.Broker backed by Redis.
//
// No Redis persistence is assumed: on broker restart pending messages may
// be lost. The scheduler re-enqueues recurring work and ingest is
// idempotent, so loss is bounded and replay is safe.
type Queue struct {
	client redis.Cmdable
	logger *slog.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

// NewQueue creates a Redis-backed task broker. The caller owns the Redis
// client lifecycle.
func NewQueue(client redis.Cmdable, opts ...QueueOption) *Queue {
	q := &Queue{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Ensure Queue implements task.Broker
var _ task.Broker = (*Queue)(nil)

// Ping verifies broker connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Enqueue implements task.Broker.Enqueue.
func (q *Queue) Enqueue(ctx context.Context, msg *task.Message) error {
	id := msg.ID.String()
	key := taskKey(id)

	exists, err := q.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("enqueue exists check: %w", err)
	}
	if exists > 0 {
		return ErrMessageExists
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, messageToMap(msg))
	pipe.SAdd(ctx, queueIDsKey(msg.Queue), id)
	pipe.ZAdd(ctx, queueKey(msg.Queue), redis.Z{
		Score:  float64(msg.RunAt.UnixMilli()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue message: %w", err)
	}

	q.logger.Debug("task enqueued",
		"task_id", id,
		"task_type", msg.Type,
		"queue", msg.Queue,
		"run_at", msg.RunAt.Format(time.RFC3339))
	return nil
}

// Dequeue implements task.Broker.Dequeue. Due messages are claimed with
// ZRem: whichever worker removes the member from the queue set wins, so a
// message is delivered to exactly one worker among many.
func (q *Queue) Dequeue(ctx context.Context, queue string, limit int) ([]*task.Message, error) {
	now := time.Now().UTC()

	due, err := q.client.ZRangeByScore(ctx, queueKey(queue), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("dequeue range: %w", err)
	}

	var claimed []*task.Message
	for _, id := range due {
		won, claimErr := claimScript.Run(ctx, q.client,
			[]string{queueKey(queue), taskKey(id)},
			id, string(task.StatusRunning), now.Format(time.RFC3339Nano),
		).Int()
		if claimErr != nil {
			return claimed, fmt.Errorf("dequeue claim: %w", claimErr)
		}
		if won == 0 {
			continue // another worker claimed it first
		}

		msg, getErr := q.getMessage(ctx, taskKey(id))
		if getErr != nil {
			q.logger.Warn("claimed message body missing", "task_id", id, "error", getErr)
			continue
		}
		claimed = append(claimed, msg)

		if len(claimed) >= limit {
			break
		}
	}
	return claimed, nil
}

// Complete implements task.Broker.Complete. Terminal messages leave the
// membership set and their bodies expire, so neither the reaper's scan
// nor broker memory grows with throughput.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID) error {
	key := taskKey(id.String())

	msg, err := q.getMessage(ctx, key)
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key,
		"status", string(task.StatusCompleted),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, terminalTTL)
	pipe.SRem(ctx, queueIDsKey(msg.Queue), id.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete message: %w", err)
	}
	return nil
}

// Retry implements task.Broker.Retry.
func (q *Queue) Retry(ctx context.Context, msg *task.Message, lastError string, delay time.Duration) error {
	id := msg.ID.String()
	key := taskKey(id)

	runAt := time.Now().UTC().Add(delay)
	msg.Status = task.StatusPending
	msg.RetryCount++
	msg.LastError = lastError
	msg.RunAt = runAt
	msg.HeartbeatAt = nil

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key,
		"status", string(task.StatusPending),
		"retry_count", strconv.Itoa(msg.RetryCount),
		"last_error", lastError,
		"run_at", runAt.Format(time.RFC3339Nano),
		"heartbeat_at", "",
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, queueKey(msg.Queue), redis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("retry message: %w", err)
	}

	q.logger.Info("task scheduled for retry",
		"task_id", id,
		"task_type", msg.Type,
		"retry_count", msg.RetryCount,
		"run_at", runAt.Format(time.RFC3339))
	return nil
}

// MarkFailed implements task.Broker.MarkFailed. Like Complete, it
// removes the message from the reaper's membership set and bounds the
// body's lifetime.
func (q *Queue) MarkFailed(ctx context.Context, msg *task.Message, lastError string) error {
	key := taskKey(msg.ID.String())

	msg.Status = task.StatusFailed
	msg.LastError = lastError

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key,
		"status", string(task.StatusFailed),
		"last_error", lastError,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, terminalTTL)
	pipe.SRem(ctx, queueIDsKey(msg.Queue), msg.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// Heartbeat implements task.Broker.Heartbeat.
func (q *Queue) Heartbeat(ctx context.Context, id uuid.UUID) error {
	key := taskKey(id.String())

	exists, err := q.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("heartbeat exists check: %w", err)
	}
	if exists == 0 {
		return ErrMessageNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := q.client.HSet(ctx, key,
		"heartbeat_at", now,
		"updated_at", now,
	).Err(); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// ReapStale implements task.Broker.ReapStale. A running message whose
// heartbeat is older than age belonged to a crashed or partitioned
// worker; it is reset to pending and requeued as due immediately.
func (q *Queue) ReapStale(ctx context.Context, queue string, age time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-age)

	ids, err := q.client.SMembers(ctx, queueIDsKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("reap members: %w", err)
	}

	reaped := 0
	for _, id := range ids {
		msg, getErr := q.getMessage(ctx, taskKey(id))
		if getErr != nil {
			continue
		}
		if msg.Status != task.StatusRunning {
			continue
		}
		if msg.HeartbeatAt == nil || msg.HeartbeatAt.After(cutoff) {
			continue
		}

		now := time.Now().UTC()
		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, taskKey(id),
			"status", string(task.StatusPending),
			"heartbeat_at", "",
			"run_at", now.Format(time.RFC3339Nano),
			"updated_at", now.Format(time.RFC3339Nano),
		)
		pipe.ZAdd(ctx, queueKey(queue), redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: id,
		})
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return reaped, fmt.Errorf("reap requeue: %w", pErr)
		}

		q.logger.Info("reaped stale task", "task_id", id, "task_type", msg.Type)
		reaped++
	}
	return reaped, nil
}

// GetMessage returns a message by ID, regardless of state.
func (q *Queue) GetMessage(ctx context.Context, id uuid.UUID) (*task.Message, error) {
	return q.getMessage(ctx, taskKey(id.String()))
}

// ── helpers ──

func messageToMap(m *task.Message) map[string]interface{} {
	out := map[string]interface{}{
		"id":          m.ID.String(),
		"type":        m.Type,
		"queue":       m.Queue,
		"payload":     string(m.Payload),
		"status":      string(m.Status),
		"retry_count": strconv.Itoa(m.RetryCount),
		"max_retries": strconv.Itoa(m.MaxRetries),
		"last_error":  m.LastError,
		"run_at":      m.RunAt.Format(time.RFC3339Nano),
		"created_at":  m.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":  m.UpdatedAt.Format(time.RFC3339Nano),
	}
	if m.HeartbeatAt != nil {
		out["heartbeat_at"] = m.HeartbeatAt.Format(time.RFC3339Nano)
	}
	return out
}

func (q *Queue) getMessage(ctx context.Context, key string) (*task.Message, error) {
	vals, err := q.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if len(vals) == 0 {
		return nil, ErrMessageNotFound
	}
	return mapToMessage(vals)
}

func mapToMessage(m map[string]string) (*task.Message, error) {
	id, err := uuid.Parse(m["id"])
	if err != nil {
		return nil, fmt.Errorf("parse message id: %w", err)
	}

	retryCount, err := strconv.Atoi(m["retry_count"])
	if err != nil {
		return nil, fmt.Errorf("parse retry_count: %w", err)
	}
	maxRetries, err := strconv.Atoi(m["max_retries"])
	if err != nil {
		return nil, fmt.Errorf("parse max_retries: %w", err)
	}
	runAt, err := time.Parse(time.RFC3339Nano, m["run_at"])
	if err != nil {
		return nil, fmt.Errorf("parse run_at: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, m["created_at"])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, m["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	msg := &task.Message{
		ID:         id,
		Type:       m["type"],
		Queue:      m["queue"],
		Payload:    []byte(m["payload"]),
		Status:     task.Status(m["status"]),
		RetryCount: retryCount,
		MaxRetries: maxRetries,
		LastError:  m["last_error"],
		RunAt:      runAt,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}
	if v := m["heartbeat_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("parse heartbeat_at: %w", err)
		}
		msg.HeartbeatAt = &t
	}
	return msg, nil
}
