package redisq_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spimexlab/spimex-api/internal/platform/redisq"
	"github.com/spimexlab/spimex-api/internal/task"
)

func newTestQueue(t *testing.T) (*redisq.Queue, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return redisq.NewQueue(client), srv
}

func TestQueueEnqueueDequeue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	msg := task.NewMessage(task.TypeIngestBulletins, "ingest", []byte(`{"target_date":"2024-05-14"}`), time.Time{})
	msg.MaxRetries = 3
	require.NoError(t, q.Enqueue(ctx, msg))

	claimed, err := q.Dequeue(ctx, "ingest", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	got := claimed[0]
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, task.TypeIngestBulletins, got.Type)
	assert.Equal(t, task.StatusRunning, got.Status)
	assert.Equal(t, 3, got.MaxRetries)
	assert.JSONEq(t, `{"target_date":"2024-05-14"}`, string(got.Payload))

	// The queue is drained: a second dequeue claims nothing.
	claimed, err = q.Dequeue(ctx, "ingest", 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestQueueEnqueueDuplicate(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	msg := task.NewMessage(task.TypeIngestBulletins, "ingest", nil, time.Time{})
	require.NoError(t, q.Enqueue(ctx, msg))
	assert.ErrorIs(t, q.Enqueue(ctx, msg), redisq.ErrMessageExists)
}

func TestQueueDequeueHonoursRunAt(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	future := time.Now().UTC().Add(time.Hour)
	msg := task.NewMessage(task.TypeIngestBulletins, "ingest", nil, future)
	require.NoError(t, q.Enqueue(ctx, msg))

	claimed, err := q.Dequeue(ctx, "ingest", 10)
	require.NoError(t, err)
	assert.Empty(t, claimed, "future-scheduled messages must not be claimed")
}

func TestQueueComplete(t *testing.T) {
	q, srv := newTestQueue(t)
	ctx := context.Background()

	msg := task.NewMessage(task.TypeIngestBulletins, "ingest", nil, time.Time{})
	require.NoError(t, q.Enqueue(ctx, msg))

	_, err := q.Dequeue(ctx, "ingest", 1)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, msg.ID))

	got, err := q.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)

	// Terminal messages leave the reaper's membership set and their
	// bodies carry a TTL, so the broker does not grow with throughput.
	assert.False(t, srv.Exists("queue:ingest:ids"))
	assert.Greater(t, srv.TTL("task:"+msg.ID.String()), time.Duration(0))
}

func TestQueueCompleteUnknownMessage(t *testing.T) {
	q, _ := newTestQueue(t)

	msg := task.NewMessage(task.TypeIngestBulletins, "ingest", nil, time.Time{})
	assert.ErrorIs(t, q.Complete(context.Background(), msg.ID), redisq.ErrMessageNotFound)
}

func TestQueueRetryRequeues(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	msg := task.NewMessage(task.TypeIngestBulletins, "ingest", nil, time.Time{})
	require.NoError(t, q.Enqueue(ctx, msg))

	claimed, err := q.Dequeue(ctx, "ingest", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Retry with no delay: the message becomes immediately due again.
	require.NoError(t, q.Retry(ctx, claimed[0], "download failed", 0))

	again, err := q.Dequeue(ctx, "ingest", 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 1, again[0].RetryCount)
	assert.Equal(t, "download failed", again[0].LastError)
}

func TestQueueMarkFailed(t *testing.T) {
	q, srv := newTestQueue(t)
	ctx := context.Background()

	msg := task.NewMessage(task.TypeIngestBulletins, "ingest", nil, time.Time{})
	require.NoError(t, q.Enqueue(ctx, msg))

	claimed, err := q.Dequeue(ctx, "ingest", 1)
	require.NoError(t, err)
	require.NoError(t, q.MarkFailed(ctx, claimed[0], "exhausted retries"))

	got, err := q.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "exhausted retries", got.LastError)

	// Failed messages stay parked, out of the membership set, and expire.
	again, err := q.Dequeue(ctx, "ingest", 1)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.False(t, srv.Exists("queue:ingest:ids"))
	assert.Greater(t, srv.TTL("task:"+msg.ID.String()), time.Duration(0))
}

func TestQueueReapStale(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	msg := task.NewMessage(task.TypeIngestBulletins, "ingest", nil, time.Time{})
	require.NoError(t, q.Enqueue(ctx, msg))

	claimed, err := q.Dequeue(ctx, "ingest", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// A fresh heartbeat protects the message.
	require.NoError(t, q.Heartbeat(ctx, msg.ID))
	reaped, err := q.ReapStale(ctx, "ingest", time.Minute)
	require.NoError(t, err)
	assert.Zero(t, reaped)

	// With a zero age threshold every running message is stale.
	time.Sleep(5 * time.Millisecond)
	reaped, err = q.ReapStale(ctx, "ingest", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	again, err := q.Dequeue(ctx, "ingest", 1)
	require.NoError(t, err)
	require.Len(t, again, 1, "reaped message is claimable again")
	assert.Equal(t, msg.ID, again[0].ID)
}

func TestQueueHeartbeatUnknownMessage(t *testing.T) {
	q, _ := newTestQueue(t)

	msg := task.NewMessage(task.TypeIngestBulletins, "ingest", nil, time.Time{})
	assert.ErrorIs(t, q.Heartbeat(context.Background(), msg.ID), redisq.ErrMessageNotFound)
}

// The claim removes the queue member and marks the message running in
// one script, so there is no window where a crashed worker leaves a
// pending message stranded outside the queue set.
func TestQueueClaimLeavesNoPendingWindow(t *testing.T) {
	q, srv := newTestQueue(t)
	ctx := context.Background()

	msg := task.NewMessage(task.TypeIngestBulletins, "ingest", nil, time.Time{})
	require.NoError(t, q.Enqueue(ctx, msg))

	claimed, err := q.Dequeue(ctx, "ingest", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	_, err = srv.ZScore("queue:ingest", msg.ID.String())
	assert.Error(t, err, "claimed message must be out of the queue set")
	assert.Equal(t, string(task.StatusRunning), srv.HGet("task:"+msg.ID.String(), "status"))
}

func TestQueueCorruptMessageRejected(t *testing.T) {
	q, srv := newTestQueue(t)
	ctx := context.Background()

	msg := task.NewMessage(task.TypeIngestBulletins, "ingest", nil, time.Time{})
	require.NoError(t, q.Enqueue(ctx, msg))
	srv.HSet("task:"+msg.ID.String(), "retry_count", "not-a-number")

	_, err := q.GetMessage(ctx, msg.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry_count")

	// A corrupt body is skipped, never delivered as a zeroed message.
	claimed, err := q.Dequeue(ctx, "ingest", 1)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}
