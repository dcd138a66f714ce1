package scheduler

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spimexlab/spimex-api/internal/config"
	"github.com/spimexlab/spimex-api/internal/platform/redisq"
	"github.com/spimexlab/spimex-api/internal/task"
)

type stubLeader struct {
	leader bool
}

func (l *stubLeader) TryAcquire(context.Context) (bool, error) { return l.leader, nil }
func (l *stubLeader) Resign(context.Context) error             { return nil }

func newTestScheduler(t *testing.T, leader Leader) (*Scheduler, *redisq.Queue) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	broker := redisq.NewQueue(client)

	cfg := config.SchedulerConfig{
		TickInterval: time.Second,
		LeaderTTL:    time.Minute,
		Entries: []config.ScheduleEntry{{
			Name:     "daily-ingest",
			TaskType: task.TypeIngestBulletins,
			Spec:     "0 17 * * *",
			Payload:  `{"target_date":"2024-05-14"}`,
		}},
	}
	worker := config.WorkerConfig{Queue: "ingest", MaxRetries: 3}

	s, err := New(broker, leader, cfg, worker, slog.Default())
	require.NoError(t, err)
	return s, broker
}

func TestNewRejectsBadSpec(t *testing.T) {
	cfg := config.SchedulerConfig{
		TickInterval: time.Second,
		Entries:      []config.ScheduleEntry{{Name: "bad", TaskType: "x", Spec: "not a cron spec"}},
	}
	_, err := New(nil, &stubLeader{}, cfg, config.WorkerConfig{}, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `entry "bad"`)
}

func TestTickWithoutLeadership(t *testing.T) {
	s, broker := newTestScheduler(t, &stubLeader{leader: false})
	ctx := context.Background()

	require.NoError(t, s.tickOnce(ctx, time.Now().UTC()))

	msgs, err := broker.Dequeue(ctx, "ingest", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs, "a follower must not enqueue")
}

func TestFreshLeadershipAlignsForward(t *testing.T) {
	s, broker := newTestScheduler(t, &stubLeader{leader: true})
	ctx := context.Background()
	now := time.Date(2024, 5, 14, 17, 0, 0, 0, time.UTC) // exactly on schedule

	// The acquisition tick only aligns schedules; nothing fires.
	require.NoError(t, s.tickOnce(ctx, now))
	msgs, err := broker.Dequeue(ctx, "ingest", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t,
		time.Date(2024, 5, 15, 17, 0, 0, 0, time.UTC),
		s.entries[0].next)
}

func TestEnqueuesDueEntry(t *testing.T) {
	s, broker := newTestScheduler(t, &stubLeader{leader: true})
	ctx := context.Background()
	now := time.Date(2024, 5, 14, 16, 59, 0, 0, time.UTC)

	require.NoError(t, s.tickOnce(ctx, now))

	// The 17:00 firing comes due.
	now = now.Add(2 * time.Minute)
	require.NoError(t, s.tickOnce(ctx, now))

	msgs, err := broker.Dequeue(ctx, "ingest", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, task.TypeIngestBulletins, msgs[0].Type)
	assert.Equal(t, 3, msgs[0].MaxRetries)
	assert.JSONEq(t, `{"target_date":"2024-05-14"}`, string(msgs[0].Payload))

	// The entry advanced: the same firing does not repeat.
	require.NoError(t, s.tickOnce(ctx, now.Add(time.Minute)))
	msgs, err = broker.Dequeue(ctx, "ingest", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t,
		time.Date(2024, 5, 15, 17, 0, 0, 0, time.UTC),
		s.entries[0].next)
}

func TestLeadershipLossRealigns(t *testing.T) {
	leader := &stubLeader{leader: true}
	s, broker := newTestScheduler(t, leader)
	ctx := context.Background()
	now := time.Date(2024, 5, 14, 16, 59, 0, 0, time.UTC)

	require.NoError(t, s.tickOnce(ctx, now))

	// Leadership is lost before the firing comes due, then regained
	// after it passed: the missed firing is not backfilled.
	leader.leader = false
	require.NoError(t, s.tickOnce(ctx, now.Add(time.Minute)))

	leader.leader = true
	require.NoError(t, s.tickOnce(ctx, now.Add(5*time.Minute)))

	msgs, err := broker.Dequeue(ctx, "ingest", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t,
		time.Date(2024, 5, 15, 17, 0, 0, 0, time.UTC),
		s.entries[0].next)
}
