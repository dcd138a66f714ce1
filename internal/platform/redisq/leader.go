package redisq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const leaderKey = "scheduler:leader"

// Elector implements leader election over a single Redis key with SET NX
// and a TTL. The beat scheduler must be a singleton across the
// deployment: every replica runs an Elector, but only the one holding
// the key enqueues scheduled tasks, so scaling the scheduler out never
// duplicates scheduled work.
type Elector struct {
	client redis.Cmdable
	id     string
	ttl    time.Duration
}

// NewElector creates an Elector. id must be unique per process
// (hostname plus a random suffix is typical).
func NewElector(client redis.Cmdable, id string, ttl time.Duration) *Elector {
	return &Elector{client: client, id: id, ttl: ttl}
}

// ID returns this elector's candidate identifier.
func (e *Elector) ID() string { return e.id }

// TryAcquire attempts to become or remain the leader.
// Returns true while this process holds leadership.
func (e *Elector) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := e.client.SetNX(ctx, leaderKey, e.id, e.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire leadership: %w", err)
	}
	if ok {
		return true, nil
	}

	current, err := e.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil // leader key expired between SetNX and Get
		}
		return false, fmt.Errorf("check leadership: %w", err)
	}
	if current != e.id {
		return false, nil
	}

	// Already the leader: extend the hold.
	if err := e.client.Expire(ctx, leaderKey, e.ttl).Err(); err != nil {
		return false, fmt.Errorf("renew leadership: %w", err)
	}
	return true, nil
}

// Resign releases leadership if this process holds it.
func (e *Elector) Resign(ctx context.Context) error {
	current, err := e.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("resign: %w", err)
	}
	if current != e.id {
		return nil
	}
	if err := e.client.Del(ctx, leaderKey).Err(); err != nil {
		return fmt.Errorf("resign: %w", err)
	}
	return nil
}

// Leader returns the current leader's identifier, or "" if there is none.
func (e *Elector) Leader(ctx context.Context) (string, error) {
	current, err := e.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("get leader: %w", err)
	}
	return current, nil
}
