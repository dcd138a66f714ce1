package task

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a task message.
type Status string

// Possible task status values
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task type constants
const (
	// TypeIngestBulletins ingests exchange bulletins from a target date
	// up to today.
	TypeIngestBulletins = "ingest_bulletins"
)

// Message is one unit of background work carried over the broker.
// The broker owns its full lifecycle; the relational store only ever
// sees the domain rows a task produces.
type Message struct {
	ID          uuid.UUID  `json:"id"`
	Type        string     `json:"type"`
	Queue       string     `json:"queue"`
	Payload     []byte     `json:"payload"`
	Status      Status     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	LastError   string     `json:"last_error,omitempty"`
	RunAt       time.Time  `json:"run_at"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewMessage creates a pending task message ready for enqueueing.
// A zero runAt means the task is due immediately.
func NewMessage(taskType, queue string, payload []byte, runAt time.Time) *Message {
	now := time.Now().UTC()
	if runAt.IsZero() {
		runAt = now
	}
	return &Message{
		ID:        uuid.New(),
		Type:      taskType,
		Queue:     queue,
		Payload:   payload,
		Status:    StatusPending,
		RunAt:     runAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Broker is the transport that hands task messages from producers
// (API service, scheduler) to exactly one worker among possibly many.
// Delivery is at-least-once; handlers must be idempotent.
type Broker interface {
	// Enqueue publishes a message onto its queue.
	Enqueue(ctx context.Context, msg *Message) error

	// Dequeue claims up to limit due messages from the queue and marks
	// them running. A message is delivered to exactly one caller.
	Dequeue(ctx context.Context, queue string, limit int) ([]*Message, error)

	// Complete marks a claimed message as successfully executed.
	Complete(ctx context.Context, id uuid.UUID) error

	// Retry returns a failed message to the queue, due after delay,
	// recording the error and incrementing the retry count.
	Retry(ctx context.Context, msg *Message, lastError string, delay time.Duration) error

	// MarkFailed parks a message as permanently failed.
	MarkFailed(ctx context.Context, msg *Message, lastError string) error

	// Heartbeat records liveness for a running message.
	Heartbeat(ctx context.Context, id uuid.UUID) error

	// ReapStale resets running messages whose heartbeat is older than
	// age back to pending so another worker can pick them up.
	ReapStale(ctx context.Context, queue string, age time.Duration) (int, error)

	// Ping verifies broker connectivity.
	Ping(ctx context.Context) error
}
