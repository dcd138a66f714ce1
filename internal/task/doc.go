// Package task defines the background-task model: messages, the broker
// contract they travel over, the handler registry, the worker pool that
// executes them, and the handlers themselves.
//
// Delivery is at-least-once. Every handler registered here must be
// idempotent, since a crashed worker's messages are reaped and handed
// to another worker after their heartbeat goes stale.
package task
