package task

import (
	"context"
	"fmt"
	"sync"
)

// HandlerFunc executes the work for one task message.
type HandlerFunc func(ctx context.Context, msg *Message) error

// Registry maps task types to their handlers. Registration happens at
// startup; lookup is concurrent-safe for the worker goroutines.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register associates a handler with a task type.
// Registering the same type twice is a programming error.
func (r *Registry) Register(taskType string, h HandlerFunc) error {
	if taskType == "" {
		return fmt.Errorf("task type cannot be empty")
	}
	if h == nil {
		return fmt.Errorf("handler for %q cannot be nil", taskType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[taskType]; exists {
		return fmt.Errorf("handler for %q already registered", taskType)
	}
	r.handlers[taskType] = h
	return nil
}

// Resolve returns the handler for a task type.
func (r *Registry) Resolve(taskType string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[taskType]
	if !ok {
		return nil, fmt.Errorf("no handler registered for task type %q", taskType)
	}
	return h, nil
}
