package port

import (
	"context"
	"errors"
	"time"
)

// Task is a background job: a stable type name and opaque payload bytes.
type Task struct {
	Type    string
	Payload []byte
}

// Handler processes a Task. A non-nil error asks the adapter to retry per
// its policy unless it wraps ErrSkipRetry. Handlers must be idempotent.
type Handler func(ctx context.Context, task Task) error

// ErrSkipRetry marks a handler failure that must not be retried.
var ErrSkipRetry = errors.New("queue: skip retry")

// EnqueueOption controls enqueue behavior. Zero values mean "unspecified",
// except MaxRetry where 0 means no retries; use -1 for the adapter default.
type EnqueueOption struct {
	Queue     string // logical queue name
	MaxRetry  int
	TaskID    string        // deduplicates enqueues with the same id
	Retention time.Duration // keeps a finished task, and so its id, for this long
}

// Client enqueues tasks for background processing.
type Client interface {
	Enqueue(ctx context.Context, t Task, opts ...EnqueueOption) (id string, err error)
	Close() error
}

// Server runs background workers. Run blocks until ctx is canceled.
type Server interface {
	Register(taskType string, h Handler)
	Run(ctx context.Context) error
	Stop(ctx context.Context) error
}
