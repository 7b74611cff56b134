// Package queue is a small durable task queue with delayed redelivery.
//
// Producers Enqueue tasks onto a named queue; a Worker pulls them with
// Dequeue and dispatches by Task.Kind. Handlers control redelivery through
// the errors they return: Retry asks for a specific delay, Permanent drops
// the task, anything else is retried with the worker's default delay while
// attempts remain.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue names used by the importer.
const (
	CSVImport = "csv_import"
	Webhooks  = "webhooks"
)

// DefaultMaxAttempts is the number of deliveries a task gets by default.
const DefaultMaxAttempts = 3

// Task is one queued unit of work. Attempt is 0 on first delivery.
type Task struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

// NewTask encodes payload into a fresh task.
func NewTask(kind string, payload any, maxAttempts int) (Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return Task{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     data,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v.
func (t Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", t.Kind, err))
	}
	return nil
}

// LastAttempt reports whether a failure of this delivery is final.
func (t Task) LastAttempt() bool {
	return t.Attempt+1 >= t.MaxAttempts
}

// Queue stores tasks until a worker takes them.
type Queue interface {
	// Enqueue makes task available on the named queue after delay.
	Enqueue(ctx context.Context, name string, task Task, delay time.Duration) error

	// Dequeue blocks until a task is available or ctx is done.
	Dequeue(ctx context.Context, name string) (Task, error)
}

// ErrClosed is returned by Dequeue after the queue is closed.
var ErrClosed = errors.New("queue closed")
