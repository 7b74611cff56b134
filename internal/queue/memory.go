package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue. Tasks do not survive a restart; it
// serves single-process development setups and tests.
type MemoryQueue struct {
	mu      sync.Mutex
	ready   map[string][]Task
	signals map[string]chan struct{}
	timers  map[*time.Timer]struct{}
	closed  bool
	done    chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		ready:   make(map[string][]Task),
		signals: make(map[string]chan struct{}),
		timers:  make(map[*time.Timer]struct{}),
		done:    make(chan struct{}),
	}
}

// signal returns the wake-up channel of a queue. Callers hold q.mu.
func (q *MemoryQueue) signal(name string) chan struct{} {
	ch, ok := q.signals[name]
	if !ok {
		ch = make(chan struct{}, 1)
		q.signals[name] = ch
	}
	return ch
}

func (q *MemoryQueue) Enqueue(_ context.Context, name string, task Task, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	if delay <= 0 {
		q.pushLocked(name, task)
		return nil
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, timer)
		if !q.closed {
			q.pushLocked(name, task)
		}
	})
	q.timers[timer] = struct{}{}
	return nil
}

func (q *MemoryQueue) pushLocked(name string, task Task) {
	q.ready[name] = append(q.ready[name], task)
	select {
	case q.signal(name) <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, name string) (Task, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Task{}, ErrClosed
		}
		if tasks := q.ready[name]; len(tasks) > 0 {
			task := tasks[0]
			q.ready[name] = tasks[1:]
			if len(q.ready[name]) > 0 {
				// Wake another consumer for the remaining tasks.
				select {
				case q.signal(name) <- struct{}{}:
				default:
				}
			}
			q.mu.Unlock()
			return task, nil
		}
		sig := q.signal(name)
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Task{}, ctx.Err()
		case <-q.done:
			return Task{}, ErrClosed
		case <-sig:
		}
	}
}

// Len returns the number of ready tasks on a queue.
func (q *MemoryQueue) Len(name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready[name])
}

// Pending returns the number of delayed tasks not yet due.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Close stops delayed deliveries and wakes blocked consumers.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = nil
	close(q.done)
	return nil
}
