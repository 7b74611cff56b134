package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/JonMunkholm/product-importer/internal/logging"
)

// HandlerFunc processes one task.
type HandlerFunc func(ctx context.Context, task Task) error

// Outcome is what the worker did with a task after its handler returned.
type Outcome int

const (
	Done      Outcome = iota // handler succeeded
	Retried                  // re-enqueued with attempt+1
	Exhausted                // failed on its last attempt
	Dropped                  // permanent failure or unknown kind
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Retried:
		return "retried"
	case Exhausted:
		return "exhausted"
	case Dropped:
		return "dropped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// DefaultRetryDelay applies when a handler fails without asking for a delay.
const DefaultRetryDelay = 60 * time.Second

// Worker pulls tasks from one queue with a fixed number of goroutines.
type Worker struct {
	q           Queue
	name        string
	concurrency int
	retryDelay  time.Duration

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	// stopped is cancelled by Abort and reaches every running handler.
	stopped context.Context
	abort   context.CancelFunc

	wg sync.WaitGroup
}

// NewWorker creates a worker for the named queue. Register handlers before
// calling Start.
func NewWorker(q Queue, name string, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	stopped, abort := context.WithCancel(context.Background())
	return &Worker{
		q:           q,
		name:        name,
		concurrency: concurrency,
		retryDelay:  DefaultRetryDelay,
		handlers:    make(map[string]HandlerFunc),
		stopped:     stopped,
		abort:       abort,
	}
}

// SetRetryDelay overrides DefaultRetryDelay.
func (w *Worker) SetRetryDelay(d time.Duration) {
	w.retryDelay = d
}

// Handle registers the handler for a task kind.
func (w *Worker) Handle(kind string, h HandlerFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[kind] = h
}

// Start launches the worker goroutines. They stop taking new tasks when ctx
// is cancelled; a task already running keeps its context until Abort is
// called. Use Wait to block until they have returned.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("queue worker started", "queue", w.name, "concurrency", w.concurrency)
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loop(ctx)
		}()
	}
}

// Wait blocks until every goroutine launched by Start has returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Abort cancels the context of every running handler and of any handler
// started afterwards. Call it when a graceful stop has run out of time.
func (w *Worker) Abort() {
	w.abort()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		task, err := w.q.Dequeue(ctx, w.name)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return
			}
			slog.Error("dequeue failed", "queue", w.name, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		w.process(ctx, task)
	}
}

// process runs one dequeued task under a context that outlives ctx but
// ends when the worker is aborted.
func (w *Worker) process(ctx context.Context, task Task) {
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(w.stopped, cancel)
	defer stop()

	w.Process(taskCtx, task)
}

// Process runs the handler for task and applies the retry policy to its
// result.
func (w *Worker) Process(ctx context.Context, task Task) Outcome {
	logger := logging.ForTask(w.name, task.Kind, task.ID, task.Attempt)

	w.mu.RLock()
	h, ok := w.handlers[task.Kind]
	w.mu.RUnlock()
	if !ok {
		logger.Error("no handler registered for task kind")
		return Dropped
	}

	start := time.Now()
	err := w.run(ctx, h, task)
	if err == nil {
		logger.Debug("task done", "duration_ms", time.Since(start).Milliseconds())
		return Done
	}

	if IsPermanent(err) {
		logger.Error("task failed permanently", "error", err)
		return Dropped
	}

	delay, ok := RetryDelay(err)
	if !ok {
		delay = w.retryDelay
	}

	if task.LastAttempt() {
		logger.Error("task retries exhausted",
			"error", err,
			"max_attempts", task.MaxAttempts,
		)
		return Exhausted
	}

	next := task
	next.Attempt++
	// The retry must be stored even when the handler was aborted.
	if enqErr := w.q.Enqueue(context.WithoutCancel(ctx), w.name, next, delay); enqErr != nil {
		logger.Error("task failed and could not be re-queued",
			"error", err,
			"enqueue_error", enqErr,
		)
		return Dropped
	}

	logger.Warn("task failed, retry scheduled",
		"error", err,
		"retry_in", delay.String(),
		"next_attempt", next.Attempt,
	)
	return Retried
}

// run calls h, converting a panic into an error.
func (w *Worker) run(ctx context.Context, h HandlerFunc, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task handler panicked",
				"queue", w.name,
				"task_kind", task.Kind,
				"task_id", task.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, task)
}
