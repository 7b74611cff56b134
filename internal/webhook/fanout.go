package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/product-importer/internal/core"
	"github.com/JonMunkholm/product-importer/internal/queue"
)

// FanOutKind identifies fan-out tasks on the webhooks queue.
const FanOutKind = "webhook.fanout"

// Lister finds the webhooks subscribed to an event.
type Lister interface {
	ListEnabledWebhooks(ctx context.Context, event string) ([]core.Webhook, error)
}

// FanOutPayload is the body of a fan-out task.
type FanOutPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// FanOut turns one event into a delivery task per subscribed webhook.
type FanOut struct {
	hooks       Lister
	q           queue.Queue
	maxAttempts int
}

func NewFanOut(hooks Lister, q queue.Queue, maxAttempts int) *FanOut {
	if maxAttempts <= 0 {
		maxAttempts = queue.DefaultMaxAttempts
	}
	return &FanOut{hooks: hooks, q: q, maxAttempts: maxAttempts}
}

// Trigger enqueues a delivery for every enabled webhook whose event type
// equals event and returns how many were enqueued.
func (f *FanOut) Trigger(ctx context.Context, event string, data any) (int, error) {
	raw, err := encode(data)
	if err != nil {
		return 0, err
	}

	hooks, err := f.hooks.ListEnabledWebhooks(ctx, event)
	if err != nil {
		return 0, fmt.Errorf("list webhooks for %s: %w", event, err)
	}

	var errs []error
	n := 0
	for _, h := range hooks {
		task, err := queue.NewTask(DeliveryKind, DeliveryPayload{WebhookID: h.ID, Event: event, Data: raw}, f.maxAttempts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := f.q.Enqueue(ctx, queue.Webhooks, task, 0); err != nil {
			errs = append(errs, fmt.Errorf("enqueue delivery to webhook %d: %w", h.ID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Notify schedules a fan-out of event without waiting for it. Failures are
// logged and never reach the caller.
func (f *FanOut) Notify(ctx context.Context, event string, data any) {
	raw, err := encode(data)
	if err != nil {
		slog.Error("webhook event not sent", "event", event, "error", err)
		return
	}
	task, err := queue.NewTask(FanOutKind, FanOutPayload{Event: event, Data: raw}, f.maxAttempts)
	if err != nil {
		slog.Error("webhook event not sent", "event", event, "error", err)
		return
	}
	if err := f.q.Enqueue(ctx, queue.Webhooks, task, 0); err != nil {
		slog.Error("webhook event not sent", "event", event, "error", err)
	}
}

// HandleFanOutTask is the queue handler for FanOutKind. Once any delivery
// has been enqueued the task is not retried, so no subscriber is notified
// twice.
func (f *FanOut) HandleFanOutTask(ctx context.Context, task queue.Task) error {
	var p FanOutPayload
	if err := task.Decode(&p); err != nil {
		return err
	}
	n, err := f.Trigger(ctx, p.Event, p.Data)
	if err != nil && n > 0 {
		return queue.Permanent(err)
	}
	if err == nil && n > 0 {
		slog.Debug("webhook deliveries enqueued", "event", p.Event, "count", n)
	}
	return err
}

func encode(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case json.RawMessage:
		return v, nil
	case nil:
		return json.RawMessage("null"), nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode event payload: %w", err)
	}
	return raw, nil
}
