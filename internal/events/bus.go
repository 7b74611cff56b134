// Package events routes lifecycle events to their consumers: the webhook
// fan-out and, when configured, a Kafka topic mirroring every event.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Notifier schedules webhook deliveries for an event.
type Notifier interface {
	Notify(ctx context.Context, event string, data any)
}

// Mirror copies events to an external stream.
type Mirror interface {
	Publish(ctx context.Context, event string, data json.RawMessage, at time.Time) error
}

// Bus is the application's core.EventEmitter.
type Bus struct {
	notifier Notifier
	mirror   Mirror
	now      func() time.Time
}

// NewBus returns a bus delivering to notifier. mirror may be nil.
func NewBus(notifier Notifier, mirror Mirror) *Bus {
	return &Bus{notifier: notifier, mirror: mirror, now: time.Now}
}

// Emit hands the event to every consumer. Failures are logged.
func (b *Bus) Emit(ctx context.Context, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("event dropped, payload not serialisable", "event", event, "error", err)
		return
	}
	raw := json.RawMessage(data)

	if b.notifier != nil {
		b.notifier.Notify(ctx, event, raw)
	}
	if b.mirror != nil {
		if err := b.mirror.Publish(ctx, event, raw, b.now()); err != nil {
			slog.Warn("event mirror failed", "event", event, "error", err)
		}
	}
}
