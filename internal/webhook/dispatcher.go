// Package webhook delivers lifecycle events to registered subscribers.
//
// Events are fanned out to one delivery task per enabled webhook on the
// webhooks queue. Each delivery posts a signed JSON envelope, records the
// response on the webhook and asks the queue for a delayed retry when the
// receiver is unavailable.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/JonMunkholm/product-importer/internal/core"
	"github.com/JonMunkholm/product-importer/internal/queue"
)

const (
	DefaultTimeout        = 10 * time.Second
	DefaultRetryBaseDelay = 60 * time.Second

	// DeliveryKind identifies delivery tasks on the webhooks queue.
	DeliveryKind = "webhook.deliver"

	testEvent   = "test"
	testMessage = "This is a test webhook from Product Importer"
)

// Store is the webhook storage the dispatcher needs.
type Store interface {
	GetWebhook(ctx context.Context, id int64) (core.Webhook, error)
	RecordDelivery(ctx context.Context, rec core.DeliveryRecord) error
}

// Envelope is the JSON body of every delivery.
type Envelope struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// DeliveryPayload is the body of a delivery task.
type DeliveryPayload struct {
	WebhookID int64           `json:"webhook_id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
}

// Result describes one delivery attempt.
type Result struct {
	Skipped        bool
	Reason         string
	StatusCode     int
	ResponseTimeMs int
	Success        bool
}

// Dispatcher posts events to webhooks.
type Dispatcher struct {
	store     Store
	client    *http.Client
	retryBase time.Duration
	now       func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the default client. Its Timeout bounds a delivery.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithRetryBaseDelay sets the delay multiplied by the attempt number
// between retries.
func WithRetryBaseDelay(base time.Duration) Option {
	return func(d *Dispatcher) { d.retryBase = base }
}

func NewDispatcher(store Store, timeout time.Duration, opts ...Option) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &Dispatcher{
		store:     store,
		client:    &http.Client{Timeout: timeout},
		retryBase: DefaultRetryBaseDelay,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RetryDelay is the wait before the delivery following attempt (0-based).
func (d *Dispatcher) RetryDelay(attempt int) time.Duration {
	return d.retryBase * time.Duration(attempt+1)
}

// HandleDeliveryTask is the queue handler for DeliveryKind.
func (d *Dispatcher) HandleDeliveryTask(ctx context.Context, task queue.Task) error {
	var p DeliveryPayload
	if err := task.Decode(&p); err != nil {
		return err
	}
	if _, err := d.Deliver(ctx, p.WebhookID, p.Event, p.Data); err != nil {
		return queue.Retry(err, d.RetryDelay(task.Attempt))
	}
	return nil
}

// Deliver posts event to the webhook. A missing or disabled webhook is
// skipped. The returned error is non-nil only when the attempt should be
// retried: a 5xx response, a timeout, a network error or a failure to load
// the webhook.
func (d *Dispatcher) Deliver(ctx context.Context, webhookID int64, event string, data json.RawMessage) (Result, error) {
	logger := slog.Default().With("webhook_id", webhookID, "event", event)

	hook, err := d.store.GetWebhook(ctx, webhookID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			logger.Info("webhook no longer exists, delivery skipped")
			return Result{Skipped: true, Reason: "webhook not found"}, nil
		}
		return Result{}, fmt.Errorf("load webhook %d: %w", webhookID, err)
	}
	if !hook.IsEnabled {
		logger.Info("webhook disabled, delivery skipped")
		return Result{Skipped: true, Reason: "webhook is disabled"}, nil
	}

	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	timestamp := d.now().UTC().Format(time.RFC3339Nano)
	body, err := json.Marshal(Envelope{Event: event, Timestamp: timestamp, Data: data})
	if err != nil {
		logger.Error("webhook payload could not be encoded", "error", err)
		return Result{Skipped: true, Reason: "invalid payload"}, nil
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(HeaderEvent, event)
	header.Set(HeaderTimestamp, timestamp)
	if hook.Secret != "" {
		header.Set(HeaderSignature, SignatureHeader(hook.Secret, body))
	}

	status, elapsed, postErr := d.post(ctx, hook.URL, header, body)
	res := Result{StatusCode: status, ResponseTimeMs: elapsed, Success: postErr == nil && status < 400}
	d.record(ctx, logger, hook.ID, status, elapsed, res.Success)

	switch {
	case postErr != nil:
		logger.Warn("webhook delivery failed", "error", postErr, "response_time_ms", elapsed)
		return res, postErr
	case status >= 500:
		logger.Warn("webhook receiver error", "status_code", status, "response_time_ms", elapsed)
		return res, fmt.Errorf("server error: %d", status)
	case status >= 400:
		logger.Warn("webhook rejected delivery", "status_code", status)
		return res, nil
	default:
		logger.Debug("webhook delivered", "status_code", status, "response_time_ms", elapsed)
		return res, nil
	}
}

// Test sends an unsigned test payload to the webhook and waits for the
// answer. The outcome is recorded like a normal delivery.
func (d *Dispatcher) Test(ctx context.Context, webhookID int64) (core.TestResult, error) {
	hook, err := d.store.GetWebhook(ctx, webhookID)
	if err != nil {
		return core.TestResult{}, err
	}
	logger := slog.Default().With("webhook_id", hook.ID, "event", testEvent)

	body, err := json.Marshal(map[string]any{
		"event":        testEvent,
		"webhook_id":   hook.ID,
		"webhook_name": hook.Name,
		"timestamp":    d.now().UTC().Format(time.RFC3339Nano),
		"message":      testMessage,
	})
	if err != nil {
		return core.TestResult{}, fmt.Errorf("encode test payload: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(HeaderEvent, testEvent)

	status, elapsed, postErr := d.post(ctx, hook.URL, header, body)
	res := core.TestResult{ResponseTimeMs: elapsed}
	if postErr != nil {
		res.Error = describe(postErr)
	} else {
		res.StatusCode = &status
		res.Success = status < 400
		if !res.Success {
			res.Error = fmt.Sprintf("HTTP %d", status)
		}
	}
	d.record(ctx, logger, hook.ID, status, elapsed, res.Success)
	return res, nil
}

// post sends body and returns the status code (0 when no response
// arrived) and the elapsed milliseconds.
func (d *Dispatcher) post(ctx context.Context, url string, header http.Header, body []byte) (int, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header = header

	start := d.now()
	resp, err := d.client.Do(req)
	elapsed := int(d.now().Sub(start).Milliseconds())
	if err != nil {
		return 0, elapsed, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, elapsed, nil
}

func (d *Dispatcher) record(ctx context.Context, logger *slog.Logger, id int64, status, elapsed int, ok bool) {
	rec := core.DeliveryRecord{
		WebhookID:      id,
		TriggeredAt:    d.now().UTC(),
		ResponseTimeMs: elapsed,
		Succeeded:      ok,
	}
	if status > 0 {
		rec.ResponseCode = &status
	}
	if err := d.store.RecordDelivery(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error("could not record webhook delivery", "error", err)
	}
}

func describe(err error) string {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "Request timed out"
	}
	return err.Error()
}
