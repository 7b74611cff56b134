package core

import (
	"context"
	"errors"
	"strings"

	"github.com/JonMunkholm/product-importer/internal/logging"
)

func (s *Service) ListWebhooks(ctx context.Context, f WebhookFilter) ([]Webhook, error) {
	return s.store.ListWebhooks(ctx, f)
}

func (s *Service) GetWebhook(ctx context.Context, id int64) (Webhook, error) {
	return s.store.GetWebhook(ctx, id)
}

func (s *Service) CreateWebhook(ctx context.Context, in WebhookInput) (Webhook, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.URL = strings.TrimSpace(in.URL)
	if err := s.check(in); err != nil {
		return Webhook{}, err
	}
	h, err := s.store.CreateWebhook(ctx, in)
	if err != nil {
		return Webhook{}, err
	}
	logging.WithFields(ctx, "webhook_id", h.ID).Info("webhook created", "event_type", h.EventType, "client_ip", ClientIP(ctx))
	return h, nil
}

func (s *Service) UpdateWebhook(ctx context.Context, id int64, patch WebhookPatch) (Webhook, error) {
	if patch.URL != nil {
		trimmed := strings.TrimSpace(*patch.URL)
		patch.URL = &trimmed
	}
	if err := s.check(patch); err != nil {
		return Webhook{}, err
	}
	h, err := s.store.UpdateWebhook(ctx, id, patch)
	if err != nil {
		return Webhook{}, err
	}
	logging.WithFields(ctx, "webhook_id", h.ID).Info("webhook updated", "client_ip", ClientIP(ctx))
	return h, nil
}

func (s *Service) DeleteWebhook(ctx context.Context, id int64) error {
	if err := s.store.DeleteWebhook(ctx, id); err != nil {
		return err
	}
	logging.WithFields(ctx, "webhook_id", id).Info("webhook deleted", "client_ip", ClientIP(ctx))
	return nil
}

// TestWebhook sends a test payload to the webhook and reports the outcome.
// The webhook does not need to be enabled.
func (s *Service) TestWebhook(ctx context.Context, id int64) (TestResult, error) {
	if s.tester == nil {
		return TestResult{}, errors.New("webhook testing is not configured")
	}
	return s.tester.Test(ctx, id)
}

// EventTypes returns the events webhooks can subscribe to.
func (s *Service) EventTypes() []EventType {
	return EventTypes()
}
