package service

import (
	"context"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/stratobill/stratobill/internal/config"
	webhookdomain "github.com/stratobill/stratobill/internal/webhook/domain"
)

// StripeAdapter verifies Stripe deliveries against the shared webhook
// secret and normalizes them.
type StripeAdapter struct {
	secret string
}

func NewStripeAdapter(cfg config.Config) webhookdomain.ProviderAdapter {
	return &StripeAdapter{secret: strings.TrimSpace(cfg.StripeWebhookSecret)}
}

func (a *StripeAdapter) VerifyAndParse(ctx context.Context, payload []byte, signatureHeader string) (*webhookdomain.ProviderEvent, error) {
	if a.secret == "" {
		return nil, webhookdomain.ErrWebhookSecretMissing
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, a.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, webhookdomain.ErrInvalidSignature
	}

	normalized := &webhookdomain.ProviderEvent{
		ID:         strings.TrimSpace(event.ID),
		Type:       string(event.Type),
		Livemode:   event.Livemode,
		APIVersion: event.APIVersion,
		Created:    time.Unix(event.Created, 0).UTC(),
		Raw:        payload,
	}
	if event.Data != nil {
		normalized.Data = event.Data.Raw
	}
	if normalized.ID == "" || normalized.Type == "" {
		return nil, webhookdomain.ErrInvalidEvent
	}
	return normalized, nil
}
