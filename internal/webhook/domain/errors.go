package domain

import "errors"

var (
	ErrWebhookSecretMissing = errors.New("webhook_secret_missing")
	ErrInvalidSignature     = errors.New("invalid_signature")
	ErrInvalidEvent         = errors.New("invalid_event")
	ErrEventNotFound        = errors.New("event_not_found")
)
