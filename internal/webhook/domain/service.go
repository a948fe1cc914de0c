package domain

import "context"

// Service is the webhook dispatcher.
type Service interface {
	// Ingest verifies, classifies, and processes one raw delivery.
	Ingest(ctx context.Context, payload []byte, signatureHeader string) error

	// Reprocess re-runs the handler for an existing ledger row.
	Reprocess(ctx context.Context, row *WebhookEvent) error
}
