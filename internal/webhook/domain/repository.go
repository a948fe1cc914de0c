package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// StatusUpdate applies a partial ledger transition. Only non-nil fields
// are written; IncrementRetry bumps retry_count atomically in the same
// statement.
type StatusUpdate struct {
	ID             snowflake.ID
	Status         string
	ProcessedAt    *time.Time
	Error          *string
	IncrementRetry bool
}

// Repository is the webhook event ledger.
type Repository interface {
	FindByStripeEventID(ctx context.Context, db *gorm.DB, stripeEventID string) (*WebhookEvent, error)

	// Insert stores a new pending row. It reports false without error when
	// a row with the same stripe event id already exists.
	Insert(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)

	// FindRetryCandidates returns pending or failed events with retry_count
	// below MaxRetries, oldest first.
	FindRetryCandidates(ctx context.Context, db *gorm.DB, limit int) ([]WebhookEvent, error)

	UpdateStatus(ctx context.Context, db *gorm.DB, update StatusUpdate) error
}
