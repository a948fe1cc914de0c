// Package repository implements the webhook event ledger with raw SQL.
package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	webhookdomain "github.com/stratobill/stratobill/internal/webhook/domain"
)

type Repository struct{}

func Provide() webhookdomain.Repository {
	return &Repository{}
}

func (Repository) FindByStripeEventID(ctx context.Context, db *gorm.DB, stripeEventID string) (*webhookdomain.WebhookEvent, error) {
	stripeEventID = strings.TrimSpace(stripeEventID)
	if stripeEventID == "" {
		return nil, webhookdomain.ErrInvalidEvent
	}
	var rows []webhookdomain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, stripe_event_id, event_type, category, livemode, api_version, status,
		        retry_count, error, payload, received_at, processed_at, created_at, updated_at
		 FROM webhook_events
		 WHERE stripe_event_id = ?
		 LIMIT 1`,
		stripeEventID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Insert relies on the unique index over stripe_event_id as the only
// concurrency control. A conflicting concurrent delivery reports false.
func (Repository) Insert(ctx context.Context, db *gorm.DB, event *webhookdomain.WebhookEvent) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events
		   (id, stripe_event_id, event_type, category, livemode, api_version, status,
		    retry_count, error, payload, received_at, processed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (stripe_event_id) DO NOTHING`,
		event.ID,
		event.StripeEventID,
		event.EventType,
		event.Category,
		event.Livemode,
		event.APIVersion,
		event.Status,
		event.RetryCount,
		event.Error,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (Repository) FindRetryCandidates(ctx context.Context, db *gorm.DB, limit int) ([]webhookdomain.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []webhookdomain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, stripe_event_id, event_type, category, livemode, api_version, status,
		        retry_count, error, payload, received_at, processed_at, created_at, updated_at
		 FROM webhook_events
		 WHERE status IN (?, ?)
		   AND retry_count < ?
		 ORDER BY received_at ASC
		 LIMIT ?`,
		webhookdomain.StatusPending,
		webhookdomain.StatusFailed,
		webhookdomain.MaxRetries,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateStatus writes status and updated_at unconditionally. Optional
// fields are written only when supplied so callers never clobber values
// they did not intend to touch.
func (Repository) UpdateStatus(ctx context.Context, db *gorm.DB, update webhookdomain.StatusUpdate) error {
	if update.ID == 0 || strings.TrimSpace(update.Status) == "" {
		return webhookdomain.ErrInvalidEvent
	}

	assignments := []string{"status = ?", "updated_at = ?"}
	args := []any{update.Status, time.Now().UTC()}

	if update.ProcessedAt != nil {
		assignments = append(assignments, "processed_at = ?")
		args = append(args, update.ProcessedAt.UTC())
	}
	if update.Error != nil {
		assignments = append(assignments, "error = ?")
		args = append(args, *update.Error)
	}
	if update.IncrementRetry {
		assignments = append(assignments, "retry_count = retry_count + 1")
	}

	args = append(args, update.ID)
	return db.WithContext(ctx).Exec(
		"UPDATE webhook_events SET "+strings.Join(assignments, ", ")+" WHERE id = ?",
		args...,
	).Error
}

var _ webhookdomain.Repository = (*Repository)(nil)
