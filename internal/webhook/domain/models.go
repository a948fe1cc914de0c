// Package domain contains the webhook event ledger model and contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Ledger status lifecycle: pending -> processing -> completed | failed.
// Failed events re-enter processing via the retry sweep until the retry
// count reaches MaxRetries.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// MaxRetries bounds the retry sweep. An event whose retry count reaches
// this value is permanently parked in the failed state.
const MaxRetries = 5

// Category buckets produced by event type classification.
const (
	CategorySubscription = "subscription-lifecycle"
	CategoryInvoice      = "invoice"
	CategoryPayment      = "payment"
	CategoryCustomer     = "customer"
	CategoryUnclassified = "unclassified"
)

// WebhookEvent is one ledger row per inbound provider event. The unique
// stripe_event_id is the idempotency key for redeliveries.
type WebhookEvent struct {
	ID            snowflake.ID   `gorm:"primaryKey"`
	StripeEventID string         `gorm:"type:text;not null;uniqueIndex:ux_webhook_events_stripe_event_id"`
	EventType     string         `gorm:"type:text;not null"`
	Category      string         `gorm:"type:text;not null;default:unclassified"`
	Livemode      bool           `gorm:"not null;default:false"`
	APIVersion    *string        `gorm:"type:text"`
	Status        string         `gorm:"type:text;not null;default:pending"`
	RetryCount    int            `gorm:"not null;default:0"`
	Error         *string        `gorm:"type:text"`
	Payload       datatypes.JSON `gorm:"type:jsonb"`
	ReceivedAt    time.Time      `gorm:"not null"`
	ProcessedAt   *time.Time     `gorm:""`
	CreatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (WebhookEvent) TableName() string { return "webhook_events" }
