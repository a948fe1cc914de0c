// Package domain contains persistence models for metered usage.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageRecord stores a single unit of metered activity. Records are
// append-only facts and are never updated after creation.
type UsageRecord struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	SubscriptionID snowflake.ID `gorm:"not null;index" json:"subscription_id"`
	MeterID        string       `gorm:"type:text;not null" json:"meter_id"`
	MeterEventName string       `gorm:"type:text;not null" json:"meter_event_name"`

	// Quantity is stored as supplied. Negative, zero, and fractional values
	// are accepted verbatim; a nil quantity contributes zero to aggregates.
	Quantity *float64 `gorm:"" json:"quantity"`

	RecordedAt time.Time `gorm:"not null" json:"recorded_at"`

	// StripeEventID links the record back to the provider event that
	// produced it, when one exists.
	StripeEventID *string   `gorm:"type:text" json:"stripe_event_id"`
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// UsageSummary is the derived window aggregate. It is computed fresh on
// every call and never persisted.
type UsageSummary struct {
	Total   float64            `json:"total"`
	Count   int64              `json:"count"`
	ByMeter map[string]float64 `json:"byMeter"`
}
