package domain

import (
	"context"
	"errors"
	"time"
)

// CreateUsageRequest reports one metered event against a subscription.
type CreateUsageRequest struct {
	SubscriptionID string
	MeterID        string
	MeterEventName string
	Quantity       *float64
	RecordedAt     time.Time
	StripeEventID  *string
}

// ListUsageRequest filters records for one subscription. Bounds are
// inclusive on both ends; a nil bound leaves that side open.
type ListUsageRequest struct {
	SubscriptionID string
	StartTime      *time.Time
	EndTime        *time.Time
	Limit          int
}

// SummaryRequest aggregates usage over a closed window. Both bounds are
// mandatory.
type SummaryRequest struct {
	SubscriptionID string
	StartTime      time.Time
	EndTime        time.Time
}

// Service is the usage record store.
type Service interface {
	Create(ctx context.Context, req CreateUsageRequest) (*UsageRecord, error)
	List(ctx context.Context, req ListUsageRequest) ([]UsageRecord, error)
	Summary(ctx context.Context, req SummaryRequest) (UsageSummary, error)
}

var (
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInvalidMeter         = errors.New("invalid_meter")
	ErrInvalidMeterEvent    = errors.New("invalid_meter_event")
	ErrInvalidQuantity      = errors.New("invalid_quantity")
	ErrInvalidWindow        = errors.New("invalid_window")
)
