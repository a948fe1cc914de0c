// Package service implements the usage record store.
package service

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/stratobill/stratobill/internal/billing/domain"
	"github.com/stratobill/stratobill/internal/clock"
	"github.com/stratobill/stratobill/internal/events"
	usagedomain "github.com/stratobill/stratobill/internal/usage/domain"
)

const defaultListLimit = 100

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	BillingRepo billingdomain.Repository
	Outbox      *events.Outbox `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	billingRepo billingdomain.Repository
	outbox      *events.Outbox
}

func NewService(p Params) usagedomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("usage.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		billingRepo: p.BillingRepo,
		outbox:      p.Outbox,
	}
}

// Create appends one usage record. The subscription must already exist.
func (s *Service) Create(ctx context.Context, req usagedomain.CreateUsageRequest) (*usagedomain.UsageRecord, error) {
	subscriptionID, err := parseID(req.SubscriptionID)
	if err != nil {
		return nil, usagedomain.ErrInvalidSubscription
	}

	meterID := strings.TrimSpace(req.MeterID)
	if meterID == "" {
		return nil, usagedomain.ErrInvalidMeter
	}
	meterEventName := strings.TrimSpace(req.MeterEventName)
	if meterEventName == "" {
		return nil, usagedomain.ErrInvalidMeterEvent
	}
	if req.Quantity != nil && (math.IsNaN(*req.Quantity) || math.IsInf(*req.Quantity, 0)) {
		return nil, usagedomain.ErrInvalidQuantity
	}

	subscription, err := s.billingRepo.FindSubscriptionByID(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, usagedomain.ErrSubscriptionNotFound
	}

	recordedAt := req.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = s.clock.Now()
	}

	record := &usagedomain.UsageRecord{
		ID:             s.genID.Generate(),
		SubscriptionID: subscriptionID,
		MeterID:        meterID,
		MeterEventName: meterEventName,
		Quantity:       req.Quantity,
		RecordedAt:     recordedAt.UTC(),
		StripeEventID:  normalizeOptional(req.StripeEventID),
		CreatedAt:      s.clock.Now(),
	}

	if err := s.db.WithContext(ctx).Exec(
		`INSERT INTO usage_records
		   (id, subscription_id, meter_id, meter_event_name, quantity, recorded_at, stripe_event_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.SubscriptionID,
		record.MeterID,
		record.MeterEventName,
		record.Quantity,
		record.RecordedAt,
		record.StripeEventID,
		record.CreatedAt,
	).Error; err != nil {
		return nil, err
	}

	// The record is durable at this point. Outbox publication is a
	// best-effort rollup signal, not part of the write contract.
	if s.outbox != nil {
		payload := map[string]any{
			"usage_record_id": record.ID.String(),
			"subscription_id": record.SubscriptionID.String(),
			"meter_id":        record.MeterID,
		}
		if record.Quantity != nil {
			payload["quantity"] = *record.Quantity
		}
		dedupeKey := ""
		if record.StripeEventID != nil {
			dedupeKey = "usage:" + *record.StripeEventID
		}
		if err := s.outbox.Publish(ctx, events.Event{
			CompanyID: subscription.CompanyID,
			Type:      events.EventUsageRecorded,
			Payload:   payload,
			DedupeKey: dedupeKey,
		}); err != nil {
			s.log.Warn("usage outbox publish failed",
				zap.String("usage_record_id", record.ID.String()),
				zap.Error(err),
			)
		}
	}

	return record, nil
}

// List returns records newest-first with inclusive time bounds.
func (s *Service) List(ctx context.Context, req usagedomain.ListUsageRequest) ([]usagedomain.UsageRecord, error) {
	subscriptionID, err := parseID(req.SubscriptionID)
	if err != nil {
		return nil, usagedomain.ErrInvalidSubscription
	}

	limit := req.Limit
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}

	query := s.db.WithContext(ctx).
		Model(&usagedomain.UsageRecord{}).
		Where("subscription_id = ?", subscriptionID)
	if req.StartTime != nil {
		query = query.Where("recorded_at >= ?", req.StartTime.UTC())
	}
	if req.EndTime != nil {
		query = query.Where("recorded_at <= ?", req.EndTime.UTC())
	}

	var records []usagedomain.UsageRecord
	if err := query.Order("recorded_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// summaryRow scans aggregates as text. The storage layer does not guarantee
// numeric scan types for SUM and COUNT, so coercion happens once here.
type summaryRow struct {
	MeterID string `gorm:"column:meter_id"`
	Total   string `gorm:"column:total"`
	Count   string `gorm:"column:record_count"`
}

// Summary aggregates usage per meter over a closed window. Both bounds are
// inclusive and mandatory.
func (s *Service) Summary(ctx context.Context, req usagedomain.SummaryRequest) (usagedomain.UsageSummary, error) {
	summary := usagedomain.UsageSummary{ByMeter: map[string]float64{}}

	subscriptionID, err := parseID(req.SubscriptionID)
	if err != nil {
		return summary, usagedomain.ErrInvalidSubscription
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() || req.EndTime.Before(req.StartTime) {
		return summary, usagedomain.ErrInvalidWindow
	}

	var rows []summaryRow
	if err := s.db.WithContext(ctx).Raw(
		`SELECT meter_id,
		        CAST(SUM(COALESCE(quantity, 0)) AS TEXT) AS total,
		        CAST(COUNT(*) AS TEXT) AS record_count
		 FROM usage_records
		 WHERE subscription_id = ?
		   AND recorded_at >= ?
		   AND recorded_at <= ?
		 GROUP BY meter_id`,
		subscriptionID,
		req.StartTime.UTC(),
		req.EndTime.UTC(),
	).Scan(&rows).Error; err != nil {
		return summary, err
	}

	for _, row := range rows {
		total, err := parseNumeric(row.Total)
		if err != nil {
			s.log.Warn("unparseable usage total",
				zap.String("meter_id", row.MeterID),
				zap.String("total", row.Total),
			)
			continue
		}
		count, err := strconv.ParseInt(strings.TrimSpace(row.Count), 10, 64)
		if err != nil {
			count = 0
		}
		summary.ByMeter[row.MeterID] = total
		summary.Total += total
		summary.Count += count
	}

	return summary, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, usagedomain.ErrInvalidSubscription
	}
	return id, nil
}

func parseNumeric(value string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(value), 64)
}

func normalizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
