// Package service implements the webhook dispatcher state machine.
package service

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	auditdomain "github.com/stratobill/stratobill/internal/audit/domain"
	billingdomain "github.com/stratobill/stratobill/internal/billing/domain"
	"github.com/stratobill/stratobill/internal/clock"
	"github.com/stratobill/stratobill/internal/events"
	ledgerdomain "github.com/stratobill/stratobill/internal/ledger/domain"
	notificationdomain "github.com/stratobill/stratobill/internal/notification/domain"
	"github.com/stratobill/stratobill/internal/observability/metrics"
	usagedomain "github.com/stratobill/stratobill/internal/usage/domain"
	webhookdomain "github.com/stratobill/stratobill/internal/webhook/domain"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        webhookdomain.Repository
	Adapter     webhookdomain.ProviderAdapter
	BillingRepo billingdomain.Repository
	LedgerSvc   ledgerdomain.Service
	AuditSvc    auditdomain.Service
	Outbox      *events.Outbox
	UsageSvc    usagedomain.Service
	Notifier    notificationdomain.Service
	Metrics     *metrics.PipelineMetrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        webhookdomain.Repository
	adapter     webhookdomain.ProviderAdapter
	billingRepo billingdomain.Repository
	ledgerSvc   ledgerdomain.Service
	auditSvc    auditdomain.Service
	outbox      *events.Outbox
	usageSvc    usagedomain.Service
	notifier    notificationdomain.Service
	metrics     *metrics.PipelineMetrics
}

func NewService(p Params) webhookdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("webhook.dispatcher"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		adapter:     p.Adapter,
		billingRepo: p.BillingRepo,
		ledgerSvc:   p.LedgerSvc,
		auditSvc:    p.AuditSvc,
		outbox:      p.Outbox,
		usageSvc:    p.UsageSvc,
		notifier:    p.Notifier,
		metrics:     p.Metrics,
	}
}

// Ingest runs one delivery through the ledger state machine. Signature
// failures are returned to the caller; handler failures are recorded on
// the ledger row and acknowledged, so the provider does not redeliver
// what the retry sweep already owns.
func (s *Service) Ingest(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := s.adapter.VerifyAndParse(ctx, payload, signatureHeader)
	if err != nil {
		return err
	}

	category := Classify(event.Type)
	s.metrics.IncReceived(category)

	// Idempotency gate. The unique index on stripe_event_id backs this up
	// against concurrent redelivery.
	existing, err := s.repo.FindByStripeEventID(ctx, s.db, event.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		s.log.Info("duplicate webhook delivery",
			zap.String("stripe_event_id", event.ID),
			zap.String("status", existing.Status),
		)
		return nil
	}

	row := &webhookdomain.WebhookEvent{
		ID:            s.genID.Generate(),
		StripeEventID: event.ID,
		EventType:     event.Type,
		Category:      category,
		Livemode:      event.Livemode,
		APIVersion:    optionalString(event.APIVersion),
		Status:        webhookdomain.StatusPending,
		Payload:       datatypes.JSON(event.Raw),
		ReceivedAt:    s.clock.Now(),
		CreatedAt:     s.clock.Now(),
		UpdatedAt:     s.clock.Now(),
	}

	inserted, err := s.repo.Insert(ctx, s.db, row)
	if err != nil {
		return err
	}
	if !inserted {
		// Lost the race with a concurrent duplicate. Same as the gate above.
		s.log.Info("concurrent duplicate webhook delivery", zap.String("stripe_event_id", event.ID))
		return nil
	}

	s.process(ctx, row, event.Data)
	return nil
}

// Reprocess re-runs the handler for a ledger row picked up by the retry
// sweep. It never creates a new ledger row.
func (s *Service) Reprocess(ctx context.Context, row *webhookdomain.WebhookEvent) error {
	if row == nil || row.ID == 0 {
		return webhookdomain.ErrEventNotFound
	}
	data, err := dataObjectFromStored(row.Payload)
	if err != nil {
		now := s.clock.Now()
		message := "unparseable stored payload"
		return s.repo.UpdateStatus(ctx, s.db, webhookdomain.StatusUpdate{
			ID:             row.ID,
			Status:         webhookdomain.StatusFailed,
			ProcessedAt:    &now,
			Error:          &message,
			IncrementRetry: true,
		})
	}
	s.process(ctx, row, data)
	return nil
}

// process moves one row from pending/failed through processing to a
// terminal status. Handler errors stop here: they are written to the
// ledger, never raised.
func (s *Service) process(ctx context.Context, row *webhookdomain.WebhookEvent, data json.RawMessage) {
	start := s.clock.Now()

	if row.Category == webhookdomain.CategoryUnclassified {
		s.finish(ctx, row, nil)
		return
	}

	if err := s.repo.UpdateStatus(ctx, s.db, webhookdomain.StatusUpdate{
		ID:     row.ID,
		Status: webhookdomain.StatusProcessing,
	}); err != nil {
		s.log.Error("ledger transition to processing failed",
			zap.String("stripe_event_id", row.StripeEventID),
			zap.Error(err),
		)
		return
	}

	var handlerErr error
	switch row.Category {
	case webhookdomain.CategorySubscription:
		handlerErr = s.handleSubscription(ctx, row, data)
	case webhookdomain.CategoryInvoice:
		handlerErr = s.handleInvoice(ctx, row, data)
	case webhookdomain.CategoryPayment:
		handlerErr = s.handlePayment(ctx, row, data)
	case webhookdomain.CategoryCustomer:
		handlerErr = s.handleCustomer(ctx, row, data)
	default:
		handlerErr = nil
	}

	s.finish(ctx, row, handlerErr)
	s.metrics.ObserveDispatch(row.Category, s.clock.Now().Sub(start))
}

func (s *Service) finish(ctx context.Context, row *webhookdomain.WebhookEvent, handlerErr error) {
	now := s.clock.Now()

	if handlerErr == nil {
		if err := s.repo.UpdateStatus(ctx, s.db, webhookdomain.StatusUpdate{
			ID:          row.ID,
			Status:      webhookdomain.StatusCompleted,
			ProcessedAt: &now,
		}); err != nil {
			s.log.Error("ledger completion update failed",
				zap.String("stripe_event_id", row.StripeEventID),
				zap.Error(err),
			)
			return
		}
		s.metrics.IncProcessed("completed")
		return
	}

	s.log.Warn("webhook handler failed",
		zap.String("stripe_event_id", row.StripeEventID),
		zap.String("event_type", row.EventType),
		zap.String("category", row.Category),
		zap.Int("retry_count", row.RetryCount),
		zap.Error(handlerErr),
	)

	message := handlerErr.Error()
	if err := s.repo.UpdateStatus(ctx, s.db, webhookdomain.StatusUpdate{
		ID:             row.ID,
		Status:         webhookdomain.StatusFailed,
		Error:          &message,
		IncrementRetry: true,
	}); err != nil {
		s.log.Error("ledger failure update failed",
			zap.String("stripe_event_id", row.StripeEventID),
			zap.Error(err),
		)
		return
	}
	s.metrics.IncProcessed("failed")
}

// storedEvent mirrors the provider delivery shape persisted in the
// payload column.
type storedEvent struct {
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func dataObjectFromStored(payload datatypes.JSON) (json.RawMessage, error) {
	if len(payload) == 0 {
		return nil, webhookdomain.ErrInvalidEvent
	}
	var stored storedEvent
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, err
	}
	if len(stored.Data.Object) == 0 {
		return nil, webhookdomain.ErrInvalidEvent
	}
	return stored.Data.Object, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

var _ webhookdomain.Service = (*Service)(nil)
