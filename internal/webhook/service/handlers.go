package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	billingdomain "github.com/stratobill/stratobill/internal/billing/domain"
	"github.com/stratobill/stratobill/internal/events"
	ledgerdomain "github.com/stratobill/stratobill/internal/ledger/domain"
	usagedomain "github.com/stratobill/stratobill/internal/usage/domain"
	webhookdomain "github.com/stratobill/stratobill/internal/webhook/domain"
)

var errCompanyUnresolved = errors.New("company_unresolved")

type subscriptionObject struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CanceledAt         int64             `json:"canceled_at"`
	Metadata           map[string]string `json:"metadata"`
}

type invoiceObject struct {
	ID               string            `json:"id"`
	Customer         string            `json:"customer"`
	Subscription     string            `json:"subscription"`
	Number           string            `json:"number"`
	HostedInvoiceURL string            `json:"hosted_invoice_url"`
	Status           string            `json:"status"`
	Currency         string            `json:"currency"`
	AmountDue        int64             `json:"amount_due"`
	AmountPaid       int64             `json:"amount_paid"`
	Metadata         map[string]string `json:"metadata"`
}

type customerObject struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata"`
}

type paymentObject struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// handleSubscription mirrors provider subscription state into the local
// snapshot and announces the change.
func (s *Service) handleSubscription(ctx context.Context, row *webhookdomain.WebhookEvent, data json.RawMessage) error {
	var object subscriptionObject
	if err := json.Unmarshal(data, &object); err != nil {
		return err
	}
	if strings.TrimSpace(object.ID) == "" {
		return webhookdomain.ErrInvalidEvent
	}

	companyID, customerID, err := s.resolveCompany(ctx, object.Customer, object.Metadata)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	subscription := &billingdomain.Subscription{
		ID:                   s.genID.Generate(),
		CompanyID:            companyID,
		CustomerID:           customerID,
		StripeSubscriptionID: optionalString(object.ID),
		StripeCustomerID:     optionalString(strings.TrimSpace(object.Customer)),
		Status:               normalizeSubscriptionStatus(object.Status),
		CurrentPeriodStart:   unixToTime(object.CurrentPeriodStart),
		CurrentPeriodEnd:     unixToTime(object.CurrentPeriodEnd),
		CanceledAt:           unixToTime(object.CanceledAt),
		Metadata:             metadataToJSONMap(object.Metadata),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.billingRepo.UpsertSubscription(ctx, s.db, subscription); err != nil {
		return err
	}

	stored, err := s.billingRepo.FindSubscriptionByStripeID(ctx, s.db, object.ID)
	if err != nil {
		return err
	}
	if stored == nil {
		stored = subscription
	}

	s.publishEvent(ctx, events.Event{
		CompanyID: companyID,
		Type:      events.EventSubscriptionChanged,
		Payload: events.SubscriptionChangedPayload{
			SubscriptionID:       stored.ID.String(),
			StripeSubscriptionID: object.ID,
			Status:               stored.Status,
		}.ToMap(),
		DedupeKey: row.StripeEventID,
	})

	// Best-effort side channel. The notifier swallows its own failures.
	s.notifier.SendSubscriptionStatusEmail(ctx, object.Customer, stored.Status)
	return nil
}

// handleInvoice records invoice state and, for settlements, posts the
// balanced ledger entry and publishes the rollup event.
func (s *Service) handleInvoice(ctx context.Context, row *webhookdomain.WebhookEvent, data json.RawMessage) error {
	var object invoiceObject
	if err := json.Unmarshal(data, &object); err != nil {
		return err
	}
	if strings.TrimSpace(object.ID) == "" {
		return webhookdomain.ErrInvalidEvent
	}

	companyID, customerID, err := s.resolveCompany(ctx, object.Customer, object.Metadata)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	invoice := &billingdomain.Invoice{
		ID:               s.genID.Generate(),
		CompanyID:        companyID,
		CustomerID:       customerID,
		StripeInvoiceID:  optionalString(object.ID),
		StripeCustomerID: optionalString(strings.TrimSpace(object.Customer)),
		Number:           optionalString(strings.TrimSpace(object.Number)),
		HostedInvoiceURL: optionalString(strings.TrimSpace(object.HostedInvoiceURL)),
		Status:           normalizeInvoiceStatus(object.Status),
		Currency:         normalizeCurrencyCode(object.Currency),
		AmountDue:        object.AmountDue,
		AmountPaid:       object.AmountPaid,
		Metadata:         metadataToJSONMap(object.Metadata),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	switch row.EventType {
	case "invoice.payment_succeeded":
		invoice.Status = billingdomain.InvoiceStatusPaid
		paidAt := now
		invoice.PaidAt = &paidAt
		if err := s.billingRepo.UpsertInvoice(ctx, s.db, invoice); err != nil {
			return err
		}
		return s.settleInvoice(ctx, row, &object, companyID)

	case "invoice.payment_failed":
		if err := s.billingRepo.UpsertInvoice(ctx, s.db, invoice); err != nil {
			return err
		}
		targetID := object.ID
		s.writeAudit(ctx, companyID, "invoice.payment_failed", "invoice", &targetID, map[string]any{
			"stripe_invoice_id":  object.ID,
			"stripe_customer_id": object.Customer,
			"amount_due":         object.AmountDue,
			"currency":           invoice.Currency,
		})
		s.publishEvent(ctx, events.Event{
			CompanyID: companyID,
			Type:      events.EventInvoiceFailed,
			Payload: map[string]any{
				"stripe_invoice_id":  object.ID,
				"stripe_customer_id": object.Customer,
				"amount_due":         object.AmountDue,
				"currency":           invoice.Currency,
			},
			DedupeKey: row.StripeEventID,
		})
		s.notifier.SendPaymentFailedEmail(ctx, object.Customer, object.ID)
		return nil

	default:
		return s.billingRepo.UpsertInvoice(ctx, s.db, invoice)
	}
}

func (s *Service) settleInvoice(ctx context.Context, row *webhookdomain.WebhookEvent, object *invoiceObject, companyID snowflake.ID) error {
	stored, err := s.billingRepo.FindInvoiceByStripeID(ctx, s.db, object.ID)
	if err != nil {
		return err
	}
	if stored == nil {
		return webhookdomain.ErrInvalidEvent
	}

	amount := object.AmountPaid
	if amount <= 0 {
		amount = object.AmountDue
	}

	if amount > 0 {
		cashID, err := s.ledgerSvc.EnsureAccount(ctx, companyID, ledgerdomain.AccountCodeCashClearing, "Cash / Clearing")
		if err != nil {
			return err
		}
		arID, err := s.ledgerSvc.EnsureAccount(ctx, companyID, ledgerdomain.AccountCodeAccountsReceivable, "Accounts Receivable")
		if err != nil {
			return err
		}
		if err := s.ledgerSvc.CreateEntry(
			ctx,
			companyID,
			ledgerdomain.SourceTypeInvoicePayment,
			stored.ID,
			object.Currency,
			s.clock.Now(),
			[]ledgerdomain.LedgerEntryLine{
				{AccountID: cashID, Direction: ledgerdomain.LedgerEntryDirectionDebit, Amount: amount},
				{AccountID: arID, Direction: ledgerdomain.LedgerEntryDirectionCredit, Amount: amount},
			},
		); err != nil {
			return err
		}
	}

	usageTotal := s.usageTotalForInvoice(ctx, object)

	s.publishEvent(ctx, events.Event{
		CompanyID: companyID,
		Type:      events.EventInvoicePaid,
		Payload: events.InvoicePaidPayload{
			InvoiceID:       stored.ID.String(),
			StripeInvoiceID: object.ID,
			Amount:          amount,
			Currency:        normalizeCurrencyCode(object.Currency),
			UsageTotal:      usageTotal,
		}.ToMap(),
		DedupeKey: row.StripeEventID,
	})

	targetID := stored.ID.String()
	s.writeAudit(ctx, companyID, "invoice.paid", "invoice", &targetID, map[string]any{
		"stripe_invoice_id":  object.ID,
		"stripe_customer_id": object.Customer,
		"amount":             amount,
		"currency":           normalizeCurrencyCode(object.Currency),
		"usage_total":        usageTotal,
	})
	return nil
}

// usageTotalForInvoice snapshots the billing-period usage for the invoice
// rollup. A missing subscription or summary failure degrades to an empty
// snapshot rather than failing the settlement.
func (s *Service) usageTotalForInvoice(ctx context.Context, object *invoiceObject) string {
	if strings.TrimSpace(object.Subscription) == "" {
		return ""
	}
	subscription, err := s.billingRepo.FindSubscriptionByStripeID(ctx, s.db, object.Subscription)
	if err != nil || subscription == nil {
		return ""
	}

	end := s.clock.Now()
	start := end.AddDate(0, -1, 0)
	if subscription.CurrentPeriodStart != nil {
		start = *subscription.CurrentPeriodStart
	}
	if subscription.CurrentPeriodEnd != nil {
		end = *subscription.CurrentPeriodEnd
	}

	summary, err := s.usageSvc.Summary(ctx, usagedomain.SummaryRequest{
		SubscriptionID: subscription.ID.String(),
		StartTime:      start,
		EndTime:        end,
	})
	if err != nil {
		s.log.Warn("usage snapshot for invoice failed",
			zap.String("stripe_subscription_id", object.Subscription),
			zap.Error(err),
		)
		return ""
	}
	return formatTotal(summary.Total)
}

func (s *Service) handlePayment(ctx context.Context, row *webhookdomain.WebhookEvent, data json.RawMessage) error {
	var object paymentObject
	if err := json.Unmarshal(data, &object); err != nil {
		return err
	}
	if strings.TrimSpace(object.ID) == "" {
		return webhookdomain.ErrInvalidEvent
	}

	companyID, _, err := s.resolveCompany(ctx, object.Customer, nil)
	if err != nil {
		return err
	}

	targetID := object.ID
	s.writeAudit(ctx, companyID, "payment."+row.EventType, "payment", &targetID, map[string]any{
		"stripe_customer_id": object.Customer,
		"amount":             object.Amount,
		"currency":           normalizeCurrencyCode(object.Currency),
		"provider_status":    object.Status,
	})
	return nil
}

func (s *Service) handleCustomer(ctx context.Context, row *webhookdomain.WebhookEvent, data json.RawMessage) error {
	var object customerObject
	if err := json.Unmarshal(data, &object); err != nil {
		return err
	}
	if strings.TrimSpace(object.ID) == "" {
		return webhookdomain.ErrInvalidEvent
	}

	companyID, _, err := s.resolveCompany(ctx, object.ID, object.Metadata)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	customer := &billingdomain.Customer{
		ID:               s.genID.Generate(),
		CompanyID:        companyID,
		StripeCustomerID: optionalString(strings.TrimSpace(object.ID)),
		Name:             strings.TrimSpace(object.Name),
		Email:            strings.TrimSpace(object.Email),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return s.billingRepo.UpsertCustomer(ctx, s.db, customer)
}

// publishEvent writes to the outbox as a side channel. Retried deliveries
// dedupe on the provider event id, so a lost publish is recovered by the
// next sweep pass rather than failing the ledger row.
func (s *Service) publishEvent(ctx context.Context, event events.Event) {
	if err := s.outbox.Publish(ctx, event); err != nil {
		s.log.Warn("outbox publish failed",
			zap.String("event_type", event.Type),
			zap.String("dedupe_key", event.DedupeKey),
			zap.Error(err),
		)
	}
}

// writeAudit records an audit row as a side channel. Failures never flip
// the ledger status.
func (s *Service) writeAudit(ctx context.Context, companyID snowflake.ID, action, targetType string, targetID *string, metadata map[string]any) {
	if err := s.auditSvc.AuditLog(ctx, &companyID, "", nil, action, targetType, targetID, metadata); err != nil {
		s.log.Warn("audit write failed",
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

// resolveCompany maps a provider customer id to the owning tenant. The
// customer table wins; the provider object's company_id metadata is the
// fallback for objects that arrive before their customer sync.
func (s *Service) resolveCompany(ctx context.Context, stripeCustomerID string, metadata map[string]string) (snowflake.ID, *snowflake.ID, error) {
	customer, err := s.billingRepo.FindCustomerByStripeID(ctx, s.db, stripeCustomerID)
	if err != nil {
		return 0, nil, err
	}
	if customer != nil {
		customerID := customer.ID
		return customer.CompanyID, &customerID, nil
	}

	if raw, ok := metadata["company_id"]; ok {
		companyID, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err == nil && companyID != 0 {
			return companyID, nil, nil
		}
	}
	return 0, nil, errCompanyUnresolved
}

func normalizeSubscriptionStatus(status string) string {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case billingdomain.SubscriptionStatusActive,
		billingdomain.SubscriptionStatusPastDue,
		billingdomain.SubscriptionStatusCanceled,
		billingdomain.SubscriptionStatusTrialing:
		return status
	default:
		return billingdomain.SubscriptionStatusIncomplete
	}
}

func normalizeInvoiceStatus(status string) string {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case billingdomain.InvoiceStatusOpen,
		billingdomain.InvoiceStatusPaid,
		billingdomain.InvoiceStatusVoid:
		return status
	default:
		return billingdomain.InvoiceStatusDraft
	}
}

func normalizeCurrencyCode(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "USD"
	}
	return currency
}

func unixToTime(value int64) *time.Time {
	if value <= 0 {
		return nil
	}
	at := time.Unix(value, 0).UTC()
	return &at
}

func metadataToJSONMap(metadata map[string]string) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for key, value := range metadata {
		if strings.TrimSpace(key) == "" {
			continue
		}
		out[key] = value
	}
	return out
}

func formatTotal(total float64) string {
	return strconv.FormatFloat(total, 'f', -1, 64)
}
