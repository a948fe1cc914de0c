// Package service implements the best-effort notification side channel.
package service

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/stratobill/stratobill/internal/billing/domain"
	"github.com/stratobill/stratobill/internal/cache"
	notificationdomain "github.com/stratobill/stratobill/internal/notification/domain"
	"github.com/stratobill/stratobill/internal/observability/metrics"
	"github.com/stratobill/stratobill/internal/queue"
)

// JobKindEmail is the queue kind consumed by the email worker handler.
const JobKindEmail = "notification.email"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	BillingRepo billingdomain.Repository
	Enqueuer    queue.Enqueuer
	Metrics     *metrics.PipelineMetrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	billingRepo billingdomain.Repository
	enqueuer    queue.Enqueuer
	metrics     *metrics.PipelineMetrics
	customers   cache.Cache[string, *billingdomain.Customer]
}

func NewService(p Params) notificationdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("notification.service"),
		billingRepo: p.BillingRepo,
		enqueuer:    p.Enqueuer,
		metrics:     p.Metrics,
		customers:   cache.NewTTLCache[string, *billingdomain.Customer](cache.DefaultTTL),
	}
}

// SendPaymentFailedEmail notifies the customer their payment bounced.
// Failures never escape: the billing event this decorates already
// succeeded or failed on its own terms.
func (s *Service) SendPaymentFailedEmail(ctx context.Context, stripeCustomerID string, stripeInvoiceID string) {
	customer := s.lookupCustomer(ctx, stripeCustomerID)
	if customer == nil {
		return
	}

	reference, hostedURL := s.invoiceReference(ctx, stripeInvoiceID)

	body := fmt.Sprintf(
		"Hi %s,\n\nWe could not collect payment for invoice %s. Please update your payment method to avoid service interruption.",
		customer.Name, reference,
	)
	if hostedURL != "" {
		body += "\n\nView and pay the invoice here: " + hostedURL
	}

	job := notificationdomain.EmailJob{
		Kind:          notificationdomain.KindPaymentFailed,
		CustomerEmail: customer.Email,
		CustomerName:  customer.Name,
		Subject:       "Payment failed for invoice " + reference,
		Body:          body,
	}
	s.enqueue(ctx, stripeCustomerID, job)
}

// SendSubscriptionStatusEmail notifies the customer of a subscription
// state change.
func (s *Service) SendSubscriptionStatusEmail(ctx context.Context, stripeCustomerID string, status string) {
	customer := s.lookupCustomer(ctx, stripeCustomerID)
	if customer == nil {
		return
	}

	job := notificationdomain.EmailJob{
		Kind:          notificationdomain.KindSubscriptionStatus,
		CustomerEmail: customer.Email,
		CustomerName:  customer.Name,
		Subject:       "Your subscription is now " + status,
		Body: fmt.Sprintf(
			"Hi %s,\n\nYour subscription status changed to %q. No action is needed unless this is unexpected.",
			customer.Name, status,
		),
	}
	s.enqueue(ctx, stripeCustomerID, job)
}

// invoiceReference resolves the customer-facing invoice number and hosted
// url. Lookup failures degrade to the provider id with no url.
func (s *Service) invoiceReference(ctx context.Context, stripeInvoiceID string) (string, string) {
	reference := stripeInvoiceID
	invoice, err := s.billingRepo.FindInvoiceByStripeID(ctx, s.db, stripeInvoiceID)
	if err != nil {
		s.log.Warn("notification invoice lookup failed",
			zap.String("stripe_invoice_id", stripeInvoiceID),
			zap.Error(err),
		)
		return reference, ""
	}
	if invoice == nil {
		return reference, ""
	}
	if invoice.Number != nil && *invoice.Number != "" {
		reference = *invoice.Number
	}
	hostedURL := ""
	if invoice.HostedInvoiceURL != nil {
		hostedURL = *invoice.HostedInvoiceURL
	}
	return reference, hostedURL
}

// lookupCustomer resolves the recipient, caching hits. A miss or lookup
// failure is logged and ends the notification silently.
func (s *Service) lookupCustomer(ctx context.Context, stripeCustomerID string) *billingdomain.Customer {
	if cached, ok := s.customers.Get(stripeCustomerID); ok {
		return cached
	}

	customer, err := s.billingRepo.FindCustomerByStripeID(ctx, s.db, stripeCustomerID)
	if err != nil {
		s.log.Error("notification customer lookup failed",
			zap.String("stripe_customer_id", stripeCustomerID),
			zap.Error(err),
		)
		return nil
	}
	if customer == nil || customer.Email == "" {
		s.log.Warn("notification skipped, no deliverable customer",
			zap.String("stripe_customer_id", stripeCustomerID),
		)
		return nil
	}

	s.customers.Set(stripeCustomerID, customer)
	return customer
}

func (s *Service) enqueue(ctx context.Context, stripeCustomerID string, job notificationdomain.EmailJob) {
	if err := s.enqueuer.Enqueue(ctx, JobKindEmail, job); err != nil {
		s.log.Error("notification enqueue failed",
			zap.String("stripe_customer_id", stripeCustomerID),
			zap.String("kind", job.Kind),
			zap.Error(err),
		)
		return
	}
	s.metrics.IncNotificationEnqueued(job.Kind)
}

var _ notificationdomain.Service = (*Service)(nil)
