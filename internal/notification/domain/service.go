// Package domain defines the best-effort notification contract.
package domain

import "context"

// Service sends customer-facing notifications triggered by webhook
// outcomes. Every method is best-effort: all internal failures are logged
// and swallowed, never returned. Billing-critical callers can therefore
// invoke these methods without guarding.
type Service interface {
	SendPaymentFailedEmail(ctx context.Context, stripeCustomerID string, stripeInvoiceID string)
	SendSubscriptionStatusEmail(ctx context.Context, stripeCustomerID string, status string)
}

// Notification kinds carried on queued jobs.
const (
	KindPaymentFailed      = "payment_failed"
	KindSubscriptionStatus = "subscription_status"
)

// EmailJob is the queued notification payload.
type EmailJob struct {
	Kind          string `json:"kind"`
	CustomerEmail string `json:"customer_email"`
	CustomerName  string `json:"customer_name"`
	Subject       string `json:"subject"`
	Body          string `json:"body"`
}
