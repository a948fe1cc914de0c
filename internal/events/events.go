// Package events defines the billing event outbox.
package events

// Billing event types published to the outbox.
const (
	EventInvoicePaid         = "invoice_paid"
	EventInvoiceFailed       = "invoice_payment_failed"
	EventSubscriptionChanged = "subscription_changed"
	EventUsageRecorded       = "usage_recorded"
	EventLedgerEntryCreated  = "ledger_entry_created"
	EventLicenseActivated    = "license_activated"
)

// InvoicePaidPayload captures the minimal data needed to roll up a settled
// invoice.
type InvoicePaidPayload struct {
	InvoiceID       string `json:"invoice_id"`
	StripeInvoiceID string `json:"stripe_invoice_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	UsageTotal      string `json:"usage_total,omitempty"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p InvoicePaidPayload) ToMap() map[string]any {
	payload := map[string]any{
		"invoice_id":        p.InvoiceID,
		"stripe_invoice_id": p.StripeInvoiceID,
		"amount":            p.Amount,
		"currency":          p.Currency,
	}
	if p.UsageTotal != "" {
		payload["usage_total"] = p.UsageTotal
	}
	return payload
}

// SubscriptionChangedPayload records a provider-driven subscription change.
type SubscriptionChangedPayload struct {
	SubscriptionID       string `json:"subscription_id"`
	StripeSubscriptionID string `json:"stripe_subscription_id"`
	Status               string `json:"status"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p SubscriptionChangedPayload) ToMap() map[string]any {
	return map[string]any{
		"subscription_id":        p.SubscriptionID,
		"stripe_subscription_id": p.StripeSubscriptionID,
		"status":                 p.Status,
	}
}
