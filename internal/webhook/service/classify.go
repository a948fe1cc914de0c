package service

import (
	"strings"

	webhookdomain "github.com/stratobill/stratobill/internal/webhook/domain"
)

// Classify buckets a provider event type by string prefix. It is a pure
// function of the type string. The customer.subscription.* family belongs
// to the subscription bucket and is checked before the generic customer
// prefix.
func Classify(eventType string) string {
	eventType = strings.TrimSpace(eventType)
	switch {
	case strings.HasPrefix(eventType, "customer.subscription."):
		return webhookdomain.CategorySubscription
	case strings.HasPrefix(eventType, "invoice."):
		return webhookdomain.CategoryInvoice
	case strings.HasPrefix(eventType, "payment_intent."), strings.HasPrefix(eventType, "charge."):
		return webhookdomain.CategoryPayment
	case strings.HasPrefix(eventType, "customer."):
		return webhookdomain.CategoryCustomer
	default:
		return webhookdomain.CategoryUnclassified
	}
}
