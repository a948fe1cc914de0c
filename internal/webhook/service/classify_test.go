package service

import (
	"testing"

	webhookdomain "github.com/stratobill/stratobill/internal/webhook/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		eventType string
		want      string
	}{
		{"customer.subscription.created", webhookdomain.CategorySubscription},
		{"customer.subscription.updated", webhookdomain.CategorySubscription},
		{"customer.subscription.deleted", webhookdomain.CategorySubscription},
		{"invoice.payment_succeeded", webhookdomain.CategoryInvoice},
		{"invoice.payment_failed", webhookdomain.CategoryInvoice},
		{"invoice.finalized", webhookdomain.CategoryInvoice},
		{"payment_intent.succeeded", webhookdomain.CategoryPayment},
		{"charge.refunded", webhookdomain.CategoryPayment},
		{"customer.created", webhookdomain.CategoryCustomer},
		{"customer.updated", webhookdomain.CategoryCustomer},
		{"product.created", webhookdomain.CategoryUnclassified},
		{"", webhookdomain.CategoryUnclassified},
	}

	for _, tc := range cases {
		if got := Classify(tc.eventType); got != tc.want {
			t.Fatalf("Classify(%q) = %q, want %q", tc.eventType, got, tc.want)
		}
	}
}
