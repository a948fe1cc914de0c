package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// LicenseUpdate persists the outcome of a successful license activation.
type LicenseUpdate struct {
	CompanyID              snowflake.ID
	InstallationIdentifier *string
	LicenseKey             string
	ActivatedAt            time.Time
	ExpiresAt              *time.Time
}

// Repository provides lookups and upserts keyed by provider identifiers.
type Repository interface {
	FindCompanyByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Company, error)
	UpdateCompanyLicense(ctx context.Context, db *gorm.DB, update LicenseUpdate) error

	FindCustomerByStripeID(ctx context.Context, db *gorm.DB, stripeCustomerID string) (*Customer, error)
	UpsertCustomer(ctx context.Context, db *gorm.DB, customer *Customer) error

	FindSubscriptionByStripeID(ctx context.Context, db *gorm.DB, stripeSubscriptionID string) (*Subscription, error)
	FindSubscriptionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	UpsertSubscription(ctx context.Context, db *gorm.DB, subscription *Subscription) error

	FindInvoiceByStripeID(ctx context.Context, db *gorm.DB, stripeInvoiceID string) (*Invoice, error)
	UpsertInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) error
}
