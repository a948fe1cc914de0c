// Package repository implements billing lookups with raw SQL.
package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	billingdomain "github.com/stratobill/stratobill/internal/billing/domain"
)

type Repository struct{}

func Provide() billingdomain.Repository {
	return &Repository{}
}

func (Repository) FindCompanyByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*billingdomain.Company, error) {
	if id == 0 {
		return nil, nil
	}
	var rows []billingdomain.Company
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, installation_identifier, license_key, license_activated_at, license_expires_at, created_at, updated_at
		 FROM companies
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (Repository) UpdateCompanyLicense(ctx context.Context, db *gorm.DB, update billingdomain.LicenseUpdate) error {
	return db.WithContext(ctx).Exec(
		`UPDATE companies
		 SET installation_identifier = COALESCE(?, installation_identifier),
		     license_key = ?, license_activated_at = ?, license_expires_at = ?, updated_at = ?
		 WHERE id = ?`,
		update.InstallationIdentifier,
		update.LicenseKey,
		update.ActivatedAt,
		update.ExpiresAt,
		update.ActivatedAt,
		update.CompanyID,
	).Error
}

func (Repository) FindCustomerByStripeID(ctx context.Context, db *gorm.DB, stripeCustomerID string) (*billingdomain.Customer, error) {
	stripeCustomerID = strings.TrimSpace(stripeCustomerID)
	if stripeCustomerID == "" {
		return nil, nil
	}
	var rows []billingdomain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT id, company_id, stripe_customer_id, name, email, created_at, updated_at
		 FROM customers
		 WHERE stripe_customer_id = ?
		 LIMIT 1`,
		stripeCustomerID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (Repository) UpsertCustomer(ctx context.Context, db *gorm.DB, customer *billingdomain.Customer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customers (id, company_id, stripe_customer_id, name, email, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (stripe_customer_id) WHERE stripe_customer_id IS NOT NULL
		 DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, updated_at = EXCLUDED.updated_at`,
		customer.ID,
		customer.CompanyID,
		customer.StripeCustomerID,
		customer.Name,
		customer.Email,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Error
}

func (Repository) FindSubscriptionByStripeID(ctx context.Context, db *gorm.DB, stripeSubscriptionID string) (*billingdomain.Subscription, error) {
	stripeSubscriptionID = strings.TrimSpace(stripeSubscriptionID)
	if stripeSubscriptionID == "" {
		return nil, nil
	}
	var rows []billingdomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, company_id, customer_id, stripe_subscription_id, stripe_customer_id, status,
		        current_period_start, current_period_end, canceled_at, metadata, created_at, updated_at
		 FROM subscriptions
		 WHERE stripe_subscription_id = ?
		 LIMIT 1`,
		stripeSubscriptionID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (Repository) FindSubscriptionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*billingdomain.Subscription, error) {
	if id == 0 {
		return nil, nil
	}
	var rows []billingdomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, company_id, customer_id, stripe_subscription_id, stripe_customer_id, status,
		        current_period_start, current_period_end, canceled_at, metadata, created_at, updated_at
		 FROM subscriptions
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (Repository) UpsertSubscription(ctx context.Context, db *gorm.DB, subscription *billingdomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions
		   (id, company_id, customer_id, stripe_subscription_id, stripe_customer_id, status,
		    current_period_start, current_period_end, canceled_at, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (stripe_subscription_id) WHERE stripe_subscription_id IS NOT NULL
		 DO UPDATE SET status = EXCLUDED.status,
		               customer_id = COALESCE(EXCLUDED.customer_id, subscriptions.customer_id),
		               current_period_start = EXCLUDED.current_period_start,
		               current_period_end = EXCLUDED.current_period_end,
		               canceled_at = EXCLUDED.canceled_at,
		               metadata = EXCLUDED.metadata,
		               updated_at = EXCLUDED.updated_at`,
		subscription.ID,
		subscription.CompanyID,
		subscription.CustomerID,
		subscription.StripeSubscriptionID,
		subscription.StripeCustomerID,
		subscription.Status,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.CanceledAt,
		subscription.Metadata,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (Repository) FindInvoiceByStripeID(ctx context.Context, db *gorm.DB, stripeInvoiceID string) (*billingdomain.Invoice, error) {
	stripeInvoiceID = strings.TrimSpace(stripeInvoiceID)
	if stripeInvoiceID == "" {
		return nil, nil
	}
	var rows []billingdomain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT id, company_id, customer_id, stripe_invoice_id, stripe_customer_id, number, hosted_invoice_url,
		        status, currency, amount_due, amount_paid, paid_at, metadata, created_at, updated_at
		 FROM invoices
		 WHERE stripe_invoice_id = ?
		 LIMIT 1`,
		stripeInvoiceID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (Repository) UpsertInvoice(ctx context.Context, db *gorm.DB, invoice *billingdomain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoices
		   (id, company_id, customer_id, stripe_invoice_id, stripe_customer_id, number, hosted_invoice_url,
		    status, currency, amount_due, amount_paid, paid_at, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (stripe_invoice_id) WHERE stripe_invoice_id IS NOT NULL
		 DO UPDATE SET number = COALESCE(EXCLUDED.number, invoices.number),
		               hosted_invoice_url = COALESCE(EXCLUDED.hosted_invoice_url, invoices.hosted_invoice_url),
		               status = EXCLUDED.status,
		               currency = EXCLUDED.currency,
		               amount_due = EXCLUDED.amount_due,
		               amount_paid = EXCLUDED.amount_paid,
		               paid_at = EXCLUDED.paid_at,
		               metadata = EXCLUDED.metadata,
		               updated_at = EXCLUDED.updated_at`,
		invoice.ID,
		invoice.CompanyID,
		invoice.CustomerID,
		invoice.StripeInvoiceID,
		invoice.StripeCustomerID,
		invoice.Number,
		invoice.HostedInvoiceURL,
		invoice.Status,
		invoice.Currency,
		invoice.AmountDue,
		invoice.AmountPaid,
		invoice.PaidAt,
		invoice.Metadata,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error
}

var _ billingdomain.Repository = (*Repository)(nil)
