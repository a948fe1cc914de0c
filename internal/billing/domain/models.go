// Package domain contains persistence models for the billing core.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	SubscriptionStatusIncomplete = "incomplete"
	SubscriptionStatusActive     = "active"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusTrialing   = "trialing"
)

const (
	InvoiceStatusDraft = "draft"
	InvoiceStatusOpen  = "open"
	InvoiceStatusPaid  = "paid"
	InvoiceStatusVoid  = "void"
)

var (
	ErrCompanyNotFound      = errors.New("company_not_found")
	ErrCustomerNotFound     = errors.New("customer_not_found")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
)

// Company is a tenant that holds a license and owns customers.
type Company struct {
	ID                     snowflake.ID `gorm:"primaryKey"`
	Name                   string       `gorm:"type:text;not null"`
	InstallationIdentifier *string      `gorm:"type:text"`
	LicenseKey             *string      `gorm:"type:text"`
	LicenseActivatedAt     *time.Time   `gorm:""`
	LicenseExpiresAt       *time.Time   `gorm:""`
	CreatedAt              time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Company) TableName() string { return "companies" }

// Customer mirrors the billing provider's customer object.
type Customer struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	CompanyID        snowflake.ID `gorm:"not null;index"`
	StripeCustomerID *string      `gorm:"type:text"`
	Name             string       `gorm:"type:text;not null"`
	Email            string       `gorm:"type:text;not null"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Customer) TableName() string { return "customers" }

// Subscription snapshots the provider subscription state.
type Subscription struct {
	ID                   snowflake.ID      `gorm:"primaryKey"`
	CompanyID            snowflake.ID      `gorm:"not null;index"`
	CustomerID           *snowflake.ID     `gorm:"index"`
	StripeSubscriptionID *string           `gorm:"type:text"`
	StripeCustomerID     *string           `gorm:"type:text"`
	Status               string            `gorm:"type:text;not null;default:incomplete"`
	CurrentPeriodStart   *time.Time        `gorm:""`
	CurrentPeriodEnd     *time.Time        `gorm:""`
	CanceledAt           *time.Time        `gorm:""`
	Metadata             datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt            time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt            time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Invoice snapshots the provider invoice state.
type Invoice struct {
	ID               snowflake.ID      `gorm:"primaryKey"`
	CompanyID        snowflake.ID      `gorm:"not null;index"`
	CustomerID       *snowflake.ID     `gorm:"index"`
	StripeInvoiceID  *string           `gorm:"type:text"`
	StripeCustomerID *string           `gorm:"type:text"`
	Number           *string           `gorm:"type:text"`
	HostedInvoiceURL *string           `gorm:"column:hosted_invoice_url;type:text"`
	Status           string            `gorm:"type:text;not null;default:draft"`
	Currency         string            `gorm:"type:text;not null;default:usd"`
	AmountDue        int64             `gorm:"not null;default:0"`
	AmountPaid       int64             `gorm:"not null;default:0"`
	PaidAt           *time.Time        `gorm:""`
	Metadata         datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }
