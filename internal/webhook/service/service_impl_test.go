package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	auditservice "github.com/stratobill/stratobill/internal/audit/service"

	auditrepo "github.com/stratobill/stratobill/internal/audit/repository"
	billingrepo "github.com/stratobill/stratobill/internal/billing/repository"
	"github.com/stratobill/stratobill/internal/clock"
	"github.com/stratobill/stratobill/internal/config"
	"github.com/stratobill/stratobill/internal/events"
	ledgerservice "github.com/stratobill/stratobill/internal/ledger/service"
	usageservice "github.com/stratobill/stratobill/internal/usage/service"
	webhookdomain "github.com/stratobill/stratobill/internal/webhook/domain"
	webhookrepo "github.com/stratobill/stratobill/internal/webhook/repository"
)

type stubAdapter struct {
	event *webhookdomain.ProviderEvent
	err   error
}

func (s stubAdapter) VerifyAndParse(ctx context.Context, payload []byte, signatureHeader string) (*webhookdomain.ProviderEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.event, nil
}

type fakeNotifier struct {
	paymentCalls      int
	subscriptionCalls int
}

func (f *fakeNotifier) SendPaymentFailedEmail(ctx context.Context, stripeCustomerID, stripeInvoiceID string) {
	f.paymentCalls++
}

func (f *fakeNotifier) SendSubscriptionStatusEmail(ctx context.Context, stripeCustomerID, status string) {
	f.subscriptionCalls++
}

func TestIngestRejectsMissingSecret(t *testing.T) {
	adapter := NewStripeAdapter(config.Config{})
	_, err := adapter.VerifyAndParse(context.Background(), []byte(`{}`), "sig")
	if !errors.Is(err, webhookdomain.ErrWebhookSecretMissing) {
		t.Fatalf("expected webhook_secret_missing, got %v", err)
	}
}

func TestIngestIdempotency(t *testing.T) {
	svc, notifier := newDispatcherTestService(t, providerEvent(
		"evt_dup_1",
		"customer.created",
		`{"id":"cus_dup_1","name":"Acme","email":"ops@acme.test","metadata":{"company_id":"7205759403792793600"}}`,
	))
	_ = notifier

	if err := svc.Ingest(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if err := svc.Ingest(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	if got := countRows(t, svc.db, "webhook_events"); got != 1 {
		t.Fatalf("expected 1 ledger row, got %d", got)
	}
	// Exactly one handler invocation: one customer row despite redelivery.
	if got := countRows(t, svc.db, "customers"); got != 1 {
		t.Fatalf("expected 1 customer row, got %d", got)
	}

	var status string
	if err := svc.db.Raw(`SELECT status FROM webhook_events WHERE stripe_event_id = ?`, "evt_dup_1").Scan(&status).Error; err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != webhookdomain.StatusCompleted {
		t.Fatalf("expected completed, got %q", status)
	}
}

func TestIngestSubscriptionLifecycle(t *testing.T) {
	svc, notifier := newDispatcherTestService(t, providerEvent(
		"evt_sub_1",
		"customer.subscription.created",
		`{"id":"sub_test_1","customer":"cus_sub_1","status":"active",
		  "current_period_start":1767225600,"current_period_end":1769904000,
		  "metadata":{"company_id":"7205759403792793601"}}`,
	))

	if err := svc.Ingest(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if got := countRows(t, svc.db, "subscriptions"); got != 1 {
		t.Fatalf("expected 1 subscription row, got %d", got)
	}
	if got := countRows(t, svc.db, "billing_events"); got != 1 {
		t.Fatalf("expected 1 outbox row, got %d", got)
	}
	if notifier.subscriptionCalls != 1 {
		t.Fatalf("expected 1 subscription notification, got %d", notifier.subscriptionCalls)
	}
}

func TestIngestRedeliveredSubscriptionUpsertsOnce(t *testing.T) {
	svc, _ := newDispatcherTestService(t, providerEvent(
		"evt_sub_redeliver_1",
		"customer.subscription.updated",
		`{"id":"sub_redeliver_1","customer":"cus_redeliver_1","status":"active",
		  "current_period_start":1767225600,"current_period_end":1769904000,
		  "metadata":{"company_id":"7205759403792793610"}}`,
	))

	if err := svc.Ingest(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if err := svc.Ingest(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	if got := countRows(t, svc.db, "webhook_events"); got != 1 {
		t.Fatalf("expected 1 ledger row, got %d", got)
	}
	if got := countRows(t, svc.db, "subscriptions"); got != 1 {
		t.Fatalf("expected 1 subscription row, got %d", got)
	}

	var status string
	if err := svc.db.Raw(
		`SELECT status FROM webhook_events WHERE stripe_event_id = ?`, "evt_sub_redeliver_1",
	).Scan(&status).Error; err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != webhookdomain.StatusCompleted {
		t.Fatalf("expected completed, got %q", status)
	}
}

func TestIngestOutboxFailureStillCompletes(t *testing.T) {
	svc, notifier := newDispatcherTestService(t, providerEvent(
		"evt_sub_outbox_1",
		"customer.subscription.created",
		`{"id":"sub_outbox_1","customer":"cus_outbox_1","status":"active",
		  "metadata":{"company_id":"7205759403792793611"}}`,
	))

	// Force every outbox write to fail. The subscription upsert is the
	// handler's contract; the rollup event is a side channel.
	if err := svc.db.Exec(`DROP TABLE billing_events`).Error; err != nil {
		t.Fatalf("drop billing_events: %v", err)
	}

	if err := svc.Ingest(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if got := countRows(t, svc.db, "subscriptions"); got != 1 {
		t.Fatalf("expected 1 subscription row, got %d", got)
	}
	if notifier.subscriptionCalls != 1 {
		t.Fatalf("expected 1 notification, got %d", notifier.subscriptionCalls)
	}

	var status string
	if err := svc.db.Raw(
		`SELECT status FROM webhook_events WHERE stripe_event_id = ?`, "evt_sub_outbox_1",
	).Scan(&status).Error; err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != webhookdomain.StatusCompleted {
		t.Fatalf("outbox failure must not flip the ledger row, got %q", status)
	}
}

func TestIngestHandlerFailureRecordsRetry(t *testing.T) {
	// No customer row and no company metadata: the handler cannot resolve
	// the tenant and must fail onto the ledger, not out of Ingest.
	svc, _ := newDispatcherTestService(t, providerEvent(
		"evt_fail_1",
		"customer.created",
		`{"id":"cus_orphan_1","name":"Orphan","email":"orphan@test"}`,
	))

	if err := svc.Ingest(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("ingest should ack handler failures, got %v", err)
	}

	var row struct {
		Status     string `gorm:"column:status"`
		RetryCount int    `gorm:"column:retry_count"`
		Error      string `gorm:"column:error"`
	}
	if err := svc.db.Raw(
		`SELECT status, retry_count, error FROM webhook_events WHERE stripe_event_id = ?`,
		"evt_fail_1",
	).Scan(&row).Error; err != nil {
		t.Fatalf("read row: %v", err)
	}
	if row.Status != webhookdomain.StatusFailed {
		t.Fatalf("expected failed, got %q", row.Status)
	}
	if row.RetryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", row.RetryCount)
	}
	if row.Error == "" {
		t.Fatalf("expected error message captured")
	}
}

func TestIngestUnclassifiedCompletesWithoutHandler(t *testing.T) {
	svc, notifier := newDispatcherTestService(t, providerEvent(
		"evt_other_1",
		"product.created",
		`{"id":"prod_1"}`,
	))

	if err := svc.Ingest(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	var row struct {
		Status   string `gorm:"column:status"`
		Category string `gorm:"column:category"`
	}
	if err := svc.db.Raw(
		`SELECT status, category FROM webhook_events WHERE stripe_event_id = ?`,
		"evt_other_1",
	).Scan(&row).Error; err != nil {
		t.Fatalf("read row: %v", err)
	}
	if row.Status != webhookdomain.StatusCompleted {
		t.Fatalf("expected completed, got %q", row.Status)
	}
	if row.Category != webhookdomain.CategoryUnclassified {
		t.Fatalf("expected unclassified, got %q", row.Category)
	}
	if notifier.subscriptionCalls != 0 || notifier.paymentCalls != 0 {
		t.Fatalf("unclassified events must not notify")
	}
}

func TestIngestInvoicePaymentFailedNotifies(t *testing.T) {
	svc, notifier := newDispatcherTestService(t, providerEvent(
		"evt_inv_fail_1",
		"invoice.payment_failed",
		`{"id":"in_fail_1","customer":"cus_inv_1","status":"open","currency":"usd",
		  "amount_due":5000,"metadata":{"company_id":"7205759403792793602"}}`,
	))

	if err := svc.Ingest(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if notifier.paymentCalls != 1 {
		t.Fatalf("expected 1 payment-failed notification, got %d", notifier.paymentCalls)
	}
	if got := countRows(t, svc.db, "audit_logs"); got != 1 {
		t.Fatalf("expected 1 audit row, got %d", got)
	}

	var eventType string
	if err := svc.db.Raw(`SELECT event_type FROM billing_events LIMIT 1`).Scan(&eventType).Error; err != nil {
		t.Fatalf("read outbox: %v", err)
	}
	if eventType != "invoice_payment_failed" {
		t.Fatalf("expected invoice_payment_failed outbox event, got %q", eventType)
	}
}

func TestIngestInvoicePaymentSucceededPostsLedger(t *testing.T) {
	svc, _ := newDispatcherTestService(t, providerEvent(
		"evt_inv_paid_1",
		"invoice.payment_succeeded",
		`{"id":"in_paid_1","customer":"cus_paid_1","status":"paid","currency":"usd",
		  "amount_due":12000,"amount_paid":12000,"metadata":{"company_id":"7205759403792793603"}}`,
	))

	if err := svc.Ingest(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if got := countRows(t, svc.db, "ledger_entries"); got != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", got)
	}
	if got := countRows(t, svc.db, "ledger_entry_lines"); got != 2 {
		t.Fatalf("expected balanced two-line posting, got %d", got)
	}
	if got := countRows(t, svc.db, "billing_events"); got != 1 {
		t.Fatalf("expected 1 outbox row, got %d", got)
	}
}

func providerEvent(id, eventType, object string) *webhookdomain.ProviderEvent {
	raw := `{"id":"` + id + `","type":"` + eventType + `","livemode":false,"created":1767225600,"data":{"object":` + object + `}}`
	return &webhookdomain.ProviderEvent{
		ID:      id,
		Type:    eventType,
		Created: time.Unix(1767225600, 0).UTC(),
		Data:    json.RawMessage(object),
		Raw:     []byte(raw),
	}
}

func newDispatcherTestService(t *testing.T, event *webhookdomain.ProviderEvent) (*Service, *fakeNotifier) {
	t.Helper()
	db := setupDispatcherTestDB(t)
	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	log := zap.NewNop()
	billingRepo := billingrepo.Provide()
	notifier := &fakeNotifier{}

	svc := &Service{
		db:          db,
		log:         log,
		genID:       node,
		clock:       clock.SystemClock{},
		repo:        webhookrepo.Provide(),
		adapter:     stubAdapter{event: event},
		billingRepo: billingRepo,
		ledgerSvc: ledgerservice.NewService(ledgerservice.Params{
			DB:    db,
			Log:   log,
			GenID: node,
		}),
		auditSvc: auditservice.NewService(auditservice.Params{
			DB:    db,
			Log:   log,
			GenID: node,
			Repo:  auditrepo.Provide(),
		}),
		outbox: events.NewOutbox(db, node),
		usageSvc: usageservice.NewService(usageservice.Params{
			DB:          db,
			Log:         log,
			GenID:       node,
			Clock:       clock.SystemClock{},
			BillingRepo: billingRepo,
		}),
		notifier: notifier,
	}
	return svc, notifier
}

func countRows(t *testing.T, db *gorm.DB, table string) int {
	t.Helper()
	var count int
	if err := db.Raw("SELECT COUNT(*) FROM " + table).Scan(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func setupDispatcherTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:dispatcher_test?mode=memory&cache=private"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	statements := []string{
		`CREATE TABLE webhook_events (
			id BIGINT PRIMARY KEY,
			stripe_event_id TEXT NOT NULL UNIQUE,
			event_type TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'unclassified',
			livemode BOOLEAN NOT NULL DEFAULT FALSE,
			api_version TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INT NOT NULL DEFAULT 0,
			error TEXT,
			payload TEXT,
			received_at DATETIME NOT NULL,
			processed_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE customers (
			id BIGINT PRIMARY KEY,
			company_id BIGINT NOT NULL,
			stripe_customer_id TEXT,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_customers_stripe_customer_id
			ON customers (stripe_customer_id) WHERE stripe_customer_id IS NOT NULL`,
		`CREATE TABLE subscriptions (
			id BIGINT PRIMARY KEY,
			company_id BIGINT NOT NULL,
			customer_id BIGINT,
			stripe_subscription_id TEXT,
			stripe_customer_id TEXT,
			status TEXT NOT NULL DEFAULT 'incomplete',
			current_period_start DATETIME,
			current_period_end DATETIME,
			canceled_at DATETIME,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_subscriptions_stripe_subscription_id
			ON subscriptions (stripe_subscription_id) WHERE stripe_subscription_id IS NOT NULL`,
		`CREATE TABLE invoices (
			id BIGINT PRIMARY KEY,
			company_id BIGINT NOT NULL,
			customer_id BIGINT,
			stripe_invoice_id TEXT,
			stripe_customer_id TEXT,
			number TEXT,
			hosted_invoice_url TEXT,
			status TEXT NOT NULL DEFAULT 'draft',
			currency TEXT NOT NULL DEFAULT 'usd',
			amount_due BIGINT NOT NULL DEFAULT 0,
			amount_paid BIGINT NOT NULL DEFAULT 0,
			paid_at DATETIME,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_invoices_stripe_invoice_id
			ON invoices (stripe_invoice_id) WHERE stripe_invoice_id IS NOT NULL`,
		`CREATE TABLE usage_records (
			id BIGINT PRIMARY KEY,
			subscription_id BIGINT NOT NULL,
			meter_id TEXT NOT NULL,
			meter_event_name TEXT NOT NULL,
			quantity REAL,
			recorded_at DATETIME NOT NULL,
			stripe_event_id TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE ledger_accounts (
			id BIGINT PRIMARY KEY,
			company_id BIGINT NOT NULL,
			code TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_ledger_accounts_company_code ON ledger_accounts (company_id, code)`,
		`CREATE TABLE ledger_entries (
			id BIGINT PRIMARY KEY,
			company_id BIGINT NOT NULL,
			source_type TEXT NOT NULL,
			source_id BIGINT NOT NULL,
			currency TEXT NOT NULL,
			occurred_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE ledger_entry_lines (
			id BIGINT PRIMARY KEY,
			ledger_entry_id BIGINT NOT NULL,
			account_id BIGINT NOT NULL,
			direction TEXT NOT NULL,
			amount BIGINT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE billing_events (
			id BIGINT PRIMARY KEY,
			company_id BIGINT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			dedupe_key TEXT,
			published BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_billing_events_company_dedupe_key
			ON billing_events (company_id, dedupe_key) WHERE dedupe_key IS NOT NULL`,
		`CREATE TABLE audit_logs (
			id BIGINT PRIMARY KEY,
			company_id BIGINT,
			actor_type TEXT NOT NULL,
			actor_id TEXT,
			action TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			ip_address TEXT,
			user_agent TEXT,
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}
