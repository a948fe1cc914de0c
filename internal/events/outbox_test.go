package events

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestPublishDeduplicates(t *testing.T) {
	db := setupOutboxTestDB(t)
	node, err := snowflake.NewNode(4)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	outbox := NewOutbox(db, node)
	ctx := context.Background()

	event := Event{
		CompanyID: snowflake.ID(1_000_003),
		Type:      EventInvoicePaid,
		Payload:   map[string]any{"invoice_id": "42"},
		DedupeKey: "evt_outbox_1",
	}
	if err := outbox.Publish(ctx, event); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := outbox.Publish(ctx, event); err != nil {
		t.Fatalf("duplicate publish: %v", err)
	}

	var count int
	if err := db.Raw(`SELECT COUNT(*) FROM billing_events`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected dedupe to keep 1 row, got %d", count)
	}
}

func TestPublishWithoutDedupeKeyAlwaysInserts(t *testing.T) {
	db := setupOutboxTestDB(t)
	node, err := snowflake.NewNode(4)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	outbox := NewOutbox(db, node)
	ctx := context.Background()

	event := Event{
		CompanyID: snowflake.ID(2_000_003),
		Type:      EventLedgerEntryCreated,
		Payload:   map[string]any{},
	}
	if err := outbox.Publish(ctx, event); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := outbox.Publish(ctx, event); err != nil {
		t.Fatalf("second publish: %v", err)
	}

	var count int
	if err := db.Raw(`SELECT COUNT(*) FROM billing_events`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows without dedupe key, got %d", count)
	}
}

func TestPublishRejectsMissingCompany(t *testing.T) {
	db := setupOutboxTestDB(t)
	node, err := snowflake.NewNode(4)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	outbox := NewOutbox(db, node)

	if err := outbox.Publish(context.Background(), Event{Type: EventInvoicePaid}); err == nil {
		t.Fatalf("expected error for missing company id")
	}
}

func setupOutboxTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:outbox_test?mode=memory&cache=private"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	statements := []string{
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
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}
