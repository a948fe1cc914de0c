package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	ledgerdomain "github.com/stratobill/stratobill/internal/ledger/domain"
)

func TestCreateEntryWritesHeaderAndLines(t *testing.T) {
	db := setupLedgerServiceTestDB(t)
	svc, node := newLedgerTestService(t, db)
	ctx := context.Background()

	companyID := snowflake.ID(1_000_003)
	cashID, err := svc.EnsureAccount(ctx, companyID, ledgerdomain.AccountCodeCashClearing, "Cash / Clearing")
	if err != nil {
		t.Fatalf("ensure cash account: %v", err)
	}
	arID, err := svc.EnsureAccount(ctx, companyID, ledgerdomain.AccountCodeAccountsReceivable, "Accounts Receivable")
	if err != nil {
		t.Fatalf("ensure ar account: %v", err)
	}

	err = svc.CreateEntry(ctx, companyID, ledgerdomain.SourceTypeInvoicePayment, node.Generate(), "usd",
		time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		[]ledgerdomain.LedgerEntryLine{
			{AccountID: cashID, Direction: ledgerdomain.LedgerEntryDirectionDebit, Amount: 5000},
			{AccountID: arID, Direction: ledgerdomain.LedgerEntryDirectionCredit, Amount: 5000},
		},
	)
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}

	var entries, lines int
	if err := db.Raw(`SELECT COUNT(*) FROM ledger_entries`).Scan(&entries).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if err := db.Raw(`SELECT COUNT(*) FROM ledger_entry_lines`).Scan(&lines).Error; err != nil {
		t.Fatalf("count lines: %v", err)
	}
	if entries != 1 || lines != 2 {
		t.Fatalf("expected 1 entry with 2 lines, got %d/%d", entries, lines)
	}

	var currency string
	if err := db.Raw(`SELECT currency FROM ledger_entries LIMIT 1`).Scan(&currency).Error; err != nil {
		t.Fatalf("read currency: %v", err)
	}
	if currency != "USD" {
		t.Fatalf("expected normalized currency USD, got %q", currency)
	}
}

func TestCreateEntryRejectsUnbalanced(t *testing.T) {
	db := setupLedgerServiceTestDB(t)
	svc, node := newLedgerTestService(t, db)
	ctx := context.Background()

	companyID := snowflake.ID(2_000_003)
	accountID, err := svc.EnsureAccount(ctx, companyID, ledgerdomain.AccountCodeRevenue, "Revenue")
	if err != nil {
		t.Fatalf("ensure account: %v", err)
	}

	err = svc.CreateEntry(ctx, companyID, ledgerdomain.SourceTypeAdjustment, node.Generate(), "usd",
		time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		[]ledgerdomain.LedgerEntryLine{
			{AccountID: accountID, Direction: ledgerdomain.LedgerEntryDirectionDebit, Amount: 100},
			{AccountID: accountID, Direction: ledgerdomain.LedgerEntryDirectionCredit, Amount: 50},
		},
	)
	if err != ledgerdomain.ErrUnbalancedEntry {
		t.Fatalf("expected unbalanced_entry, got %v", err)
	}

	var entries int
	if err := db.Raw(`SELECT COUNT(*) FROM ledger_entries`).Scan(&entries).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if entries != 0 {
		t.Fatalf("rejected entry must not persist, got %d rows", entries)
	}
}

func TestEnsureAccountIsIdempotent(t *testing.T) {
	db := setupLedgerServiceTestDB(t)
	svc, _ := newLedgerTestService(t, db)
	ctx := context.Background()

	companyID := snowflake.ID(3_000_003)
	first, err := svc.EnsureAccount(ctx, companyID, ledgerdomain.AccountCodeCashClearing, "Cash / Clearing")
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	second, err := svc.EnsureAccount(ctx, companyID, ledgerdomain.AccountCodeCashClearing, "Cash / Clearing")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable account id, got %v and %v", first, second)
	}

	var count int
	if err := db.Raw(`SELECT COUNT(*) FROM ledger_accounts`).Scan(&count).Error; err != nil {
		t.Fatalf("count accounts: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 account row, got %d", count)
	}
}

func newLedgerTestService(t *testing.T, db *gorm.DB) (*Service, *snowflake.Node) {
	t.Helper()
	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return &Service{
		db:    db,
		log:   zap.NewNop(),
		genID: node,
	}, node
}

func setupLedgerServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:ledger_service_test?mode=memory&cache=private"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	statements := []string{
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
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}
