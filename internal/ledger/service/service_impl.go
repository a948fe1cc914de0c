// Package service implements the ledger entry writer.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	ledgerdomain "github.com/stratobill/stratobill/internal/ledger/domain"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
	}
}

// CreateEntry writes a balanced entry header and its lines in one transaction.
func (s *Service) CreateEntry(
	ctx context.Context,
	companyID snowflake.ID,
	sourceType string,
	sourceID snowflake.ID,
	currency string,
	occurredAt time.Time,
	lines []ledgerdomain.LedgerEntryLine,
) error {
	if companyID == 0 {
		return ledgerdomain.ErrInvalidCompany
	}
	sourceType = strings.TrimSpace(sourceType)
	if sourceType == "" {
		return ledgerdomain.ErrInvalidSourceType
	}
	if sourceID == 0 {
		return ledgerdomain.ErrInvalidSourceID
	}
	currency, err := ledgerdomain.NormalizeCurrency(currency)
	if err != nil {
		return err
	}
	if occurredAt.IsZero() {
		return ledgerdomain.ErrInvalidOccurredAt
	}
	if err := ledgerdomain.ValidateBalanced(lines); err != nil {
		return err
	}

	entryID := s.genID.Generate()
	now := time.Now().UTC()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO ledger_entries (id, company_id, source_type, source_id, currency, occurred_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entryID,
			companyID,
			sourceType,
			sourceID,
			currency,
			occurredAt.UTC(),
			now,
		).Error; err != nil {
			return err
		}

		for _, line := range lines {
			if err := tx.WithContext(ctx).Exec(
				`INSERT INTO ledger_entry_lines (id, ledger_entry_id, account_id, direction, amount, created_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				s.genID.Generate(),
				entryID,
				line.AccountID,
				line.Direction,
				line.Amount,
				now,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// EnsureAccount returns the account id for a company/code pair, creating it on
// first use.
func (s *Service) EnsureAccount(ctx context.Context, companyID snowflake.ID, code, name string) (snowflake.ID, error) {
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)
	if code == "" || name == "" {
		return 0, ledgerdomain.ErrInvalidAccount
	}

	var accountID snowflake.ID
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id FROM ledger_accounts WHERE company_id = ? AND code = ?`,
		companyID,
		code,
	).Scan(&accountID).Error; err != nil {
		return 0, err
	}
	if accountID != 0 {
		return accountID, nil
	}

	if err := s.db.WithContext(ctx).Exec(
		`INSERT INTO ledger_accounts (id, company_id, code, name, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (company_id, code) DO NOTHING`,
		s.genID.Generate(),
		companyID,
		code,
		name,
		time.Now().UTC(),
	).Error; err != nil {
		return 0, err
	}

	if err := s.db.WithContext(ctx).Raw(
		`SELECT id FROM ledger_accounts WHERE company_id = ? AND code = ?`,
		companyID,
		code,
	).Scan(&accountID).Error; err != nil {
		return 0, err
	}
	if accountID == 0 {
		return 0, errors.New("ledger_account_not_found")
	}
	return accountID, nil
}
