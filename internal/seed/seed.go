// Package seed bootstraps a default company and API key for local
// development.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apikeydomain "github.com/stratobill/stratobill/internal/apikey/domain"
	"github.com/stratobill/stratobill/internal/config"
)

const (
	defaultCompanyName = "Main"
	devKeyName         = "development"
)

// EnsureDevData seeds the default company and a development API key.
// Production refuses to seed.
func EnsureDevData(db *gorm.DB, node *snowflake.Node, cfg config.Config, repo apikeydomain.Repository, log *zap.Logger) error {
	if cfg.IsProduction() {
		return nil
	}
	if db == nil {
		return errors.New("seed database handle is required")
	}
	log = log.Named("seed")

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		companyID, err := ensureCompanyTx(ctx, tx, node)
		if err != nil {
			return err
		}

		var count int64
		if err := tx.WithContext(ctx).Raw(
			`SELECT COUNT(1) FROM api_keys WHERE company_id = ? AND name = ?`,
			companyID,
			devKeyName,
		).Scan(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		secret, prefix, err := apikeydomain.GenerateSecret()
		if err != nil {
			return err
		}
		key := &apikeydomain.APIKey{
			ID:        node.Generate(),
			CompanyID: companyID,
			Name:      devKeyName,
			KeyHash:   apikeydomain.HashAPIKey(secret),
			KeyPrefix: prefix,
			IsActive:  true,
			CreatedAt: time.Now().UTC(),
		}
		if err := repo.Insert(ctx, tx, key); err != nil {
			return err
		}

		// The secret is shown once, at creation, and never stored.
		log.Info("development api key created",
			zap.String("company_id", companyID.String()),
			zap.String("api_key", secret),
		)
		return nil
	})
}

func ensureCompanyTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (snowflake.ID, error) {
	var existing snowflake.ID
	if err := tx.WithContext(ctx).Raw(
		`SELECT id FROM companies WHERE name = ? LIMIT 1`,
		defaultCompanyName,
	).Scan(&existing).Error; err != nil {
		return 0, err
	}
	if existing != 0 {
		return existing, nil
	}

	id := node.Generate()
	now := time.Now().UTC()
	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO companies (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id,
		defaultCompanyName,
		now,
		now,
	).Error; err != nil {
		return 0, err
	}
	return id, nil
}

var Module = fx.Module("seed",
	fx.Invoke(EnsureDevData),
)
