// Package repository implements API key persistence with raw SQL.
package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	apikeydomain "github.com/stratobill/stratobill/internal/apikey/domain"
)

type Repository struct{}

func Provide() apikeydomain.Repository {
	return &Repository{}
}

func (Repository) Insert(ctx context.Context, db *gorm.DB, key *apikeydomain.APIKey) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO api_keys (id, company_id, name, key_hash, key_prefix, is_active, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID,
		key.CompanyID,
		key.Name,
		key.KeyHash,
		key.KeyPrefix,
		key.IsActive,
		key.ExpiresAt,
		key.CreatedAt,
	).Error
}

func (Repository) FindActiveByHash(ctx context.Context, db *gorm.DB, keyHash string) (*apikeydomain.APIKey, error) {
	keyHash = strings.TrimSpace(keyHash)
	if keyHash == "" {
		return nil, nil
	}
	var rows []apikeydomain.APIKey
	err := db.WithContext(ctx).Raw(
		`SELECT id, company_id, name, key_hash, key_prefix, is_active, last_used_at, expires_at, created_at
		 FROM api_keys
		 WHERE key_hash = ?
		   AND is_active = true
		   AND (expires_at IS NULL OR expires_at > ?)
		 LIMIT 1`,
		keyHash,
		time.Now().UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (Repository) TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		time.Now().UTC(),
		id,
	).Error
}

var _ apikeydomain.Repository = (*Repository)(nil)
