// Package domain defines API key records and hashing.
package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/bwmarrin/snowflake"
)

// APIKey grants programmatic access scoped to one company. Only the
// hash of the secret is stored.
type APIKey struct {
	ID         snowflake.ID `gorm:"column:id" json:"id"`
	CompanyID  snowflake.ID `gorm:"column:company_id" json:"companyId"`
	Name       string       `gorm:"column:name" json:"name"`
	KeyHash    string       `gorm:"column:key_hash" json:"-"`
	KeyPrefix  string       `gorm:"column:key_prefix" json:"keyPrefix"`
	IsActive   bool         `gorm:"column:is_active" json:"isActive"`
	LastUsedAt *time.Time   `gorm:"column:last_used_at" json:"lastUsedAt"`
	ExpiresAt  *time.Time   `gorm:"column:expires_at" json:"expiresAt"`
	CreatedAt  time.Time    `gorm:"column:created_at" json:"createdAt"`
}

func (APIKey) TableName() string { return "api_keys" }

// HashAPIKey derives the stored digest for a presented secret.
func HashAPIKey(secret string) string {
	digest := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(digest[:])
}

// GenerateSecret returns a new random key secret and its display prefix.
func GenerateSecret() (secret string, prefix string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	secret = "sbk_" + hex.EncodeToString(raw)
	return secret, secret[:12], nil
}
