// Package domain defines the license activation contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ErrLicenseValidationFailed is the single error surfaced for any
// activation failure. Underlying causes stay in the server logs.
var ErrLicenseValidationFailed = errors.New("license_validation_failed")

// ActivationRequest carries the cleartext activation payload before
// encryption. It is never transmitted or persisted as-is.
type ActivationRequest struct {
	IsFirstActivation      bool     `json:"isFirstActivation"`
	License                string   `json:"license"`
	InstallationIdentifier string   `json:"installationIdentifier"`
	Version                string   `json:"version"`
	FeatureIDs             []string `json:"featureIds"`
	UserCount              int      `json:"userCount"`
}

// ActivationResult is the decrypted response from the validation authority.
type ActivationResult struct {
	License        string    `json:"license"`
	FeatureIDs     []string  `json:"featureIds"`
	ExpirationDate time.Time `json:"expirationDate"`
}

type Service interface {
	Activate(ctx context.Context, companyID snowflake.ID, request ActivationRequest) (*ActivationResult, error)
}
