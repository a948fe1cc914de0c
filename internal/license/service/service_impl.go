// Package service implements the encrypted license activation exchange.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/stratobill/stratobill/internal/billing/domain"
	"github.com/stratobill/stratobill/internal/clock"
	"github.com/stratobill/stratobill/internal/config"
	"github.com/stratobill/stratobill/internal/events"
	licensedomain "github.com/stratobill/stratobill/internal/license/domain"
	"github.com/stratobill/stratobill/internal/observability/tracing"
)

const maxResponseBytes = 1 << 20

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Cfg         config.Config
	Clock       clock.Clock
	BillingRepo billingdomain.Repository
	Outbox      *events.Outbox `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	billingRepo billingdomain.Repository
	outbox      *events.Outbox
	client      *http.Client
	baseURL     string
	privateKey  string
}

func NewService(p Params) licensedomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("license.service"),
		clock:       p.Clock,
		billingRepo: p.BillingRepo,
		outbox:      p.Outbox,
		client:      tracing.WrapHTTPClient(&http.Client{Timeout: p.Cfg.LicenseHTTPTimeout}),
		baseURL:     strings.TrimRight(p.Cfg.LicenseServiceBaseURL, "/"),
		privateKey:  p.Cfg.LicensePrivateKey,
	}
}

// validateRequest is the JSON:API body submitted to the authority. Only
// the encrypted payload attribute crosses the wire.
type validateRequest struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Payload string `json:"payload"`
		} `json:"attributes"`
	} `json:"data"`
}

// Activate runs the encrypted round trip against the validation authority
// and persists the returned license on success. Every failure collapses
// into ErrLicenseValidationFailed; the cause is logged here only.
func (s *Service) Activate(ctx context.Context, companyID snowflake.ID, request licensedomain.ActivationRequest) (*licensedomain.ActivationResult, error) {
	if companyID == 0 || strings.TrimSpace(request.InstallationIdentifier) == "" {
		return nil, licensedomain.ErrLicenseValidationFailed
	}
	if s.privateKey == "" {
		s.log.Error("license private key not configured")
		return nil, licensedomain.ErrLicenseValidationFailed
	}

	company, err := s.billingRepo.FindCompanyByID(ctx, s.db, companyID)
	if err != nil || company == nil {
		s.log.Warn("license activation for unknown company",
			zap.String("company_id", companyID.String()),
			zap.Error(err),
		)
		return nil, licensedomain.ErrLicenseValidationFailed
	}

	key := deriveKey(s.privateKey)

	plaintext, err := json.Marshal(request)
	if err != nil {
		s.log.Error("license payload marshal failed", zap.Error(err))
		return nil, licensedomain.ErrLicenseValidationFailed
	}

	envelope, err := encrypt(key, plaintext)
	if err != nil {
		s.log.Error("license payload encryption failed", zap.Error(err))
		return nil, licensedomain.ErrLicenseValidationFailed
	}

	responseBody, err := s.exchange(ctx, request.InstallationIdentifier, envelope)
	if err != nil {
		s.log.Warn("license validation exchange failed",
			zap.String("installation_id", request.InstallationIdentifier),
			zap.Error(err),
		)
		return nil, licensedomain.ErrLicenseValidationFailed
	}

	decrypted, err := decrypt(key, responseBody)
	if err != nil {
		s.log.Warn("license response decryption failed",
			zap.String("installation_id", request.InstallationIdentifier),
			zap.Error(err),
		)
		return nil, licensedomain.ErrLicenseValidationFailed
	}

	var result licensedomain.ActivationResult
	if err := json.Unmarshal(decrypted, &result); err != nil {
		s.log.Warn("license response parse failed",
			zap.String("installation_id", request.InstallationIdentifier),
			zap.Error(err),
		)
		return nil, licensedomain.ErrLicenseValidationFailed
	}
	if result.License == "" {
		s.log.Warn("license response missing license",
			zap.String("installation_id", request.InstallationIdentifier),
		)
		return nil, licensedomain.ErrLicenseValidationFailed
	}

	installationID := strings.TrimSpace(request.InstallationIdentifier)
	update := billingdomain.LicenseUpdate{
		CompanyID:              companyID,
		InstallationIdentifier: &installationID,
		LicenseKey:             result.License,
		ActivatedAt:            s.clock.Now(),
	}
	if !result.ExpirationDate.IsZero() {
		expiresAt := result.ExpirationDate
		update.ExpiresAt = &expiresAt
	}
	if err := s.billingRepo.UpdateCompanyLicense(ctx, s.db, update); err != nil {
		s.log.Error("license persistence failed",
			zap.String("company_id", companyID.String()),
			zap.Error(err),
		)
		return nil, licensedomain.ErrLicenseValidationFailed
	}

	if s.outbox != nil {
		payload := map[string]any{
			"installation_identifier": installationID,
		}
		if update.ExpiresAt != nil {
			payload["license_expires_at"] = update.ExpiresAt.UTC().Format(time.RFC3339)
		}
		if err := s.outbox.Publish(ctx, events.Event{
			CompanyID: companyID,
			Type:      events.EventLicenseActivated,
			Payload:   payload,
		}); err != nil {
			s.log.Warn("license outbox publish failed",
				zap.String("company_id", companyID.String()),
				zap.Error(err),
			)
		}
	}

	s.log.Info("license activated",
		zap.String("company_id", companyID.String()),
		zap.String("installation_id", request.InstallationIdentifier),
	)
	return &result, nil
}

// exchange posts the encrypted payload and returns the raw response body.
// The response is the bare envelope string, not JSON:API wrapped.
func (s *Service) exchange(ctx context.Context, installationID, envelope string) (string, error) {
	var body validateRequest
	body.Data.ID = installationID
	body.Data.Type = "licenses"
	body.Data.Attributes.Payload = envelope

	encoded, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	endpoint := s.baseURL + "/licenses/" + url.PathEscape(installationID) + "/validate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/vnd.api+json")
	req.Header.Set("Accept", "application/vnd.api+json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("license service status %d", resp.StatusCode)
	}
	return string(raw), nil
}

var _ licensedomain.Service = (*Service)(nil)
