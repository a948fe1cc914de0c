package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	billingrepo "github.com/stratobill/stratobill/internal/billing/repository"
	"github.com/stratobill/stratobill/internal/clock"
	"github.com/stratobill/stratobill/internal/events"
	licensedomain "github.com/stratobill/stratobill/internal/license/domain"
)

const testPrivateKey = "test-private-key-material"

func TestEnvelopeRoundTrip(t *testing.T) {
	key := deriveKey(testPrivateKey)
	plaintext := []byte(`{"license":"lic-1","featureIds":["a","b"]}`)

	envelope, err := encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !strings.Contains(envelope, ":") {
		t.Fatalf("envelope missing iv separator: %q", envelope)
	}

	recovered, err := decrypt(key, envelope)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(recovered, plaintext) {
		t.Fatalf("round trip mismatch: %s", recovered)
	}
}

func TestEnvelopeFreshIVPerRequest(t *testing.T) {
	key := deriveKey(testPrivateKey)
	first, err := encrypt(key, []byte("same plaintext"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	second, err := encrypt(key, []byte("same plaintext"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if first == second {
		t.Fatalf("identical envelopes imply iv reuse")
	}
}

func TestDecryptRejectsMismatchedKey(t *testing.T) {
	envelope, err := encrypt(deriveKey(testPrivateKey), []byte(`{"license":"lic-1"}`))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := decrypt(deriveKey("some-other-key"), envelope); err == nil {
		t.Fatalf("expected deterministic failure with mismatched key")
	}
}

func TestActivatePersistsLicense(t *testing.T) {
	db := setupLicenseTestDB(t)
	companyID := insertCompany(t, db, 1)

	expiration := time.Date(2027, 9, 1, 0, 0, 0, 0, time.UTC)
	authority := newAuthority(t, testPrivateKey, licensedomain.ActivationResult{
		License:        "validated-license",
		FeatureIDs:     []string{"metering", "webhooks"},
		ExpirationDate: expiration,
	})
	defer authority.Close()

	svc := newLicenseTestService(t, db, authority.URL, testPrivateKey)
	result, err := svc.Activate(context.Background(), companyID, licensedomain.ActivationRequest{
		IsFirstActivation:      true,
		License:                "candidate-license",
		InstallationIdentifier: "install-1",
		Version:                "2.4.0",
		FeatureIDs:             []string{"metering"},
		UserCount:              12,
	})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if result.License != "validated-license" {
		t.Fatalf("unexpected license %q", result.License)
	}
	if len(result.FeatureIDs) != 2 {
		t.Fatalf("unexpected feature ids %v", result.FeatureIDs)
	}
	if !result.ExpirationDate.Equal(expiration) {
		t.Fatalf("unexpected expiration %v", result.ExpirationDate)
	}

	var stored struct {
		LicenseKey string `gorm:"column:license_key"`
	}
	if err := db.Raw(`SELECT license_key FROM companies WHERE id = ?`, companyID).Scan(&stored).Error; err != nil {
		t.Fatalf("read company: %v", err)
	}
	if stored.LicenseKey != "validated-license" {
		t.Fatalf("license not persisted, got %q", stored.LicenseKey)
	}

	var eventType string
	if err := db.Raw(`SELECT event_type FROM billing_events LIMIT 1`).Scan(&eventType).Error; err != nil {
		t.Fatalf("read outbox: %v", err)
	}
	if eventType != "license_activated" {
		t.Fatalf("expected license_activated outbox event, got %q", eventType)
	}
}

func TestActivateCollapsesKeyMismatch(t *testing.T) {
	db := setupLicenseTestDB(t)
	companyID := insertCompany(t, db, 2)

	// Authority encrypts with a different shared secret. Decryption must
	// fail deterministically and surface the single validation error.
	authority := newAuthority(t, "mismatched-authority-key", licensedomain.ActivationResult{
		License: "validated-license",
	})
	defer authority.Close()

	svc := newLicenseTestService(t, db, authority.URL, testPrivateKey)
	_, err := svc.Activate(context.Background(), companyID, licensedomain.ActivationRequest{
		InstallationIdentifier: "install-2",
	})
	if err != licensedomain.ErrLicenseValidationFailed {
		t.Fatalf("expected license_validation_failed, got %v", err)
	}
}

func TestActivateCollapsesServerError(t *testing.T) {
	db := setupLicenseTestDB(t)
	companyID := insertCompany(t, db, 3)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	svc := newLicenseTestService(t, db, server.URL, testPrivateKey)
	_, err := svc.Activate(context.Background(), companyID, licensedomain.ActivationRequest{
		InstallationIdentifier: "install-3",
	})
	if err != licensedomain.ErrLicenseValidationFailed {
		t.Fatalf("expected license_validation_failed, got %v", err)
	}
}

func TestActivateRejectsUnknownCompany(t *testing.T) {
	db := setupLicenseTestDB(t)
	svc := newLicenseTestService(t, db, "http://127.0.0.1:1", testPrivateKey)

	_, err := svc.Activate(context.Background(), snowflake.ID(999), licensedomain.ActivationRequest{
		InstallationIdentifier: "install-4",
	})
	if err != licensedomain.ErrLicenseValidationFailed {
		t.Fatalf("expected license_validation_failed, got %v", err)
	}
}

// newAuthority decrypts the inbound payload with the given secret and
// answers with the result encrypted under the same secret.
func newAuthority(t *testing.T, secret string, result licensedomain.ActivationResult) *httptest.Server {
	t.Helper()
	key := deriveKey(secret)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/validate") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read failed", http.StatusBadRequest)
			return
		}
		var body validateRequest
		if err := json.Unmarshal(raw, &body); err != nil || body.Data.Attributes.Payload == "" {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}

		plaintext, err := json.Marshal(result)
		if err != nil {
			http.Error(w, "marshal failed", http.StatusInternalServerError)
			return
		}
		envelope, err := encrypt(key, plaintext)
		if err != nil {
			http.Error(w, "encrypt failed", http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, envelope)
	}))
}

func newLicenseTestService(t *testing.T, db *gorm.DB, baseURL, privateKey string) *Service {
	t.Helper()
	node, err := snowflake.NewNode(6)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return &Service{
		db:          db,
		log:         zap.NewNop(),
		clock:       clock.SystemClock{},
		billingRepo: billingrepo.Provide(),
		outbox:      events.NewOutbox(db, node),
		client:      &http.Client{Timeout: 5 * time.Second},
		baseURL:     strings.TrimRight(baseURL, "/"),
		privateKey:  privateKey,
	}
}

func insertCompany(t *testing.T, db *gorm.DB, seed int64) snowflake.ID {
	t.Helper()
	id := snowflake.ID(seed * 1_000_003)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := db.Exec(
		`INSERT INTO companies (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, "Test Co", now, now,
	).Error; err != nil {
		t.Fatalf("insert company: %v", err)
	}
	return id
}

func setupLicenseTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:license_test?mode=memory&cache=private"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	statements := []string{
		`CREATE TABLE companies (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			installation_identifier TEXT,
			license_key TEXT,
			license_activated_at DATETIME,
			license_expires_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
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
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}
