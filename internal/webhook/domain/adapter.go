package domain

import (
	"context"
	"encoding/json"
	"time"
)

// ProviderEvent is the normalized form of a verified provider payload.
type ProviderEvent struct {
	ID         string
	Type       string
	Livemode   bool
	APIVersion string
	Created    time.Time
	Data       json.RawMessage
	Raw        []byte
}

// ProviderAdapter verifies a raw delivery against the shared secret and
// parses it into a normalized event.
type ProviderAdapter interface {
	VerifyAndParse(ctx context.Context, payload []byte, signatureHeader string) (*ProviderEvent, error)
}
