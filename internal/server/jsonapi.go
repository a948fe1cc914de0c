package server

import (
	"strings"
	"time"
)

// jsonapiResource is the generic JSON:API resource envelope used by the
// usage endpoints.
type jsonapiResource[A any] struct {
	Data jsonapiData[A] `json:"data"`
}

type jsonapiData[A any] struct {
	ID            string                         `json:"id,omitempty"`
	Type          string                         `json:"type"`
	Attributes    A                              `json:"attributes"`
	Relationships map[string]jsonapiRelationship `json:"relationships,omitempty"`
}

type jsonapiRelationship struct {
	Data jsonapiIdentifier `json:"data"`
}

type jsonapiIdentifier struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type jsonapiList[A any] struct {
	Data []jsonapiData[A] `json:"data"`
}

func newResource[A any](id, resourceType string, attributes A) jsonapiResource[A] {
	return jsonapiResource[A]{
		Data: jsonapiData[A]{
			ID:         id,
			Type:       resourceType,
			Attributes: attributes,
		},
	}
}

// parseOptionalTime accepts RFC 3339 timestamps and plain dates. A bare
// date becomes start-of-day, or end-of-day when endOfDay is set.
func parseOptionalTime(value string, endOfDay bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		utc := parsed.UTC()
		return &utc, nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	utc := parsed.UTC()
	if endOfDay {
		utc = utc.Add(24*time.Hour - time.Nanosecond)
	}
	return &utc, nil
}
