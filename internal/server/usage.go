package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	usagedomain "github.com/stratobill/stratobill/internal/usage/domain"
)

type usageAttributes struct {
	MeterID        string     `json:"meterId"`
	MeterEventName string     `json:"meterEventName"`
	Quantity       *float64   `json:"quantity"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	RecordedAt     *time.Time `json:"recordedAt,omitempty"`
	StripeEventID  *string    `json:"stripeEventId,omitempty"`
}

// CreateUsage accepts a JSON:API usage resource and returns the created
// record with 201.
func (s *Server) CreateUsage(c *gin.Context) {
	var body jsonapiResource[usageAttributes]
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError("malformed json:api body"))
		return
	}

	subscription, ok := body.Data.Relationships["subscription"]
	if !ok || subscription.Data.ID == "" {
		AbortWithError(c, newValidationError("relationships.subscription", "missing_subscription", "subscription relationship is required"))
		return
	}

	req := usagedomain.CreateUsageRequest{
		SubscriptionID: subscription.Data.ID,
		MeterID:        body.Data.Attributes.MeterID,
		MeterEventName: body.Data.Attributes.MeterEventName,
		Quantity:       body.Data.Attributes.Quantity,
		StripeEventID:  body.Data.Attributes.StripeEventID,
	}
	if body.Data.Attributes.Timestamp != nil {
		req.RecordedAt = body.Data.Attributes.Timestamp.UTC()
	}

	record, err := s.usageSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, usageResource(record))
}

// ListUsage returns records for one subscription, newest first. The
// filter[subscriptionId] parameter is mandatory.
func (s *Server) ListUsage(c *gin.Context) {
	subscriptionID := c.Query("filter[subscriptionId]")
	if subscriptionID == "" {
		AbortWithError(c, newValidationError("filter[subscriptionId]", "missing_filter", "filter[subscriptionId] is required"))
		return
	}

	startTime, err := parseOptionalTime(c.Query("startTime"), false)
	if err != nil {
		AbortWithError(c, newValidationError("startTime", "invalid_time", "invalid startTime"))
		return
	}
	endTime, err := parseOptionalTime(c.Query("endTime"), true)
	if err != nil {
		AbortWithError(c, newValidationError("endTime", "invalid_time", "invalid endTime"))
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
			return
		}
	}

	records, err := s.usageSvc.List(c.Request.Context(), usagedomain.ListUsageRequest{
		SubscriptionID: subscriptionID,
		StartTime:      startTime,
		EndTime:        endTime,
		Limit:          limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := jsonapiList[usageAttributes]{Data: make([]jsonapiData[usageAttributes], 0, len(records))}
	for i := range records {
		out.Data = append(out.Data, usageResource(&records[i]).Data)
	}
	c.JSON(http.StatusOK, out)
}

// GetUsageSummary aggregates usage over a closed window. Both startTime
// and endTime are mandatory.
func (s *Server) GetUsageSummary(c *gin.Context) {
	subscriptionID := c.Query("filter[subscriptionId]")
	if subscriptionID == "" {
		AbortWithError(c, newValidationError("filter[subscriptionId]", "missing_filter", "filter[subscriptionId] is required"))
		return
	}

	startTime, err := parseOptionalTime(c.Query("startTime"), false)
	if err != nil || startTime == nil {
		AbortWithError(c, newValidationError("startTime", "missing_time", "startTime is required"))
		return
	}
	endTime, err := parseOptionalTime(c.Query("endTime"), true)
	if err != nil || endTime == nil {
		AbortWithError(c, newValidationError("endTime", "missing_time", "endTime is required"))
		return
	}

	summary, err := s.usageSvc.Summary(c.Request.Context(), usagedomain.SummaryRequest{
		SubscriptionID: subscriptionID,
		StartTime:      *startTime,
		EndTime:        *endTime,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func usageResource(record *usagedomain.UsageRecord) jsonapiResource[usageAttributes] {
	recordedAt := record.RecordedAt.UTC()
	resource := newResource(record.ID.String(), "usage-records", usageAttributes{
		MeterID:        record.MeterID,
		MeterEventName: record.MeterEventName,
		Quantity:       record.Quantity,
		RecordedAt:     &recordedAt,
		StripeEventID:  record.StripeEventID,
	})
	resource.Data.Relationships = map[string]jsonapiRelationship{
		"subscription": {Data: jsonapiIdentifier{
			ID:   record.SubscriptionID.String(),
			Type: "subscriptions",
		}},
	}
	return resource
}
