package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	auditdomain "github.com/stratobill/stratobill/internal/audit/domain"
	licensedomain "github.com/stratobill/stratobill/internal/license/domain"
	usagedomain "github.com/stratobill/stratobill/internal/usage/domain"
	webhookdomain "github.com/stratobill/stratobill/internal/webhook/domain"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not_found")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrRateLimited        = errors.New("rate_limited")
)

// AppError carries an HTTP status alongside a machine-readable code.
type AppError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string { return e.Message }

func newValidationError(field, code, message string) *AppError {
	return &AppError{
		Status:  http.StatusBadRequest,
		Code:    code,
		Field:   field,
		Message: message,
	}
}

func invalidRequestError(message string) *AppError {
	return &AppError{
		Status:  http.StatusBadRequest,
		Code:    "invalid_request",
		Message: message,
	}
}

// AbortWithError maps domain errors onto HTTP responses. Unrecognized
// errors become opaque 500s.
func AbortWithError(c *gin.Context, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		c.AbortWithStatusJSON(appErr.Status, gin.H{"error": appErr})
		return
	}

	status := http.StatusInternalServerError
	code := "internal_error"
	message := "internal server error"

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, webhookdomain.ErrInvalidSignature),
		errors.Is(err, webhookdomain.ErrWebhookSecretMissing):
		status, code, message = http.StatusUnauthorized, "unauthorized", "unauthorized"

	case errors.Is(err, ErrNotFound),
		errors.Is(err, usagedomain.ErrSubscriptionNotFound):
		status, code, message = http.StatusNotFound, "not_found", err.Error()

	case errors.Is(err, licensedomain.ErrLicenseValidationFailed):
		status, code, message = http.StatusPreconditionFailed, "license_validation_failed", "license validation failed"

	case errors.Is(err, usagedomain.ErrInvalidSubscription),
		errors.Is(err, usagedomain.ErrInvalidMeter),
		errors.Is(err, usagedomain.ErrInvalidMeterEvent),
		errors.Is(err, usagedomain.ErrInvalidQuantity),
		errors.Is(err, usagedomain.ErrInvalidWindow),
		errors.Is(err, auditdomain.ErrInvalidAction),
		errors.Is(err, auditdomain.ErrInvalidTargetType),
		errors.Is(err, webhookdomain.ErrInvalidEvent):
		status, code, message = http.StatusBadRequest, err.Error(), err.Error()

	case errors.Is(err, ErrRateLimited):
		status, code, message = http.StatusTooManyRequests, "rate_limited", "too many requests"

	case errors.Is(err, ErrServiceUnavailable):
		status, code, message = http.StatusServiceUnavailable, "service_unavailable", "service unavailable"
	}

	c.AbortWithStatusJSON(status, gin.H{"error": &AppError{
		Status:  status,
		Code:    code,
		Message: message,
	}})
}
