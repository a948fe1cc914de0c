package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apikeydomain "github.com/stratobill/stratobill/internal/apikey/domain"
	obscontext "github.com/stratobill/stratobill/internal/observability/context"
)

const (
	contextAuthTypeKey  = "auth_type"
	contextCompanyIDKey = "company_id"
	contextAPIKeyIDKey  = "api_key_id"
)

// APIKeyRequired authenticates requests with a bearer API key. Company
// identity is derived solely from the api_keys table.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		hash := apikeydomain.HashAPIKey(parts[1])
		record, err := s.apiKeyRepo.FindActiveByHash(c.Request.Context(), s.db, hash)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if record == nil || subtle.ConstantTimeCompare([]byte(record.KeyHash), []byte(hash)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		if err := s.apiKeyRepo.TouchLastUsed(c.Request.Context(), s.db, record.ID); err != nil {
			s.log.Warn("api key touch failed", zap.Error(err))
		}

		c.Set(contextAuthTypeKey, "api_key")
		c.Set(contextCompanyIDKey, int64(record.CompanyID))
		c.Set(contextAPIKeyIDKey, int64(record.ID))

		ctx := obscontext.WithCompanyID(c.Request.Context(), record.CompanyID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
