package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	licensedomain "github.com/stratobill/stratobill/internal/license/domain"
)

type licenseActivateBody struct {
	IsFirstActivation      bool     `json:"isFirstActivation"`
	License                string   `json:"license" binding:"required"`
	InstallationIdentifier string   `json:"installationIdentifier" binding:"required"`
	Version                string   `json:"version"`
	FeatureIDs             []string `json:"featureIds"`
	UserCount              int      `json:"userCount"`
}

type licenseActivateResponse struct {
	License        string    `json:"license"`
	FeatureIDs     []string  `json:"featureIds"`
	ExpirationDate time.Time `json:"expirationDate"`
}

// ActivateLicense runs the encrypted validation exchange for a company.
// Every failure surfaces as the single precondition-failed validation
// error.
func (s *Server) ActivateLicense(c *gin.Context) {
	companyID, err := snowflake.ParseString(c.Param("id"))
	if err != nil || companyID == 0 {
		AbortWithError(c, newValidationError("id", "invalid_company_id", "invalid company id"))
		return
	}

	var body licenseActivateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError("malformed activation body"))
		return
	}

	result, err := s.licenseSvc.Activate(c.Request.Context(), companyID, licensedomain.ActivationRequest{
		IsFirstActivation:      body.IsFirstActivation,
		License:                body.License,
		InstallationIdentifier: body.InstallationIdentifier,
		Version:                body.Version,
		FeatureIDs:             body.FeatureIDs,
		UserCount:              body.UserCount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, licenseActivateResponse{
		License:        result.License,
		FeatureIDs:     result.FeatureIDs,
		ExpirationDate: result.ExpirationDate,
	})
}
