package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/iep-collab-api/internal/middleware"
	"github.com/noah-isme/iep-collab-api/internal/models"
	appErrors "github.com/noah-isme/iep-collab-api/pkg/errors"
	"github.com/noah-isme/iep-collab-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok || claims.UserID == "" {
		return nil
	}
	return claims
}

// requireActor returns the authenticated user id, or writes 401 and reports false.
func requireActor(c *gin.Context) (string, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", false
	}
	return claims.UserID, true
}
