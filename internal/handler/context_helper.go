package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-points-api/internal/middleware"
	"github.com/noah-isme/sma-points-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext returns the caller's id and role, empty when unauthenticated.
func actorFromContext(c *gin.Context) (string, string) {
	claims := claimsFromContext(c)
	if claims == nil {
		return "", ""
	}
	return claims.UserID, string(claims.Role)
}
