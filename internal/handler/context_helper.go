package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/venue-booking-api/internal/middleware"
	"github.com/noah-isme/venue-booking-api/internal/models"
)

func actorFromContext(c *gin.Context) (models.Actor, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		return models.Actor{}, false
	}
	return models.ActorFromClaims(claims), true
}

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
