package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims represents the access-token payload issued by the campus identity
// service. This API only validates tokens; it never issues them.
type JWTClaims struct {
	UserID     string   `json:"user_id"`
	Role       UserRole `json:"role"`
	Email      string   `json:"email"`
	FullName   string   `json:"full_name"`
	Department string   `json:"department"`
	jwt.RegisteredClaims
}

// Actor is the authenticated principal passed explicitly into core operations.
type Actor struct {
	UserID     string   `json:"user_id"`
	Role       UserRole `json:"role"`
	Department string   `json:"department"`
}

// ActorFromClaims projects token claims onto the domain actor.
func ActorFromClaims(claims *JWTClaims) Actor {
	if claims == nil {
		return Actor{}
	}
	return Actor{UserID: claims.UserID, Role: claims.Role, Department: claims.Department}
}
