package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/venue-booking-api/internal/models"
	"github.com/noah-isme/venue-booking-api/pkg/config"
)

const testSecret = "test-secret-key"

func signToken(t *testing.T, claims models.JWTClaims, secret string, method jwt.SigningMethod) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims() models.JWTClaims {
	return models.JWTClaims{
		UserID:     "user-1",
		Role:       models.RoleFaculty,
		Email:      "faculty@campus.edu",
		Department: "CSE",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "campus-identity",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestValidateToken(t *testing.T) {
	svc := NewAuthService(config.JWTConfig{Secret: testSecret, Issuer: "campus-identity"}, nil)
	tokenString := signToken(t, validClaims(), testSecret, jwt.SigningMethodHS256)

	claims, err := svc.ValidateToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleFaculty, claims.Role)
	assert.Equal(t, "CSE", claims.Department)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	svc := NewAuthService(config.JWTConfig{Secret: testSecret}, nil)
	tokenString := signToken(t, validClaims(), "other-secret", jwt.SigningMethodHS256)

	_, err := svc.ValidateToken(tokenString)
	require.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := NewAuthService(config.JWTConfig{Secret: testSecret}, nil)
	claims := validClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	tokenString := signToken(t, claims, testSecret, jwt.SigningMethodHS256)

	_, err := svc.ValidateToken(tokenString)
	require.Error(t, err)
}

func TestValidateTokenRejectsWrongIssuer(t *testing.T) {
	svc := NewAuthService(config.JWTConfig{Secret: testSecret, Issuer: "campus-identity"}, nil)
	claims := validClaims()
	claims.Issuer = "someone-else"
	tokenString := signToken(t, claims, testSecret, jwt.SigningMethodHS256)

	_, err := svc.ValidateToken(tokenString)
	require.Error(t, err)
}

func TestValidateTokenRejectsUnexpectedAlgorithm(t *testing.T) {
	svc := NewAuthService(config.JWTConfig{Secret: testSecret}, nil)
	tokenString := signToken(t, validClaims(), testSecret, jwt.SigningMethodHS512)

	_, err := svc.ValidateToken(tokenString)
	require.Error(t, err)
}
