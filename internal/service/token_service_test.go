package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-points-api/internal/models"
	appErrors "github.com/noah-isme/sma-points-api/pkg/errors"
)

func testClaims(expires time.Time) *models.JWTClaims {
	return &models.JWTClaims{
		UserID: "teacher-1",
		Role:   models.RoleTeacher,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "sma-identity",
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
}

func TestValidateTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("secret", "sma-identity")
	token, err := svc.IssueToken(testClaims(time.Now().Add(time.Hour)))
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", claims.UserID)
	assert.Equal(t, models.RoleTeacher, claims.Role)
}

func TestValidateTokenRejects(t *testing.T) {
	svc := NewTokenService("secret", "sma-identity")

	expired, err := svc.IssueToken(testClaims(time.Now().Add(-time.Hour)))
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	foreign, err := NewTokenService("other", "sma-identity").IssueToken(testClaims(time.Now().Add(time.Hour)))
	require.NoError(t, err)
	_, err = svc.ValidateToken(foreign)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	wrongIssuer := testClaims(time.Now().Add(time.Hour))
	wrongIssuer.Issuer = "elsewhere"
	token, err := svc.IssueToken(wrongIssuer)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	anonymous := testClaims(time.Now().Add(time.Hour))
	anonymous.UserID = ""
	token, err = svc.IssueToken(anonymous)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = svc.ValidateToken("not-a-token")
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
