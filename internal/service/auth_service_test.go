package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/movement-gateway/internal/models"
	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
)

func signToken(t *testing.T, secret string, claims *models.SessionClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestValidateTokenVerifiesSignature(t *testing.T) {
	svc := NewAuthService(AuthConfig{Secret: "s3cret", Issuer: "hr"}, nil)
	claims := &models.SessionClaims{
		UserID:   "emp-9",
		FullName: "Ana Reyes",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "hr",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	raw := signToken(t, "s3cret", claims)

	sess, err := svc.ValidateToken(raw)
	require.NoError(t, err)
	require.Equal(t, "emp-9", sess.Subject())
	require.Equal(t, raw, sess.Token)

	_, err = svc.ValidateToken(signToken(t, "other", claims))
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	claims.Issuer = "someone-else"
	_, err = svc.ValidateToken(signToken(t, "s3cret", claims))
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestValidateTokenWithoutSecretDecodesOnly(t *testing.T) {
	svc := NewAuthService(AuthConfig{}, nil)

	sess, err := svc.ValidateToken(signToken(t, "whatever", &models.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "42"},
	}))
	require.NoError(t, err)
	require.Equal(t, "42", sess.Subject())

	_, err = svc.ValidateToken(signToken(t, "whatever", &models.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "42", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	}))
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = svc.ValidateToken(signToken(t, "whatever", &models.SessionClaims{}))
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = svc.ValidateToken("not-a-jwt")
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
