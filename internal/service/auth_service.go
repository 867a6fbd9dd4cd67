package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/movement-gateway/internal/models"
	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
)

// AuthConfig defines how session tokens are read.
type AuthConfig struct {
	// Secret verifies HS256 signatures. When empty the token is decoded
	// without verification and the backend remains the only judge.
	Secret string
	Issuer string
}

// AuthService turns a bearer token into a Session. It never issues tokens.
type AuthService struct {
	config AuthConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(config AuthConfig, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Secret == "" {
		logger.Warn("JWT_SECRET not set; session tokens are decoded without signature checks")
	}
	return &AuthService{config: config, logger: logger, now: time.Now}
}

// ValidateToken parses tokenString and returns the caller's session.
func (s *AuthService) ValidateToken(tokenString string) (*models.Session, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, appErrors.ErrUnauthorized
	}
	claims := &models.SessionClaims{}
	opts := []jwt.ParserOption{jwt.WithTimeFunc(s.now)}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	parser := jwt.NewParser(opts...)

	if s.config.Secret != "" {
		token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(s.config.Secret), nil
		})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
		}
		if !token.Valid {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
		}
	} else {
		if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
		}
		if exp := claims.ExpiresAt; exp != nil && s.now().After(exp.Time) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token expired")
		}
		if s.config.Issuer != "" && claims.Issuer != s.config.Issuer {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token issuer")
		}
	}

	if claims.Subject() == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token has no subject")
	}
	return &models.Session{Claims: claims, Token: tokenString}, nil
}
