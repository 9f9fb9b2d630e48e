// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/examguard/internal/config"
	"github.com/tomtom215/examguard/internal/models"
)

// MinSecretLength is the shortest accepted HMAC secret.
const MinSecretLength = 32

// ErrInvalidToken is returned for any token that fails parsing or validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the bearer token claims. Subject identifies the host or
// candidate; Role drives authorization.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Actor converts the claims into the actor recorded on transitions.
func (c *Claims) Actor() models.Actor {
	return models.Actor{ID: c.Subject, Role: c.Role}
}

// JWTManager handles JWT token creation and validation
type JWTManager struct {
	secret  []byte
	timeout time.Duration
	issuer  string
	now     func() time.Time
}

// NewJWTManager creates a JWT manager signing with HS256.
//
// The secret must be at least MinSecretLength characters. Tokens are valid for
// cfg.TokenTTL and carry cfg.JWTIssuer as issuer when set; validation then
// requires the same issuer.
func NewJWTManager(cfg *config.SecurityConfig) (*JWTManager, error) {
	secret := cfg.JWTSecret
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but was empty")
	}
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d characters", MinSecretLength)
	}
	timeout := cfg.TokenTTL
	if timeout <= 0 {
		timeout = 12 * time.Hour
	}

	return &JWTManager{
		secret:  []byte(secret),
		timeout: timeout,
		issuer:  cfg.JWTIssuer,
		now:     time.Now,
	}, nil
}

// GenerateToken creates a signed token for subject with role.
func (m *JWTManager) GenerateToken(subject, role string) (string, error) {
	now := m.now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.timeout)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// ValidateToken checks signature, algorithm, expiry and issuer and returns the
// claims. Tokens signed with anything but HMAC are rejected.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.Role == "" {
		return nil, fmt.Errorf("%w: subject and role are required", ErrInvalidToken)
	}

	return claims, nil
}
