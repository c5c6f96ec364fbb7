// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenLifetime is the validity period of a generated token.
const DefaultTokenLifetime = time.Hour

// TokenClaims is the payload of a Glimpse session token: who the
// token is for, what role they hold, and what actions it grants.
type TokenClaims struct {
	// Role is the authenticated role of the subject.
	Role Role `json:"role"`

	// Rights lists the granted actions (e.g. "stream", "input",
	// "clipboard", "file-transfer").
	Rights []string `json:"rights"`

	jwt.RegisteredClaims
}

// ErrTokenInvalid covers every token validation failure: bad
// signature, expiry, malformed structure.
var ErrTokenInvalid = errors.New("security: invalid token")

// GenerateToken mints an HMAC-signed token for the current
// authenticated user. It fails with ErrNotAuthenticated when no
// authentication has succeeded on this manager.
func (m *Manager) GenerateToken(rights []string, lifetime time.Duration) (string, error) {
	user, ok := m.CurrentUser()
	if !ok {
		return "", ErrNotAuthenticated
	}
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}

	now := m.clock.Now()
	claims := TokenClaims{
		Role:   user.Role,
		Rights: rights,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
	if err != nil {
		return "", fmt.Errorf("security: signing token: %w", err)
	}
	return token, nil
}

// ValidateToken checks the signature and expiry of a token and decodes
// its claims. Validation is stateless: it needs only the shared key,
// never prior authentication state on this manager.
func (m *Manager) ValidateToken(tokenString string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return m.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.clock.Now),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return claims, nil
}
