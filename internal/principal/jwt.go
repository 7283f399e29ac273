// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package principal

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the JWT claims carried by a connection credential.
// The subject is the user ID; role and room set come from the directory,
// not the token, so a stale token cannot grant stale permissions.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTVerifier validates connection credentials signed with HMAC-SHA256.
type JWTVerifier struct {
	secret  []byte
	timeout time.Duration
}

// NewJWTVerifier creates a verifier with the given signing secret.
// The secret must be at least 32 characters.
func NewJWTVerifier(secret string, timeout time.Duration) (*JWTVerifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters")
	}
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}

	return &JWTVerifier{
		secret:  []byte(secret),
		timeout: timeout,
	}, nil
}

// GenerateToken creates a signed credential for the given user ID.
// Used by tooling and tests; production credentials are issued by the
// external auth service with the same secret.
func (v *JWTVerifier) GenerateToken(userID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(v.timeout)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signedToken, nil
}

// Verify validates a credential and returns the subject user ID.
//
// Validation checks the token structure, the HMAC-SHA256 signature, the
// signing algorithm (rejecting algorithm-confusion attempts), expiry, and
// the not-before claim. All failures map to ErrInvalidCredential.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("%w: invalid claims", ErrInvalidCredential)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}

	return claims.Subject, nil
}
