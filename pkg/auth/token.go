package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ParseClaims decodes the access token without verifying its signature.
// The engine never holds the signing secret; the backend stays the verifier
// of record and answers 401 when a token it minted no longer validates.
// Parsing here only recovers the subject and expiry for local gating.
func ParseClaims(tokenString string) (*AccessClaims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, fmt.Errorf("access token is required")
	}

	claims := &AccessClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("decoding access token: %w", err)
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("access token has no subject")
	}

	return claims, nil
}
