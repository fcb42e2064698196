package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims represents the JWT issued by the Lume backend. The subject
// carries the user ID that scopes all local records and queue work.
type AccessClaims struct {
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *AccessClaims) UserID() string {
	return c.Subject
}

// Expired reports whether the token expiry has passed. Tokens without an
// exp claim never expire locally; the backend still rejects them.
func (c *AccessClaims) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !now.Before(c.ExpiresAt.Time)
}

// ExpiresWithin reports whether the token expires inside the given window.
func (c *AccessClaims) ExpiresWithin(now time.Time, window time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return c.ExpiresAt.Time.Before(now.Add(window))
}
