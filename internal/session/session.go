// Package session owns the authenticated-user lifecycle: who is logged in,
// whether the sync processor runs, and how the session survives restarts.
package session

import (
	"time"

	"github.com/lumehealth/lume-sync/pkg/auth"
	pkgerrors "github.com/lumehealth/lume-sync/pkg/errors"
)

// Session is the active user identity the engine syncs on behalf of.
type Session struct {
	UserID      string     `json:"user_id"`
	AccessToken string     `json:"access_token"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the session token's lifetime has passed. Tokens
// without an exp claim never expire locally; the backend remains the
// authority either way.
func (s Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// FromToken builds a session from a raw access token.
func FromToken(token string) (Session, error) {
	claims, err := auth.ParseClaims(token)
	if err != nil {
		return Session{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid access token")
	}

	sess := Session{
		UserID:      claims.UserID(),
		AccessToken: token,
	}
	if claims.ExpiresAt != nil {
		expiresAt := claims.ExpiresAt.Time.UTC()
		sess.ExpiresAt = &expiresAt
	}
	return sess, nil
}
