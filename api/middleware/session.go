package middleware

import (
	"net/http"
	"time"

	"github.com/lumehealth/lume-sync/api/responses"
	"github.com/lumehealth/lume-sync/internal/session"
	pkgerrors "github.com/lumehealth/lume-sync/pkg/errors"
	"github.com/lumehealth/lume-sync/pkg/logger"
)

type sessionSource interface {
	Current() (session.Session, bool)
}

// ActiveSession rejects requests arriving while no one is logged in. The
// control API listens on loopback, so the active session is the caller's
// identity; there are no per-request credentials.
func ActiveSession(source sessionSource, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := source.Current()
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "no active session"))
				return
			}
			if sess.Expired(time.Now()) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeAuthExpired, "session expired"))
				return
			}

			ctx := WithUserID(r.Context(), sess.UserID)
			if logg != nil {
				ctx = logg.WithUserID(ctx, sess.UserID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
