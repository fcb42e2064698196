package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/lumehealth/lume-sync/api/responses"
	"github.com/lumehealth/lume-sync/api/validators"
	"github.com/lumehealth/lume-sync/internal/session"
	pkgerrors "github.com/lumehealth/lume-sync/pkg/errors"
	"github.com/lumehealth/lume-sync/pkg/logger"
)

type sessionGate interface {
	OnAuthenticated(ctx context.Context, sess session.Session) error
	OnLoggedOut(ctx context.Context)
	Current() (session.Session, bool)
	State() session.State
}

type sessionStore interface {
	Save(sess session.Session) error
	Clear() error
}

type attachSessionRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
}

type sessionView struct {
	Authenticated  bool       `json:"authenticated"`
	UserID         string     `json:"user_id,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	ProcessorState string     `json:"processor_state"`
}

func currentSessionView(gate sessionGate) sessionView {
	view := sessionView{ProcessorState: string(gate.State())}
	if sess, ok := gate.Current(); ok {
		view.Authenticated = true
		view.UserID = sess.UserID
		view.ExpiresAt = sess.ExpiresAt
	}
	return view
}

// SessionAttach accepts a fresh access token from the host app, persists
// it sealed, and starts the processor. Re-sending the active token is a
// no-op so host-side retries don't bounce the run loop.
func SessionAttach(gate sessionGate, store sessionStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body attachSessionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sess, err := session.FromToken(body.AccessToken)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if sess.Expired(time.Now()) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeAuthExpired, "access token already expired"))
			return
		}

		if active, ok := gate.Current(); ok && active.AccessToken == sess.AccessToken {
			responses.WriteSuccess(w, currentSessionView(gate))
			return
		}

		if err := store.Save(sess); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := gate.OnAuthenticated(r.Context(), sess); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, currentSessionView(gate))
	}
}

// SessionStatus reports who is logged in and whether the processor runs.
func SessionStatus(gate sessionGate, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, currentSessionView(gate))
	}
}

// SessionDetach logs out: stops the processor and drops the sealed
// session. Queued work stays put for the next login.
func SessionDetach(gate sessionGate, store sessionStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gate.OnLoggedOut(r.Context())
		if err := store.Clear(); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "logged_out"})
	}
}
