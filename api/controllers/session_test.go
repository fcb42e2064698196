package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lumehealth/lume-sync/internal/session"
)

type fakeGate struct {
	current       *session.Session
	state         session.State
	authenticated []session.Session
	loggedOut     int
	authErr       error
}

func (f *fakeGate) OnAuthenticated(_ context.Context, sess session.Session) error {
	if f.authErr != nil {
		return f.authErr
	}
	f.authenticated = append(f.authenticated, sess)
	f.current = &sess
	f.state = session.StateRunning
	return nil
}

func (f *fakeGate) OnLoggedOut(context.Context) {
	f.loggedOut++
	f.current = nil
	f.state = session.StateStopped
}

func (f *fakeGate) Current() (session.Session, bool) {
	if f.current == nil {
		return session.Session{}, false
	}
	return *f.current, true
}

func (f *fakeGate) State() session.State {
	if f.state == "" {
		return session.StateStopped
	}
	return f.state
}

type fakeSessionStore struct {
	saved   []session.Session
	cleared int
	saveErr error
}

func (f *fakeSessionStore) Save(sess session.Session) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, sess)
	return nil
}

func (f *fakeSessionStore) Clear() error {
	f.cleared++
	return nil
}

func mintAccessToken(t *testing.T, subject string, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss": "lume-backend",
		"sub": subject,
		"exp": expiresAt.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-only-secret"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func attachRequest(token string) *http.Request {
	body := strings.NewReader(`{"access_token":"` + token + `"}`)
	return httptest.NewRequest(http.MethodPut, "/api/v1/session", body)
}

func decodeSessionView(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	return envelope.Data
}

func TestSessionAttachStartsProcessor(t *testing.T) {
	gate := &fakeGate{}
	store := &fakeSessionStore{}
	token := mintAccessToken(t, "user-1", time.Now().Add(time.Hour))

	resp := httptest.NewRecorder()
	SessionAttach(gate, store, testLogg())(resp, attachRequest(token))

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d (%s)", resp.Code, resp.Body.String())
	}
	if len(store.saved) != 1 || store.saved[0].AccessToken != token {
		t.Fatalf("expected sealed session persisted, got %d saves", len(store.saved))
	}
	if len(gate.authenticated) != 1 || gate.authenticated[0].UserID != "user-1" {
		t.Fatalf("expected gate started for user-1, got %+v", gate.authenticated)
	}

	view := decodeSessionView(t, resp)
	if view["authenticated"] != true {
		t.Fatalf("expected authenticated view, got %v", view)
	}
	if view["processor_state"] != string(session.StateRunning) {
		t.Fatalf("unexpected processor state %v", view["processor_state"])
	}
}

func TestSessionAttachSameTokenDoesNotRestart(t *testing.T) {
	token := mintAccessToken(t, "user-1", time.Now().Add(time.Hour))
	active, err := session.FromToken(token)
	if err != nil {
		t.Fatalf("building session: %v", err)
	}
	gate := &fakeGate{current: &active, state: session.StateRunning}
	store := &fakeSessionStore{}

	resp := httptest.NewRecorder()
	SessionAttach(gate, store, testLogg())(resp, attachRequest(token))

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if len(gate.authenticated) != 0 {
		t.Fatal("re-sending the active token must not bounce the processor")
	}
	if len(store.saved) != 0 {
		t.Fatal("re-sending the active token must not rewrite the store")
	}
}

func TestSessionAttachRejectsGarbageToken(t *testing.T) {
	gate := &fakeGate{}
	store := &fakeSessionStore{}

	resp := httptest.NewRecorder()
	SessionAttach(gate, store, testLogg())(resp, attachRequest("not-a-jwt"))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if len(gate.authenticated) != 0 {
		t.Fatal("gate must not start on a bad token")
	}
}

func TestSessionAttachRejectsExpiredToken(t *testing.T) {
	gate := &fakeGate{}
	store := &fakeSessionStore{}
	token := mintAccessToken(t, "user-1", time.Now().Add(-time.Minute))

	resp := httptest.NewRecorder()
	SessionAttach(gate, store, testLogg())(resp, attachRequest(token))

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if len(store.saved) != 0 {
		t.Fatal("expired token must not be persisted")
	}
}

func TestSessionStatusLoggedOut(t *testing.T) {
	resp := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	SessionStatus(&fakeGate{}, testLogg())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	view := decodeSessionView(t, resp)
	if view["authenticated"] != false {
		t.Fatalf("expected unauthenticated view, got %v", view)
	}
	if view["processor_state"] != string(session.StateStopped) {
		t.Fatalf("unexpected processor state %v", view["processor_state"])
	}
}

func TestSessionDetachStopsAndClears(t *testing.T) {
	active := session.Session{UserID: "user-1", AccessToken: "token-1"}
	gate := &fakeGate{current: &active, state: session.StateRunning}
	store := &fakeSessionStore{}

	resp := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/session", nil)
	SessionDetach(gate, store, testLogg())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if gate.loggedOut != 1 {
		t.Fatalf("expected one logout, got %d", gate.loggedOut)
	}
	if store.cleared != 1 {
		t.Fatalf("expected stored session cleared, got %d", store.cleared)
	}
}
