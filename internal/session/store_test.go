package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lumehealth/lume-sync/pkg/config"
	"github.com/lumehealth/lume-sync/pkg/security"
)

func storeTestConfig(t *testing.T, secret string) config.SessionConfig {
	t.Helper()
	return config.SessionConfig{
		Secret:           secret,
		File:             filepath.Join(t.TempDir(), "session.lsc"),
		ArgonMemoryKB:    1024,
		ArgonTime:        1,
		ArgonParallelism: 1,
		ArgonSaltLen:     16,
	}
}

func newTestStore(t *testing.T, cfg config.SessionConfig) *Store {
	t.Helper()
	store, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return store
}

func TestStoreSaveLoadRoundtrip(t *testing.T) {
	cfg := storeTestConfig(t, "agent-secret")
	store := newTestStore(t, cfg)

	expiresAt := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	sess := Session{UserID: "user-1", AccessToken: "token-1", ExpiresAt: &expiresAt}
	if err := store.Save(sess); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	info, err := os.Stat(cfg.File)
	if err != nil {
		t.Fatalf("session file missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 session file, got %o", perm)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if loaded.UserID != sess.UserID || loaded.AccessToken != sess.AccessToken {
		t.Fatalf("unexpected session %+v", loaded)
	}
	if loaded.ExpiresAt == nil || !loaded.ExpiresAt.Equal(expiresAt) {
		t.Fatalf("unexpected expiry %v", loaded.ExpiresAt)
	}
}

func TestStoreFileIsSealed(t *testing.T) {
	cfg := storeTestConfig(t, "agent-secret")
	store := newTestStore(t, cfg)

	if err := store.Save(Session{UserID: "user-1", AccessToken: "super-secret-token"}); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	raw, err := os.ReadFile(cfg.File)
	if err != nil {
		t.Fatalf("reading session file: %v", err)
	}
	if len(raw) == 0 || strings.Contains(string(raw), "super-secret-token") {
		t.Fatal("session file must not contain the plaintext token")
	}
	if !strings.HasPrefix(string(raw), "$lumeseal$") {
		t.Fatalf("expected sealed envelope, got %q", raw[:min(len(raw), 20)])
	}
}

func TestStoreLoadWithoutSession(t *testing.T) {
	store := newTestStore(t, storeTestConfig(t, "agent-secret"))
	if _, err := store.Load(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestStoreLoadWrongSecret(t *testing.T) {
	cfg := storeTestConfig(t, "agent-secret")
	store := newTestStore(t, cfg)
	if err := store.Save(Session{UserID: "user-1", AccessToken: "token-1"}); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	cfg.Secret = "different-secret"
	otherStore := newTestStore(t, cfg)
	if _, err := otherStore.Load(); !errors.Is(err, security.ErrWrongSecret) {
		t.Fatalf("expected wrong secret error, got %v", err)
	}
}

func TestStoreClear(t *testing.T) {
	store := newTestStore(t, storeTestConfig(t, "agent-secret"))
	if err := store.Save(Session{UserID: "user-1", AccessToken: "token-1"}); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("unexpected clear error: %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after clear, got %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clearing an empty store must not fail, got %v", err)
	}
}

func TestResumeRestoresStoredSession(t *testing.T) {
	store := newTestStore(t, storeTestConfig(t, "agent-secret"))
	runner := &gateTestRunner{}
	gate := newTestGate(t, runner)
	defer gate.Shutdown(context.Background())

	expiresAt := time.Now().Add(time.Hour).UTC()
	if err := store.Save(Session{UserID: "user-1", AccessToken: "token-1", ExpiresAt: &expiresAt}); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	if !Resume(context.Background(), store, gate, nil) {
		t.Fatal("expected resume to restore the session")
	}
	if gate.State() != StateRunning {
		t.Fatalf("expected running gate after resume, got %s", gate.State())
	}
	current, ok := gate.Current()
	if !ok || current.UserID != "user-1" {
		t.Fatalf("unexpected current session %+v ok=%v", current, ok)
	}
}

func TestResumeSkipsExpiredSession(t *testing.T) {
	store := newTestStore(t, storeTestConfig(t, "agent-secret"))
	runner := &gateTestRunner{}
	gate := newTestGate(t, runner)

	expiresAt := time.Now().Add(-time.Hour).UTC()
	if err := store.Save(Session{UserID: "user-1", AccessToken: "token-1", ExpiresAt: &expiresAt}); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	if Resume(context.Background(), store, gate, nil) {
		t.Fatal("expected resume to skip the expired session")
	}
	if gate.State() != StateStopped {
		t.Fatalf("expected stopped gate, got %s", gate.State())
	}
	if _, err := store.Load(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected expired session to be cleared, got %v", err)
	}
}

func TestResumeWithoutStoredSession(t *testing.T) {
	store := newTestStore(t, storeTestConfig(t, "agent-secret"))
	gate := newTestGate(t, &gateTestRunner{})

	if Resume(context.Background(), store, gate, nil) {
		t.Fatal("expected nothing to resume")
	}
}
