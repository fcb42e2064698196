package session

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lumehealth/lume-sync/pkg/config"
	pkgerrors "github.com/lumehealth/lume-sync/pkg/errors"
	"github.com/lumehealth/lume-sync/pkg/logger"
	"github.com/lumehealth/lume-sync/pkg/security"
)

// ErrNoSession means no session has been stored since the last clear.
var ErrNoSession = errors.New("no stored session")

type storedSession struct {
	UserID      string     `json:"user_id"`
	AccessToken string     `json:"access_token"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	SavedAt     time.Time  `json:"saved_at"`
}

// Store persists the session sealed under the agent secret so a restart can
// resume syncing without a fresh login. The file is the only place the
// access token touches disk.
type Store struct {
	cfg config.SessionConfig
	now func() time.Time
}

func NewStore(cfg config.SessionConfig) (*Store, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "session secret required")
	}
	if strings.TrimSpace(cfg.File) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "session file path required")
	}
	return &Store{cfg: cfg, now: time.Now}, nil
}

// Save seals the session and writes it to the session file, 0600.
func (s *Store) Save(sess Session) error {
	plain, err := json.Marshal(storedSession{
		UserID:      sess.UserID,
		AccessToken: sess.AccessToken,
		ExpiresAt:   sess.ExpiresAt,
		SavedAt:     s.now().UTC(),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode session state")
	}

	sealed, err := security.Seal(plain, s.cfg.Secret, s.cfg)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "seal session state")
	}

	if err := os.MkdirAll(filepath.Dir(s.cfg.File), 0o700); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create session dir")
	}
	if err := os.WriteFile(s.cfg.File, []byte(sealed), 0o600); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write session file")
	}
	return nil
}

// Load opens the stored session. ErrNoSession when nothing is stored;
// security.ErrWrongSecret surfaces unchanged so callers can tell a missing
// session from an unreadable one.
func (s *Store) Load() (Session, error) {
	raw, err := os.ReadFile(s.cfg.File)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Session{}, ErrNoSession
		}
		return Session{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read session file")
	}

	plain, err := security.Open(strings.TrimSpace(string(raw)), s.cfg.Secret)
	if err != nil {
		return Session{}, err
	}

	var stored storedSession
	if err := json.Unmarshal(plain, &stored); err != nil {
		return Session{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode session state")
	}

	return Session{
		UserID:      stored.UserID,
		AccessToken: stored.AccessToken,
		ExpiresAt:   stored.ExpiresAt,
	}, nil
}

// Clear removes the session file. Clearing an empty store is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.cfg.File); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "remove session file")
	}
	return nil
}

// Resume loads the stored session into the gate at boot. A missing or
// expired session is not an error; an unreadable file is reported but never
// fatal, since the user can simply log in again.
func Resume(ctx context.Context, store *Store, gate *Gate, logg *logger.Logger) bool {
	sess, err := store.Load()
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return false
		}
		if logg != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "stored session unreadable, awaiting login")
		}
		return false
	}

	if sess.Expired(store.now()) {
		if logg != nil {
			logg.Info(ctx, "stored session expired, awaiting login")
		}
		if err := store.Clear(); err != nil && logg != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "clearing expired session failed")
		}
		return false
	}

	if err := gate.OnAuthenticated(ctx, sess); err != nil {
		if logg != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "stored session rejected, awaiting login")
		}
		return false
	}

	if logg != nil {
		logg.Info(logg.WithUserID(ctx, sess.UserID), "stored session resumed")
	}
	return true
}
