package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Backend      BackendConfig
	Outbox       OutboxConfig
	Reconcile    ReconcileConfig
	Session      SessionConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.App.ensureDataDir(); err != nil {
		return nil, err
	}
	if err := cfg.DB.ensureDefaults(cfg.App.DataDir); err != nil {
		return nil, err
	}
	cfg.Session.ensureFile(cfg.App.DataDir)
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LUMESYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"LUMESYNC_APP_PORT" default:"7410"`
	LogLevel     string `envconfig:"LUMESYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LUMESYNC_LOG_WARN_STACK" default:"false"`
	DataDir      string `envconfig:"LUMESYNC_DATA_DIR"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

func (a *AppConfig) ensureDataDir() error {
	if a.DataDir != "" {
		a.DataDir = filepath.Clean(a.DataDir)
		return nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory for default data dir: %w", err)
	}
	a.DataDir = filepath.Join(home, ".lume-sync")
	return nil
}

type DBConfig struct {
	Driver string `envconfig:"LUMESYNC_DB_DRIVER" default:"sqlite"`
	DSN    string `envconfig:"LUMESYNC_DB_DSN"`

	MaxOpenConns    int           `envconfig:"LUMESYNC_DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `envconfig:"LUMESYNC_DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `envconfig:"LUMESYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LUMESYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// ensureDefaults fills driver-dependent defaults. SQLite keeps a single
// writer connection; the default DSN lives under the agent data dir with
// busy-wait and foreign keys enabled.
func (db *DBConfig) ensureDefaults(dataDir string) error {
	switch db.Driver {
	case DriverSQLite:
		if db.DSN == "" {
			path := filepath.Join(dataDir, "lume-sync.db")
			db.DSN = fmt.Sprintf("file:%s?%s", path, sqliteDSNParams())
		}
		if db.MaxOpenConns <= 0 {
			db.MaxOpenConns = 1
		}
		if db.MaxIdleConns <= 0 {
			db.MaxIdleConns = 1
		}
	case DriverPostgres:
		if db.DSN == "" {
			return fmt.Errorf("%s is required when %s is %s", EnvDBDSN, EnvDBDriver, DriverPostgres)
		}
		if db.MaxOpenConns <= 0 {
			db.MaxOpenConns = 20
		}
		if db.MaxIdleConns <= 0 {
			db.MaxIdleConns = 10
		}
	default:
		return fmt.Errorf("unsupported database driver %q", db.Driver)
	}
	return nil
}

func sqliteDSNParams() string {
	q := url.Values{}
	q.Set("_busy_timeout", "5000")
	q.Set("_journal_mode", "WAL")
	q.Set("_foreign_keys", "on")
	return q.Encode()
}

type BackendConfig struct {
	BaseURL string        `envconfig:"LUMESYNC_BACKEND_BASE_URL" required:"true"`
	APIKey  string        `envconfig:"LUMESYNC_BACKEND_API_KEY" required:"true"`
	Timeout time.Duration `envconfig:"LUMESYNC_BACKEND_TIMEOUT" default:"30s"`
}

type OutboxConfig struct {
	PollInterval time.Duration `envconfig:"LUMESYNC_OUTBOX_POLL_INTERVAL" default:"2s"`
	BatchSize    int           `envconfig:"LUMESYNC_OUTBOX_BATCH_SIZE" default:"10"`
	MaxAttempts  int           `envconfig:"LUMESYNC_OUTBOX_MAX_ATTEMPTS" default:"5"`
	BackoffBase  time.Duration `envconfig:"LUMESYNC_OUTBOX_BACKOFF_BASE" default:"1s"`
	BackoffCap   time.Duration `envconfig:"LUMESYNC_OUTBOX_BACKOFF_CAP" default:"30s"`
	Workers      int           `envconfig:"LUMESYNC_OUTBOX_WORKERS" default:"4"`
}

type ReconcileConfig struct {
	Interval           time.Duration `envconfig:"LUMESYNC_RECONCILE_INTERVAL" default:"30s"`
	StuckAfter         time.Duration `envconfig:"LUMESYNC_RECONCILE_STUCK_AFTER" default:"5m"`
	CompletedRetention time.Duration `envconfig:"LUMESYNC_RECONCILE_COMPLETED_RETENTION" default:"24h"`
}

type SessionConfig struct {
	Secret string `envconfig:"LUMESYNC_SESSION_SECRET" required:"true"`
	File   string `envconfig:"LUMESYNC_SESSION_FILE"`

	ArgonMemoryKB    int `envconfig:"LUMESYNC_SESSION_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"LUMESYNC_SESSION_ARGON_TIME" default:"2"`
	ArgonParallelism int `envconfig:"LUMESYNC_SESSION_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"LUMESYNC_SESSION_ARGON_SALT_LEN" default:"16"`
}

func (s *SessionConfig) ensureFile(dataDir string) {
	if s.File == "" {
		s.File = filepath.Join(dataDir, "session.lsc")
	}
}

type FeatureFlagsConfig struct {
	AutoMigrate   bool `envconfig:"LUMESYNC_AUTO_MIGRATE" default:"false"`
	ResumeSession bool `envconfig:"LUMESYNC_RESUME_SESSION" default:"true"`
}
