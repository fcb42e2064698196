package config

// EnvPrefix namespaces every environment variable the agent reads.
const EnvPrefix = "lumesync"

// App environments.
const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Environment variable names, kept in one place so tests and error messages
// stay in sync with the struct tags.
const (
	EnvAppEnv      = "LUMESYNC_APP_ENV"
	EnvPort        = "LUMESYNC_APP_PORT"
	EnvLogLevel    = "LUMESYNC_LOG_LEVEL"
	EnvDataDir     = "LUMESYNC_DATA_DIR"
	EnvDBDriver    = "LUMESYNC_DB_DRIVER"
	EnvDBDSN       = "LUMESYNC_DB_DSN"
	EnvBackendURL  = "LUMESYNC_BACKEND_BASE_URL"
	EnvBackendKey  = "LUMESYNC_BACKEND_API_KEY"
	EnvSessionKey  = "LUMESYNC_SESSION_SECRET"
	EnvSessionFile = "LUMESYNC_SESSION_FILE"
	EnvAutoMigrate = "LUMESYNC_AUTO_MIGRATE"
	EnvOutboxPoll  = "LUMESYNC_OUTBOX_POLL_INTERVAL"
	EnvOutboxBatch = "LUMESYNC_OUTBOX_BATCH_SIZE"
	EnvMaxAttempts = "LUMESYNC_OUTBOX_MAX_ATTEMPTS"
)
