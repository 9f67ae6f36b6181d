package sessionguard

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/MrEthical07/sessionguard/broadcast"
	"github.com/MrEthical07/sessionguard/lock"
	"github.com/MrEthical07/sessionguard/securestore"
	"github.com/MrEthical07/sessionguard/session"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every variable read by LoadConfig.
const EnvPrefix = "SESSIONGUARD_"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the full engine configuration. Build validates it once; the
// engine keeps a copy and never re-reads it.
type Config struct {
	Lock      LockConfig      `envPrefix:"LOCK_"`
	Session   SessionConfig   `envPrefix:"SESSION_"`
	Store     StoreConfig     `envPrefix:"STORE_"`
	Broadcast BroadcastConfig `envPrefix:"BROADCAST_"`
	Throttle  ThrottleConfig  `envPrefix:"THROTTLE_"`
	Audit     AuditConfig     `envPrefix:"AUDIT_"`
	Metrics   MetricsConfig   `envPrefix:"METRICS_"`
	Log       LogConfig       `envPrefix:"LOG_"`

	// ProductionMode refuses ephemeral key material and weak key stretching.
	ProductionMode bool `env:"PRODUCTION_MODE"`
}

/*
====================================
LOCK CONFIG
====================================
*/

// LockConfig controls the operation lock that serializes login, logout and
// refresh.
type LockConfig struct {
	AutoRelease time.Duration `env:"AUTO_RELEASE"`
	WaitTimeout time.Duration `env:"WAIT_TIMEOUT"`
	// ProceedOnTimeout lets an operation continue unlocked after WaitTimeout.
	// The bypass is logged and audited.
	ProceedOnTimeout bool `env:"PROCEED_ON_TIMEOUT"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig mirrors session.Config.
type SessionConfig struct {
	IdleTimeout           time.Duration `env:"IDLE_TIMEOUT"`
	MaxSessionAge         time.Duration `env:"MAX_AGE"`
	MaxConcurrentSessions int           `env:"MAX_CONCURRENT"`
	UseSecureStore        bool          `env:"USE_SECURE_STORE"`
	CrossContextSync      bool          `env:"CROSS_CONTEXT_SYNC"`
	BindFingerprint       bool          `env:"BIND_FINGERPRINT"`
	SweepInterval         time.Duration `env:"SWEEP_INTERVAL"`
}

func (c SessionConfig) registryConfig() session.Config {
	return session.Config{
		IdleTimeout:           c.IdleTimeout,
		MaxSessionAge:         c.MaxSessionAge,
		MaxConcurrentSessions: c.MaxConcurrentSessions,
		UseSecureStore:        c.UseSecureStore,
		CrossContextSync:      c.CrossContextSync,
		BindFingerprint:       c.BindFingerprint,
		SweepInterval:         c.SweepInterval,
	}
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig selects the secure store backend and its key material.
// Exactly one of MasterKey and Passphrase may be set.
type StoreConfig struct {
	Backend string `env:"BACKEND"`

	// MasterKey is a base64 encoded 32 byte key.
	MasterKey  string `env:"MASTER_KEY"`
	Passphrase string `env:"PASSPHRASE"`
	Salt       string `env:"SALT"`

	Argon2Memory      uint32 `env:"ARGON2_MEMORY"` // in KB
	Argon2Time        uint32 `env:"ARGON2_TIME"`
	Argon2Parallelism uint8  `env:"ARGON2_PARALLELISM"`

	// BindToFingerprint mixes the environment fingerprint into the derived
	// keys so records cannot be read from another environment.
	BindToFingerprint bool `env:"BIND_FINGERPRINT"`

	CompressThreshold int           `env:"COMPRESS_THRESHOLD"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL"`

	RedisURL          string `env:"REDIS_URL"`
	RedisPrefix       string `env:"REDIS_PREFIX"`
	DatabaseURL       string `env:"DATABASE_URL"`
	PostgresTable     string `env:"POSTGRES_TABLE"`
	PostgresNamespace string `env:"POSTGRES_NAMESPACE"`
}

func (c StoreConfig) argon2Params() securestore.Argon2Params {
	return securestore.Argon2Params{
		Memory:      c.Argon2Memory,
		Time:        c.Argon2Time,
		Parallelism: c.Argon2Parallelism,
	}
}

/*
====================================
BROADCAST CONFIG
====================================
*/

// BroadcastConfig controls cross-context propagation. The redis backend
// signs every event with SigningKey.
type BroadcastConfig struct {
	Backend    string        `env:"BACKEND"`
	Channel    string        `env:"CHANNEL"`
	SigningKey string        `env:"SIGNING_KEY"`
	Issuer     string        `env:"ISSUER"`
	TokenTTL   time.Duration `env:"TOKEN_TTL"`
	BufferSize int           `env:"BUFFER_SIZE"`
}

/*
====================================
THROTTLE CONFIG
====================================
*/

// ThrottleConfig limits failed logins per identifier in a fixed window.
// The redis backend shares the budget across processes.
type ThrottleConfig struct {
	Enabled     bool          `env:"ENABLED"`
	Backend     string        `env:"BACKEND"`
	MaxAttempts int           `env:"MAX_ATTEMPTS"`
	Window      time.Duration `env:"WINDOW"`
}

/*
====================================
AUDIT / METRICS / LOG CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS"`
}

// LogConfig is consumed by NewLogger when the builder creates the logger.
type LogConfig struct {
	Level  string `env:"LEVEL"`
	Format string `env:"FORMAT"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a configuration suitable for development: in-memory
// backends, fingerprint binding on, no audit or metrics.
func DefaultConfig() Config {
	sc := session.DefaultConfig()
	argon := securestore.DefaultArgon2Params()
	return Config{
		Lock: LockConfig{
			AutoRelease: lock.DefaultAutoRelease,
			WaitTimeout: lock.DefaultWaitTimeout,
		},
		Session: SessionConfig{
			IdleTimeout:           sc.IdleTimeout,
			MaxSessionAge:         sc.MaxSessionAge,
			MaxConcurrentSessions: sc.MaxConcurrentSessions,
			UseSecureStore:        sc.UseSecureStore,
			CrossContextSync:      sc.CrossContextSync,
			BindFingerprint:       sc.BindFingerprint,
			SweepInterval:         sc.SweepInterval,
		},
		Store: StoreConfig{
			Backend:           BackendMemory,
			Argon2Memory:      argon.Memory,
			Argon2Time:        argon.Time,
			Argon2Parallelism: argon.Parallelism,
			CompressThreshold: securestore.DefaultCompressThreshold,
			SweepInterval:     5 * time.Minute,
			RedisPrefix:       "sg",
			PostgresTable:     "sessionguard_store",
			PostgresNamespace: "default",
		},
		Broadcast: BroadcastConfig{
			Backend:    BackendMemory,
			Channel:    broadcast.DefaultChannel,
			Issuer:     "sessionguard",
			TokenTTL:   time.Minute,
			BufferSize: broadcast.DefaultBufferSize,
		},
		Throttle: ThrottleConfig{
			Enabled:     false,
			Backend:     BackendMemory,
			MaxAttempts: 5,
			Window:      15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// HighSecurityConfig tightens session lifetimes to a single short-lived
// session per user and enables audit and metrics. Key material must still be
// supplied.
func HighSecurityConfig() Config {
	cfg := DefaultConfig()
	cfg.ProductionMode = true
	cfg.Lock.WaitTimeout = 5 * time.Second
	cfg.Session.IdleTimeout = 10 * time.Minute
	cfg.Session.MaxSessionAge = 8 * time.Hour
	cfg.Session.MaxConcurrentSessions = 1
	cfg.Session.BindFingerprint = true
	cfg.Store.BindToFingerprint = true
	cfg.Throttle.Enabled = true
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

// LoadConfig starts from DefaultConfig and overlays SESSIONGUARD_* variables.
// Files are read with godotenv first (".env" when none are given); a missing
// file is not an error and variables already set in the process win.
func LoadConfig(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, errors.Join(ErrConfigLoad, err)
	}
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, errors.Join(ErrConfigLoad, err)
	}
	return cfg, nil
}

/*
====================================
VALIDATION
====================================
*/

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
}

// Validate rejects configurations that cannot produce a working engine.
func (c *Config) Validate() error {
	// Lock
	if c.Lock.AutoRelease <= 0 {
		return invalid("Lock AutoRelease must be > 0")
	}
	if c.Lock.WaitTimeout <= 0 {
		return invalid("Lock WaitTimeout must be > 0")
	}

	// Session
	if err := c.Session.registryConfig().Validate(); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}

	// Store
	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.Store.RedisPrefix) == "" {
			return invalid("Store RedisPrefix must not be empty")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.Store.PostgresTable) == "" {
			return invalid("Store PostgresTable must not be empty")
		}
	default:
		return invalid("Store Backend must be %q, %q or %q", BackendMemory, BackendRedis, BackendPostgres)
	}
	if c.Store.MasterKey != "" && c.Store.Passphrase != "" {
		return invalid("Store MasterKey and Passphrase are mutually exclusive")
	}
	if c.Store.MasterKey != "" {
		if _, err := securestore.ParseMasterKey(c.Store.MasterKey); err != nil {
			return errors.Join(ErrInvalidConfig, err)
		}
	}
	if c.Store.Passphrase != "" {
		if len(c.Store.Salt) < 16 {
			return invalid("Store Salt must be >= 16 bytes")
		}
		if c.Store.Argon2Memory < 8*1024 {
			return invalid("Store Argon2Memory must be >= 8192 KB")
		}
		if c.Store.Argon2Time < 1 {
			return invalid("Store Argon2Time must be >= 1")
		}
		if c.Store.Argon2Parallelism < 1 {
			return invalid("Store Argon2Parallelism must be >= 1")
		}
	}
	if c.ProductionMode {
		if c.Store.MasterKey == "" && c.Store.Passphrase == "" {
			return invalid("ProductionMode requires Store MasterKey or Passphrase")
		}
		if c.Store.Passphrase != "" && c.Store.Argon2Memory < 64*1024 {
			return invalid("ProductionMode requires Store Argon2Memory >= 65536 KB")
		}
	}
	if c.Store.SweepInterval < 0 {
		return invalid("Store SweepInterval must be >= 0")
	}

	// Broadcast
	switch c.Broadcast.Backend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.Broadcast.Channel) == "" {
			return invalid("Broadcast Channel must not be empty")
		}
		if c.Broadcast.TokenTTL <= 0 {
			return invalid("Broadcast TokenTTL must be > 0")
		}
		if len(c.Broadcast.SigningKey) < 32 {
			return invalid("Broadcast SigningKey must be >= 32 bytes")
		}
	default:
		return invalid("Broadcast Backend must be %q or %q", BackendMemory, BackendRedis)
	}
	if c.Broadcast.BufferSize < 0 {
		return invalid("Broadcast BufferSize must be >= 0")
	}

	// Throttle
	if c.Throttle.Enabled {
		switch c.Throttle.Backend {
		case BackendMemory, BackendRedis:
		default:
			return invalid("Throttle Backend must be %q or %q", BackendMemory, BackendRedis)
		}
		if c.Throttle.MaxAttempts < 1 {
			return invalid("Throttle MaxAttempts must be >= 1")
		}
		if c.Throttle.Window <= 0 {
			return invalid("Throttle Window must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return invalid("Audit BufferSize must be > 0 when enabled")
	}

	// Log
	if _, err := parseLevel(c.Log.Level); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return invalid("Log Format must be 'json' or 'text'")
	}

	return nil
}

/*
====================================
LINT
====================================
*/

// LintWarning is a valid but risky setting.
type LintWarning struct {
	Code    string
	Message string
}

// LintWarnings is the result of Config.Lint.
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Code
	}
	return out
}

// Lint reports settings that pass Validate but weaken the engine.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code, msg string) {
		ws = append(ws, LintWarning{Code: code, Message: msg})
	}

	if !c.Session.BindFingerprint {
		add("fingerprint_binding_disabled", "sessions are accepted from any environment")
	}
	if !c.Session.UseSecureStore {
		add("secure_store_disabled", "sessions live only in memory and are lost on restart")
	}
	if c.Session.IdleTimeout > c.Session.MaxSessionAge {
		add("idle_exceeds_max_age", "IdleTimeout is longer than MaxSessionAge and never applies")
	}
	if c.Lock.ProceedOnTimeout {
		add("lock_proceed_on_timeout", "auth operations may overlap after a lock wait timeout")
	}
	if c.Lock.AutoRelease < c.Lock.WaitTimeout {
		add("auto_release_shorter_than_wait", "a stuck holder is released before waiters time out")
	}
	if c.Store.MasterKey == "" && c.Store.Passphrase == "" {
		add("ephemeral_store_key", "a random store key is generated per process; records do not survive restarts")
	}
	if c.Throttle.Enabled && c.Throttle.Backend == BackendMemory && c.Store.Backend != BackendMemory {
		add("memory_throttle_shared_store", "failed-login budgets are counted per process")
	}
	if c.Session.CrossContextSync && c.Broadcast.Backend == BackendMemory && c.Store.Backend != BackendMemory {
		add("memory_bus_shared_store", "the store is shared but events only reach contexts in this process")
	}
	return ws
}
