package sessionguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/MrEthical07/sessionguard/broadcast"
	"github.com/MrEthical07/sessionguard/fingerprint"
	"github.com/MrEthical07/sessionguard/internal/audit"
	"github.com/MrEthical07/sessionguard/internal/clock"
	"github.com/MrEthical07/sessionguard/internal/rate"
	"github.com/MrEthical07/sessionguard/lock"
	"github.com/MrEthical07/sessionguard/securestore"
	"github.com/MrEthical07/sessionguard/session"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. Explicit dependencies (WithRedis, WithBackend,
// WithBus, ...) take precedence over the connection settings in Config. A
// Builder can be used once.
type Builder struct {
	config Config

	redis   redis.UniversalClient
	pool    *pgxpool.Pool
	backend securestore.Backend
	bus     broadcast.Bus

	fingerprints  fingerprint.Source
	authenticator Authenticator
	auditSink     AuditSink
	logger        *slog.Logger
	clock         clock.Clock

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis supplies the client used by the redis store backend and the redis
// bus. The engine does not close it.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPostgres supplies the pool used by the postgres store backend. The
// engine does not close it.
func (b *Builder) WithPostgres(pool *pgxpool.Pool) *Builder {
	b.pool = pool
	return b
}

// WithBackend overrides Store.Backend with a ready backend.
func (b *Builder) WithBackend(backend securestore.Backend) *Builder {
	b.backend = backend
	return b
}

// WithBus overrides Broadcast.Backend with a ready bus. The engine does not
// close it.
func (b *Builder) WithBus(bus broadcast.Bus) *Builder {
	b.bus = bus
	return b
}

// WithFingerprintSource sets where the current environment is read from.
// The default reads it from the context (see WithEnvironment).
func (b *Builder) WithFingerprintSource(src fingerprint.Source) *Builder {
	b.fingerprints = src
	return b
}

// WithAuthenticator sets the network authentication step used by Login.
func (b *Builder) WithAuthenticator(a Authenticator) *Builder {
	b.authenticator = a
	return b
}

// WithAuditSink sets the audit destination. Audit.Enabled must be true for
// events to be dispatched.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger overrides the logger built from Config.Log.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source for sessions and the secure store.
func (b *Builder) WithClock(c clock.Clock) *Builder {
	b.clock = c
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the lock wait and validate latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build is BuildContext with a background context.
func (b *Builder) Build() (*Engine, error) {
	return b.BuildContext(context.Background())
}

// BuildContext validates the configuration and constructs the engine. ctx
// bounds the I/O done at build time: reading the fingerprint for store key
// binding and creating the postgres table.
func (b *Builder) BuildContext(ctx context.Context) (engine *Engine, err error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b.built = true

	logger := b.logger
	if logger == nil {
		logger, err = NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
		if err != nil {
			return nil, errors.Join(ErrInvalidConfig, err)
		}
	}

	fingerprints := b.fingerprints
	if fingerprints == nil {
		fingerprints = fingerprint.ContextSource{}
	}

	e := &Engine{
		config:        cfg,
		logger:        logger.With(slog.String("component", "engine")),
		metrics:       NewMetrics(cfg.Metrics),
		authenticator: b.authenticator,
	}
	defer func() {
		if err != nil {
			_ = e.closeResources()
		}
	}()

	e.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	// -------- SECURE STORE --------
	keys, ephemeral, err := b.storeKeys(ctx, cfg.Store, fingerprints)
	if err != nil {
		return nil, err
	}
	e.ephemeralKey = ephemeral
	if ephemeral {
		e.logger.Warn("secure store using an ephemeral key; records will not survive a restart")
	}

	backend, err := b.storeBackend(ctx, cfg.Store, e)
	if err != nil {
		return nil, err
	}
	e.store, err = securestore.New(securestore.Config{
		Backend:           backend,
		Keys:              keys,
		CompressThreshold: cfg.Store.CompressThreshold,
		Clock:             b.clock,
		Logger:            logger,
		OnEvent:           e.onStoreEvent,
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	// -------- BROADCAST --------
	if cfg.Session.CrossContextSync {
		e.bus, err = b.broadcastBus(cfg.Broadcast, e, logger)
		if err != nil {
			return nil, err
		}
	}

	// -------- OPERATION LOCK --------
	e.gate, err = lock.New(lock.Config{
		AutoRelease: cfg.Lock.AutoRelease,
		WaitTimeout: cfg.Lock.WaitTimeout,
		Logger:      logger,
		OnEvent:     e.onLockEvent,
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	// -------- LOGIN THROTTLE --------
	if cfg.Throttle.Enabled {
		e.throttle, err = b.loginThrottle(cfg, e)
		if err != nil {
			return nil, err
		}
	}

	// -------- SESSION REGISTRY --------
	deps := session.Deps{
		Bus:          e.bus,
		Fingerprints: fingerprints,
		Clock:        b.clock,
		Logger:       logger,
		OnEvent:      e.onSessionEvent,
	}
	if cfg.Session.UseSecureStore {
		deps.Store = e.store
	}
	e.registry, err = session.New(cfg.Session.registryConfig(), deps)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	e.startStoreSweeper(cfg.Store)

	e.logger.Info("engine started",
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("broadcast_backend", cfg.Broadcast.Backend),
		slog.Bool("cross_context_sync", cfg.Session.CrossContextSync),
		slog.Bool("fingerprint_binding", cfg.Session.BindFingerprint),
	)
	return e, nil
}

func (b *Builder) storeKeys(ctx context.Context, sc StoreConfig, src fingerprint.Source) (securestore.Keys, bool, error) {
	var binding []byte
	if sc.BindToFingerprint {
		env, err := src.Environment(ctx)
		if err != nil {
			return securestore.Keys{}, false, fmt.Errorf("%w: store key binding: %v", ErrInvalidConfig, err)
		}
		binding = fingerprint.Generate(env).HashBytes()
	}

	switch {
	case sc.MasterKey != "":
		master, err := securestore.ParseMasterKey(sc.MasterKey)
		if err != nil {
			return securestore.Keys{}, false, errors.Join(ErrInvalidConfig, err)
		}
		keys, err := securestore.DeriveKeys(master, binding)
		return keys, false, err
	case sc.Passphrase != "":
		keys, err := securestore.KeysFromPassphrase(sc.Passphrase, []byte(sc.Salt), sc.argon2Params(), binding)
		return keys, false, err
	default:
		master, err := securestore.GenerateMasterKey()
		if err != nil {
			return securestore.Keys{}, false, err
		}
		keys, err := securestore.DeriveKeys(master, binding)
		return keys, true, err
	}
}

func (b *Builder) storeBackend(ctx context.Context, sc StoreConfig, e *Engine) (securestore.Backend, error) {
	if b.backend != nil {
		return b.backend, nil
	}

	switch sc.Backend {
	case BackendRedis:
		client, err := b.redisClient(sc.RedisURL, e)
		if err != nil {
			return nil, err
		}
		return securestore.NewRedisBackend(client, sc.RedisPrefix), nil
	case BackendPostgres:
		pool := b.pool
		if pool == nil {
			if sc.DatabaseURL == "" {
				return nil, fmt.Errorf("%w: postgres backend requires a pool or DatabaseURL", ErrInvalidConfig)
			}
			owned, err := pgxpool.New(ctx, sc.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
			}
			e.closers = append(e.closers, func() error { owned.Close(); return nil })
			pool = owned
		}
		backend, err := securestore.NewPostgresBackend(pool,
			securestore.WithTable(sc.PostgresTable),
			securestore.WithNamespace(sc.PostgresNamespace),
		)
		if err != nil {
			return nil, errors.Join(ErrInvalidConfig, err)
		}
		if err := backend.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return backend, nil
	default:
		return securestore.NewMemoryBackend(), nil
	}
}

func (b *Builder) broadcastBus(bc BroadcastConfig, e *Engine, logger *slog.Logger) (broadcast.Bus, error) {
	if b.bus != nil {
		return b.bus, nil
	}

	switch bc.Backend {
	case BackendRedis:
		client, err := b.redisClient(e.config.Store.RedisURL, e)
		if err != nil {
			return nil, err
		}
		signer, err := broadcast.NewSigner(broadcast.SignerConfig{
			Key:    []byte(bc.SigningKey),
			Issuer: bc.Issuer,
			TTL:    bc.TokenTTL,
		})
		if err != nil {
			return nil, errors.Join(ErrInvalidConfig, err)
		}
		bus, err := broadcast.NewRedisBus(broadcast.RedisBusConfig{
			Client:     client,
			Channel:    bc.Channel,
			Signer:     signer,
			BufferSize: bc.BufferSize,
			Logger:     logger,
		})
		if err != nil {
			return nil, errors.Join(ErrInvalidConfig, err)
		}
		e.closers = append(e.closers, bus.Close)
		return bus, nil
	default:
		bus := broadcast.NewMemoryBus(bc.BufferSize)
		e.closers = append(e.closers, bus.Close)
		return bus, nil
	}
}

func (b *Builder) loginThrottle(cfg Config, e *Engine) (*rate.Limiter, error) {
	var counter rate.Counter
	switch cfg.Throttle.Backend {
	case BackendRedis:
		client, err := b.redisClient(cfg.Store.RedisURL, e)
		if err != nil {
			return nil, err
		}
		counter = rate.NewRedisCounter(client, cfg.Store.RedisPrefix+"-throttle")
	default:
		counter = rate.NewMemoryCounter(b.clock)
	}
	limiter, err := rate.New(counter, rate.Config{
		MaxAttempts: cfg.Throttle.MaxAttempts,
		Window:      cfg.Throttle.Window,
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	return limiter, nil
}

// redisClient returns the supplied client or dials one from url. A dialed
// client is owned by the engine and shared by the store and the bus.
func (b *Builder) redisClient(url string, e *Engine) (redis.UniversalClient, error) {
	if b.redis != nil {
		return b.redis, nil
	}
	if url == "" {
		return nil, fmt.Errorf("%w: redis backend requires a client or RedisURL", ErrInvalidConfig)
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	client := redis.NewClient(opts)
	e.closers = append(e.closers, client.Close)
	b.redis = client
	return client, nil
}
