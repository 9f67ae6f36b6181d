package sessionguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/sessionguard/broadcast"
	"github.com/MrEthical07/sessionguard/internal/audit"
	"github.com/MrEthical07/sessionguard/internal/rate"
	"github.com/MrEthical07/sessionguard/lock"
	"github.com/MrEthical07/sessionguard/securestore"
	"github.com/MrEthical07/sessionguard/session"
)

// Engine owns one operation lock, session registry and secure store. Build
// it with Builder and Close it on shutdown.
type Engine struct {
	config        Config
	logger        *slog.Logger
	gate          *lock.Gate
	registry      *session.Registry
	store         *securestore.Store
	bus           broadcast.Bus
	audit         *audit.Dispatcher
	metrics       *Metrics
	authenticator Authenticator
	throttle      *rate.Limiter
	ephemeralKey  bool

	closers []func() error
	sweep   context.CancelFunc
	wg      sync.WaitGroup

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config { return e.config }

// Lock returns the operation lock for callers running their own guarded
// operations.
func (e *Engine) Lock() *lock.Gate { return e.gate }

// Registry returns the session registry.
func (e *Engine) Registry() *session.Registry { return e.registry }

// Store returns the secure store. Keys under "session:" and "session-user:"
// belong to the registry.
func (e *Engine) Store() *securestore.Store { return e.store }

// Login runs the guarded login flow: acquire the login lock, authenticate,
// create a session, release the lock. With the throttle enabled, an
// identifier that used up its failed attempts gets ErrLoginThrottled without
// reaching the Authenticator.
func (e *Engine) Login(ctx context.Context, creds Credentials) (SessionInfo, error) {
	if e.authenticator == nil {
		return SessionInfo{}, ErrAuthenticatorMissing
	}
	return e.login(ctx, func(ctx context.Context) (string, error) {
		if err := e.checkThrottle(ctx, creds.Identifier); err != nil {
			return "", err
		}
		userID, err := e.authenticator.Authenticate(ctx, creds)
		if err != nil {
			if errors.Is(err, ErrInvalidCredentials) {
				e.recordFailedAttempt(ctx, creds.Identifier)
			}
			return "", fmt.Errorf("authenticate: %w", err)
		}
		e.resetThrottle(ctx, creds.Identifier)
		return userID, nil
	})
}

func (e *Engine) checkThrottle(ctx context.Context, identifier string) error {
	if e.throttle == nil {
		return nil
	}
	err := e.throttle.CheckLogin(ctx, identifier)
	if errors.Is(err, rate.ErrRateLimited) {
		e.metrics.Inc(MetricLoginThrottled)
	}
	return err
}

func (e *Engine) recordFailedAttempt(ctx context.Context, identifier string) {
	if e.throttle == nil {
		return
	}
	err := e.throttle.RecordFailure(ctx, identifier)
	if err != nil && !errors.Is(err, rate.ErrRateLimited) {
		e.logger.Warn("failed login not counted", slog.String("error", err.Error()))
	}
}

func (e *Engine) resetThrottle(ctx context.Context, identifier string) {
	if e.throttle == nil {
		return
	}
	if err := e.throttle.ResetLogin(ctx, identifier); err != nil {
		e.logger.Warn("login throttle not reset", slog.String("error", err.Error()))
	}
}

// StartSession is Login for callers that authenticated the user elsewhere.
// It still serializes on the login lock.
func (e *Engine) StartSession(ctx context.Context, userID string) (SessionInfo, error) {
	return e.login(ctx, func(context.Context) (string, error) {
		return userID, nil
	})
}

func (e *Engine) login(ctx context.Context, authenticate func(context.Context) (string, error)) (SessionInfo, error) {
	release, err := e.acquire(ctx, OperationLogin)
	if err != nil {
		e.loginFailed(ctx, "", err)
		return SessionInfo{}, err
	}
	defer release()

	userID, err := authenticate(ctx)
	if err != nil {
		e.loginFailed(ctx, "", err)
		return SessionInfo{}, err
	}

	id, err := e.registry.CreateSession(ctx, userID)
	if err != nil {
		err = errors.Join(ErrSessionCreationFailed, err)
		e.loginFailed(ctx, userID, err)
		return SessionInfo{}, err
	}
	info, ok := e.registry.SessionInfo(ctx, id)
	if !ok {
		// Destroyed by a concurrent logout-all before we could read it back.
		e.loginFailed(ctx, userID, ErrSessionCreationFailed)
		return SessionInfo{}, ErrSessionCreationFailed
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, userID, id, nil, nil)
	return info, nil
}

func (e *Engine) loginFailed(ctx context.Context, userID string, err error) {
	e.metrics.Inc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", err, nil)
}

// Logout destroys one session under the logout lock.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	release, err := e.acquire(ctx, OperationLogout)
	if err != nil {
		return err
	}
	defer release()

	info, _ := e.registry.SessionInfo(ctx, sessionID)
	if !e.registry.DestroySession(ctx, sessionID, session.ReasonLogout) {
		e.emitAudit(ctx, auditEventLogout, false, "", sessionID, ErrSessionNotFound, nil)
		return ErrSessionNotFound
	}
	e.metrics.Inc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, info.UserID, sessionID, nil, nil)
	return nil
}

// LogoutAll destroys every session of userID under the logout lock and
// returns how many were destroyed.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	release, err := e.acquire(ctx, OperationLogout)
	if err != nil {
		return 0, err
	}
	defer release()

	n := e.registry.DestroyUserSessions(ctx, userID, session.ReasonLogoutAll)
	e.metrics.Inc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"destroyed": fmt.Sprint(n)}
	})
	return n, nil
}

// Refresh validates the session, runs fn under the refresh lock and records
// activity when fn succeeds. A nil fn only extends the session.
func (e *Engine) Refresh(ctx context.Context, sessionID string, fn RefreshFunc) error {
	release, err := e.acquire(ctx, OperationRefresh)
	if err != nil {
		e.refreshFailed(ctx, sessionID, err)
		return err
	}
	defer release()

	info, err := e.Validate(ctx, sessionID)
	if err != nil {
		e.refreshFailed(ctx, sessionID, err)
		return err
	}
	if fn != nil {
		if err := fn(ctx, info); err != nil {
			e.refreshFailed(ctx, sessionID, err)
			return err
		}
	}
	if !e.registry.UpdateActivity(ctx, sessionID) {
		e.refreshFailed(ctx, sessionID, ErrUnauthorized)
		return ErrUnauthorized
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, info.UserID, sessionID, nil, nil)
	return nil
}

func (e *Engine) refreshFailed(ctx context.Context, sessionID string, err error) {
	e.metrics.Inc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshFailure, false, "", sessionID, err, nil)
}

// Validate returns the session when it is live and presented from its bound
// environment, ErrUnauthorized otherwise. It does not take the lock.
func (e *Engine) Validate(ctx context.Context, sessionID string) (SessionInfo, error) {
	if e.closed.Load() {
		return SessionInfo{}, ErrEngineClosed
	}
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}()

	if !e.registry.ValidateSession(ctx, sessionID) {
		return SessionInfo{}, ErrUnauthorized
	}
	info, ok := e.registry.SessionInfo(ctx, sessionID)
	if !ok {
		return SessionInfo{}, ErrUnauthorized
	}
	return info, nil
}

// Touch records activity on a session without taking the lock.
func (e *Engine) Touch(ctx context.Context, sessionID string) bool {
	if e.closed.Load() {
		return false
	}
	return e.registry.UpdateActivity(ctx, sessionID)
}

// Sessions lists the user's active sessions, oldest first.
func (e *Engine) Sessions(ctx context.Context, userID string) []SessionInfo {
	if e.closed.Load() {
		return nil
	}
	return e.registry.UserSessions(ctx, userID)
}

// acquire takes the operation lock. With ProceedOnTimeout a wait timeout
// yields a no-op release instead of an error.
func (e *Engine) acquire(ctx context.Context, operation string) (func(), error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	start := time.Now()
	grant, err := e.gate.Acquire(ctx, operation)
	e.metrics.Observe(MetricLockWaitLatency, time.Since(start))
	if err == nil {
		return grant.Release, nil
	}

	if errors.Is(err, lock.ErrWaitTimeout) && e.config.Lock.ProceedOnTimeout {
		e.metrics.Inc(MetricLockBypassed)
		e.logger.Warn("proceeding without operation lock", slog.String("operation", operation))
		e.emitAudit(ctx, auditEventLockBypassed, false, "", "", err, func() map[string]string {
			return map[string]string{"operation": operation}
		})
		return func() {}, nil
	}
	if errors.Is(err, lock.ErrClosed) {
		return nil, errors.Join(ErrEngineClosed, err)
	}
	return nil, err
}

// SecurityReport summarizes the engine's effective security posture.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.config
	return SecurityReport{
		ProductionMode:        cfg.ProductionMode,
		FingerprintBinding:    cfg.Session.BindFingerprint,
		StoreKeyBinding:       cfg.Store.BindToFingerprint,
		EphemeralStoreKey:     e.ephemeralKey,
		StoreBackend:          cfg.Store.Backend,
		BroadcastBackend:      cfg.Broadcast.Backend,
		SignedBroadcast:       cfg.Session.CrossContextSync && cfg.Broadcast.Backend == BackendRedis,
		CrossContextSync:      cfg.Session.CrossContextSync,
		MaxConcurrentSessions: cfg.Session.MaxConcurrentSessions,
		LockProceedOnTimeout:  cfg.Lock.ProceedOnTimeout,
		LoginThrottle:         cfg.Throttle.Enabled,
		AuditEnabled:          cfg.Audit.Enabled,
		MetricsEnabled:        cfg.Metrics.Enabled,
		Warnings:              cfg.Lint().Codes(),
	}
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// BroadcastDropped returns how many bus events were dropped because a
// subscriber was slow. Buses that do not count drops report 0.
func (e *Engine) BroadcastDropped() uint64 {
	if e == nil || e.bus == nil {
		return 0
	}
	if d, ok := e.bus.(interface{ Dropped() uint64 }); ok {
		return d.Dropped()
	}
	return 0
}

// MetricsSnapshot copies the engine's metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return NewMetrics(MetricsConfig{}).Snapshot()
	}
	return e.metrics.Snapshot()
}

func (e *Engine) startStoreSweeper(sc StoreConfig) {
	if sc.SweepInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.sweep = cancel
	sweeper := &securestore.Sweeper{
		Store:    e.store,
		Interval: sc.SweepInterval,
		OnSweep: func(purged int, err error) {
			if purged > 0 {
				e.metrics.Add(MetricStoreSwept, uint64(purged))
			}
			if err != nil {
				e.logger.Warn("secure store sweep failed", slog.String("error", err.Error()))
			}
		},
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		sweeper.Run(ctx)
	}()
}

// Close stops background work, fails queued lock waiters, closes the buses
// and clients the engine created and flushes audit events. It is idempotent.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.closeErr = e.closeResources()
	})
	return e.closeErr
}

func (e *Engine) closeResources() error {
	if e.registry != nil {
		e.registry.Close()
	}
	if e.gate != nil {
		e.gate.Close()
	}
	if e.sweep != nil {
		e.sweep()
	}
	e.wg.Wait()

	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	e.audit.Close()
	return errors.Join(errs...)
}
