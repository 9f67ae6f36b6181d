package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultAutoRelease is how long a grant may be held before it is cleared.
	DefaultAutoRelease = 30 * time.Second
	// DefaultWaitTimeout bounds how long Acquire waits for a busy gate.
	DefaultWaitTimeout = 10 * time.Second
)

// Lock describes the outstanding grant.
type Lock struct {
	ID            string
	Operation     string
	AcquiredAt    time.Time
	AutoReleaseAt time.Time
}

// EventKind identifies a gate transition reported to Config.OnEvent.
type EventKind uint8

const (
	EventAcquired EventKind = iota + 1
	EventContended
	EventReleased
	EventAutoReleased
	EventForceReleased
	EventWaitTimeout
)

// String returns the log/audit name of k.
func (k EventKind) String() string {
	switch k {
	case EventAcquired:
		return "acquired"
	case EventContended:
		return "contended"
	case EventReleased:
		return "released"
	case EventAutoReleased:
		return "auto_released"
	case EventForceReleased:
		return "force_released"
	case EventWaitTimeout:
		return "wait_timeout"
	default:
		return "unknown"
	}
}

// Event is delivered to Config.OnEvent outside the gate's internal lock.
type Event struct {
	Kind      EventKind
	LockID    string
	Operation string
	// Wait is the time spent queued before the grant (EventAcquired,
	// EventWaitTimeout) or the time the lock was held (release events).
	Wait time.Duration
}

// Config controls gate timing. Zero durations select the defaults.
type Config struct {
	AutoRelease time.Duration
	WaitTimeout time.Duration
	Logger      *slog.Logger
	OnEvent     func(Event)
}

// Validate rejects negative durations.
func (c Config) Validate() error {
	if c.AutoRelease < 0 {
		return fmt.Errorf("%w: AutoRelease must be >= 0", ErrInvalidConfig)
	}
	if c.WaitTimeout < 0 {
		return fmt.Errorf("%w: WaitTimeout must be >= 0", ErrInvalidConfig)
	}
	return nil
}

type holder struct {
	lock  Lock
	timer *time.Timer
}

type waiter struct {
	operation string
	queuedAt  time.Time
	ready     chan struct{}
	held      *holder
	err       error
}

// Gate is a FIFO mutual-exclusion gate for authentication operations.
// All methods are safe for concurrent use.
type Gate struct {
	autoRelease time.Duration
	waitTimeout time.Duration
	logger      *slog.Logger
	onEvent     func(Event)

	mu      sync.Mutex
	current *holder
	queue   []*waiter
	closed  bool
}

// New validates cfg and returns an unlocked gate.
func New(cfg Config) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.AutoRelease == 0 {
		cfg.AutoRelease = DefaultAutoRelease
	}
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gate{
		autoRelease: cfg.AutoRelease,
		waitTimeout: cfg.WaitTimeout,
		logger:      logger.With(slog.String("component", "lock")),
		onEvent:     cfg.OnEvent,
	}, nil
}

// Acquire blocks until the gate is handed to the caller, ctx is done, or the
// wait ceiling elapses ([ErrWaitTimeout]).
func (g *Gate) Acquire(ctx context.Context, operation string) (*Grant, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrClosed
	}
	if g.current == nil && len(g.queue) == 0 {
		h := g.grantLocked(operation)
		g.mu.Unlock()
		g.acquired(h, 0)
		return g.newGrant(h), nil
	}

	w := &waiter{
		operation: operation,
		queuedAt:  time.Now(),
		ready:     make(chan struct{}),
	}
	g.queue = append(g.queue, w)
	heldBy := ""
	if g.current != nil {
		heldBy = g.current.lock.Operation
	}
	position := len(g.queue)
	g.mu.Unlock()

	g.logger.Debug("lock busy, waiting",
		slog.String("operation", operation),
		slog.String("held_by", heldBy),
		slog.Int("position", position),
	)
	g.emit(Event{Kind: EventContended, Operation: operation})

	timer := time.NewTimer(g.waitTimeout)
	defer timer.Stop()

	select {
	case <-w.ready:
	case <-ctx.Done():
		if g.abandon(w) {
			return nil, ctx.Err()
		}
		<-w.ready
		if w.err == nil {
			// Handed over while the caller gave up; pass it on.
			g.release(w.held.lock.ID, EventReleased)
		}
		return nil, ctx.Err()
	case <-timer.C:
		if g.abandon(w) {
			wait := time.Since(w.queuedAt)
			g.logger.Warn("lock wait timeout",
				slog.String("operation", operation),
				slog.String("held_by", heldBy),
				slog.Duration("waited", wait),
			)
			g.emit(Event{Kind: EventWaitTimeout, Operation: operation, Wait: wait})
			return nil, ErrWaitTimeout
		}
		<-w.ready
	}

	if w.err != nil {
		return nil, w.err
	}
	g.acquired(w.held, time.Since(w.queuedAt))
	return g.newGrant(w.held), nil
}

// TryAcquire grants the lock only if it is free right now.
func (g *Gate) TryAcquire(operation string) (*Grant, bool) {
	g.mu.Lock()
	if g.closed || g.current != nil || len(g.queue) > 0 {
		g.mu.Unlock()
		return nil, false
	}
	h := g.grantLocked(operation)
	g.mu.Unlock()

	g.acquired(h, 0)
	return g.newGrant(h), true
}

// IsLocked reports whether a grant is outstanding.
func (g *Gate) IsLocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current != nil
}

// CurrentLockID returns the outstanding lock id, or "".
func (g *Gate) CurrentLockID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return ""
	}
	return g.current.lock.ID
}

// Current returns the outstanding lock.
func (g *Gate) Current() (Lock, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return Lock{}, false
	}
	return g.current.lock, true
}

// Waiting returns the number of queued callers.
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// ForceReleaseAll clears the holder and fails every queued waiter with
// [ErrForceReleased]. It is an emergency reset, not part of normal flow.
func (g *Gate) ForceReleaseAll() {
	prev, failed := g.reset(ErrForceReleased, false)
	if prev == nil && failed == 0 {
		return
	}

	attrs := []any{slog.Int("waiters_failed", failed)}
	ev := Event{Kind: EventForceReleased}
	if prev != nil {
		attrs = append(attrs,
			slog.String("lock_id", prev.ID),
			slog.String("operation", prev.Operation),
		)
		ev.LockID = prev.ID
		ev.Operation = prev.Operation
		ev.Wait = time.Since(prev.AcquiredAt)
	}
	g.logger.Warn("lock force released", attrs...)
	g.emit(ev)
}

// Close stops the auto-release timer and fails queued waiters with
// [ErrClosed]. Later Acquire calls fail. Close is idempotent.
func (g *Gate) Close() {
	prev, failed := g.reset(ErrClosed, true)
	if prev != nil || failed > 0 {
		g.logger.Debug("lock gate closed", slog.Int("waiters_failed", failed))
	}
}

func (g *Gate) reset(cause error, closing bool) (*Lock, int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if closing {
		if g.closed {
			return nil, 0
		}
		g.closed = true
	}

	var prev *Lock
	if g.current != nil {
		g.current.timer.Stop()
		l := g.current.lock
		prev = &l
		g.current = nil
	}

	failed := len(g.queue)
	for _, w := range g.queue {
		w.err = cause
		close(w.ready)
	}
	g.queue = nil

	return prev, failed
}

// grantLocked installs a new holder. g.mu must be held.
func (g *Gate) grantLocked(operation string) *holder {
	now := time.Now()
	h := &holder{
		lock: Lock{
			ID:            uuid.NewString(),
			Operation:     operation,
			AcquiredAt:    now,
			AutoReleaseAt: now.Add(g.autoRelease),
		},
	}
	id := h.lock.ID
	h.timer = time.AfterFunc(g.autoRelease, func() {
		g.release(id, EventAutoReleased)
	})
	g.current = h
	return h
}

// release clears the grant with the given id and hands the gate to the next
// waiter. Stale ids are ignored.
func (g *Gate) release(id string, kind EventKind) bool {
	g.mu.Lock()
	if g.current == nil || g.current.lock.ID != id {
		g.mu.Unlock()
		return false
	}
	g.current.timer.Stop()
	prev := g.current.lock
	g.current = nil

	if len(g.queue) > 0 {
		next := g.queue[0]
		g.queue[0] = nil
		g.queue = g.queue[1:]
		next.held = g.grantLocked(next.operation)
		close(next.ready)
	}
	g.mu.Unlock()

	held := time.Since(prev.AcquiredAt)
	if kind == EventAutoReleased {
		g.logger.Warn("lock auto released",
			slog.String("lock_id", prev.ID),
			slog.String("operation", prev.Operation),
			slog.Duration("held", held),
		)
	} else {
		g.logger.Debug("lock released",
			slog.String("lock_id", prev.ID),
			slog.String("operation", prev.Operation),
			slog.Duration("held", held),
		)
	}
	g.emit(Event{Kind: kind, LockID: prev.ID, Operation: prev.Operation, Wait: held})
	return true
}

// abandon removes w from the queue. It returns false when w was already
// granted or failed.
func (g *Gate) abandon(w *waiter) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, q := range g.queue {
		if q == w {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (g *Gate) acquired(h *holder, wait time.Duration) {
	g.logger.Info("lock acquired",
		slog.String("lock_id", h.lock.ID),
		slog.String("operation", h.lock.Operation),
		slog.Duration("waited", wait),
	)
	g.emit(Event{Kind: EventAcquired, LockID: h.lock.ID, Operation: h.lock.Operation, Wait: wait})
}

func (g *Gate) emit(ev Event) {
	if g.onEvent != nil {
		g.onEvent(ev)
	}
}

func (g *Gate) newGrant(h *holder) *Grant {
	return &Grant{lock: h.lock, gate: g}
}

// Grant is the caller's handle on an acquired lock.
type Grant struct {
	lock Lock
	gate *Gate
	once sync.Once
}

// ID returns the lock id.
func (g *Grant) ID() string { return g.lock.ID }

// Lock returns the lock record as it was when granted.
func (g *Grant) Lock() Lock { return g.lock }

// Release frees the lock. Calling it more than once, or after the lock was
// auto-released or force-released, is a no-op.
func (g *Grant) Release() {
	if g == nil || g.gate == nil {
		return
	}
	g.once.Do(func() {
		g.gate.release(g.lock.ID, EventReleased)
	})
}
