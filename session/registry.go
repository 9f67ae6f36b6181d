package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrEthical07/sessionguard/broadcast"
	"github.com/MrEthical07/sessionguard/fingerprint"
	"github.com/MrEthical07/sessionguard/internal"
	"github.com/MrEthical07/sessionguard/internal/clock"
	"github.com/google/uuid"
)

const (
	sessionKeyPrefix = "session:"
	userKeyPrefix    = "session-user:"
)

// Store is the persistence the registry needs. *securestore.Store satisfies it.
type Store interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string, dst any) (bool, error)
	Remove(ctx context.Context, key string) error
}

// EventKind classifies registry transitions reported to Deps.OnEvent.
type EventKind uint8

const (
	EventCreated EventKind = iota + 1
	EventDestroyed
	EventActivity
	EventValidated
	EventRejected
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventDestroyed:
		return "destroyed"
	case EventActivity:
		return "activity"
	case EventValidated:
		return "validated"
	case EventRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Event is a registry transition. Remote is set for transitions applied from
// another context.
type Event struct {
	Kind      EventKind
	SessionID string
	UserID    string
	Reason    string
	Remote    bool
}

// Deps are the registry's collaborators. Store is required with
// UseSecureStore, Bus with CrossContextSync.
type Deps struct {
	Store        Store
	Bus          broadcast.Bus
	Fingerprints fingerprint.Source
	Clock        clock.Clock
	Logger       *slog.Logger
	OnEvent      func(Event)
}

// Registry tracks sessions for one execution context. All methods are safe
// for concurrent use.
type Registry struct {
	cfg          Config
	store        Store
	bus          broadcast.Bus
	fingerprints fingerprint.Source
	clock        clock.Clock
	logger       *slog.Logger
	onEvent      func(Event)
	origin       string

	mu         sync.Mutex
	sessions   map[string]*Session
	byUser     map[string]map[string]struct{}
	tombstones map[string]time.Time
	closed     bool

	// indexLocks serializes snapshot-and-write of each user's persisted index.
	indexLocks userLocks

	cancel context.CancelFunc
	sub    broadcast.Subscription
	wg     sync.WaitGroup
}

// New validates cfg and starts the bus listener and sweeper when enabled.
func New(cfg Config, deps Deps) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.UseSecureStore && deps.Store == nil {
		return nil, fmt.Errorf("%w: UseSecureStore requires a store", ErrInvalidConfig)
	}
	if cfg.CrossContextSync && deps.Bus == nil {
		return nil, fmt.Errorf("%w: CrossContextSync requires a bus", ErrInvalidConfig)
	}
	if cfg.BindFingerprint && deps.Fingerprints == nil {
		return nil, fmt.Errorf("%w: BindFingerprint requires a fingerprint source", ErrInvalidConfig)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		cfg:          cfg,
		store:        deps.Store,
		bus:          deps.Bus,
		fingerprints: deps.Fingerprints,
		clock:        clock.OrSystem(deps.Clock),
		logger:       logger.With(slog.String("component", "session")),
		onEvent:      deps.OnEvent,
		origin:       uuid.NewString(),
		sessions:     make(map[string]*Session),
		byUser:       make(map[string]map[string]struct{}),
		tombstones:   make(map[string]time.Time),
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	if cfg.CrossContextSync {
		sub, err := r.bus.Subscribe(ctx)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("session: subscribe: %w", err)
		}
		r.sub = sub
		r.wg.Add(1)
		go r.listen(ctx)
	}
	if cfg.SweepInterval > 0 {
		r.wg.Add(1)
		go r.sweepLoop(ctx)
	}
	return r, nil
}

// Origin returns the id this registry stamps on outgoing events.
func (r *Registry) Origin() string { return r.origin }

// Config returns the registry configuration.
func (r *Registry) Config() Config { return r.cfg }

// CreateSession starts a session for userID and returns its id. If the user
// is at MaxConcurrentSessions, the least recently active sessions are
// destroyed with ReasonConcurrencyLimit.
func (r *Registry) CreateSession(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrInvalidUser
	}
	if r.isClosed() {
		return "", ErrClosed
	}

	fp, err := r.GenerateFingerprint(ctx)
	if err != nil {
		if r.cfg.BindFingerprint {
			return "", errors.Join(ErrFingerprintUnavailable, err)
		}
		fp = fingerprint.Fingerprint{}
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return "", err
	}
	id := sid.String()

	// Pull in sessions sibling contexts created for this user so the cap holds.
	r.loadUser(ctx, userID)

	now := r.clock.Now()
	sess := &Session{
		ID:           id,
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		Fingerprint:  fp,
		Active:       true,
	}

	// Persist before evicting: a failed write must leave existing sessions intact.
	if r.persisting() {
		if err := r.store.Set(ctx, sessionKey(id), *sess, r.cfg.MaxSessionAge); err != nil {
			return "", err
		}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		if r.persisting() {
			_ = r.store.Remove(ctx, sessionKey(id))
		}
		return "", ErrClosed
	}
	victims := r.overCapLocked(userID)
	for _, v := range victims {
		r.forgetLocked(v.ID, now)
	}
	r.insertLocked(sess)
	r.mu.Unlock()

	for _, v := range victims {
		r.finishDestroy(ctx, v, ReasonConcurrencyLimit, false)
	}
	if r.persisting() {
		r.persistIndex(ctx, userID)
	}

	r.publish(ctx, broadcast.Event{
		Kind:         broadcast.KindCreated,
		SessionID:    id,
		UserID:       userID,
		LastActivity: now,
	})
	r.logger.Info("session created",
		slog.String("user_id", userID),
		slog.Int("evicted", len(victims)),
		slog.Bool("fingerprint_bound", r.cfg.BindFingerprint),
	)
	r.emit(Event{Kind: EventCreated, SessionID: id, UserID: userID})
	return id, nil
}

// ValidateSession reports whether id names a live session presented from
// its bound environment. Any false result for an existing session destroys it.
func (r *Registry) ValidateSession(ctx context.Context, id string) bool {
	sess, ok := r.lookup(ctx, id)
	if !ok {
		return false
	}

	reason := r.expiryReason(sess, r.clock.Now())
	if reason == "" && r.cfg.BindFingerprint && !r.fingerprintMatches(ctx, sess) {
		reason = ReasonFingerprintMismatch
		r.logger.Warn("session fingerprint mismatch", slog.String("user_id", sess.UserID))
	}
	if reason != "" {
		r.emit(Event{Kind: EventRejected, SessionID: id, UserID: sess.UserID, Reason: reason})
		r.DestroySession(ctx, id, reason)
		return false
	}

	r.emit(Event{Kind: EventValidated, SessionID: id, UserID: sess.UserID})
	return true
}

// UpdateActivity moves the session's LastActivity to now. It returns false
// for unknown sessions and destroys sessions that have already expired or,
// when bound, are presented from another environment.
func (r *Registry) UpdateActivity(ctx context.Context, id string) bool {
	sess, ok := r.lookup(ctx, id)
	if !ok {
		return false
	}
	if r.cfg.BindFingerprint && !r.fingerprintMatches(ctx, sess) {
		r.logger.Warn("session fingerprint mismatch", slog.String("user_id", sess.UserID))
		r.emit(Event{Kind: EventRejected, SessionID: id, UserID: sess.UserID, Reason: ReasonFingerprintMismatch})
		r.DestroySession(ctx, id, ReasonFingerprintMismatch)
		return false
	}

	now := r.clock.Now()
	r.mu.Lock()
	cur, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if reason := r.expiryReason(*cur, now); reason != "" {
		r.mu.Unlock()
		r.DestroySession(ctx, id, reason)
		return false
	}
	if now.After(cur.LastActivity) {
		cur.LastActivity = now
	}
	snapshot := *cur
	r.mu.Unlock()

	if r.persisting() {
		ttl := max(snapshot.CreatedAt.Add(r.cfg.MaxSessionAge).Sub(now), time.Millisecond)
		if err := r.store.Set(ctx, sessionKey(id), snapshot, ttl); err != nil {
			r.logger.Warn("session activity not persisted", slog.String("error", err.Error()))
		}
	}
	r.publish(ctx, broadcast.Event{
		Kind:         broadcast.KindActivity,
		SessionID:    id,
		UserID:       snapshot.UserID,
		LastActivity: snapshot.LastActivity,
	})
	r.emit(Event{Kind: EventActivity, SessionID: id, UserID: snapshot.UserID})
	return true
}

// DestroySession deactivates id, removes its persisted state and notifies
// sibling contexts. It returns false when the session was not known.
// Destroyed ids never become valid again in this registry.
func (r *Registry) DestroySession(ctx context.Context, id, reason string) bool {
	sess, ok := r.lookup(ctx, id)

	r.mu.Lock()
	if cur, exists := r.sessions[id]; exists {
		sess, ok = *cur, true
	}
	r.forgetLocked(id, r.clock.Now())
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.finishDestroy(ctx, sess, reason, false)
	return true
}

// DestroyUserSessions destroys every session of userID and returns how many
// were destroyed.
func (r *Registry) DestroyUserSessions(ctx context.Context, userID, reason string) int {
	n := 0
	for _, s := range r.UserSessions(ctx, userID) {
		if r.DestroySession(ctx, s.ID, reason) {
			n++
		}
	}
	return n
}

// SessionInfo returns a copy of the session without validating it.
func (r *Registry) SessionInfo(ctx context.Context, id string) (Session, bool) {
	return r.lookup(ctx, id)
}

// UserSessions returns the user's known active sessions, oldest first.
func (r *Registry) UserSessions(ctx context.Context, userID string) []Session {
	r.loadUser(ctx, userID)

	r.mu.Lock()
	out := make([]Session, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		if s, ok := r.sessions[id]; ok && s.Active {
			out = append(out, *s)
		}
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b Session) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// GenerateFingerprint computes the fingerprint of the current environment.
func (r *Registry) GenerateFingerprint(ctx context.Context) (fingerprint.Fingerprint, error) {
	if r.fingerprints == nil {
		return fingerprint.Fingerprint{}, fingerprint.ErrNoEnvironment
	}
	env, err := r.fingerprints.Environment(ctx)
	if err != nil {
		return fingerprint.Fingerprint{}, err
	}
	return fingerprint.Generate(env), nil
}

// Sweep destroys expired sessions held in memory and drops old tombstones.
// It returns the number of sessions destroyed.
func (r *Registry) Sweep(ctx context.Context) int {
	now := r.clock.Now()

	type expired struct {
		sess   Session
		reason string
	}
	var batch []expired

	r.mu.Lock()
	for id, s := range r.sessions {
		if reason := r.expiryReason(*s, now); reason != "" {
			batch = append(batch, expired{sess: *s, reason: reason})
			r.forgetLocked(id, now)
		}
	}
	horizon := now.Add(-(r.cfg.MaxSessionAge + r.cfg.IdleTimeout))
	for id, at := range r.tombstones {
		if at.Before(horizon) {
			delete(r.tombstones, id)
		}
	}
	r.mu.Unlock()

	for _, e := range batch {
		r.finishDestroy(ctx, e.sess, e.reason, false)
	}
	if len(batch) > 0 {
		r.logger.Debug("session sweep", slog.Int("destroyed", len(batch)))
	}
	return len(batch)
}

// Close stops background work and drops in-memory state. Persisted sessions
// are left for other contexts. Close is idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	if r.sub != nil {
		_ = r.sub.Close()
	}
	r.wg.Wait()

	r.mu.Lock()
	clear(r.sessions)
	clear(r.byUser)
	clear(r.tombstones)
	r.mu.Unlock()
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Registry) persisting() bool {
	return r.cfg.UseSecureStore && r.store != nil
}

func (r *Registry) expiryReason(s Session, now time.Time) string {
	switch {
	case !s.Active:
		return ReasonInactive
	case s.IdleFor(now) > r.cfg.IdleTimeout:
		return ReasonIdleTimeout
	case s.Age(now) > r.cfg.MaxSessionAge:
		return ReasonMaxAge
	}
	return ""
}

func (r *Registry) fingerprintMatches(ctx context.Context, s Session) bool {
	current, err := r.GenerateFingerprint(ctx)
	if err != nil {
		return false
	}
	return current.Equal(s.Fingerprint)
}

// lookup returns the session from memory, rehydrating it from the store when
// it is absent. Tombstoned ids are never returned.
func (r *Registry) lookup(ctx context.Context, id string) (Session, bool) {
	if id == "" {
		return Session{}, false
	}
	r.mu.Lock()
	if _, dead := r.tombstones[id]; dead || r.closed {
		r.mu.Unlock()
		return Session{}, false
	}
	if s, ok := r.sessions[id]; ok {
		out := *s
		r.mu.Unlock()
		return out, true
	}
	r.mu.Unlock()

	return r.rehydrate(ctx, id)
}

func (r *Registry) rehydrate(ctx context.Context, id string) (Session, bool) {
	if !r.persisting() {
		return Session{}, false
	}
	var s Session
	ok, err := r.store.Get(ctx, sessionKey(id), &s)
	if err != nil {
		r.logger.Warn("session rehydrate failed", slog.String("error", err.Error()))
		return Session{}, false
	}
	if !ok || s.ID != id || !s.Active {
		return Session{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dead := r.tombstones[id]; dead || r.closed {
		return Session{}, false
	}
	if cur, ok := r.sessions[id]; ok {
		return *cur, true
	}
	r.insertLocked(&s)
	return s, true
}

// loadUser rehydrates the user's sessions listed in the persisted index.
func (r *Registry) loadUser(ctx context.Context, userID string) {
	if !r.persisting() {
		return
	}
	var ids []string
	ok, err := r.store.Get(ctx, userKey(userID), &ids)
	if err != nil || !ok {
		return
	}
	for _, id := range ids {
		r.mu.Lock()
		_, known := r.sessions[id]
		r.mu.Unlock()
		if !known {
			r.rehydrate(ctx, id)
		}
	}
}

// overCapLocked returns the sessions to evict so one more fits under the cap.
func (r *Registry) overCapLocked(userID string) []Session {
	active := make([]Session, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		if s, ok := r.sessions[id]; ok && s.Active {
			active = append(active, *s)
		}
	}
	excess := len(active) - r.cfg.MaxConcurrentSessions + 1
	if excess <= 0 {
		return nil
	}
	slices.SortFunc(active, func(a, b Session) int {
		return a.LastActivity.Compare(b.LastActivity)
	})
	return active[:excess]
}

func (r *Registry) insertLocked(s *Session) {
	r.sessions[s.ID] = s
	ids, ok := r.byUser[s.UserID]
	if !ok {
		ids = make(map[string]struct{})
		r.byUser[s.UserID] = ids
	}
	ids[s.ID] = struct{}{}
}

// forgetLocked drops id from memory. A non-zero at tombstones it.
func (r *Registry) forgetLocked(id string, at time.Time) {
	if s, ok := r.sessions[id]; ok {
		s.Active = false
		if ids := r.byUser[s.UserID]; ids != nil {
			delete(ids, id)
			if len(ids) == 0 {
				delete(r.byUser, s.UserID)
			}
		}
		delete(r.sessions, id)
	}
	if !at.IsZero() {
		r.tombstones[id] = at
	}
}

func (r *Registry) userIDsLocked(userID string) []string {
	ids := make([]string, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// finishDestroy performs the side effects of a destruction already applied
// in memory. Remote destructions were persisted and broadcast by their origin.
func (r *Registry) finishDestroy(ctx context.Context, s Session, reason string, remote bool) {
	if !remote {
		if r.persisting() {
			if err := r.store.Remove(ctx, sessionKey(s.ID)); err != nil {
				r.logger.Warn("session record not removed", slog.String("error", err.Error()))
			}
			r.persistIndex(ctx, s.UserID)
		}
		r.publish(ctx, broadcast.Event{
			Kind:      broadcast.KindDestroyed,
			SessionID: s.ID,
			UserID:    s.UserID,
			Reason:    reason,
		})
	}

	r.logger.Info("session destroyed",
		slog.String("user_id", s.UserID),
		slog.String("reason", reason),
		slog.Bool("remote", remote),
	)
	r.emit(Event{Kind: EventDestroyed, SessionID: s.ID, UserID: s.UserID, Reason: reason, Remote: remote})
}

// persistIndex writes the user's current session ids. The snapshot is taken
// under the user's index lock so concurrent writers land in order.
func (r *Registry) persistIndex(ctx context.Context, userID string) {
	unlock := r.indexLocks.lock(userID)
	defer unlock()

	r.mu.Lock()
	ids := r.userIDsLocked(userID)
	r.mu.Unlock()

	var err error
	if len(ids) == 0 {
		err = r.store.Remove(ctx, userKey(userID))
	} else {
		err = r.store.Set(ctx, userKey(userID), ids, r.cfg.MaxSessionAge)
	}
	if err != nil {
		r.logger.Warn("session index not persisted", slog.String("error", err.Error()))
	}
}

func (r *Registry) publish(ctx context.Context, ev broadcast.Event) {
	if !r.cfg.CrossContextSync || r.bus == nil {
		return
	}
	ev.Origin = r.origin
	if err := r.bus.Publish(ctx, ev); err != nil {
		r.logger.Debug("session event not published",
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Registry) emit(ev Event) {
	if r.onEvent != nil {
		r.onEvent(ev)
	}
}

func (r *Registry) sweepLoop(ctx context.Context) {
	defer r.wg.Done()
	t := time.NewTicker(r.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Sweep(ctx)
		}
	}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// userKey hashes the user id so arbitrary ids map to a safe, bounded key.
func userKey(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return userKeyPrefix + hex.EncodeToString(sum[:16])
}

// userLocks hands out one mutex per user id and drops it once unused.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

func (l *userLocks) lock(userID string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*userLock)
	}
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.Lock()
	return func() {
		ul.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}
