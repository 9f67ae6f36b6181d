package securestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/sessionguard/internal/clock"
)

// DefaultCompressThreshold is the serialized size from which values are
// compressed when Config.CompressThreshold is zero.
const DefaultCompressThreshold = 1024

// EventKind classifies records the store discarded.
type EventKind uint8

const (
	// EventIntegrityFailure means the checksum did not match (tampering or key change).
	EventIntegrityFailure EventKind = iota + 1
	// EventCorruption means the record could not be parsed, decrypted or decoded.
	EventCorruption
	// EventExpired means the record outlived its expiration.
	EventExpired
)

func (k EventKind) String() string {
	switch k {
	case EventIntegrityFailure:
		return "integrity_failure"
	case EventCorruption:
		return "corruption"
	case EventExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Event reports a purged record. Key is the sanitized storage key.
type Event struct {
	Kind EventKind
	Key  string
}

// Config wires a Store.
type Config struct {
	Backend Backend
	Keys    Keys
	// CompressThreshold: 0 selects DefaultCompressThreshold, negative disables.
	CompressThreshold int
	Clock             clock.Clock
	Logger            *slog.Logger
	OnEvent           func(Event)
}

// Store is the encrypted key/value store. It is safe for concurrent use when
// the backend is.
type Store struct {
	backend   Backend
	keys      Keys
	threshold int
	clock     clock.Clock
	logger    *slog.Logger
	onEvent   func(Event)
}

// New validates cfg and returns a Store.
func New(cfg Config) (*Store, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}
	if !cfg.Keys.Valid() {
		return nil, fmt.Errorf("%w: keys must come from DeriveKeys or KeysFromPassphrase", ErrInvalidConfig)
	}
	threshold := cfg.CompressThreshold
	if threshold == 0 {
		threshold = DefaultCompressThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:   cfg.Backend,
		keys:      cfg.Keys,
		threshold: threshold,
		clock:     clock.OrSystem(cfg.Clock),
		logger:    logger.With(slog.String("component", "securestore")),
		onEvent:   cfg.OnEvent,
	}, nil
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

// Set stores value under key. ttl <= 0 means no expiration.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	k, err := SanitizeKey(key)
	if err != nil {
		return err
	}

	plain, codec, err := serialize(value)
	if err != nil {
		return errors.Join(ErrEncodeFailed, err)
	}
	payload, compressed := compress(plain, s.threshold)

	sealed, err := seal(s.keys.data, k, payload)
	if err != nil {
		return errors.Join(ErrEncodeFailed, err)
	}

	now := s.clock.Now()
	env := &envelope{
		Version:    envelopeVersion,
		Codec:      codec,
		Compressed: compressed,
		Ciphertext: sealed,
		Timestamp:  now.UnixMilli(),
	}
	if ttl > 0 {
		env.Expiration = now.Add(ttl).UnixMilli()
	}
	env.Checksum = env.checksum(s.keys.mac, k)

	raw, err := marshalEnvelope(env)
	if err != nil {
		return errors.Join(ErrEncodeFailed, err)
	}
	return s.backend.Set(ctx, k, raw, ttl)
}

// Get decodes the value under key into dst. It reports false for missing,
// expired, tampered or undecodable records; the latter three are purged.
func (s *Store) Get(ctx context.Context, key string, dst any) (bool, error) {
	k, err := SanitizeKey(key)
	if err != nil {
		return false, err
	}

	env, ok, err := s.load(ctx, k)
	if err != nil || !ok {
		return false, err
	}

	payload, err := open(s.keys.data, k, env.Ciphertext)
	if err == nil && env.Compressed {
		payload, err = decompress(payload)
	}
	if err == nil {
		err = deserialize(payload, env.Codec, dst)
	}
	if err != nil {
		return false, s.discard(ctx, k, EventCorruption)
	}
	return true, nil
}

// GetAs is the generic form of Store.Get.
func GetAs[T any](ctx context.Context, s *Store, key string) (T, bool, error) {
	var v T
	ok, err := s.Get(ctx, key, &v)
	if !ok || err != nil {
		var zero T
		return zero, false, err
	}
	return v, true, nil
}

// Has reports whether key holds a live, intact record. It does not decrypt.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	k, err := SanitizeKey(key)
	if err != nil {
		return false, err
	}
	_, ok, err := s.load(ctx, k)
	return ok, err
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	k, err := SanitizeKey(key)
	if err != nil {
		return err
	}
	return s.backend.Remove(ctx, k)
}

// Clear removes every record in the backend's namespace.
func (s *Store) Clear(ctx context.Context) error {
	return s.backend.Clear(ctx)
}

// Keys lists stored keys, including ones that have expired but not yet been swept.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	return s.backend.Keys(ctx)
}

// Size returns the total size in bytes of the stored envelopes.
func (s *Store) Size(ctx context.Context) (int64, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, k := range keys {
		raw, err := s.backend.Get(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return total, err
		}
		total += int64(len(raw))
	}
	return total, nil
}

// CleanExpired purges expired and damaged records and returns how many were removed.
func (s *Store) CleanExpired(ctx context.Context) (int, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		raw, err := s.backend.Get(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return purged, err
		}
		if _, kind := s.check(k, raw); kind != 0 {
			if err := s.discard(ctx, k, kind); err != nil {
				return purged, err
			}
			purged++
		}
	}
	if purged > 0 {
		s.logger.Debug("expired records purged", slog.Int("count", purged))
	}
	return purged, nil
}

// load fetches and verifies the envelope for k, purging it when unusable.
func (s *Store) load(ctx context.Context, k string) (*envelope, bool, error) {
	raw, err := s.backend.Get(ctx, k)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	env, kind := s.check(k, raw)
	if kind != 0 {
		return nil, false, s.discard(ctx, k, kind)
	}
	return env, true, nil
}

// check parses and verifies raw. A non-zero kind means the record must go.
func (s *Store) check(k string, raw []byte) (*envelope, EventKind) {
	env, err := unmarshalEnvelope(raw)
	if err != nil {
		return nil, EventCorruption
	}
	if !env.verify(s.keys.mac, k) {
		return nil, EventIntegrityFailure
	}
	if env.Expiration > 0 && s.clock.Now().UnixMilli() >= env.Expiration {
		return nil, EventExpired
	}
	return env, 0
}

func (s *Store) discard(ctx context.Context, k string, kind EventKind) error {
	switch kind {
	case EventIntegrityFailure:
		s.logger.Warn("record failed integrity check, purged")
	case EventCorruption:
		s.logger.Warn("corrupt record purged")
	}
	if s.onEvent != nil {
		s.onEvent(Event{Kind: kind, Key: k})
	}
	if err := s.backend.Remove(ctx, k); err != nil {
		return err
	}
	return nil
}
