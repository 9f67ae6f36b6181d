package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConfig is returned by New for unusable configuration.
	ErrInvalidConfig = errors.New("session: invalid config")
	// ErrClosed is returned by CreateSession after Close.
	ErrClosed = errors.New("session: registry closed")
	// ErrInvalidUser is returned by CreateSession for an empty user id.
	ErrInvalidUser = errors.New("session: invalid user id")
	// ErrFingerprintUnavailable is returned by CreateSession when binding is
	// enabled and no environment could be read.
	ErrFingerprintUnavailable = errors.New("session: fingerprint unavailable")
)

// Config is fixed at construction.
type Config struct {
	// IdleTimeout invalidates sessions without activity for longer than this.
	IdleTimeout time.Duration
	// MaxSessionAge invalidates sessions older than this regardless of activity.
	MaxSessionAge time.Duration
	// MaxConcurrentSessions caps active sessions per user.
	MaxConcurrentSessions int
	// UseSecureStore persists sessions through the secure store.
	UseSecureStore bool
	// CrossContextSync publishes and applies bus events.
	CrossContextSync bool
	// BindFingerprint rejects sessions presented from another environment.
	BindFingerprint bool
	// SweepInterval runs a background expiry sweep; 0 disables it.
	SweepInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:           30 * time.Minute,
		MaxSessionAge:         24 * time.Hour,
		MaxConcurrentSessions: 3,
		UseSecureStore:        true,
		CrossContextSync:      true,
		BindFingerprint:       true,
		SweepInterval:         time.Minute,
	}
}

// Validate rejects settings that cannot produce a working registry.
func (c Config) Validate() error {
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("%w: IdleTimeout must be > 0", ErrInvalidConfig)
	}
	if c.MaxSessionAge <= 0 {
		return fmt.Errorf("%w: MaxSessionAge must be > 0", ErrInvalidConfig)
	}
	if c.MaxConcurrentSessions < 1 {
		return fmt.Errorf("%w: MaxConcurrentSessions must be >= 1", ErrInvalidConfig)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("%w: SweepInterval must be >= 0", ErrInvalidConfig)
	}
	return nil
}
