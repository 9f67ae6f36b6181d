package rate

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config holds login throttle tuning.
type Config struct {
	MaxAttempts int
	Window      time.Duration
}

// Limiter enforces a per-identifier budget of failed logins.
type Limiter struct {
	counter Counter
	config  Config
}

// New creates a Limiter over counter.
func New(counter Counter, cfg Config) (*Limiter, error) {
	if counter == nil {
		return nil, fmt.Errorf("rate: nil counter")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("rate: MaxAttempts must be >= 1")
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("rate: Window must be > 0")
	}
	return &Limiter{counter: counter, config: cfg}, nil
}

// CheckLogin returns ErrRateLimited when identifier has no attempts left in
// the current window.
func (l *Limiter) CheckLogin(ctx context.Context, identifier string) error {
	count, err := l.counter.Get(ctx, loginKey(identifier))
	if err != nil {
		return err
	}
	if count >= int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// RecordFailure counts a failed login. It returns ErrRateLimited when this
// failure used up the budget.
func (l *Limiter) RecordFailure(ctx context.Context, identifier string) error {
	count, err := l.counter.Incr(ctx, loginKey(identifier), l.config.Window)
	if err != nil {
		return err
	}
	if count >= int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// ResetLogin clears the failure count after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, identifier string) error {
	return l.counter.Reset(ctx, loginKey(identifier))
}

// Attempts returns the failures counted in the current window.
func (l *Limiter) Attempts(ctx context.Context, identifier string) (int, error) {
	count, err := l.counter.Get(ctx, loginKey(identifier))
	return int(count), err
}

// Identifiers are case-folded so "Alice" and "alice" share one budget.
func loginKey(identifier string) string {
	return "login:" + strings.ToLower(strings.TrimSpace(identifier))
}
