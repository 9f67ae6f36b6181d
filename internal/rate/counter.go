package rate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/sessionguard/internal/clock"
	"github.com/redis/go-redis/v9"
)

// Counter is a fixed-window counter store.
type Counter interface {
	// Incr adds one to key, starting a window of length window on the first
	// hit, and returns the new count.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	// Get returns the count in the current window, 0 when there is none.
	Get(ctx context.Context, key string) (int64, error)
	// Reset drops key.
	Reset(ctx context.Context, key string) error
}

/*
====================================
REDIS
====================================
*/

// RedisCounter keeps counters in Redis so every process sharing the client
// sees the same attempt budget.
type RedisCounter struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisCounter creates a RedisCounter namespacing keys with prefix + ":".
func NewRedisCounter(client redis.UniversalClient, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "sg"
	}
	return &RedisCounter{redis: client, prefix: prefix + ":"}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := c.prefix + key
	count, err := c.redis.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if count == 1 {
		if err := c.redis.Expire(ctx, k, window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}
	return count, nil
}

func (c *RedisCounter) Get(ctx context.Context, key string) (int64, error) {
	count, err := c.redis.Get(ctx, c.prefix+key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return max(count, 0), nil
}

func (c *RedisCounter) Reset(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

/*
====================================
MEMORY
====================================
*/

type window struct {
	count   int64
	expires time.Time
}

// MemoryCounter keeps counters in process memory. Expired windows are
// dropped lazily on access.
type MemoryCounter struct {
	mu      sync.Mutex
	clock   clock.Clock
	windows map[string]window
}

// NewMemoryCounter creates an empty MemoryCounter. A nil clock reads the
// system time.
func NewMemoryCounter(c clock.Clock) *MemoryCounter {
	return &MemoryCounter{
		clock:   clock.OrSystem(c),
		windows: make(map[string]window),
	}
}

func (c *MemoryCounter) Incr(_ context.Context, key string, d time.Duration) (int64, error) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[key]
	if !ok || !now.Before(w.expires) {
		w = window{expires: now.Add(d)}
	}
	w.count++
	c.windows[key] = w
	return w.count, nil
}

func (c *MemoryCounter) Get(_ context.Context, key string) (int64, error) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[key]
	if !ok {
		return 0, nil
	}
	if !now.Before(w.expires) {
		delete(c.windows, key)
		return 0, nil
	}
	return w.count, nil
}

func (c *MemoryCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.windows, key)
	c.mu.Unlock()
	return nil
}
