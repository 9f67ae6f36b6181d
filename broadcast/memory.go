package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is the per-subscriber buffer when none is given.
const DefaultBufferSize = 64

// MemoryBus delivers events to subscribers in the same process. Events for a
// subscriber whose buffer is full are dropped. All methods are safe for
// concurrent use.
type MemoryBus struct {
	bufferSize int
	dropped    atomic.Uint64

	mu          sync.RWMutex
	subscribers map[*memorySubscription]struct{}
	closed      bool
	cleanupWg   sync.WaitGroup
}

// NewMemoryBus creates a bus with the given per-subscriber buffer (minimum 1).
func NewMemoryBus(bufferSize int) *MemoryBus {
	if bufferSize == 0 {
		bufferSize = DefaultBufferSize
	}
	return &MemoryBus{
		bufferSize:  max(bufferSize, 1),
		subscribers: make(map[*memorySubscription]struct{}),
	}
}

// Publish fans ev out without blocking.
func (b *MemoryBus) Publish(_ context.Context, ev Event) error {
	ev.stamp(time.Now())
	if err := ev.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.subscribers {
		if !sub.send(ev) {
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a subscriber. It is removed when ctx is cancelled or
// the returned Subscription is closed.
func (b *MemoryBus) Subscribe(ctx context.Context) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		bus:  b,
		ch:   make(chan Event, b.bufferSize),
		stop: make(chan struct{}),
	}
	b.subscribers[sub] = struct{}{}

	if ctx != nil && ctx.Done() != nil {
		b.cleanupWg.Add(1)
		go func() {
			defer b.cleanupWg.Done()
			select {
			case <-ctx.Done():
				b.unsubscribe(sub)
			case <-sub.stop:
			}
		}()
	}
	return sub, nil
}

// Dropped returns how many deliveries were skipped for full buffers.
func (b *MemoryBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close ends every subscription. It is safe to call more than once.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*memorySubscription, 0, len(b.subscribers))
	for sub := range b.subscribers {
		subs = append(subs, sub)
	}
	clear(b.subscribers)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
	b.cleanupWg.Wait()
	return nil
}

func (b *MemoryBus) unsubscribe(sub *memorySubscription) {
	b.mu.Lock()
	delete(b.subscribers, sub)
	b.mu.Unlock()
	sub.shutdown()
}

type memorySubscription struct {
	bus *MemoryBus
	ch  chan Event

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

func (s *memorySubscription) Events() <-chan Event { return s.ch }

func (s *memorySubscription) Close() error {
	s.bus.unsubscribe(s)
	return nil
}

func (s *memorySubscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
		close(s.stop)
	}
}

func (s *memorySubscription) send(ev Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}
