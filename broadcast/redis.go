package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Pub/Sub channel used when none is configured.
const DefaultChannel = "sessionguard:events"

// RedisBusConfig wires a RedisBus.
type RedisBusConfig struct {
	Client     redis.UniversalClient
	Channel    string
	Signer     *Signer
	BufferSize int
	Logger     *slog.Logger
}

// RedisBus publishes signed events over Redis Pub/Sub.
type RedisBus struct {
	client     redis.UniversalClient
	channel    string
	signer     *Signer
	bufferSize int
	logger     *slog.Logger

	rejected atomic.Uint64
	dropped  atomic.Uint64

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

// NewRedisBus validates cfg. A signer is required.
func NewRedisBus(cfg RedisBusConfig) (*RedisBus, error) {
	if cfg.Client == nil {
		return nil, errors.New("broadcast: redis client is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("broadcast: signer is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{
		client:     cfg.Client,
		channel:    cfg.Channel,
		signer:     cfg.Signer,
		bufferSize: cfg.BufferSize,
		logger:     logger.With(slog.String("component", "broadcast")),
		subs:       make(map[*redisSubscription]struct{}),
	}, nil
}

// Publish signs ev and publishes it.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	ev.stamp(time.Now())
	if err := ev.Validate(); err != nil {
		return err
	}
	token, err := b.signer.Sign(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, token).Err(); err != nil {
		return fmt.Errorf("broadcast: publish: %w", err)
	}
	return nil
}

// Subscribe opens a Pub/Sub subscription and waits for Redis to confirm it.
func (b *RedisBus) Subscribe(ctx context.Context) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.mu.Unlock()

	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("broadcast: subscribe: %w", err)
	}

	sub := &redisSubscription{
		bus:  b,
		ps:   ps,
		ch:   make(chan Event, b.bufferSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ps.Close()
		return nil, ErrClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.run(ctx)
	return sub, nil
}

// Rejected returns how many received payloads failed verification.
func (b *RedisBus) Rejected() uint64 { return b.rejected.Load() }

// Dropped returns how many verified events were skipped for full buffers.
func (b *RedisBus) Dropped() uint64 { return b.dropped.Load() }

// Close ends all subscriptions. The Redis client is not closed.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*redisSubscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	clear(b.subs)
	b.mu.Unlock()

	var errs []error
	for _, s := range subs {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

type redisSubscription struct {
	bus  *RedisBus
	ps   *redis.PubSub
	ch   chan Event
	stop chan struct{}
	done chan struct{}
	once sync.Once
	err  error
}

func (s *redisSubscription) Events() <-chan Event { return s.ch }

func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		close(s.stop)
		s.err = s.ps.Close()
		<-s.done
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
	})
	return s.err
}

func (s *redisSubscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.ch)

	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			go s.Close()
			return
		case <-s.stop:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			ev, err := s.bus.signer.Verify(msg.Payload)
			if err != nil {
				s.bus.rejected.Add(1)
				s.bus.logger.Warn("rejected unauthenticated event", slog.String("error", err.Error()))
				continue
			}
			select {
			case s.ch <- ev:
			default:
				s.bus.dropped.Add(1)
			}
		}
	}
}
