package lock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestGate(t *testing.T, cfg Config) *Gate {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	g, err := New(cfg)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	t.Cleanup(g.Close)
	return g
}

func TestAcquireReleaseThenAcquireOther(t *testing.T) {
	g := newTestGate(t, Config{WaitTimeout: time.Second})
	ctx := context.Background()

	a, err := g.Acquire(ctx, "login")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	if !g.IsLocked() || g.CurrentLockID() != a.ID() {
		t.Fatal("expected gate to be held by a")
	}
	a.Release()
	if g.IsLocked() {
		t.Fatal("expected gate unlocked after release")
	}

	b, err := g.Acquire(ctx, "logout")
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	if b.ID() == a.ID() {
		t.Fatal("expected fresh lock id")
	}
	if b.Lock().Operation != "logout" {
		t.Fatalf("unexpected operation %q", b.Lock().Operation)
	}
	b.Release()
}

func TestSecondCallerWaitsForRelease(t *testing.T) {
	g := newTestGate(t, Config{WaitTimeout: 5 * time.Second})
	ctx := context.Background()

	a, err := g.Acquire(ctx, "login")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}

	got := make(chan *Grant, 1)
	go func() {
		b, err := g.Acquire(ctx, "login")
		if err != nil {
			t.Errorf("acquire b: %v", err)
			close(got)
			return
		}
		got <- b
	}()

	select {
	case <-got:
		t.Fatal("second caller proceeded while lock was held")
	case <-time.After(100 * time.Millisecond):
	}
	if g.Waiting() != 1 {
		t.Fatalf("expected 1 waiter, got %d", g.Waiting())
	}

	a.Release()

	select {
	case b := <-got:
		if b == nil {
			t.Fatal("second caller failed")
		}
		if g.CurrentLockID() != b.ID() {
			t.Fatal("expected lock handed to second caller")
		}
		b.Release()
	case <-time.After(time.Second):
		t.Fatal("second caller not woken after release")
	}
}

func TestWaitersAreServedInFIFOOrder(t *testing.T) {
	g := newTestGate(t, Config{WaitTimeout: 5 * time.Second})
	ctx := context.Background()

	first, err := g.Acquire(ctx, "hold")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			gr, err := g.Acquire(ctx, "op")
			if err != nil {
				t.Errorf("acquire %d: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			gr.Release()
		}(i)
		// Queue deterministically.
		deadline := time.Now().Add(time.Second)
		for g.Waiting() != i+1 {
			if time.Now().After(deadline) {
				t.Fatalf("waiter %d did not queue", i)
			}
			time.Sleep(time.Millisecond)
		}
	}

	first.Release()
	wg.Wait()

	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	g := newTestGate(t, Config{})
	ctx := context.Background()

	a, err := g.Acquire(ctx, "login")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	a.Release()

	b, err := g.Acquire(ctx, "refresh")
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	a.Release()
	if g.CurrentLockID() != b.ID() {
		t.Fatal("stale release must not free another holder's lock")
	}
	b.Release()
	b.Release()
	if g.IsLocked() {
		t.Fatal("expected unlocked")
	}
}

func TestAutoReleaseClearsForgottenGrant(t *testing.T) {
	var autoReleased atomic.Int32
	g := newTestGate(t, Config{
		AutoRelease: 50 * time.Millisecond,
		WaitTimeout: 2 * time.Second,
		OnEvent: func(ev Event) {
			if ev.Kind == EventAutoReleased {
				autoReleased.Add(1)
			}
		},
	})
	ctx := context.Background()

	forgotten, err := g.Acquire(ctx, "login")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	next, err := g.Acquire(ctx, "login")
	if err != nil {
		t.Fatalf("expected auto release to hand over lock, got %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for autoReleased.Load() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected one auto release event, got %d", autoReleased.Load())
		}
		time.Sleep(time.Millisecond)
	}

	forgotten.Release()
	if g.CurrentLockID() != next.ID() {
		t.Fatal("release of auto-released grant must be a no-op")
	}
	next.Release()
}

func TestWaitTimeoutIsExplicit(t *testing.T) {
	g := newTestGate(t, Config{WaitTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	a, err := g.Acquire(ctx, "login")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer a.Release()

	start := time.Now()
	_, err = g.Acquire(ctx, "logout")
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("expected ErrWaitTimeout, got %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("timeout returned before the wait ceiling")
	}
	if g.Waiting() != 0 {
		t.Fatal("timed out waiter must leave the queue")
	}
	if g.CurrentLockID() != a.ID() {
		t.Fatal("timeout must not disturb the holder")
	}
}

func TestContextCancellationLeavesQueue(t *testing.T) {
	g := newTestGate(t, Config{WaitTimeout: 5 * time.Second})

	a, err := g.Acquire(context.Background(), "login")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := g.Acquire(ctx, "login"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if g.Waiting() != 0 {
		t.Fatal("cancelled waiter must leave the queue")
	}

	a.Release()
	if g.IsLocked() {
		t.Fatal("expected unlocked after release with no waiters")
	}
}

func TestForceReleaseAllFailsWaiters(t *testing.T) {
	g := newTestGate(t, Config{WaitTimeout: 5 * time.Second})
	ctx := context.Background()

	a, err := g.Acquire(ctx, "login")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	errs := make(chan error, 1)
	go func() {
		_, err := g.Acquire(ctx, "logout")
		errs <- err
	}()
	for g.Waiting() == 0 {
		time.Sleep(time.Millisecond)
	}

	g.ForceReleaseAll()
	if err := <-errs; !errors.Is(err, ErrForceReleased) {
		t.Fatalf("expected ErrForceReleased, got %v", err)
	}
	if g.IsLocked() {
		t.Fatal("expected unlocked after force release")
	}

	a.Release()
	b, ok := g.TryAcquire("login")
	if !ok {
		t.Fatal("expected gate usable after force release")
	}
	b.Release()
}

func TestTryAcquire(t *testing.T) {
	g := newTestGate(t, Config{})

	a, ok := g.TryAcquire("login")
	if !ok {
		t.Fatal("expected free gate")
	}
	if _, ok := g.TryAcquire("login"); ok {
		t.Fatal("expected busy gate")
	}
	a.Release()
}

func TestCloseRejectsAcquire(t *testing.T) {
	g := newTestGate(t, Config{})
	g.Close()
	g.Close()
	if _, err := g.Acquire(context.Background(), "login"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestMutualExclusionUnderContention(t *testing.T) {
	g := newTestGate(t, Config{WaitTimeout: 10 * time.Second})
	ctx := context.Background()

	var (
		inside  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gr, err := g.Acquire(ctx, "refresh")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if inside.Add(1) != 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			gr.Release()
		}()
	}
	wg.Wait()

	if overlap.Load() {
		t.Fatal("two grants overlapped")
	}
}

func TestConfigValidation(t *testing.T) {
	if _, err := New(Config{AutoRelease: -time.Second}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := New(Config{WaitTimeout: -time.Second}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
