package securestore

import (
	"context"
	"testing"
	"time"
)

func TestSweeperRunsOnStartAndTick(t *testing.T) {
	store, _, clk, _ := newMemoryStoreTest(t)
	ctx := context.Background()

	_ = store.Set(ctx, "a", 1, time.Second)
	clk.Advance(2 * time.Second)

	tick := make(chan time.Time)
	results := make(chan int, 4)
	sw := &Sweeper{
		Store:    store,
		Interval: time.Hour,
		NewTicker: func(time.Duration) (<-chan time.Time, func()) {
			return tick, func() {}
		},
		OnSweep: func(purged int, err error) {
			if err != nil {
				t.Errorf("sweep: %v", err)
			}
			results <- purged
		},
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		sw.Run(runCtx)
		close(done)
	}()

	if n := <-results; n != 1 {
		t.Fatalf("expected startup sweep to purge 1, got %d", n)
	}

	_ = store.Set(ctx, "b", 2, time.Second)
	clk.Advance(2 * time.Second)
	tick <- time.Now()
	if n := <-results; n != 1 {
		t.Fatalf("expected tick sweep to purge 1, got %d", n)
	}

	cancel()
	<-done
}

func TestSweeperWithoutIntervalWaitsForCancel(t *testing.T) {
	store, _, _, _ := newMemoryStoreTest(t)
	calls := 0
	sw := &Sweeper{Store: store, OnSweep: func(int, error) { calls++ }}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	sw.Run(ctx)
	if calls != 1 {
		t.Fatalf("expected exactly one sweep, got %d", calls)
	}
}
