//go:build integration

package test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/sessionguard"
)

func TestCrossContextCapHoldsAcrossProcesses(t *testing.T) {
	_, client := newRedis(t)
	cfg := redisConfig()
	cfg.Session.MaxConcurrentSessions = 2

	a := buildEngine(t, cfg, client())
	b := buildEngine(t, cfg, client())
	ctx := context.Background()

	first, err := a.StartSession(ctx, "alice")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := b.StartSession(ctx, "alice"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := b.StartSession(ctx, "alice"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	waitUntil(t, "eviction to reach the creating context", func() bool {
		_, err := a.Validate(ctx, first.ID)
		return errors.Is(err, sessionguard.ErrUnauthorized)
	})
	if n := len(b.Sessions(ctx, "alice")); n != 2 {
		t.Fatalf("expected 2 sessions after eviction, got %d", n)
	}
}

func TestCrossContextActivityKeepsSiblingAlive(t *testing.T) {
	_, client := newRedis(t)
	a := buildEngine(t, redisConfig(), client())
	b := buildEngine(t, redisConfig(), client())
	ctx := context.Background()

	info, err := a.StartSession(ctx, "alice")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if _, err := b.Validate(ctx, info.ID); err != nil {
		t.Fatalf("sibling Validate failed: %v", err)
	}

	before, _ := b.Registry().SessionInfo(ctx, info.ID)
	time.Sleep(10 * time.Millisecond)
	if !a.Touch(ctx, info.ID) {
		t.Fatal("Touch failed")
	}
	waitUntil(t, "activity to reach the sibling", func() bool {
		after, ok := b.Registry().SessionInfo(ctx, info.ID)
		return ok && after.LastActivity.After(before.LastActivity)
	})
}

func TestCrossContextLogoutAll(t *testing.T) {
	_, client := newRedis(t)
	a := buildEngine(t, redisConfig(), client())
	b := buildEngine(t, redisConfig(), client())
	ctx := context.Background()

	var ids []string
	for range 3 {
		info, err := a.StartSession(ctx, "alice")
		if err != nil {
			t.Fatalf("StartSession failed: %v", err)
		}
		ids = append(ids, info.ID)
	}
	for _, id := range ids {
		if _, err := b.Validate(ctx, id); err != nil {
			t.Fatalf("sibling Validate failed: %v", err)
		}
	}

	n, err := b.LogoutAll(ctx, "alice")
	if err != nil || n != 3 {
		t.Fatalf("LogoutAll = %d, %v", n, err)
	}
	for _, id := range ids {
		waitUntil(t, "logout-all to reach the creator", func() bool {
			_, err := a.Validate(ctx, id)
			return errors.Is(err, sessionguard.ErrUnauthorized)
		})
	}
}

func TestRefreshRaceIsSerialized(t *testing.T) {
	_, client := newRedis(t)
	e := buildEngine(t, redisConfig(), client())
	ctx := context.Background()

	info, err := e.StartSession(ctx, "alice")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	var (
		inside  int32
		overlap bool
		mu      sync.Mutex
		wg      sync.WaitGroup
		errs    = make(chan error, 16)
	)
	refresh := func(context.Context, sessionguard.SessionInfo) error {
		mu.Lock()
		inside++
		if inside > 1 {
			overlap = true
		}
		mu.Unlock()

		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		inside--
		mu.Unlock()
		return nil
	}

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- e.Refresh(ctx, info.ID, refresh)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}
	}
	if overlap {
		t.Fatal("refresh callbacks overlapped")
	}
	if got := e.MetricsSnapshot().Counters[sessionguard.MetricRefreshSuccess]; got != 16 {
		t.Fatalf("expected 16 refreshes, got %d", got)
	}
}
