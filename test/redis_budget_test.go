//go:build integration

package test

import (
	"context"
	"testing"

	"github.com/MrEthical07/sessionguard"
)

func budgetConfig() sessionguard.Config {
	cfg := redisConfig()
	cfg.Broadcast.Backend = sessionguard.BackendMemory
	cfg.Session.CrossContextSync = false
	return cfg
}

func TestRedisBudgetWarmValidate(t *testing.T) {
	_, client := newRedis(t)
	rdb := client()
	counter := &cmdCounter{}
	rdb.AddHook(counter)

	e := buildEngine(t, budgetConfig(), rdb)
	ctx := context.Background()
	info, err := e.StartSession(ctx, "alice")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	counter.Reset()
	for range 50 {
		if _, err := e.Validate(ctx, info.ID); err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
	}
	if got := counter.Commands(); got != 0 {
		t.Fatalf("warm Validate should not touch redis, saw %d commands", got)
	}
}

func TestRedisBudgetColdValidate(t *testing.T) {
	_, client := newRedis(t)
	creator := buildEngine(t, budgetConfig(), client())
	ctx := context.Background()
	info, err := creator.StartSession(ctx, "alice")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	rdb := client()
	counter := &cmdCounter{}
	rdb.AddHook(counter)
	cold := buildEngine(t, budgetConfig(), rdb)
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	counter.Reset()
	if _, err := cold.Validate(ctx, info.ID); err != nil {
		t.Fatalf("cold Validate failed: %v", err)
	}
	if got := counter.Commands(); got != 1 {
		t.Fatalf("cold Validate should issue one GET, saw %d commands", got)
	}

	counter.Reset()
	if _, err := cold.Validate(ctx, info.ID); err != nil {
		t.Fatalf("warm Validate failed: %v", err)
	}
	if got := counter.Commands(); got != 0 {
		t.Fatalf("rehydrated session should stay in memory, saw %d commands", got)
	}
}

func TestRedisBudgetTouch(t *testing.T) {
	_, client := newRedis(t)
	rdb := client()
	counter := &cmdCounter{}
	rdb.AddHook(counter)

	e := buildEngine(t, budgetConfig(), rdb)
	ctx := context.Background()
	info, err := e.StartSession(ctx, "alice")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	counter.Reset()
	if !e.Touch(ctx, info.ID) {
		t.Fatal("Touch failed")
	}
	if got := counter.Commands(); got != 1 {
		t.Fatalf("Touch should issue one SET, saw %d commands", got)
	}
}

func TestRedisBudgetUnknownSession(t *testing.T) {
	_, client := newRedis(t)
	rdb := client()
	counter := &cmdCounter{}
	rdb.AddHook(counter)

	e := buildEngine(t, budgetConfig(), rdb)
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	counter.Reset()
	if _, err := e.Validate(ctx, "missing"); err == nil {
		t.Fatal("expected unknown session to be rejected")
	}
	if got := counter.Commands(); got != 1 {
		t.Fatalf("unknown session should cost one GET, saw %d commands", got)
	}
}
