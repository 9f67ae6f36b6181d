//go:build integration

package test

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/sessionguard/internal/clock"
	"github.com/MrEthical07/sessionguard/securestore"
	"github.com/redis/go-redis/v9"
)

type profile struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

func newRedisStore(t *testing.T, rdb redis.UniversalClient, prefix string, master []byte, clk clock.Clock) *securestore.Store {
	t.Helper()
	keys, err := securestore.DeriveKeys(master, nil)
	if err != nil {
		t.Fatalf("DeriveKeys failed: %v", err)
	}
	store, err := securestore.New(securestore.Config{
		Backend: securestore.NewRedisBackend(rdb, prefix),
		Keys:    keys,
		Clock:   clk,
	})
	if err != nil {
		t.Fatalf("securestore.New failed: %v", err)
	}
	return store
}

func TestStoreSharedAcrossProcesses(t *testing.T) {
	_, client := newRedis(t)
	master := []byte(strings.Repeat("s", 32))
	writer := newRedisStore(t, client(), "app", master, nil)
	reader := newRedisStore(t, client(), "app", master, nil)
	ctx := context.Background()

	want := profile{Name: "alice", Roles: []string{"admin", "ops"}}
	if err := writer.Set(ctx, "profile", want, time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, ok, err := securestore.GetAs[profile](ctx, reader, "profile")
	if err != nil || !ok {
		t.Fatalf("GetAs = %v, %v", ok, err)
	}
	if got.Name != want.Name || !slices.Equal(got.Roles, want.Roles) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestStoreForeignKeyPurgesRecord(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	owner := newRedisStore(t, client(), "app", []byte(strings.Repeat("o", 32)), nil)
	intruder := newRedisStore(t, client(), "app", []byte(strings.Repeat("x", 32)), nil)

	if err := owner.Set(ctx, "token", "secret", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	var v string
	ok, err := intruder.Get(ctx, "token", &v)
	if err != nil || ok {
		t.Fatalf("foreign key must not read the record: ok=%v err=%v", ok, err)
	}
	if mr.Exists("app:token") {
		t.Fatal("unverifiable record should have been purged")
	}
}

func TestStoreRemoveIsIdempotent(t *testing.T) {
	_, client := newRedis(t)
	store := newRedisStore(t, client(), "app", []byte(strings.Repeat("s", 32)), nil)
	ctx := context.Background()

	if err := store.Set(ctx, "k", 1, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	for range 2 {
		if err := store.Remove(ctx, "k"); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
	}
	if ok, err := store.Has(ctx, "k"); err != nil || ok {
		t.Fatalf("Has after Remove = %v, %v", ok, err)
	}
}

func TestStoreClearStaysInPrefix(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	master := []byte(strings.Repeat("s", 32))
	a := newRedisStore(t, client(), "tenant-a", master, nil)
	b := newRedisStore(t, client(), "tenant-b", master, nil)

	for _, k := range []string{"one", "two", "three"} {
		if err := a.Set(ctx, k, k, 0); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	if err := b.Set(ctx, "one", "b", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := mr.Set("unrelated", "x"); err != nil {
		t.Fatalf("miniredis Set failed: %v", err)
	}

	if err := a.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if keys, _ := a.Keys(ctx); len(keys) != 0 {
		t.Fatalf("expected empty namespace, got %v", keys)
	}
	if keys, _ := b.Keys(ctx); !slices.Equal(keys, []string{"one"}) {
		t.Fatalf("sibling namespace changed: %v", keys)
	}
	if !mr.Exists("unrelated") {
		t.Fatal("Clear removed a key outside its prefix")
	}
}

func TestStoreCleanExpired(t *testing.T) {
	_, client := newRedis(t)
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	store := newRedisStore(t, client(), "app", []byte(strings.Repeat("s", 32)), clk)
	ctx := context.Background()

	if err := store.Set(ctx, "short", "a", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, "long", "b", time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, "forever", "c", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Redis still holds the record; the envelope expiry decides.
	clk.Advance(2 * time.Minute)
	n, err := store.CleanExpired(ctx)
	if err != nil {
		t.Fatalf("CleanExpired failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged record, got %d", n)
	}
	keys, _ := store.Keys(ctx)
	if !slices.Equal(keys, []string{"forever", "long"}) {
		t.Fatalf("unexpected keys after clean: %v", keys)
	}
}

func TestStoreRedisTTLMatchesEnvelope(t *testing.T) {
	mr, client := newRedis(t)
	store := newRedisStore(t, client(), "app", []byte(strings.Repeat("s", 32)), nil)
	ctx := context.Background()

	if err := store.Set(ctx, "k", "v", 30*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if ttl := mr.TTL("app:k"); ttl != 30*time.Second {
		t.Fatalf("expected redis TTL 30s, got %s", ttl)
	}
	mr.FastForward(31 * time.Second)
	if ok, err := store.Has(ctx, "k"); err != nil || ok {
		t.Fatalf("Has after redis expiry = %v, %v", ok, err)
	}
}
