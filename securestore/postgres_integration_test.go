package securestore

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Opt-in: requires SESSIONGUARD_TEST_DATABASE_URL.

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("SESSIONGUARD_TEST_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: SESSIONGUARD_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("integration test skipped: postgres unreachable: %v", err)
	}
	return pool
}

func TestPostgresBackendStore(t *testing.T) {
	pool := mustOpenTestPool(t)
	defer pool.Close()

	table := "sg_it_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	backend, err := NewPostgresBackend(pool, WithTable(table), WithNamespace("it"))
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := backend.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DROP TABLE IF EXISTS `+backend.ident())
	})

	store, err := New(Config{Backend: backend, Keys: testKeys(t)})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := store.Set(ctx, "k", item{A: 1}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "k", item{A: 2}, time.Minute); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, ok, err := GetAs[item](ctx, store, "k")
	if err != nil || !ok || got.A != 2 {
		t.Fatalf("get: %+v ok=%v err=%v", got, ok, err)
	}

	keys, err := store.Keys(ctx)
	if err != nil || len(keys) != 1 {
		t.Fatalf("keys: %v err=%v", keys, err)
	}

	if err := store.Remove(ctx, "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := GetAs[item](ctx, store, "k"); ok {
		t.Fatal("expected absent after remove")
	}

	if _, err := NewPostgresBackend(pool, WithTable("bad;drop")); err == nil {
		t.Fatal("expected invalid identifier rejection")
	}
}
