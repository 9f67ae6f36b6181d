package broadcast

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisBusTest(t *testing.T, key byte) (*RedisBus, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	bus := newRedisBusOn(t, rdb, key)
	return bus, rdb
}

func newRedisBusOn(t *testing.T, rdb redis.UniversalClient, key byte) *RedisBus {
	t.Helper()
	bus, err := NewRedisBus(RedisBusConfig{
		Client: rdb,
		Signer: testSigner(t, key),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new redis bus: %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	return bus
}

func TestRedisBusDeliversSignedEvents(t *testing.T) {
	publisher, rdb := newRedisBusTest(t, 1)
	consumer := newRedisBusOn(t, rdb, 1)
	ctx := context.Background()

	sub, err := consumer.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ev := testEvent(KindActivity)
	ev.LastActivity = time.Unix(1_700_000_000, 0).UTC()
	if err := publisher.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := receive(t, sub)
	if got.SessionID != ev.SessionID || !got.LastActivity.Equal(ev.LastActivity) {
		t.Fatalf("unexpected event %+v", got)
	}
	if got.ID == "" {
		t.Fatal("expected ulid event id")
	}
}

func TestRedisBusRejectsUnsignedAndForeignPayloads(t *testing.T) {
	bus, rdb := newRedisBusTest(t, 1)
	foreign := newRedisBusOn(t, rdb, 2)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := rdb.Publish(ctx, DefaultChannel, `{"kind":"destroyed","sid":"sid-1"}`).Err(); err != nil {
		t.Fatalf("raw publish: %v", err)
	}
	if err := foreign.Publish(ctx, testEvent(KindDestroyed)); err != nil {
		t.Fatalf("foreign publish: %v", err)
	}
	if err := bus.Publish(ctx, testEvent(KindCreated)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := receive(t, sub)
	if got.Kind != KindCreated {
		t.Fatalf("expected only the authenticated event, got %+v", got)
	}
	if bus.Rejected() != 2 {
		t.Fatalf("expected 2 rejected payloads, got %d", bus.Rejected())
	}
}

func TestRedisBusCloseEndsSubscriptions(t *testing.T) {
	bus, _ := newRedisBusTest(t, 1)

	sub, err := bus.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	if _, err := bus.Subscribe(context.Background()); err == nil {
		t.Fatal("expected subscribe after close to fail")
	}
}
