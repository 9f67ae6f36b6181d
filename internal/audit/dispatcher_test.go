package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

type deadlineSink struct {
	sawDeadline atomic.Bool
}

func (s *deadlineSink) Emit(ctx context.Context, _ Event) {
	if _, ok := ctx.Deadline(); ok {
		s.sawDeadline.Store(true)
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &countingSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "ignored"})
	d.Close()
	if d.Dropped() != 0 || d.Delivered() != 0 {
		t.Fatal("nil dispatcher must report zero")
	}
}

func TestCloseFlushesBufferedEvents(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 64}, sink)

	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), Event{EventType: "login_success"})
	}
	d.Close()

	if got := sink.count.Load(); got != 50 {
		t.Fatalf("expected 50 delivered events, got %d", got)
	}
	if d.Delivered() != 50 {
		t.Fatalf("Delivered() = %d", d.Delivered())
	}
	d.Emit(context.Background(), Event{EventType: "after_close"})
	if sink.count.Load() != 50 {
		t.Fatal("events after Close must be ignored")
	}
}

func TestDropIfFullCountsDrops(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// One event parks in the sink, one fills the buffer, the rest drop.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "logout"})
		time.Sleep(time.Millisecond)
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped events with a full buffer")
	}

	close(sink.gate)
	d.Close()
	if d.Dropped()+d.Delivered() != 10 {
		t.Fatalf("dropped %d + delivered %d != 10", d.Dropped(), d.Delivered())
	}
}

func TestBlockingEmitHonorsContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "first"})
	time.Sleep(10 * time.Millisecond)
	d.Emit(context.Background(), Event{EventType: "buffered"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	d.Emit(ctx, Event{EventType: "blocked"})
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("blocking Emit returned before the context expired")
	}
	if d.Dropped() != 1 {
		t.Fatalf("expected 1 dropped event, got %d", d.Dropped())
	}
}

func TestSinkTimeoutSetsDeadline(t *testing.T) {
	sink := &deadlineSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, SinkTimeout: time.Second}, sink)
	d.Emit(context.Background(), Event{EventType: "refresh_success"})
	d.Close()

	if !sink.sawDeadline.Load() {
		t.Fatal("expected the sink context to carry a deadline")
	}
}

func TestEmitStampsTimestamp(t *testing.T) {
	sink := NewChannelSink(1)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	d.Emit(context.Background(), Event{EventType: "logout"})
	d.Close()

	ev := <-sink.Events()
	if ev.Timestamp.IsZero() {
		t.Fatal("expected a timestamp")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{
		EventType: "session_destroyed",
		SessionID: "sid",
		Reason:    "idle_timeout",
		Success:   true,
	})
	sink.Emit(context.Background(), Event{EventType: "logout"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var got Event
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SessionID != "sid" || got.Reason != "idle_timeout" || !got.Success {
		t.Fatalf("unexpected event %+v", got)
	}
	if strings.Contains(lines[1], "user_id") {
		t.Fatal("empty user id must be omitted")
	}
}
