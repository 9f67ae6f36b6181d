package sessionguard

import (
	"context"
	"testing"
)

func BenchmarkEngineValidate(b *testing.B) {
	h := newTestEngine(b, testEngineConfig())
	ctx := context.Background()
	info, err := h.engine.StartSession(ctx, "alice")
	if err != nil {
		b.Fatalf("StartSession: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		if _, err := h.engine.Validate(ctx, info.ID); err != nil {
			b.Fatalf("Validate: %v", err)
		}
	}
}

func BenchmarkEngineValidateParallel(b *testing.B) {
	h := newTestEngine(b, testEngineConfig())
	ctx := context.Background()
	info, err := h.engine.StartSession(ctx, "alice")
	if err != nil {
		b.Fatalf("StartSession: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = h.engine.Validate(ctx, info.ID)
		}
	})
}

func BenchmarkEngineTouch(b *testing.B) {
	h := newTestEngine(b, testEngineConfig())
	ctx := context.Background()
	info, err := h.engine.StartSession(ctx, "alice")
	if err != nil {
		b.Fatalf("StartSession: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		if !h.engine.Touch(ctx, info.ID) {
			b.Fatal("Touch failed")
		}
	}
}

func BenchmarkEngineRefresh(b *testing.B) {
	h := newTestEngine(b, testEngineConfig())
	ctx := context.Background()
	info, err := h.engine.StartSession(ctx, "alice")
	if err != nil {
		b.Fatalf("StartSession: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		if err := h.engine.Refresh(ctx, info.ID, nil); err != nil {
			b.Fatalf("Refresh: %v", err)
		}
	}
}
