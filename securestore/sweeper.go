package securestore

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper runs Store.CleanExpired in the background. It sweeps once on Run,
// then every Interval until ctx is cancelled.
type Sweeper struct {
	Store *Store
	// Interval <= 0 performs only the initial sweep.
	Interval time.Duration
	// NewTicker defaults to time.NewTicker. Tests inject a manual channel.
	NewTicker func(d time.Duration) (tick <-chan time.Time, stop func())
	// OnSweep, when set, receives the result of every pass.
	OnSweep func(purged int, err error)
}

// Run blocks until ctx is done.
func (w *Sweeper) Run(ctx context.Context) {
	w.runOnce(ctx)

	if w.Interval <= 0 {
		<-ctx.Done()
		return
	}

	newTicker := w.NewTicker
	if newTicker == nil {
		newTicker = defaultNewTicker
	}
	ch, stop := newTicker(w.Interval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			w.runOnce(ctx)
		}
	}
}

func (w *Sweeper) runOnce(ctx context.Context) {
	purged, err := w.Store.CleanExpired(ctx)
	if err == nil {
		if p, ok := w.Store.backend.(interface {
			PurgeExpired(context.Context) (int64, error)
		}); ok {
			var n int64
			n, err = p.PurgeExpired(ctx)
			purged += int(n)
		}
	}
	if err != nil && ctx.Err() == nil {
		w.Store.logger.Warn("sweep failed", slog.String("error", err.Error()))
	}
	if w.OnSweep != nil {
		w.OnSweep(purged, err)
	}
}

func defaultNewTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}
