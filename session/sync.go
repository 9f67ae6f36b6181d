package session

import (
	"context"
	"log/slog"

	"github.com/MrEthical07/sessionguard/broadcast"
)

func (r *Registry) listen(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.sub.Events():
			if !ok {
				return
			}
			r.Apply(ctx, ev)
		}
	}
}

// Apply folds an event from another context into local state. It is
// idempotent and order-insensitive: activity only moves forward, destroyed
// ids stay destroyed, and events from this registry are ignored.
func (r *Registry) Apply(ctx context.Context, ev broadcast.Event) {
	if ev.Origin == r.origin || ev.Validate() != nil {
		return
	}

	switch ev.Kind {
	case broadcast.KindDestroyed:
		r.applyDestroyed(ev)
	case broadcast.KindCreated, broadcast.KindActivity:
		r.applyActivity(ctx, ev)
	}
}

func (r *Registry) applyDestroyed(ev broadcast.Event) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	_, already := r.tombstones[ev.SessionID]
	cur, known := r.sessions[ev.SessionID]
	var sess Session
	if known {
		sess = *cur
	}
	r.forgetLocked(ev.SessionID, r.clock.Now())
	r.mu.Unlock()

	if already || !known {
		return
	}
	r.finishDestroy(context.Background(), sess, ev.Reason, true)
}

func (r *Registry) applyActivity(ctx context.Context, ev broadcast.Event) {
	r.mu.Lock()
	if _, dead := r.tombstones[ev.SessionID]; dead || r.closed {
		r.mu.Unlock()
		return
	}
	cur, known := r.sessions[ev.SessionID]
	if known {
		if ev.LastActivity.After(cur.LastActivity) {
			cur.LastActivity = ev.LastActivity
		}
		userID := cur.UserID
		r.mu.Unlock()
		r.emit(Event{Kind: EventActivity, SessionID: ev.SessionID, UserID: userID, Remote: true})
		return
	}
	r.mu.Unlock()

	// Unknown here: adopt the persisted record, then merge.
	if _, ok := r.rehydrate(ctx, ev.SessionID); !ok {
		r.logger.Debug("remote session not adopted", slog.String("kind", string(ev.Kind)))
		return
	}
	r.mu.Lock()
	if s, ok := r.sessions[ev.SessionID]; ok && ev.LastActivity.After(s.LastActivity) {
		s.LastActivity = ev.LastActivity
	}
	r.mu.Unlock()
	r.emit(Event{Kind: EventActivity, SessionID: ev.SessionID, UserID: ev.UserID, Remote: true})
}
