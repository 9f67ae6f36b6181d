package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrClosed is returned by Publish and Subscribe after Close.
	ErrClosed = errors.New("broadcast: closed")
	// ErrInvalidEvent is returned for events missing required fields.
	ErrInvalidEvent = errors.New("broadcast: invalid event")
	// ErrInvalidSignature is returned when a payload fails verification.
	ErrInvalidSignature = errors.New("broadcast: invalid signature")
)

// Kind is the lifecycle transition an Event describes.
type Kind string

const (
	KindCreated   Kind = "created"
	KindActivity  Kind = "activity"
	KindDestroyed Kind = "destroyed"
)

func (k Kind) valid() bool {
	switch k {
	case KindCreated, KindActivity, KindDestroyed:
		return true
	}
	return false
}

// Event is one session lifecycle message.
type Event struct {
	ID           string    `json:"id"`
	Origin       string    `json:"origin"`
	Kind         Kind      `json:"kind"`
	SessionID    string    `json:"sid"`
	UserID       string    `json:"uid,omitempty"`
	LastActivity time.Time `json:"last_activity,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	SentAt       time.Time `json:"sent_at"`
}

// Validate checks the fields every consumer relies on.
func (e Event) Validate() error {
	if e.SessionID == "" || e.Origin == "" || !e.Kind.valid() {
		return ErrInvalidEvent
	}
	return nil
}

// stamp fills ID and SentAt when unset.
func (e *Event) stamp(now time.Time) {
	if e.SentAt.IsZero() {
		e.SentAt = now
	}
	if e.ID == "" {
		e.ID = ulid.MustNew(ulid.Timestamp(e.SentAt), ulid.DefaultEntropy()).String()
	}
}

// Bus publishes events and hands out subscriptions.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context) (Subscription, error)
	Close() error
}

// Subscription receives events until it is closed, its context is cancelled,
// or the bus closes. The channel is closed when the subscription ends.
type Subscription interface {
	Events() <-chan Event
	Close() error
}
