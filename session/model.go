package session

import (
	"time"

	"github.com/MrEthical07/sessionguard/fingerprint"
)

// Destruction reasons recorded in logs, audit events and broadcasts.
const (
	ReasonIdleTimeout         = "idle_timeout"
	ReasonMaxAge              = "max_age"
	ReasonFingerprintMismatch = "fingerprint_mismatch"
	ReasonInactive            = "inactive"
	ReasonConcurrencyLimit    = "concurrency_limit"
	ReasonLogout              = "logout"
	ReasonLogoutAll           = "logout_all"
)

// Session is one authenticated session of a user on a device.
type Session struct {
	ID           string
	UserID       string
	CreatedAt    time.Time
	LastActivity time.Time
	Fingerprint  fingerprint.Fingerprint
	Active       bool
}

// IdleFor returns how long the session has been without activity at now.
func (s Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}

// Age returns the session's age at now.
func (s Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// MarshalBinary encodes the session with Encode.
func (s Session) MarshalBinary() ([]byte, error) {
	return Encode(&s)
}

// UnmarshalBinary decodes data produced by MarshalBinary.
func (s *Session) UnmarshalBinary(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*s = *decoded
	return nil
}
