package sessionguard

import (
	"context"

	"github.com/MrEthical07/sessionguard/session"
)

// Operation names guarded by the engine's operation lock.
const (
	OperationLogin   = "login"
	OperationLogout  = "logout"
	OperationRefresh = "refresh"
)

// SessionInfo is a read-only copy of a registry session.
type SessionInfo = session.Session

// Credentials are handed to the Authenticator unchanged. The engine never
// stores or logs them.
type Credentials struct {
	Identifier string
	Secret     string
}

// Authenticator performs the network authentication step of a login and
// returns the authenticated user id. Implementations return
// ErrInvalidCredentials for rejected credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (userID string, err error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, creds Credentials) (string, error)

// Authenticate implements Authenticator.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, creds Credentials) (string, error) {
	return f(ctx, creds)
}

// RefreshFunc performs the network token refresh for a validated session.
// It runs while the refresh lock is held.
type RefreshFunc func(ctx context.Context, s SessionInfo) error

// SecurityReport is a read-only snapshot of the engine's security posture.
type SecurityReport struct {
	ProductionMode        bool
	FingerprintBinding    bool
	StoreKeyBinding       bool
	EphemeralStoreKey     bool
	StoreBackend          string
	BroadcastBackend      string
	SignedBroadcast       bool
	CrossContextSync      bool
	MaxConcurrentSessions int
	LockProceedOnTimeout  bool
	LoginThrottle         bool
	AuditEnabled          bool
	MetricsEnabled        bool
	Warnings              []string
}
