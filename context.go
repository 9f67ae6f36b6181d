package sessionguard

import (
	"context"

	"github.com/MrEthical07/sessionguard/fingerprint"
)

type sessionContextKey struct{}

// WithEnvironment attaches the caller's environment to ctx. Engines built
// without an explicit fingerprint source read it from there.
func WithEnvironment(ctx context.Context, env fingerprint.Environment) context.Context {
	return fingerprint.WithEnvironment(ctx, env)
}

// WithSession attaches a validated session to ctx. The middleware package
// does this for every request it admits.
func WithSession(ctx context.Context, s SessionInfo) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext returns the session attached by WithSession.
func SessionFromContext(ctx context.Context) (SessionInfo, bool) {
	if ctx == nil {
		return SessionInfo{}, false
	}
	s, ok := ctx.Value(sessionContextKey{}).(SessionInfo)
	return s, ok
}
