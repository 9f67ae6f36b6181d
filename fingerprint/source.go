package fingerprint

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrNoEnvironment is returned by sources that have nothing to report.
var ErrNoEnvironment = errors.New("fingerprint environment unavailable")

// Source supplies the current environment characteristics.
type Source interface {
	Environment(ctx context.Context) (Environment, error)
}

// SourceFunc adapts a function to [Source].
type SourceFunc func(ctx context.Context) (Environment, error)

// Environment calls f.
func (f SourceFunc) Environment(ctx context.Context) (Environment, error) {
	return f(ctx)
}

// StaticSource always reports the same environment. It fits processes whose
// environment never changes, such as a CLI or a desktop agent.
type StaticSource struct {
	Env Environment
}

// Environment returns s.Env.
func (s StaticSource) Environment(context.Context) (Environment, error) {
	return s.Env, nil
}

type environmentContextKey struct{}

// WithEnvironment attaches env to ctx for [ContextSource].
func WithEnvironment(ctx context.Context, env Environment) context.Context {
	return context.WithValue(ctx, environmentContextKey{}, env)
}

// EnvironmentFromContext returns the environment attached by WithEnvironment.
func EnvironmentFromContext(ctx context.Context) (Environment, bool) {
	if ctx == nil {
		return Environment{}, false
	}
	env, ok := ctx.Value(environmentContextKey{}).(Environment)
	return env, ok
}

// ContextSource reads the environment from the request context. Fallback is
// consulted when the context carries none.
type ContextSource struct {
	Fallback Source
}

// Environment implements [Source].
func (s ContextSource) Environment(ctx context.Context) (Environment, error) {
	if env, ok := EnvironmentFromContext(ctx); ok {
		return env, nil
	}
	if s.Fallback != nil {
		return s.Fallback.Environment(ctx)
	}
	return Environment{}, ErrNoEnvironment
}

// Header names read by RequestEnvironment. Screen and timezone are not sent by
// browsers on their own; the client is expected to supply them.
const (
	HeaderScreen   = "X-Client-Screen"
	HeaderTimezone = "X-Client-Timezone"
	HeaderPlatform = "Sec-CH-UA-Platform"
)

// RequestEnvironment extracts an Environment from HTTP request headers.
func RequestEnvironment(r *http.Request) Environment {
	if r == nil {
		return Environment{}
	}
	return Environment{
		UserAgent: r.UserAgent(),
		Screen:    r.Header.Get(HeaderScreen),
		Timezone:  r.Header.Get(HeaderTimezone),
		Language:  primaryLanguage(r.Header.Get("Accept-Language")),
		Platform:  strings.Trim(r.Header.Get(HeaderPlatform), `"`),
	}
}

// primaryLanguage keeps the first tag of an Accept-Language list so quality
// weights and ordering noise do not change the fingerprint.
func primaryLanguage(v string) string {
	if v == "" {
		return ""
	}
	first, _, _ := strings.Cut(v, ",")
	tag, _, _ := strings.Cut(first, ";")
	return strings.TrimSpace(tag)
}
