package middleware

import (
	"net/http"
	"strings"

	"github.com/MrEthical07/sessionguard"
	"github.com/MrEthical07/sessionguard/fingerprint"
)

// DefaultCookieName is the cookie consulted when no bearer header is sent.
const DefaultCookieName = "sg_session"

type options struct {
	cookieName string
	touch      bool
	onReject   func(http.ResponseWriter, *http.Request, error)
}

// Option configures Guard.
type Option func(*options)

// WithCookieName changes the session cookie name.
func WithCookieName(name string) Option {
	return func(o *options) { o.cookieName = name }
}

// WithTouch records activity for every admitted request.
func WithTouch() Option {
	return func(o *options) { o.touch = true }
}

// WithRejectHandler replaces the default 401 response.
func WithRejectHandler(fn func(http.ResponseWriter, *http.Request, error)) Option {
	return func(o *options) { o.onReject = fn }
}

func unauthorized(w http.ResponseWriter, _ *http.Request, _ error) {
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// Environment attaches fingerprint.RequestEnvironment(r) to the request
// context so engines using the default fingerprint source can read it.
func Environment(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := sessionguard.WithEnvironment(r.Context(), fingerprint.RequestEnvironment(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Guard admits requests carrying a valid session and rejects the rest.
func Guard(engine *sessionguard.Engine, opts ...Option) func(http.Handler) http.Handler {
	o := options{cookieName: DefaultCookieName, onReject: unauthorized}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				o.onReject(w, r, sessionguard.ErrUnauthorized)
				return
			}

			id, ok := sessionID(r, o.cookieName)
			if !ok {
				o.onReject(w, r, sessionguard.ErrUnauthorized)
				return
			}

			ctx := r.Context()
			if _, set := fingerprint.EnvironmentFromContext(ctx); !set {
				ctx = sessionguard.WithEnvironment(ctx, fingerprint.RequestEnvironment(r))
			}

			s, err := engine.Validate(ctx, id)
			if err != nil {
				o.onReject(w, r, err)
				return
			}
			if o.touch {
				engine.Touch(ctx, id)
			}

			ctx = sessionguard.WithSession(ctx, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionID(r *http.Request, cookieName string) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	if cookieName == "" {
		return "", false
	}
	c, err := r.Cookie(cookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
