package middleware

import (
	"net/http"

	"github.com/MrEthical07/sessionguard"
)

// RequireSession is Guard with WithTouch: every admitted request extends the
// session's idle window.
func RequireSession(engine *sessionguard.Engine, opts ...Option) func(http.Handler) http.Handler {
	return Guard(engine, append([]Option{WithTouch()}, opts...)...)
}
