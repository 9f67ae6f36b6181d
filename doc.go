// Package sessionguard is a session security engine: an operation lock that
// serializes login, logout and refresh, a session registry with idle and
// absolute expiry, fingerprint binding and per-user caps, and an encrypted,
// integrity-checked key/value store for session state.
//
// The application root builds one [Engine] with [Builder] and closes it on
// shutdown. Engine methods are safe to call from multiple goroutines.
//
// # Architecture boundaries
//
// sessionguard is the public surface. It wires the lock, session,
// securestore, broadcast and fingerprint packages together and owns the
// ambient concerns: configuration, audit dispatch and metrics. Those packages
// are usable on their own and never import sessionguard.
//
// # What this package must NOT do
//
//   - Hash or store passwords. Credentials pass through to the caller's
//     [Authenticator] and are never persisted or logged.
//   - Validate sessions on behalf of a server. Validation is local to the
//     contexts sharing a store and bus.
//   - Hold global state. Every component belongs to an Engine.
package sessionguard
