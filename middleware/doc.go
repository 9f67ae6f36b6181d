// Package middleware adapts sessionguard.Engine to net/http.
//
// # Guards
//
//   - [Environment] attaches the request's fingerprint environment to the
//     context. Mount it in front of login handlers.
//   - [Guard] validates the presented session and injects it into the context.
//   - [RequireSession] is Guard with activity recording on every request.
//
// The session id is read from the Authorization bearer header, then from the
// session cookie.
//
// # What this package must NOT do
//
//   - Create or destroy sessions (Engine.Login and Engine.Logout do that).
//   - Access the secure store directly.
//   - Make decisions beyond pass/reject from Engine.Validate.
package middleware
