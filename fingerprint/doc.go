// Package fingerprint derives a deterministic device fingerprint from stable
// environment characteristics (user agent, screen, timezone, language, platform).
//
// A [Fingerprint] is used twice by the engine: as key material for the secure
// store and as a binding check that ties a session to the environment that
// created it.
//
// # What this package must NOT do
//
//   - Import sessionguard, session, or securestore (no upward imports).
//   - Include volatile inputs (IP address, timestamps) in the hash.
package fingerprint
