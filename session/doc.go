// Package session manages the lifecycle of client sessions: creation, validation
// under idle and absolute expiry, device fingerprint binding, per-user
// concurrency caps, and synchronization with sibling contexts.
//
// # Persistence
//
// When the secure store is enabled each session is written as its compact
// binary encoding under "session:<id>", sealed by the store. A per-user index
// record lists the user's session ids so caps hold across contexts sharing a
// backend. Sessions missing from memory are rehydrated from the store on read.
//
// # Cross-context events
//
// Created, activity and destroyed transitions are published on a
// broadcast bus. Incoming events are applied idempotently: last activity only
// moves forward, destroyed ids are tombstoned and never reactivate, and events
// carrying this registry's own origin are ignored.
//
// # Failure model
//
// Invalid, expired, rebound and unknown sessions degrade to false or absent,
// never to an error. Any negative validation purges the session. Only
// CreateSession returns errors, for backend failure or a missing fingerprint
// when binding is required.
//
// # What this package must NOT do
//
//   - Import the root sessionguard package (no upward imports).
//   - Decide on re-authentication; callers react to a false result.
//   - Log session ids or fingerprint material.
package session
