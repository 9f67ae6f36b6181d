// Package lock provides the operation gate that serializes authentication
// operations (login, logout, token refresh) inside a single process.
//
// # Semantics
//
// A [Gate] is either unlocked or held by exactly one [Grant]. Waiters queue in
// FIFO order and are handed the lock directly when the holder releases, so a
// waiter wakes exactly when the lock frees. A grant that is never released is
// cleared by its auto-release timer.
//
// Waiting is bounded by Config.WaitTimeout. When the bound is reached Acquire
// returns [ErrWaitTimeout]; proceeding without the lock is the caller's
// explicit decision.
//
// # What this package must NOT do
//
//   - Coordinate across processes. The gate is an in-memory advisory lock;
//     contexts sharing a storage backend are not excluded from each other.
//   - Log credentials or any operation payload. Only operation names and lock
//     ids are logged.
package lock
