// Package internal contains helper utilities that are intentionally private to
// sessionguard, including secure random generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - clock: injectable wall clock for expiry logic
//   - rate: fixed-window failed-login throttle (memory and Redis counters)
//
// # What this package must NOT do
//
//   - Export types that appear in the public sessionguard API.
//   - Be imported by any package outside the sessionguard module.
package internal
