// Package broadcast carries session lifecycle events between execution
// contexts (processes, replicas, or independent engines in one process) that
// share a session backend.
//
// Delivery is unordered and at-most-once. Consumers must be idempotent; the
// session registry applies events with max-wins activity and tombstoned
// destruction, so duplicates and reordering are harmless.
//
// [MemoryBus] fans out inside one process. [RedisBus] uses Redis Pub/Sub and
// signs every payload with a [Signer] so a context never applies an event it
// cannot authenticate.
//
// # What this package must NOT do
//
//   - Block publishers on slow subscribers.
//   - Filter events by origin; that is the consumer's decision.
package broadcast
