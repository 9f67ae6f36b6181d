// Package rate implements the failed-login throttle used by the engine's
// login flow.
//
// # Window semantics
//
// Fixed-window counters: the first failure in a window starts it, later
// failures only increment. Redis counters use INCR plus a conditional EXPIRE
// on the first hit, under keys of the form "<prefix>:login:<identifier>".
// Memory counters keep the window start next to the count.
//
// Counters are keyed by the login identifier, never by the authenticated
// user id, so probing an unknown identifier is throttled the same way.
package rate
