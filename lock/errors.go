package lock

import "errors"

var (
	// ErrWaitTimeout is returned when the wait ceiling elapsed before the lock
	// was handed over. The previous holder may still be running.
	ErrWaitTimeout = errors.New("lock wait timeout")
	// ErrForceReleased is returned to queued waiters when ForceReleaseAll resets the gate.
	ErrForceReleased = errors.New("lock force released")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("lock gate closed")
	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("invalid lock configuration")
)
