package rate

import "errors"

var (
	// ErrRateLimited is returned once an identifier has used up its attempts.
	ErrRateLimited = errors.New("rate limited")
	// ErrBackendUnavailable wraps counter backend failures.
	ErrBackendUnavailable = errors.New("rate backend unavailable")
)
