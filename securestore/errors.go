package securestore

import "errors"

var (
	// ErrInvalidKey is returned when a key is empty after sanitation.
	ErrInvalidKey = errors.New("securestore: invalid key")
	// ErrBackendUnavailable wraps failures of the underlying backend.
	ErrBackendUnavailable = errors.New("securestore: backend unavailable")
	// ErrNotFound is returned by backends for missing keys.
	ErrNotFound = errors.New("securestore: not found")
	// ErrInvalidConfig is returned by New for unusable configuration.
	ErrInvalidConfig = errors.New("securestore: invalid config")
	// ErrInvalidKeyMaterial is returned for master keys of the wrong size.
	ErrInvalidKeyMaterial = errors.New("securestore: invalid key material")
	// ErrKeyDerivationFailed is returned when HKDF cannot produce key bytes.
	ErrKeyDerivationFailed = errors.New("securestore: key derivation failed")
	// ErrEncodeFailed is returned by Set when the value cannot be serialized or sealed.
	ErrEncodeFailed = errors.New("securestore: encode failed")
)
