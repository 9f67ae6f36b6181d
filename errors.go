package sessionguard

import (
	"errors"

	"github.com/MrEthical07/sessionguard/internal/rate"
	"github.com/MrEthical07/sessionguard/lock"
)

var (
	// ErrInvalidConfig is returned by Config.Validate and Builder.Build.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrConfigLoad is returned by LoadConfig when the environment cannot be parsed.
	ErrConfigLoad = errors.New("config load failed")
	// ErrBuilderUsed is returned by a second Builder.Build.
	ErrBuilderUsed = errors.New("builder already used")
	// ErrEngineClosed is returned by every Engine operation after Close.
	ErrEngineClosed = errors.New("engine closed")
	// ErrUnauthorized is returned when a session is missing, expired or bound
	// to another environment.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials should be returned by an Authenticator that
	// rejects the presented credentials.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAuthenticatorMissing is returned by Login when no Authenticator was configured.
	ErrAuthenticatorMissing = errors.New("authenticator not configured")
	// ErrSessionCreationFailed wraps registry failures during login.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrSessionNotFound is returned by Logout for an unknown session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrLockTimeout is returned when an operation could not acquire the
	// operation lock within LockConfig.WaitTimeout.
	ErrLockTimeout = lock.ErrWaitTimeout
	// ErrLoginThrottled is returned by Login while the identifier has used up
	// its failed attempts for the current throttle window.
	ErrLoginThrottled = rate.ErrRateLimited
)
