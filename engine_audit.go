package sessionguard

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/sessionguard/internal/audit"
	"github.com/MrEthical07/sessionguard/internal/rate"
	"github.com/MrEthical07/sessionguard/lock"
	"github.com/MrEthical07/sessionguard/securestore"
	"github.com/MrEthical07/sessionguard/session"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLogout                = "logout"
	auditEventLogoutAll             = "logout_all"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshFailure        = "refresh_failure"
	auditEventSessionDestroyed      = "session_destroyed"
	auditEventFingerprintMismatch   = "fingerprint_mismatch"
	auditEventLockAutoReleased      = "lock_auto_released"
	auditEventLockWaitTimeout       = "lock_wait_timeout"
	auditEventLockBypassed          = "lock_bypassed"
	auditEventLockForceReleased     = "lock_force_released"
	auditEventStoreIntegrityFailure = "storage_integrity_failure"
	auditEventStoreCorruption       = "storage_corruption"
)

// AuditErrorCode is the stable error classification written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrLockTimeout        AuditErrorCode = "lock_timeout"
	auditErrThrottled          AuditErrorCode = "throttled"
	auditErrLockReleased       AuditErrorCode = "lock_released"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrSessionCreation    AuditErrorCode = "session_creation_failed"
	auditErrFingerprint        AuditErrorCode = "fingerprint_unavailable"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrCanceled           AuditErrorCode = "canceled"
	auditErrClosed             AuditErrorCode = "closed"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := audit.Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// onLockEvent feeds lock transitions into metrics and audit.
func (e *Engine) onLockEvent(ev lock.Event) {
	switch ev.Kind {
	case lock.EventAcquired:
		e.metrics.Inc(MetricLockAcquired)
	case lock.EventContended:
		e.metrics.Inc(MetricLockContended)
	case lock.EventAutoReleased:
		e.metrics.Inc(MetricLockAutoReleased)
		e.emitLockAudit(auditEventLockAutoReleased, ev)
	case lock.EventForceReleased:
		e.metrics.Inc(MetricLockForceReleased)
		e.emitLockAudit(auditEventLockForceReleased, ev)
	case lock.EventWaitTimeout:
		e.metrics.Inc(MetricLockWaitTimeout)
		e.emitLockAudit(auditEventLockWaitTimeout, ev)
	}
}

func (e *Engine) emitLockAudit(eventType string, ev lock.Event) {
	if e.audit == nil {
		return
	}
	e.audit.Emit(context.Background(), audit.Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Operation: ev.Operation,
		Metadata: map[string]string{
			"lock_id":  ev.LockID,
			"duration": ev.Wait.String(),
		},
	})
}

// onSessionEvent feeds registry transitions into metrics and audit.
func (e *Engine) onSessionEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventCreated:
		e.metrics.Inc(MetricSessionCreated)
	case session.EventValidated:
		e.metrics.Inc(MetricSessionValidated)
	case session.EventRejected:
		e.metrics.Inc(MetricSessionRejected)
	case session.EventActivity:
		if ev.Remote {
			e.metrics.Inc(MetricRemoteEventApplied)
		}
	case session.EventDestroyed:
		e.metrics.Inc(MetricSessionDestroyed)
		if ev.Remote {
			e.metrics.Inc(MetricRemoteEventApplied)
		}
		eventType := auditEventSessionDestroyed
		switch ev.Reason {
		case session.ReasonConcurrencyLimit:
			e.metrics.Inc(MetricSessionEvicted)
		case session.ReasonFingerprintMismatch:
			e.metrics.Inc(MetricFingerprintMismatch)
			eventType = auditEventFingerprintMismatch
		}
		if e.audit != nil {
			e.audit.Emit(context.Background(), audit.Event{
				Timestamp: time.Now().UTC(),
				EventType: eventType,
				UserID:    ev.UserID,
				SessionID: ev.SessionID,
				Reason:    ev.Reason,
				Success:   true,
				Metadata:  map[string]string{"remote": boolString(ev.Remote)},
			})
		}
	}
}

// onStoreEvent feeds purged records into metrics and audit. Expiry is
// routine and only counted.
func (e *Engine) onStoreEvent(ev securestore.Event) {
	var eventType string
	switch ev.Kind {
	case securestore.EventExpired:
		e.metrics.Inc(MetricStoreExpired)
		return
	case securestore.EventIntegrityFailure:
		e.metrics.Inc(MetricStoreIntegrityFailure)
		eventType = auditEventStoreIntegrityFailure
	case securestore.EventCorruption:
		e.metrics.Inc(MetricStoreCorruption)
		eventType = auditEventStoreCorruption
	default:
		return
	}
	if e.audit == nil {
		return
	}
	e.audit.Emit(context.Background(), audit.Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Metadata:  map[string]string{"key": ev.Key},
	})
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, lock.ErrWaitTimeout):
		return auditErrLockTimeout
	case errors.Is(err, rate.ErrRateLimited):
		return auditErrThrottled
	case errors.Is(err, lock.ErrForceReleased):
		return auditErrLockReleased
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, session.ErrFingerprintUnavailable):
		return auditErrFingerprint
	case errors.Is(err, securestore.ErrBackendUnavailable),
		errors.Is(err, rate.ErrBackendUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrSessionCreationFailed),
		errors.Is(err, session.ErrInvalidUser):
		return auditErrSessionCreation
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return auditErrCanceled
	case errors.Is(err, ErrEngineClosed),
		errors.Is(err, lock.ErrClosed),
		errors.Is(err, session.ErrClosed):
		return auditErrClosed
	default:
		return auditErrInternal
	}
}
