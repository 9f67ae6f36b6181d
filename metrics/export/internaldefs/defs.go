package internaldefs

import (
	"github.com/MrEthical07/sessionguard"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   sessionguard.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   sessionguard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: sessionguard.MetricLockAcquired, Name: "sessionguard_lock_acquired_total", Help: "Operation lock acquisitions."},
	{ID: sessionguard.MetricLockContended, Name: "sessionguard_lock_contended_total", Help: "Acquisitions that had to queue behind a holder."},
	{ID: sessionguard.MetricLockAutoReleased, Name: "sessionguard_lock_auto_released_total", Help: "Locks released by the auto-release timer."},
	{ID: sessionguard.MetricLockForceReleased, Name: "sessionguard_lock_force_released_total", Help: "Locks released by ForceReleaseAll or Close."},
	{ID: sessionguard.MetricLockWaitTimeout, Name: "sessionguard_lock_wait_timeout_total", Help: "Acquisitions abandoned at the wait ceiling."},
	{ID: sessionguard.MetricLockBypassed, Name: "sessionguard_lock_bypassed_total", Help: "Operations that proceeded without the lock after a wait timeout."},
	{ID: sessionguard.MetricLoginSuccess, Name: "sessionguard_login_success_total", Help: "Successful logins."},
	{ID: sessionguard.MetricLoginFailure, Name: "sessionguard_login_failure_total", Help: "Failed logins."},
	{ID: sessionguard.MetricLoginThrottled, Name: "sessionguard_login_throttled_total", Help: "Logins refused by the failed-attempt throttle."},
	{ID: sessionguard.MetricLogout, Name: "sessionguard_logout_total", Help: "Single-session logouts."},
	{ID: sessionguard.MetricLogoutAll, Name: "sessionguard_logout_all_total", Help: "Logout-all operations."},
	{ID: sessionguard.MetricRefreshSuccess, Name: "sessionguard_refresh_success_total", Help: "Successful refreshes."},
	{ID: sessionguard.MetricRefreshFailure, Name: "sessionguard_refresh_failure_total", Help: "Failed refreshes."},
	{ID: sessionguard.MetricSessionCreated, Name: "sessionguard_session_created_total", Help: "Created sessions."},
	{ID: sessionguard.MetricSessionDestroyed, Name: "sessionguard_session_destroyed_total", Help: "Destroyed sessions, local and remote."},
	{ID: sessionguard.MetricSessionEvicted, Name: "sessionguard_session_evicted_total", Help: "Sessions evicted by the concurrency cap."},
	{ID: sessionguard.MetricSessionValidated, Name: "sessionguard_session_validated_total", Help: "Successful session validations."},
	{ID: sessionguard.MetricSessionRejected, Name: "sessionguard_session_rejected_total", Help: "Validations that rejected an existing session."},
	{ID: sessionguard.MetricFingerprintMismatch, Name: "sessionguard_fingerprint_mismatch_total", Help: "Sessions destroyed for a fingerprint mismatch."},
	{ID: sessionguard.MetricRemoteEventApplied, Name: "sessionguard_remote_event_applied_total", Help: "Broadcast events applied from other contexts."},
	{ID: sessionguard.MetricStoreIntegrityFailure, Name: "sessionguard_store_integrity_failure_total", Help: "Store records purged for a checksum mismatch."},
	{ID: sessionguard.MetricStoreCorruption, Name: "sessionguard_store_corruption_total", Help: "Store records purged as unreadable."},
	{ID: sessionguard.MetricStoreExpired, Name: "sessionguard_store_expired_total", Help: "Store records purged on read after expiry."},
	{ID: sessionguard.MetricStoreSwept, Name: "sessionguard_store_swept_total", Help: "Store records purged by the sweeper."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: sessionguard.MetricLockWaitLatency, Name: "sessionguard_lock_wait_seconds", Help: "Time spent waiting for the operation lock."},
	{ID: sessionguard.MetricValidateLatency, Name: "sessionguard_validate_latency_seconds", Help: "Session validation latency."},
}

// BucketCount matches the engine's fixed histogram layout.
const BucketCount = 8

// HistogramBounds are the finite upper bounds in seconds; the last engine
// bucket is +Inf.
var HistogramBounds = [BucketCount - 1]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket for exporters without native
// histograms.
var HistogramBoundSuffix = [BucketCount]string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, padding with zeros.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
