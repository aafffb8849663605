package breaker

import (
	"time"

	"go.uber.org/zap"

	"github.com/verifyhub/otp-delivery/internal/domain"
)

// Auto-disable trigger names, surfaced in snapshots and logs.
const (
	disableWindowFailures = "window_failures"
	disableConsecutive    = "consecutive_failures"
	disableErrorRate      = "error_rate"
	disableServiceDown    = "service_down"
)

// EvaluateAutoDisable checks the failure-tracker triggers and disables the
// provider when one fires. It is independent of the circuit breaker: a
// disabled provider is unavailable even with a closed breaker. Returns true
// if the provider is (now or already) disabled.
//
// Triggers, in check order:
//  1. rolling-window failures ≥ DisableWindowFailures
//  2. consecutive failures ≥ DisableConsecutive
//  3. average error rate over the last ErrorRateSamples outcomes above
//     ErrorRateThreshold
//  4. a SERVICE_DOWN failure with ≥ ServiceDownConsecutive consecutive
//     failures
func (r *Registry) EvaluateAutoDisable(name string, lastCategory domain.ErrorCategory) bool {
	ps := r.get(name)
	now := r.now()

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.disabled {
		return true
	}

	ps.purgeWindowLocked(now, r.cfg.WindowRetention)

	var (
		reason   string
		duration time.Duration
	)

	switch {
	case len(ps.recentFailures) >= r.cfg.DisableWindowFailures:
		reason, duration = disableWindowFailures, r.cfg.DisableDurationWindow
	case ps.consecutiveFailures >= r.cfg.DisableConsecutive:
		reason, duration = disableConsecutive, r.cfg.DisableDurationWindow
	case len(ps.outcomeSamples) >= r.cfg.ErrorRateSamples &&
		ps.recentErrorRateLocked(r.cfg.ErrorRateSamples) > r.cfg.ErrorRateThreshold:
		reason, duration = disableErrorRate, r.cfg.DisableDurationErrorRate
	case lastCategory == domain.CategoryServiceDown && ps.consecutiveFailures >= r.cfg.ServiceDownConsecutive:
		reason, duration = disableServiceDown, r.cfg.DisableDurationServiceDown
	default:
		return false
	}

	ps.disabled = true
	ps.disabledUntil = now.Add(duration)
	ps.disableReason = reason

	r.logger.Warn("provider auto-disabled",
		zap.String("service", name),
		zap.String("reason", reason),
		zap.Time("disabled_until", ps.disabledUntil),
		zap.Int("consecutive_failures", ps.consecutiveFailures),
		zap.Int("window_failures", len(ps.recentFailures)))

	return true
}

// purgeWindowLocked drops failure records older than the retention horizon.
// Lazy: called on every write and on auto-disable evaluation, so the window
// never grows unbounded. Caller must hold ps.mu.
func (ps *providerState) purgeWindowLocked(now time.Time, retention time.Duration) {
	if len(ps.recentFailures) == 0 {
		return
	}
	horizon := now.Add(-retention)
	cut := 0
	for cut < len(ps.recentFailures) && ps.recentFailures[cut].Timestamp.Before(horizon) {
		cut++
	}
	if cut > 0 {
		ps.recentFailures = append([]FailureRecord(nil), ps.recentFailures[cut:]...)
	}
}

// recentErrorRateLocked averages the newest n outcome samples.
// Returns -1 with no samples. Caller must hold ps.mu.
func (ps *providerState) recentErrorRateLocked(n int) float64 {
	samples := ps.outcomeSamples
	if len(samples) > n {
		samples = samples[len(samples)-n:]
	}
	return average(samples)
}
