// Package breaker tracks per-provider health: a circuit breaker state
// machine plus a rolling failure tracker with auto-disable. Both gate
// provider availability independently.
//
// All state lives in an explicit Registry constructed at startup and passed
// by reference; there are no package-level singletons. Each provider's state
// is guarded by its own mutex, so two concurrent deliveries hitting the same
// degraded provider cannot race on counters or state transitions.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verifyhub/otp-delivery/internal/domain"
)

// State is the circuit breaker position for one provider.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config holds breaker and failure-tracker tuning. One Config applies to
// every provider in a Registry.
type Config struct {
	// Circuit breaker
	Threshold           int
	OpenTimeout         time.Duration
	HalfOpenMaxAttempts int

	// Failure tracker
	WindowRetention        time.Duration
	DisableWindowFailures  int
	DisableConsecutive     int
	ErrorRateSamples       int
	ErrorRateThreshold     float64
	ServiceDownConsecutive int

	// Auto-disable durations per trigger. Systemic error-rate degradation
	// earns the longest cooldown; a transient service-down signal the
	// shortest.
	DisableDurationErrorRate   time.Duration
	DisableDurationWindow      time.Duration
	DisableDurationServiceDown time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:           5,
		OpenTimeout:         60 * time.Second,
		HalfOpenMaxAttempts: 3,

		WindowRetention:        2 * time.Hour,
		DisableWindowFailures:  10,
		DisableConsecutive:     10,
		ErrorRateSamples:       5,
		ErrorRateThreshold:     0.8,
		ServiceDownConsecutive: 3,

		DisableDurationErrorRate:   60 * time.Minute,
		DisableDurationWindow:      30 * time.Minute,
		DisableDurationServiceDown: 20 * time.Minute,
	}
}

// FailureRecord is one entry in a provider's rolling failure window.
type FailureRecord struct {
	Timestamp      time.Time
	Category       domain.ErrorCategory
	ResponseTimeMs int64
}

// maxOutcomeSamples bounds the per-provider outcome ring used for error-rate
// calculations.
const maxOutcomeSamples = 20

// providerState is everything the registry knows about one provider.
// Guarded by mu; never accessed without it.
type providerState struct {
	mu sync.Mutex

	// circuit breaker
	state            State
	failureCount     int
	lastFailureTime  time.Time
	nextRetryTime    time.Time
	halfOpenAttempts int

	// failure tracker
	consecutiveFailures int
	recentFailures      []FailureRecord
	errorTypeCounts     map[domain.ErrorCategory]int
	disabled            bool
	disabledUntil       time.Time
	disableReason       string

	// outcomeSamples holds 1 for failure, 0 for success, newest last.
	outcomeSamples []float64
}

// Snapshot is a read-only copy of a provider's breaker/tracker state.
type Snapshot struct {
	ServiceName         string                       `json:"service_name"`
	State               State                        `json:"state"`
	FailureCount        int                          `json:"failure_count"`
	ConsecutiveFailures int                          `json:"consecutive_failures"`
	LastFailureTime     time.Time                    `json:"last_failure_time"`
	NextRetryTime       time.Time                    `json:"next_retry_time"`
	HalfOpenAttempts    int                          `json:"half_open_attempts"`
	RecentFailures      int                          `json:"recent_failures"`
	ErrorTypeCounts     map[domain.ErrorCategory]int `json:"error_type_counts"`
	Disabled            bool                         `json:"disabled"`
	DisabledUntil       time.Time                    `json:"disabled_until,omitempty"`
	DisableReason       string                       `json:"disable_reason,omitempty"`
}

// Registry owns the breaker/tracker state for every configured provider.
type Registry struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	providers map[string]*providerState
}

// NewRegistry creates a Registry covering the given provider names.
func NewRegistry(cfg Config, names []string, logger *zap.Logger) *Registry {
	providers := make(map[string]*providerState, len(names))
	for _, name := range names {
		providers[name] = &providerState{
			state:           StateClosed,
			errorTypeCounts: make(map[domain.ErrorCategory]int),
		}
	}
	return &Registry{
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		providers: providers,
	}
}

// SetNowFunc overrides the clock. Test hook only.
func (r *Registry) SetNowFunc(now func() time.Time) { r.now = now }

func (r *Registry) get(name string) *providerState {
	r.mu.RLock()
	ps, ok := r.providers[name]
	r.mu.RUnlock()
	if ok {
		return ps
	}

	// Unknown providers get lazily created state so a misconfigured name
	// degrades to "always closed" instead of panicking mid-delivery.
	r.mu.Lock()
	defer r.mu.Unlock()
	if ps, ok = r.providers[name]; ok {
		return ps
	}
	ps = &providerState{
		state:           StateClosed,
		errorTypeCounts: make(map[domain.ErrorCategory]int),
	}
	r.providers[name] = ps
	return ps
}

// IsAvailable reports whether the provider may be attempted right now.
//
// Side effects, applied atomically under the provider lock:
//   - an elapsed disabledUntil clears the auto-disable exactly once
//   - an open breaker whose nextRetryTime has passed transitions to
//     half-open with a fresh probe counter
//   - a half-open breaker admits the caller as one probe; exactly
//     HalfOpenMaxAttempts concurrent probes are ever admitted
func (r *Registry) IsAvailable(name string) bool {
	ps := r.get(name)
	now := r.now()

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.disabled {
		if now.Before(ps.disabledUntil) {
			return false
		}
		ps.disabled = false
		ps.disableReason = ""
		ps.consecutiveFailures = 0
		r.logger.Info("provider auto-disable elapsed, re-enabling",
			zap.String("service", name))
	}

	switch ps.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Before(ps.nextRetryTime) {
			return false
		}
		ps.state = StateHalfOpen
		ps.halfOpenAttempts = 0
		r.logger.Info("circuit breaker half-open",
			zap.String("service", name))
		fallthrough
	case StateHalfOpen:
		if ps.halfOpenAttempts < r.cfg.HalfOpenMaxAttempts {
			ps.halfOpenAttempts++
			return true
		}
		return false
	}
	return true
}

// RecordSuccess resets the failure streak. Closed breakers drain their
// failure count by one; a half-open breaker closes immediately on a single
// success.
func (r *Registry) RecordSuccess(name string, responseTimeMs int64) {
	ps := r.get(name)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.consecutiveFailures = 0
	ps.pushOutcome(0)

	switch ps.state {
	case StateClosed:
		if ps.failureCount > 0 {
			ps.failureCount--
		}
	case StateHalfOpen:
		ps.state = StateClosed
		ps.failureCount = 0
		ps.halfOpenAttempts = 0
		r.logger.Info("circuit breaker closed after half-open success",
			zap.String("service", name),
			zap.Int64("response_time_ms", responseTimeMs))
	}
}

// RecordFailure appends to the rolling failure window and advances the
// breaker state machine.
func (r *Registry) RecordFailure(name string, category domain.ErrorCategory, responseTimeMs int64) {
	ps := r.get(name)
	now := r.now()

	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.purgeWindowLocked(now, r.cfg.WindowRetention)
	ps.recentFailures = append(ps.recentFailures, FailureRecord{
		Timestamp:      now,
		Category:       category,
		ResponseTimeMs: responseTimeMs,
	})
	ps.errorTypeCounts[category]++
	ps.consecutiveFailures++
	ps.lastFailureTime = now
	ps.failureCount++
	ps.pushOutcome(1)

	switch ps.state {
	case StateClosed:
		if ps.failureCount >= r.cfg.Threshold {
			ps.state = StateOpen
			ps.nextRetryTime = now.Add(r.cfg.OpenTimeout)
			r.logger.Warn("circuit breaker opened",
				zap.String("service", name),
				zap.Int("failure_count", ps.failureCount),
				zap.Time("next_retry", ps.nextRetryTime))
		}
	case StateHalfOpen:
		if ps.halfOpenAttempts >= r.cfg.HalfOpenMaxAttempts {
			ps.state = StateOpen
			ps.nextRetryTime = now.Add(r.cfg.OpenTimeout)
			ps.halfOpenAttempts = 0
			r.logger.Warn("circuit breaker reopened after failed probes",
				zap.String("service", name),
				zap.Time("next_retry", ps.nextRetryTime))
		}
	}
}

// Eligible is a side-effect-free availability check used during plan
// construction. Unlike IsAvailable it does not transition an expired open
// breaker to half-open and does not consume a half-open probe slot; the
// executor performs the mutating check immediately before each attempt.
func (r *Registry) Eligible(name string) bool {
	ps := r.get(name)
	now := r.now()

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.disabled && now.Before(ps.disabledUntil) {
		return false
	}
	switch ps.state {
	case StateOpen:
		return !now.Before(ps.nextRetryTime)
	case StateHalfOpen:
		return ps.halfOpenAttempts < r.cfg.HalfOpenMaxAttempts
	}
	return true
}

// State returns the breaker position without side effects.
func (r *Registry) State(name string) State {
	ps := r.get(name)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.state
}

// RecentErrorRate is the failure fraction of the provider's retained outcome
// samples. Returns -1 when no samples exist.
func (r *Registry) RecentErrorRate(name string) float64 {
	ps := r.get(name)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return average(ps.outcomeSamples)
}

// Snapshot returns a copy of one provider's state for health reporting.
func (r *Registry) Snapshot(name string) Snapshot {
	ps := r.get(name)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	counts := make(map[domain.ErrorCategory]int, len(ps.errorTypeCounts))
	for k, v := range ps.errorTypeCounts {
		counts[k] = v
	}
	return Snapshot{
		ServiceName:         name,
		State:               ps.state,
		FailureCount:        ps.failureCount,
		ConsecutiveFailures: ps.consecutiveFailures,
		LastFailureTime:     ps.lastFailureTime,
		NextRetryTime:       ps.nextRetryTime,
		HalfOpenAttempts:    ps.halfOpenAttempts,
		RecentFailures:      len(ps.recentFailures),
		ErrorTypeCounts:     counts,
		Disabled:            ps.disabled,
		DisabledUntil:       ps.disabledUntil,
		DisableReason:       ps.disableReason,
	}
}

// Names returns every provider the registry tracks.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

func (ps *providerState) pushOutcome(v float64) {
	ps.outcomeSamples = append(ps.outcomeSamples, v)
	if len(ps.outcomeSamples) > maxOutcomeSamples {
		ps.outcomeSamples = ps.outcomeSamples[len(ps.outcomeSamples)-maxOutcomeSamples:]
	}
}

func average(samples []float64) float64 {
	if len(samples) == 0 {
		return -1
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}
