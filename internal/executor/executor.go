// Package executor walks a delivery plan entry by entry: breaker-gated
// attempts with bounded retries and backoff inside each entry, fallback to
// the next entry on exhaustion, first success wins.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/verifyhub/otp-delivery/internal/backoff"
	"github.com/verifyhub/otp-delivery/internal/breaker"
	"github.com/verifyhub/otp-delivery/internal/domain"
	"github.com/verifyhub/otp-delivery/internal/planner"
	"github.com/verifyhub/otp-delivery/internal/provider"
	"github.com/verifyhub/otp-delivery/internal/ratelimiter"
	"github.com/verifyhub/otp-delivery/internal/registry"
	"github.com/verifyhub/otp-delivery/internal/repository"
)

// Config holds executor tuning.
type Config struct {
	// AttemptTimeout bounds each individual provider call. Expiry counts
	// as a NETWORK failure; the executor never waits on the underlying
	// call beyond it.
	AttemptTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{AttemptTimeout: 10 * time.Second}
}

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the executor constructor signature clean.
type MetricHooks struct {
	OnAttempt  func(service string, method domain.Method, success bool, latency time.Duration)
	OnRetry    func(service string)
	OnFallback func(from, to string)
}

func (h *MetricHooks) fillNoops() {
	if h.OnAttempt == nil {
		h.OnAttempt = func(string, domain.Method, bool, time.Duration) {}
	}
	if h.OnRetry == nil {
		h.OnRetry = func(string) {}
	}
	if h.OnFallback == nil {
		h.OnFallback = func(string, string) {}
	}
}

// Executor coordinates planner, breakers, backoff, rate limiting, and the
// attempt log for a single delivery at a time. It is safe for concurrent
// use: per-delivery state is local, and all shared provider state lives
// behind the breaker registry's locks.
type Executor struct {
	cfg      Config
	planner  *planner.Planner
	adapters map[string]provider.Adapter
	breakers *breaker.Registry
	backoff  *backoff.Calculator
	limiter  *ratelimiter.ProviderLimiters
	attempts repository.AttemptRepository
	registry *registry.ServiceRegistry
	hooks    MetricHooks
	logger   *zap.Logger

	// sleep is replaced in tests so retries do not slow the suite down.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(
	cfg Config,
	pl *planner.Planner,
	adapters map[string]provider.Adapter,
	breakers *breaker.Registry,
	calc *backoff.Calculator,
	limiter *ratelimiter.ProviderLimiters,
	attempts repository.AttemptRepository,
	reg *registry.ServiceRegistry,
	hooks MetricHooks,
	logger *zap.Logger,
) *Executor {
	hooks.fillNoops()
	return &Executor{
		cfg:      cfg,
		planner:  pl,
		adapters: adapters,
		breakers: breakers,
		backoff:  calc,
		limiter:  limiter,
		attempts: attempts,
		registry: reg,
		hooks:    hooks,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// SetSleepFunc overrides the backoff sleep. Test hook only.
func (e *Executor) SetSleepFunc(sleep func(ctx context.Context, d time.Duration) error) {
	e.sleep = sleep
}

// ExecuteDelivery runs the full plan for one request and returns a
// structured result. It never returns an unhandled failure: a delivery that
// exhausts all providers comes back with Success=false, the last error, and
// the full attempt trail. The caller's ctx deadline aborts the sequence
// between attempts and during backoff sleeps.
func (e *Executor) ExecuteDelivery(ctx context.Context, req *domain.DeliveryRequest) *domain.DeliveryResult {
	if req.DeliveryID == "" {
		req.DeliveryID = uuid.New().String()
	}

	result := &domain.DeliveryResult{
		DeliveryID:    req.DeliveryID,
		Attempts:      []domain.DeliveryAttemptRecord{},
		FallbacksUsed: []domain.FallbackTransition{},
	}

	log := e.logger.With(
		zap.String("delivery_id", req.DeliveryID),
		zap.String("user_id", req.UserID),
	)

	plan := e.planner.BuildPlan(req)
	if len(plan) == 0 {
		result.LastError = domain.ErrNoAvailableServices.Error()
		log.Warn("empty delivery plan", zap.String("type", string(req.Type)))
		return result
	}

	// Methods already attempted per provider, for the method-switch
	// exception: a provider whose breaker tripped on one method still gets
	// one trial on the other method within the same sequence.
	attemptedMethods := make(map[string]map[domain.Method]bool)

	var lastFailed *domain.DeliveryPlanEntry

	for i := range plan {
		entry := plan[i]

		if ctx.Err() != nil {
			result.LastError = fmt.Sprintf("delivery aborted: %v", ctx.Err())
			log.Warn("caller deadline reached mid-plan", zap.Int("entries_remaining", len(plan)-i))
			return result
		}

		methodSwitchTrial := entry.FallbackType == domain.FallbackMethodSwitch &&
			attemptedMethods[entry.ServiceName] != nil &&
			!attemptedMethods[entry.ServiceName][entry.Method]

		if !e.breakers.IsAvailable(entry.ServiceName) && !methodSwitchTrial {
			log.Debug("skipping unavailable provider",
				zap.String("service", entry.ServiceName),
				zap.String("breaker_state", string(e.breakers.State(entry.ServiceName))))
			continue
		}

		if lastFailed != nil {
			result.FallbacksUsed = append(result.FallbacksUsed, domain.FallbackTransition{
				FromService: lastFailed.ServiceName,
				ToService:   entry.ServiceName,
				ToMethod:    entry.Method,
				Reason:      result.LastError,
			})
			e.hooks.OnFallback(lastFailed.ServiceName, entry.ServiceName)
		}

		if attemptedMethods[entry.ServiceName] == nil {
			attemptedMethods[entry.ServiceName] = make(map[domain.Method]bool)
		}
		attemptedMethods[entry.ServiceName][entry.Method] = true

		done := e.executeEntry(ctx, req, &entry, result, log)
		if done {
			return result
		}
		lastFailed = &entry
	}

	result.Success = false
	if result.LastError == "" {
		result.LastError = domain.ErrAllServicesFailed.Error()
	}
	log.Warn("delivery failed on all plan entries",
		zap.Int("attempts", len(result.Attempts)),
		zap.String("last_error", result.LastError))
	return result
}

// executeEntry runs bounded retries against a single plan entry. Returns
// true when the delivery succeeded and the overall result is final.
func (e *Executor) executeEntry(
	ctx context.Context,
	req *domain.DeliveryRequest,
	entry *domain.DeliveryPlanEntry,
	result *domain.DeliveryResult,
	log *zap.Logger,
) bool {
	var lastCategory domain.ErrorCategory

	for attempt := 1; ; attempt++ {
		outcome, elapsed := e.attemptOnce(ctx, req, entry, attempt)

		record := domain.DeliveryAttemptRecord{
			ID:             uuid.New().String(),
			DeliveryID:     req.DeliveryID,
			UserID:         req.UserID,
			ServiceName:    entry.ServiceName,
			Method:         entry.Method,
			Contact:        entry.Contact,
			RetryCount:     attempt - 1,
			DeliveryTimeMs: elapsed.Milliseconds(),
			Timestamp:      time.Now().UTC(),
		}

		if outcome.Success {
			record.Status = domain.AttemptSuccess
			result.Attempts = append(result.Attempts, record)
			e.persistAttempt(ctx, &record, log)
			e.hooks.OnAttempt(entry.ServiceName, entry.Method, true, elapsed)

			e.breakers.RecordSuccess(entry.ServiceName, elapsed.Milliseconds())
			e.registry.RecordOutcome(entry.ServiceName, true, "")

			result.Success = true
			result.ServiceName = entry.ServiceName
			result.Method = entry.Method
			result.MessageID = outcome.MessageID
			result.RetryCount = attempt - 1
			result.LastError = ""

			log.Info("delivery succeeded",
				zap.String("service", entry.ServiceName),
				zap.String("method", string(entry.Method)),
				zap.String("fallback_type", string(entry.FallbackType)),
				zap.Int("retries", attempt-1),
				zap.Duration("latency", elapsed))
			return true
		}

		record.Status = domain.AttemptFailed
		record.ErrorCategory = outcome.Category
		record.Error = outcome.Detail
		result.Attempts = append(result.Attempts, record)
		e.persistAttempt(ctx, &record, log)
		e.hooks.OnAttempt(entry.ServiceName, entry.Method, false, elapsed)

		e.breakers.RecordFailure(entry.ServiceName, outcome.Category, elapsed.Milliseconds())
		e.registry.RecordOutcome(entry.ServiceName, false, outcome.Detail)

		lastCategory = outcome.Category
		result.LastError = outcome.Detail

		log.Warn("delivery attempt failed",
			zap.String("service", entry.ServiceName),
			zap.String("method", string(entry.Method)),
			zap.String("category", string(outcome.Category)),
			zap.Int("attempt", attempt),
			zap.String("error", outcome.Detail))

		if !outcome.Category.Retryable() {
			break
		}
		if attempt >= e.backoff.MaxAttempts(outcome.Category) {
			break
		}
		// A breaker that opened mid-sequence ends the entry's retries.
		if e.breakers.State(entry.ServiceName) == breaker.StateOpen {
			log.Debug("breaker opened mid-sequence, abandoning entry",
				zap.String("service", entry.ServiceName))
			break
		}

		e.hooks.OnRetry(entry.ServiceName)
		delay := e.backoff.Delay(attempt, outcome.Category, e.breakers.RecentErrorRate(entry.ServiceName))
		if err := e.sleep(ctx, delay); err != nil {
			result.LastError = fmt.Sprintf("delivery aborted: %v", err)
			return false
		}
	}

	e.breakers.EvaluateAutoDisable(entry.ServiceName, lastCategory)
	return false
}

// attemptOnce makes a single provider call under the attempt timeout.
// A panicking adapter is an unexpected failure mode and maps to UNKNOWN.
func (e *Executor) attemptOnce(
	ctx context.Context,
	req *domain.DeliveryRequest,
	entry *domain.DeliveryPlanEntry,
	attempt int,
) (outcome provider.Outcome, elapsed time.Duration) {
	adapter, ok := e.adapters[entry.ServiceName]
	if !ok {
		return provider.Outcome{Category: domain.CategoryUnknown, Detail: domain.ErrUnknownService.Error()}, 0
	}

	if err := e.limiter.Wait(ctx, entry.ServiceName); err != nil {
		return provider.Outcome{Category: domain.CategoryNetwork, Detail: "rate limit wait aborted: " + err.Error()}, 0
	}

	// Later retries switch the network path, then rotate endpoints, to
	// avoid correlated failures on a single route.
	route := provider.RouteHint{UseSecondaryPath: attempt >= 2}
	if attempt >= 3 {
		route.EndpointIndex = attempt - 2
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()

	start := time.Now()
	outcome = e.safeSend(callCtx, adapter, provider.SendRequest{
		Method:  entry.Method,
		Contact: entry.Contact,
		Message: renderMessage(req.OTP),
		Route:   route,
	})
	elapsed = time.Since(start)

	// Timeout expiry counts as a NETWORK failure even if the adapter did
	// not classify it; the delivery never blocks on the in-flight call.
	if !outcome.Success && callCtx.Err() == context.DeadlineExceeded && outcome.Category == "" {
		outcome.Category = domain.CategoryNetwork
		outcome.Detail = "attempt timed out"
	}
	if !outcome.Success && outcome.Category == "" {
		outcome.Category = domain.CategoryUnknown
	}
	return outcome, elapsed
}

func (e *Executor) safeSend(ctx context.Context, adapter provider.Adapter, req provider.SendRequest) (outcome provider.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("provider adapter panicked",
				zap.String("service", adapter.Name()),
				zap.Any("panic", rec))
			outcome = provider.Outcome{
				Category: domain.CategoryUnknown,
				Detail:   fmt.Sprintf("adapter panic: %v", rec),
			}
		}
	}()
	return adapter.Send(ctx, req)
}

// persistAttempt writes the attempt record best-effort: a persistence
// failure is logged and never aborts the delivery flow.
func (e *Executor) persistAttempt(ctx context.Context, record *domain.DeliveryAttemptRecord, log *zap.Logger) {
	if err := e.attempts.Save(ctx, record); err != nil {
		log.Warn("failed to persist attempt record",
			zap.String("service", record.ServiceName),
			zap.Error(err))
	}
}

func renderMessage(otp string) string {
	return fmt.Sprintf("Your verification code is %s. It expires in 10 minutes.", otp)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
