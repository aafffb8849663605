package breaker_test

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/verifyhub/otp-delivery/internal/breaker"
	"github.com/verifyhub/otp-delivery/internal/domain"
)

const svc = "unified"

func newRegistry() (*breaker.Registry, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	reg := breaker.NewRegistry(breaker.DefaultConfig(), []string{svc}, zap.NewNop())
	reg.SetNowFunc(clock.Now)
	return reg, clock
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func failN(reg *breaker.Registry, n int, category domain.ErrorCategory) {
	for i := 0; i < n; i++ {
		reg.RecordFailure(svc, category, 100)
	}
}

func TestRegistry_OpensAtThreshold(t *testing.T) {
	reg, clock := newRegistry()

	failN(reg, 4, domain.CategoryNetwork)
	if reg.State(svc) != breaker.StateClosed {
		t.Fatalf("expected closed below threshold, got %s", reg.State(svc))
	}

	reg.RecordFailure(svc, domain.CategoryNetwork, 100)
	if reg.State(svc) != breaker.StateOpen {
		t.Fatalf("expected open at threshold, got %s", reg.State(svc))
	}

	snap := reg.Snapshot(svc)
	wantRetry := clock.Now().Add(60 * time.Second)
	if !snap.NextRetryTime.Equal(wantRetry) {
		t.Fatalf("expected next retry %v, got %v", wantRetry, snap.NextRetryTime)
	}
	if reg.IsAvailable(svc) {
		t.Fatal("open breaker should not be available")
	}
}

func TestRegistry_SuccessDrainsFailureCount(t *testing.T) {
	reg, _ := newRegistry()

	failN(reg, 4, domain.CategoryNetwork)
	reg.RecordSuccess(svc, 50)

	// The success decremented the count, so one more failure stays closed.
	reg.RecordFailure(svc, domain.CategoryNetwork, 100)
	if reg.State(svc) != breaker.StateClosed {
		t.Fatalf("expected closed after drain, got %s", reg.State(svc))
	}
}

func TestRegistry_HalfOpenAfterTimeout(t *testing.T) {
	reg, clock := newRegistry()

	failN(reg, 5, domain.CategoryNetwork)
	if reg.IsAvailable(svc) {
		t.Fatal("expected unavailable while open")
	}

	clock.Advance(61 * time.Second)
	if !reg.IsAvailable(svc) {
		t.Fatal("expected availability after open timeout")
	}
	if reg.State(svc) != breaker.StateHalfOpen {
		t.Fatalf("expected half-open, got %s", reg.State(svc))
	}
}

func TestRegistry_HalfOpenAdmitsLimitedProbes(t *testing.T) {
	reg, clock := newRegistry()

	failN(reg, 5, domain.CategoryNetwork)
	clock.Advance(61 * time.Second)

	for i := 0; i < 3; i++ {
		if !reg.IsAvailable(svc) {
			t.Fatalf("probe %d: expected admission", i+1)
		}
	}
	if reg.IsAvailable(svc) {
		t.Fatal("expected fourth probe to be rejected")
	}
}

func TestRegistry_SingleHalfOpenSuccessCloses(t *testing.T) {
	reg, clock := newRegistry()

	failN(reg, 5, domain.CategoryNetwork)
	clock.Advance(61 * time.Second)

	if !reg.IsAvailable(svc) {
		t.Fatal("expected half-open admission")
	}
	reg.RecordSuccess(svc, 80)

	if reg.State(svc) != breaker.StateClosed {
		t.Fatalf("expected closed after half-open success, got %s", reg.State(svc))
	}
	snap := reg.Snapshot(svc)
	if snap.FailureCount != 0 {
		t.Fatalf("expected failure count reset, got %d", snap.FailureCount)
	}
}

func TestRegistry_HalfOpenReopensAfterExhaustedProbes(t *testing.T) {
	reg, clock := newRegistry()

	failN(reg, 5, domain.CategoryNetwork)
	clock.Advance(61 * time.Second)

	// Consume all three probe slots, each failing.
	for i := 0; i < 3; i++ {
		if !reg.IsAvailable(svc) {
			t.Fatalf("probe %d: expected admission", i+1)
		}
		reg.RecordFailure(svc, domain.CategoryNetwork, 100)
	}

	if reg.State(svc) != breaker.StateOpen {
		t.Fatalf("expected reopened breaker, got %s", reg.State(svc))
	}

	snap := reg.Snapshot(svc)
	wantRetry := clock.Now().Add(60 * time.Second)
	if !snap.NextRetryTime.Equal(wantRetry) {
		t.Fatalf("expected fresh retry time %v, got %v", wantRetry, snap.NextRetryTime)
	}
}

func TestRegistry_EligibleHasNoSideEffects(t *testing.T) {
	reg, clock := newRegistry()

	failN(reg, 5, domain.CategoryNetwork)
	clock.Advance(61 * time.Second)

	// Eligible must not transition the state or consume probe slots.
	for i := 0; i < 10; i++ {
		if !reg.Eligible(svc) {
			t.Fatal("expected eligible after open timeout")
		}
	}
	if reg.State(svc) != breaker.StateOpen {
		t.Fatalf("Eligible mutated state to %s", reg.State(svc))
	}

	// All probe slots remain for the mutating check.
	for i := 0; i < 3; i++ {
		if !reg.IsAvailable(svc) {
			t.Fatalf("probe %d: expected admission", i+1)
		}
	}
}

func TestRegistry_RecentErrorRate(t *testing.T) {
	reg, _ := newRegistry()

	if got := reg.RecentErrorRate(svc); got != -1 {
		t.Fatalf("expected -1 with no samples, got %v", got)
	}

	reg.RecordFailure(svc, domain.CategoryNetwork, 100)
	reg.RecordSuccess(svc, 50)
	reg.RecordFailure(svc, domain.CategoryNetwork, 100)
	reg.RecordFailure(svc, domain.CategoryNetwork, 100)

	if got := reg.RecentErrorRate(svc); got != 0.75 {
		t.Fatalf("expected 0.75, got %v", got)
	}
}

func TestRegistry_UnknownProviderDefaultsClosed(t *testing.T) {
	reg, _ := newRegistry()

	if !reg.IsAvailable("never-configured") {
		t.Fatal("unknown provider should default to available")
	}
	if reg.State("never-configured") != breaker.StateClosed {
		t.Fatal("unknown provider should default to closed")
	}
}

func TestAutoDisable_WindowFailures(t *testing.T) {
	reg, clock := newRegistry()

	failN(reg, 10, domain.CategoryNetwork)
	if !reg.EvaluateAutoDisable(svc, domain.CategoryNetwork) {
		t.Fatal("expected auto-disable at 10 window failures")
	}
	if reg.IsAvailable(svc) {
		t.Fatal("disabled provider should not be available")
	}

	snap := reg.Snapshot(svc)
	if !snap.Disabled {
		t.Fatal("expected snapshot to report disabled")
	}
	if snap.DisableReason != "window_failures" {
		t.Fatalf("expected reason window_failures, got %q", snap.DisableReason)
	}
	wantUntil := clock.Now().Add(30 * time.Minute)
	if !snap.DisabledUntil.Equal(wantUntil) {
		t.Fatalf("expected disabled until %v, got %v", wantUntil, snap.DisabledUntil)
	}
}

func TestAutoDisable_ServiceDownShortCircuit(t *testing.T) {
	reg, clock := newRegistry()

	failN(reg, 3, domain.CategoryServiceDown)
	if !reg.EvaluateAutoDisable(svc, domain.CategoryServiceDown) {
		t.Fatal("expected auto-disable on SERVICE_DOWN streak")
	}

	snap := reg.Snapshot(svc)
	wantUntil := clock.Now().Add(20 * time.Minute)
	if !snap.DisabledUntil.Equal(wantUntil) {
		t.Fatalf("expected 20m disable, got until %v", snap.DisabledUntil)
	}
	if snap.DisableReason != "service_down" {
		t.Fatalf("expected reason service_down, got %q", snap.DisableReason)
	}
}

func TestAutoDisable_ErrorRateNeedsEnoughSamples(t *testing.T) {
	reg, _ := newRegistry()

	// A single failure is a 100% error rate, but with fewer samples than the
	// window requires it must not trip the error-rate trigger.
	reg.RecordFailure(svc, domain.CategoryNetwork, 100)
	if reg.EvaluateAutoDisable(svc, domain.CategoryNetwork) {
		t.Fatal("one sample must not trigger error-rate disable")
	}

	// Mixed history keeps the streak short but pushes the recent rate
	// above the threshold: success, then five failures in a row.
	reg.RecordSuccess(svc, 50)
	failN(reg, 5, domain.CategoryNetwork)
	if !reg.EvaluateAutoDisable(svc, domain.CategoryNetwork) {
		t.Fatal("expected error-rate auto-disable with full sample window")
	}
	if got := reg.Snapshot(svc).DisableReason; got != "error_rate" {
		t.Fatalf("expected reason error_rate, got %q", got)
	}
}

func TestAutoDisable_ReenablesOnceElapsed(t *testing.T) {
	reg, clock := newRegistry()

	failN(reg, 3, domain.CategoryServiceDown)
	reg.EvaluateAutoDisable(svc, domain.CategoryServiceDown)

	if reg.IsAvailable(svc) {
		t.Fatal("expected unavailable while disabled")
	}

	clock.Advance(20*time.Minute + time.Second)
	if !reg.IsAvailable(svc) {
		t.Fatal("expected availability after the disable elapsed")
	}

	snap := reg.Snapshot(svc)
	if snap.Disabled {
		t.Fatal("expected disable flag cleared")
	}
	if snap.ConsecutiveFailures != 0 {
		t.Fatalf("expected consecutive counter reset, got %d", snap.ConsecutiveFailures)
	}
}

func TestAutoDisable_WindowPurgesOldFailures(t *testing.T) {
	reg, clock := newRegistry()

	// Nine failures, then everything ages past the retention horizon.
	failN(reg, 9, domain.CategoryNetwork)
	reg.RecordSuccess(svc, 50) // reset the consecutive streak
	clock.Advance(2*time.Hour + time.Minute)

	// One fresh failure: the purged window holds a single record, so the
	// window trigger must not fire.
	reg.RecordFailure(svc, domain.CategoryNetwork, 100)
	reg.EvaluateAutoDisable(svc, domain.CategoryNetwork)

	snap := reg.Snapshot(svc)
	if snap.Disabled && snap.DisableReason == "window_failures" {
		t.Fatal("stale failures must not count toward the window trigger")
	}
	if snap.RecentFailures != 1 {
		t.Fatalf("expected 1 retained failure, got %d", snap.RecentFailures)
	}
}
