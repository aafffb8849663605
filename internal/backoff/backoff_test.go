package backoff_test

import (
	"testing"
	"time"

	"github.com/verifyhub/otp-delivery/internal/backoff"
	"github.com/verifyhub/otp-delivery/internal/domain"
)

// newCalculator returns a calculator with jitter disabled so delays are exact.
func newCalculator() *backoff.Calculator {
	cfg := backoff.DefaultConfig()
	cfg.JitterFactor = 0
	return backoff.NewCalculator(cfg)
}

func TestCalculator_Delay_ExponentialGrowth(t *testing.T) {
	calc := newCalculator()

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
	}

	for _, tc := range tests {
		got := calc.Delay(tc.attempt, domain.CategoryUnknown, -1)
		if got != tc.expected {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.expected, got)
		}
	}
}

func TestCalculator_Delay_CategoryMultipliers(t *testing.T) {
	calc := newCalculator()

	tests := []struct {
		name     string
		category domain.ErrorCategory
		expected time.Duration
	}{
		{"rate limit triples", domain.CategoryRateLimit, 3 * time.Second},
		{"network stretches by half", domain.CategoryNetwork, 1500 * time.Millisecond},
		{"service down", domain.CategoryServiceDown, 2500 * time.Millisecond},
		{"auth error", domain.CategoryAuthError, 4 * time.Second},
		{"unknown keeps base", domain.CategoryUnknown, 1 * time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := calc.Delay(1, tc.category, -1)
			if got != tc.expected {
				t.Fatalf("expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestCalculator_Delay_ErrorRateAdjustment(t *testing.T) {
	calc := newCalculator()

	degraded := calc.Delay(1, domain.CategoryUnknown, 0.9)
	if degraded != 1800*time.Millisecond {
		t.Fatalf("degraded provider: expected 1.8s, got %v", degraded)
	}

	healthy := calc.Delay(1, domain.CategoryUnknown, 0.05)
	if healthy != 800*time.Millisecond {
		t.Fatalf("healthy provider: expected 800ms, got %v", healthy)
	}

	unknown := calc.Delay(1, domain.CategoryUnknown, -1)
	if unknown != time.Second {
		t.Fatalf("unknown rate: expected 1s, got %v", unknown)
	}
}

func TestCalculator_Delay_CappedAtMax(t *testing.T) {
	calc := newCalculator()

	got := calc.Delay(20, domain.CategoryRateLimit, 0.9)
	if got != 5*time.Minute {
		t.Fatalf("expected cap at 5m, got %v", got)
	}
}

func TestCalculator_Delay_JitterStaysInBounds(t *testing.T) {
	calc := backoff.NewCalculator(backoff.DefaultConfig())

	for i := 0; i < 100; i++ {
		got := calc.Delay(2, domain.CategoryUnknown, -1)
		// 2s base for attempt 2, +/- 15% jitter.
		if got < 1700*time.Millisecond || got > 2300*time.Millisecond {
			t.Fatalf("jittered delay out of bounds: %v", got)
		}
	}
}

func TestCalculator_Delay_FloorAtHalfBase(t *testing.T) {
	cfg := backoff.Config{
		BaseDelay:    time.Second,
		Multiplier:   2,
		MaxDelay:     5 * time.Minute,
		JitterFactor: 0.99,
		MaxAttempts:  5,
	}
	calc := backoff.NewCalculator(cfg)

	for i := 0; i < 100; i++ {
		if got := calc.Delay(1, domain.CategoryUnknown, 0.05); got < 500*time.Millisecond {
			t.Fatalf("delay below floor: %v", got)
		}
	}
}

func TestCalculator_MaxAttempts(t *testing.T) {
	calc := newCalculator()

	tests := []struct {
		category domain.ErrorCategory
		expected int
	}{
		{domain.CategoryInvalidRecipient, 1},
		{domain.CategoryAuthError, 1},
		{domain.CategoryRateLimit, 2},
		{domain.CategoryNetwork, 5},
		{domain.CategoryServiceDown, 5},
		{domain.CategoryUnknown, 5},
	}

	for _, tc := range tests {
		if got := calc.MaxAttempts(tc.category); got != tc.expected {
			t.Fatalf("%s: expected %d attempts, got %d", tc.category, tc.expected, got)
		}
	}
}
