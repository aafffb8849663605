// Package backoff computes retry delays and retry budgets for delivery
// attempts. The calculator is pure: it holds configuration only, so the
// same inputs always produce the same delay modulo jitter.
package backoff

import (
	"math"
	"math/rand"
	"time"

	"github.com/verifyhub/otp-delivery/internal/domain"
)

// Config holds the retry tuning knobs.
type Config struct {
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	JitterFactor float64
	// MaxAttempts is the per-entry attempt budget for ordinary retryable
	// categories. RATE_LIMIT and the non-retryable categories have smaller
	// fixed budgets regardless of this value.
	MaxAttempts int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BaseDelay:    time.Second,
		Multiplier:   2,
		MaxDelay:     5 * time.Minute,
		JitterFactor: 0.15,
		MaxAttempts:  5,
	}
}

// Calculator derives delays from attempt number, error category, and the
// provider's recent error rate.
type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) *Calculator {
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Calculator{cfg: cfg}
}

// categoryMultipliers stretch the delay for categories where hammering the
// provider is counterproductive. AUTH_ERROR never reaches a second attempt,
// but the multiplier stays defined so Delay is total over all categories.
var categoryMultipliers = map[domain.ErrorCategory]float64{
	domain.CategoryRateLimit:   3,
	domain.CategoryNetwork:     1.5,
	domain.CategoryServiceDown: 2.5,
	domain.CategoryAuthError:   4,
}

// Delay computes the sleep before retry number attempt (1-based: attempt 1
// is the delay after the first failure). recentErrorRate is the provider's
// rolling error rate in [0,1]; pass a negative value when unknown.
func (c *Calculator) Delay(attempt int, category domain.ErrorCategory, recentErrorRate float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(c.cfg.BaseDelay) * math.Pow(c.cfg.Multiplier, float64(attempt-1))

	if m, ok := categoryMultipliers[category]; ok {
		delay *= m
	}

	// Degraded providers get extra breathing room; healthy ones slightly
	// faster retries.
	switch {
	case recentErrorRate > 0.5:
		delay *= 1.8
	case recentErrorRate >= 0 && recentErrorRate < 0.1:
		delay *= 0.8
	}

	if delay > float64(c.cfg.MaxDelay) {
		delay = float64(c.cfg.MaxDelay)
	}

	if c.cfg.JitterFactor > 0 {
		jitter := delay * c.cfg.JitterFactor
		delay += (rand.Float64()*2 - 1) * jitter
	}

	floor := float64(c.cfg.BaseDelay) / 2
	if delay < floor {
		delay = floor
	}

	return time.Duration(delay)
}

// MaxAttempts returns the total attempt budget for a plan entry given the
// category of its most recent failure.
func (c *Calculator) MaxAttempts(category domain.ErrorCategory) int {
	switch category {
	case domain.CategoryInvalidRecipient, domain.CategoryAuthError:
		return 1
	case domain.CategoryRateLimit:
		return 2
	}
	return c.cfg.MaxAttempts
}
