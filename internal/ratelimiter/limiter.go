package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// ProviderLimiters holds one token bucket limiter per delivery provider.
// Each limiter enforces a steady-state rate (e.g. 50 sends/sec).
// Burst is set equal to the rate so no extra burst capacity is allowed
// beyond the configured per-second maximum.
type ProviderLimiters struct {
	limiters map[string]*rate.Limiter
}

// New creates a ProviderLimiters with ratePerSec tokens per second for each
// named provider.
func New(names []string, ratePerSec int) *ProviderLimiters {
	r := rate.Limit(ratePerSec)
	burst := ratePerSec // burst == rate: prevents any "saved up" burst above the limit

	limiters := make(map[string]*rate.Limiter, len(names))
	for _, name := range names {
		limiters[name] = rate.NewLimiter(r, burst)
	}
	return &ProviderLimiters{limiters: limiters}
}

// Wait blocks until the provider's limiter grants a token. Providers not
// registered at construction are not limited.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (pl *ProviderLimiters) Wait(ctx context.Context, name string) error {
	l, ok := pl.limiters[name]
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}
