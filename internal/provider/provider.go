package provider

import (
	"context"

	"github.com/verifyhub/otp-delivery/internal/domain"
)

// SendRequest is one delivery attempt handed to an adapter.
type SendRequest struct {
	Method  domain.Method
	Contact string
	Message string

	// Route tells the adapter which network path and endpoint to use.
	// The executor varies it across retries to avoid correlated failures.
	Route RouteHint
}

// RouteHint selects a network path and endpoint for a single attempt.
// UseSecondaryPath switches to the alternate HTTP transport (retry ≥2);
// EndpointIndex rotates through the adapter's endpoint list (retry ≥3).
type RouteHint struct {
	UseSecondaryPath bool
	EndpointIndex    int
}

// Outcome is the structured result of one adapter call. Adapters never
// return Go errors for expected failure modes: they classify the failure
// into Category exactly once, here, so no caller re-derives categories
// from error strings.
type Outcome struct {
	Success             bool
	MessageID           string
	EstimatedDeliveryMs int64
	Category            domain.ErrorCategory
	Detail              string
}

// Adapter abstracts one external delivery provider. Implementations must
// honour ctx cancellation and deadlines on Send and Ping.
type Adapter interface {
	Name() string
	Capabilities() []domain.Method
	Send(ctx context.Context, req SendRequest) Outcome

	// Ping is a lightweight connectivity check used by credential
	// validation. It must not send anything to an end user.
	Ping(ctx context.Context) error
}

func failure(cat domain.ErrorCategory, detail string) Outcome {
	return Outcome{Success: false, Category: cat, Detail: detail}
}
