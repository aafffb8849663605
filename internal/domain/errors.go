package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidType         = errors.New("invalid type: must be phone or email")
	ErrInvalidContact      = errors.New("contact must not be empty")
	ErrEmptyPayload        = errors.New("otp payload must not be empty")
	ErrMissingUserID       = errors.New("user_id must not be empty")
	ErrNoAvailableServices = errors.New("no available delivery services")
	ErrAllServicesFailed   = errors.New("all eligible providers exhausted without success")
	ErrUnknownService      = errors.New("unknown service name")
)

// ErrorCategory classifies a provider failure. Classification happens once,
// inside each provider adapter; the rest of the system only ever sees the
// category, never the provider's raw error strings.
type ErrorCategory string

const (
	CategoryNetwork          ErrorCategory = "NETWORK"
	CategoryRateLimit        ErrorCategory = "RATE_LIMIT"
	CategoryInvalidRecipient ErrorCategory = "INVALID_RECIPIENT"
	CategoryAuthError        ErrorCategory = "AUTH_ERROR"
	CategoryServiceDown      ErrorCategory = "SERVICE_DOWN"
	CategoryUnknown          ErrorCategory = "UNKNOWN"
)

// Retryable reports whether failures in this category may be retried on the
// same provider. INVALID_RECIPIENT and AUTH_ERROR abandon the provider
// immediately; everything else retries within its per-category budget.
func (c ErrorCategory) Retryable() bool {
	switch c {
	case CategoryInvalidRecipient, CategoryAuthError:
		return false
	}
	return true
}
