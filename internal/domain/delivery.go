package domain

import "time"

// Method is the concrete delivery channel an attempt is made on.
type Method string

const (
	MethodSMS   Method = "sms"
	MethodEmail Method = "email"
)

func (m Method) IsValid() bool {
	switch m {
	case MethodSMS, MethodEmail:
		return true
	}
	return false
}

// Opposite returns the other delivery method, used when planning
// cross-method fallback.
func (m Method) Opposite() Method {
	if m == MethodSMS {
		return MethodEmail
	}
	return MethodSMS
}

// DeliveryType is the caller-facing request type. It resolves to a Method.
type DeliveryType string

const (
	TypePhone DeliveryType = "phone"
	TypeEmail DeliveryType = "email"
)

func (t DeliveryType) IsValid() bool {
	switch t {
	case TypePhone, TypeEmail:
		return true
	}
	return false
}

// Method resolves the request type to its primary delivery method.
func (t DeliveryType) Method() Method {
	if t == TypePhone {
		return MethodSMS
	}
	return MethodEmail
}

// FallbackType tags why a plan entry exists, so results and logs can
// distinguish a primary attempt from the fallbacks that followed it.
type FallbackType string

const (
	FallbackPrimary      FallbackType = "primary"
	FallbackService      FallbackType = "service_fallback"
	FallbackCrossMethod  FallbackType = "cross_method"
	FallbackMethodSwitch FallbackType = "method_switch"
)

// Preferences carries the caller's delivery preferences.
type Preferences struct {
	PreferredMethod *Method `json:"preferred_method,omitempty"`
	AllowFallback   bool    `json:"allow_fallback"`
}

// DeliveryRequest is a single OTP delivery order.
// AlternateContact, if set, is the contact for the opposite method and
// enables cross-method fallback when AllowFallback is true.
type DeliveryRequest struct {
	UserID           string       `json:"user_id"`
	DeliveryID       string       `json:"delivery_id"`
	Type             DeliveryType `json:"type"`
	Contact          string       `json:"contact"`
	AlternateContact string       `json:"alternate_contact,omitempty"`
	OTP              string       `json:"otp"`
	Preferences      Preferences  `json:"preferences"`
	ExcludeServices  []string     `json:"exclude_services,omitempty"`
}

func (r *DeliveryRequest) Validate() error {
	if !r.Type.IsValid() {
		return ErrInvalidType
	}
	if r.Contact == "" {
		return ErrInvalidContact
	}
	if r.OTP == "" {
		return ErrEmptyPayload
	}
	if r.UserID == "" {
		return ErrMissingUserID
	}
	return nil
}

// DeliveryPlanEntry is one (provider, method, contact) option in a fallback
// plan. Priority is plan-local: lower values are tried first.
type DeliveryPlanEntry struct {
	ServiceName  string       `json:"service_name"`
	Method       Method       `json:"method"`
	Contact      string       `json:"contact"`
	Priority     int          `json:"priority"`
	FallbackType FallbackType `json:"fallback_type"`
}

// AttemptStatus is the outcome of a single provider attempt.
type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "success"
	AttemptFailed  AttemptStatus = "failed"
)

// DeliveryAttemptRecord is the immutable log entry for one provider call.
// Persisted best-effort by the attempt-log repository.
type DeliveryAttemptRecord struct {
	ID             string        `json:"id"`
	DeliveryID     string        `json:"delivery_id"`
	UserID         string        `json:"user_id"`
	ServiceName    string        `json:"service_name"`
	Method         Method        `json:"method"`
	Contact        string        `json:"contact"`
	Status         AttemptStatus `json:"status"`
	ErrorCategory  ErrorCategory `json:"error_category,omitempty"`
	Error          string        `json:"error,omitempty"`
	RetryCount     int           `json:"retry_count"`
	DeliveryTimeMs int64         `json:"delivery_time_ms"`
	Timestamp      time.Time     `json:"timestamp"`
}

// FallbackTransition records the executor moving from one exhausted plan
// entry to the next.
type FallbackTransition struct {
	FromService string `json:"from_service"`
	ToService   string `json:"to_service"`
	ToMethod    Method `json:"to_method"`
	Reason      string `json:"reason"`
}

// DeliveryResult is the structured outcome returned to the caller.
// Success=false means every eligible plan entry was exhausted.
type DeliveryResult struct {
	DeliveryID    string                  `json:"delivery_id"`
	Success       bool                    `json:"success"`
	ServiceName   string                  `json:"service_name,omitempty"`
	Method        Method                  `json:"method,omitempty"`
	MessageID     string                  `json:"message_id,omitempty"`
	RetryCount    int                     `json:"retry_count"`
	Attempts      []DeliveryAttemptRecord `json:"attempts"`
	FallbacksUsed []FallbackTransition    `json:"fallbacks_used"`
	LastError     string                  `json:"last_error,omitempty"`
}
