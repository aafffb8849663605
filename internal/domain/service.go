package domain

import "time"

// ServiceDescriptor is the static configuration of one delivery provider.
// Built at startup from config; Priority and Enabled are mutated only
// administratively, never by the delivery path.
type ServiceDescriptor struct {
	Name                string   `json:"name"`
	DisplayName         string   `json:"display_name"`
	Capabilities        []Method `json:"capabilities"`
	Priority            int      `json:"priority"`
	IsPrimary           bool     `json:"is_primary"`
	Enabled             bool     `json:"enabled"`
	RequiredCredentials []string `json:"-"`
}

// Supports reports whether the provider can deliver via the given method.
func (d *ServiceDescriptor) Supports(m Method) bool {
	for _, c := range d.Capabilities {
		if c == m {
			return true
		}
	}
	return false
}

// HealthState is the coarse operational state of a provider.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthDown     HealthState = "down"
	HealthUnknown  HealthState = "unknown"
)

// ValidationStatus is the result of the last credential/connectivity check.
type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
	ValidationPending ValidationStatus = "pending"
)

// HealthStatus is the dynamic health view of one provider, refreshed by
// periodic validation and by every live delivery outcome.
type HealthStatus struct {
	ServiceName      string           `json:"service_name"`
	State            HealthState      `json:"state"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	LastValidatedAt  time.Time        `json:"last_validated_at"`
	LastError        string           `json:"last_error,omitempty"`
}
