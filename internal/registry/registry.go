// Package registry holds the static configuration and dynamic health state
// of every delivery provider: capability and priority lookups for planning,
// and credential/connectivity validation.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verifyhub/otp-delivery/internal/breaker"
	"github.com/verifyhub/otp-delivery/internal/domain"
	"github.com/verifyhub/otp-delivery/internal/provider"
)

// HealthSink receives provider health updates. The production sink is an
// external collaborator; failures there are logged and never propagated.
type HealthSink interface {
	UpdateServiceHealth(serviceName string, health domain.HealthStatus)
}

// NopHealthSink discards health updates.
type NopHealthSink struct{}

func (NopHealthSink) UpdateServiceHealth(string, domain.HealthStatus) {}

// CredentialSource returns the current credential bundle per provider,
// keyed by provider name then credential field name. Called on every
// validation pass so a revalidation picks up changed credentials without a
// restart.
type CredentialSource func() map[string]map[string]string

// ValidationResult is the outcome of validating one provider.
type ValidationResult struct {
	ServiceName        string   `json:"service_name"`
	Valid              bool     `json:"valid"`
	MissingCredentials []string `json:"missing_credentials,omitempty"`
	Error              string   `json:"error,omitempty"`
}

// ValidationSummary aggregates a full validation pass.
type ValidationSummary struct {
	Results            map[string]ValidationResult `json:"results"`
	ValidCount         int                         `json:"valid_count"`
	PrimaryValid       bool                        `json:"primary_valid"`
	RecommendedActions []string                    `json:"recommended_actions,omitempty"`
}

// ServiceRegistry is the authority on which providers exist, what they can
// do, and how healthy they are.
type ServiceRegistry struct {
	descriptors []*domain.ServiceDescriptor
	byName      map[string]*domain.ServiceDescriptor
	adapters    map[string]provider.Adapter
	breakers    *breaker.Registry
	creds       CredentialSource
	sink        HealthSink
	logger      *zap.Logger
	now         func() time.Time

	mu     sync.RWMutex
	health map[string]*domain.HealthStatus
}

// New builds a registry over the configured providers. descriptors keep
// their given order for stable iteration; planning order is by Priority.
func New(
	descriptors []*domain.ServiceDescriptor,
	adapters map[string]provider.Adapter,
	breakers *breaker.Registry,
	creds CredentialSource,
	sink HealthSink,
	logger *zap.Logger,
) *ServiceRegistry {
	if sink == nil {
		sink = NopHealthSink{}
	}
	byName := make(map[string]*domain.ServiceDescriptor, len(descriptors))
	health := make(map[string]*domain.HealthStatus, len(descriptors))
	for _, d := range descriptors {
		byName[d.Name] = d
		health[d.Name] = &domain.HealthStatus{
			ServiceName:      d.Name,
			State:            domain.HealthUnknown,
			ValidationStatus: domain.ValidationPending,
		}
	}
	return &ServiceRegistry{
		descriptors: descriptors,
		byName:      byName,
		health:      health,
		adapters:    adapters,
		breakers:    breakers,
		creds:       creds,
		sink:        sink,
		logger:      logger,
		now:         time.Now,
	}
}

// SetNowFunc overrides the clock. Test hook only.
func (r *ServiceRegistry) SetNowFunc(now func() time.Time) { r.now = now }

// Descriptor returns the static configuration for one provider.
func (r *ServiceRegistry) Descriptor(name string) (*domain.ServiceDescriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return nil, domain.ErrUnknownService
	}
	return d, nil
}

// Primary returns the primary multi-capability provider, or nil if none is
// configured.
func (r *ServiceRegistry) Primary() *domain.ServiceDescriptor {
	for _, d := range r.descriptors {
		if d.IsPrimary {
			return d
		}
	}
	return nil
}

// AvailableServices returns the enabled providers supporting method that are
// neither credential-invalid nor gated off by the breaker/tracker, sorted by
// priority ascending (ties keep configuration order).
func (r *ServiceRegistry) AvailableServices(method domain.Method) []*domain.ServiceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.ServiceDescriptor
	for _, d := range r.descriptors {
		if !d.Enabled || !d.Supports(method) {
			continue
		}
		if h := r.health[d.Name]; h != nil && h.ValidationStatus == domain.ValidationInvalid {
			continue
		}
		if !r.breakers.Eligible(d.Name) {
			continue
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// ValidateAll checks every configured provider: required credentials first,
// then the adapter's lightweight connectivity check. One provider's missing
// credentials never block validating the others.
func (r *ServiceRegistry) ValidateAll(ctx context.Context) *ValidationSummary {
	credentials := r.creds()
	now := r.now()

	summary := &ValidationSummary{Results: make(map[string]ValidationResult, len(r.descriptors))}

	for _, d := range r.descriptors {
		res := ValidationResult{ServiceName: d.Name}

		bundle := credentials[d.Name]
		for _, field := range d.RequiredCredentials {
			if bundle[field] == "" {
				res.MissingCredentials = append(res.MissingCredentials, field)
			}
		}

		switch {
		case len(res.MissingCredentials) > 0:
			res.Error = fmt.Sprintf("missing credentials: %v", res.MissingCredentials)
		default:
			if err := r.adapters[d.Name].Ping(ctx); err != nil {
				res.Error = err.Error()
			} else {
				res.Valid = true
			}
		}

		summary.Results[d.Name] = res
		if res.Valid {
			summary.ValidCount++
			if d.IsPrimary {
				summary.PrimaryValid = true
			}
		}

		r.applyValidation(d.Name, res, now)
	}

	summary.RecommendedActions = r.recommendations(summary)

	r.logger.Info("provider validation pass complete",
		zap.Int("valid", summary.ValidCount),
		zap.Int("total", len(r.descriptors)),
		zap.Bool("primary_valid", summary.PrimaryValid))

	return summary
}

// Revalidate re-reads credentials and runs a fresh validation pass. Exposed
// for the configuration-change entry point and the periodic revalidation job.
func (r *ServiceRegistry) Revalidate(ctx context.Context) *ValidationSummary {
	return r.ValidateAll(ctx)
}

// RecordOutcome refreshes a provider's live health after a delivery attempt.
// Failures leave the provider degraded, or down once its breaker is open.
func (r *ServiceRegistry) RecordOutcome(name string, success bool, errMsg string) {
	r.mu.Lock()
	h, ok := r.health[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	if success {
		h.State = domain.HealthHealthy
		h.LastError = ""
	} else {
		h.State = domain.HealthDegraded
		if r.breakers.State(name) == breaker.StateOpen {
			h.State = domain.HealthDown
		}
		h.LastError = errMsg
	}
	snapshot := *h
	r.mu.Unlock()

	r.sink.UpdateServiceHealth(name, snapshot)
}

// HealthSnapshot returns a copy of every provider's health, ordered by
// configuration order.
func (r *ServiceRegistry) HealthSnapshot() []domain.HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.HealthStatus, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		if h, ok := r.health[d.Name]; ok {
			out = append(out, *h)
		}
	}
	return out
}

func (r *ServiceRegistry) applyValidation(name string, res ValidationResult, now time.Time) {
	r.mu.Lock()
	h, ok := r.health[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	h.LastValidatedAt = now
	if res.Valid {
		h.ValidationStatus = domain.ValidationValid
		if h.State == domain.HealthUnknown || h.State == domain.HealthDown {
			h.State = domain.HealthHealthy
		}
		h.LastError = ""
	} else {
		h.ValidationStatus = domain.ValidationInvalid
		h.State = domain.HealthDown
		h.LastError = res.Error
	}
	snapshot := *h
	r.mu.Unlock()

	r.sink.UpdateServiceHealth(name, snapshot)
}

// recommendations derives operator guidance from a validation pass: an
// invalid primary, or a method left without any valid provider, both warrant
// action.
func (r *ServiceRegistry) recommendations(summary *ValidationSummary) []string {
	var actions []string

	if !summary.PrimaryValid {
		if p := r.Primary(); p != nil {
			actions = append(actions, fmt.Sprintf("primary provider %s failed validation; review its credentials", p.Name))
		}
	}

	for _, method := range []domain.Method{domain.MethodSMS, domain.MethodEmail} {
		validForMethod := 0
		for _, d := range r.descriptors {
			if d.Enabled && d.Supports(method) && summary.Results[d.Name].Valid {
				validForMethod++
			}
		}
		switch validForMethod {
		case 0:
			actions = append(actions, fmt.Sprintf("no valid provider supports %s; deliveries via %s will fail", method, method))
		case 1:
			actions = append(actions, fmt.Sprintf("configure a fallback provider for %s", method))
		}
	}

	return actions
}
