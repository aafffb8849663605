// Package planner turns a delivery request into an ordered fallback plan:
// which providers to try, on which method and contact, in which order.
package planner

import (
	"sort"

	"go.uber.org/zap"

	"github.com/verifyhub/otp-delivery/internal/domain"
	"github.com/verifyhub/otp-delivery/internal/registry"
)

// Plan-local priority bands. Entries sort by priority ascending, so the
// bands guarantee: primary first, then its same-provider method switch, then
// same-method service fallbacks, and cross-method fallbacks only after every
// same-method option is exhausted. Within a band the provider's configured
// priority decides; ties keep insertion order (stable sort).
const (
	bandPrimary      = 0
	bandMethodSwitch = 1
	bandService      = 10
	bandCrossMethod  = 100
)

// Planner builds delivery plans from registry state.
type Planner struct {
	registry *registry.ServiceRegistry
	logger   *zap.Logger
}

func New(reg *registry.ServiceRegistry, logger *zap.Logger) *Planner {
	return &Planner{registry: reg, logger: logger}
}

// BuildPlan produces the ordered list of delivery options for a request.
// An empty plan means no eligible provider exists; the executor reports that
// as an immediate, non-retryable failure.
func (p *Planner) BuildPlan(req *domain.DeliveryRequest) []domain.DeliveryPlanEntry {
	method := req.Type.Method()
	excluded := make(map[string]bool, len(req.ExcludeServices))
	for _, name := range req.ExcludeServices {
		excluded[name] = true
	}

	available := p.registry.AvailableServices(method)

	var plan []domain.DeliveryPlanEntry
	planned := make(map[string]bool)

	// The primary multi-capability provider leads the plan. For SMS with
	// fallback allowed, its email path is scheduled as a second attempt on
	// the same provider: if that succeeds, the failure was method-specific
	// and the provider itself is fine.
	for _, d := range available {
		if !d.IsPrimary || excluded[d.Name] {
			continue
		}
		plan = append(plan, domain.DeliveryPlanEntry{
			ServiceName:  d.Name,
			Method:       method,
			Contact:      req.Contact,
			Priority:     bandPrimary + d.Priority,
			FallbackType: domain.FallbackPrimary,
		})
		planned[d.Name] = true

		if method == domain.MethodSMS && req.Preferences.AllowFallback &&
			req.AlternateContact != "" && d.Supports(domain.MethodEmail) {
			plan = append(plan, domain.DeliveryPlanEntry{
				ServiceName:  d.Name,
				Method:       domain.MethodEmail,
				Contact:      req.AlternateContact,
				Priority:     bandMethodSwitch + d.Priority,
				FallbackType: domain.FallbackMethodSwitch,
			})
		}
		break
	}

	// Same-method fallbacks, ordered by configured priority.
	for _, d := range available {
		if excluded[d.Name] || planned[d.Name] {
			continue
		}
		plan = append(plan, domain.DeliveryPlanEntry{
			ServiceName:  d.Name,
			Method:       method,
			Contact:      req.Contact,
			Priority:     bandService + d.Priority,
			FallbackType: domain.FallbackService,
		})
		planned[d.Name] = true
	}

	// Cross-method fallbacks: providers of the opposite method, at
	// deliberately lower priority so same-method options run out first.
	if req.Preferences.AllowFallback && req.AlternateContact != "" {
		opposite := method.Opposite()
		for _, d := range p.registry.AvailableServices(opposite) {
			if excluded[d.Name] || planned[d.Name] {
				continue
			}
			plan = append(plan, domain.DeliveryPlanEntry{
				ServiceName:  d.Name,
				Method:       opposite,
				Contact:      req.AlternateContact,
				Priority:     bandCrossMethod + d.Priority,
				FallbackType: domain.FallbackCrossMethod,
			})
		}
	}

	sort.SliceStable(plan, func(i, j int) bool { return plan[i].Priority < plan[j].Priority })

	p.logger.Debug("delivery plan built",
		zap.String("delivery_id", req.DeliveryID),
		zap.String("method", string(method)),
		zap.Int("entries", len(plan)))

	return plan
}
