package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/verifyhub/otp-delivery/internal/breaker"
	"github.com/verifyhub/otp-delivery/internal/registry"
)

// ServiceHandler exposes provider health and revalidation endpoints.
type ServiceHandler struct {
	registry *registry.ServiceRegistry
	breakers *breaker.Registry
	logger   *zap.Logger
}

func NewServiceHandler(reg *registry.ServiceRegistry, breakers *breaker.Registry, logger *zap.Logger) *ServiceHandler {
	return &ServiceHandler{registry: reg, breakers: breakers, logger: logger}
}

// Health handles GET /api/v1/services/health
//
// @Summary  Provider health and breaker snapshot
// @Tags     services
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/services/health [get]
func (h *ServiceHandler) Health(w http.ResponseWriter, r *http.Request) {
	statuses := h.registry.HealthSnapshot()

	breakers := make(map[string]breaker.Snapshot, len(statuses))
	for _, s := range statuses {
		breakers[s.ServiceName] = h.breakers.Snapshot(s.ServiceName)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"services": statuses,
		"breakers": breakers,
	})
}

// Revalidate handles POST /api/v1/services/revalidate
//
// @Summary  Re-read credentials and revalidate every provider
// @Tags     services
// @Produce  json
// @Success  200  {object}  registry.ValidationSummary
// @Router   /api/v1/services/revalidate [post]
func (h *ServiceHandler) Revalidate(w http.ResponseWriter, r *http.Request) {
	summary := h.registry.Revalidate(r.Context())
	h.logger.Info("manual revalidation triggered",
		zap.Int("valid", summary.ValidCount),
		zap.Bool("primary_valid", summary.PrimaryValid))
	respondJSON(w, http.StatusOK, summary)
}
