package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/verifyhub/otp-delivery/internal/api/handler"
	apimw "github.com/verifyhub/otp-delivery/internal/api/middleware"
	"github.com/verifyhub/otp-delivery/internal/breaker"
	"github.com/verifyhub/otp-delivery/internal/escalation"
	"github.com/verifyhub/otp-delivery/internal/executor"
	"github.com/verifyhub/otp-delivery/internal/registry"
	"github.com/verifyhub/otp-delivery/internal/repository"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	exec *executor.Executor,
	attempts repository.AttemptRepository,
	esc *escalation.Service,
	reg *registry.ServiceRegistry,
	breakers *breaker.Registry,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)            // recover panics, return 500
	r.Use(chimw.RealIP)               // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1 << 20)) // 1 MB max request body
	r.Use(apimw.Trace)                // delivery trace ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	dh := handler.NewDeliveryHandler(exec, attempts, esc, logger)
	sh := handler.NewServiceHandler(reg, breakers, logger)
	hh := handler.NewHealthHandler()

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/deliveries", dh.Execute)
		r.Get("/deliveries/{id}/attempts", dh.ListAttempts)

		r.Get("/services/health", sh.Health)
		r.Post("/services/revalidate", sh.Revalidate)

		r.Get("/users/{id}/analysis", dh.AnalyzeUser)
	})

	return r
}
