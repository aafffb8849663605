package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/verifyhub/otp-delivery/internal/breaker"
	"github.com/verifyhub/otp-delivery/internal/domain"
	"github.com/verifyhub/otp-delivery/internal/executor"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	AttemptsTotal   *prometheus.CounterVec
	AttemptLatency  *prometheus.HistogramVec
	RetriesTotal    *prometheus.CounterVec
	FallbacksTotal  *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
	MonitorCycle    prometheus.Histogram
	AlertsPublished *prometheus.CounterVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delivery_attempts_total",
			Help: "Delivery attempts by provider, method, and outcome.",
		}, []string{"service", "method", "status"}),

		AttemptLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "delivery_attempt_seconds",
			Help:    "Per-attempt provider call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "method"}),

		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delivery_retries_total",
			Help: "Retries performed within a single plan entry.",
		}, []string{"service"}),

		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delivery_fallbacks_total",
			Help: "Fallback transitions between plan entries.",
		}, []string{"from_service", "to_service"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker position per provider: 0 closed, 1 half-open, 2 open.",
		}, []string{"service"}),

		MonitorCycle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "monitor_cycle_seconds",
			Help:    "Duration of one proactive monitoring cycle.",
			Buckets: prometheus.DefBuckets,
		}),

		AlertsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_published_total",
			Help: "Alerts published by the proactive monitor, by severity.",
		}, []string{"severity"}),
	}

	reg.MustRegister(
		m.AttemptsTotal,
		m.AttemptLatency,
		m.RetriesTotal,
		m.FallbacksTotal,
		m.BreakerState,
		m.MonitorCycle,
		m.AlertsPublished,
	)

	return m
}

// ExecutorHooks returns the metric callbacks expected by executor.MetricHooks.
// Centralises the prometheus observation calls so the executor stays
// metrics-agnostic.
func (m *Metrics) ExecutorHooks() executor.MetricHooks {
	return executor.MetricHooks{
		OnAttempt: func(service string, method domain.Method, success bool, latency time.Duration) {
			status := "failed"
			if success {
				status = "success"
			}
			m.AttemptsTotal.WithLabelValues(service, string(method), status).Inc()
			m.AttemptLatency.WithLabelValues(service, string(method)).Observe(latency.Seconds())
		},
		OnRetry: func(service string) {
			m.RetriesTotal.WithLabelValues(service).Inc()
		},
		OnFallback: func(from, to string) {
			m.FallbacksTotal.WithLabelValues(from, to).Inc()
		},
	}
}

// ObserveBreakers refreshes the breaker state gauges from a registry.
func (m *Metrics) ObserveBreakers(reg *breaker.Registry) {
	for _, name := range reg.Names() {
		var v float64
		switch reg.State(name) {
		case breaker.StateHalfOpen:
			v = 1
		case breaker.StateOpen:
			v = 2
		}
		m.BreakerState.WithLabelValues(name).Set(v)
	}
}

// MonitorHook returns the cycle-duration observer for the proactive monitor.
func (m *Metrics) MonitorHook() func(time.Duration) {
	return func(d time.Duration) {
		m.MonitorCycle.Observe(d.Seconds())
	}
}
