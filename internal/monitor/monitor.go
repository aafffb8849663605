// Package monitor runs the periodic health sweep: system-wide, per-provider,
// and per-user success rates are compared against thresholds, alerts are
// published, and threshold breaches that warrant human attention are
// forwarded to the escalation service.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/verifyhub/otp-delivery/internal/domain"
	"github.com/verifyhub/otp-delivery/internal/escalation"
	"github.com/verifyhub/otp-delivery/internal/repository"
)

// AlertSink receives every generated alert. The production sink forwards to
// the notification system; failures are logged, never propagated.
type AlertSink interface {
	PublishAlert(ctx context.Context, alert domain.Alert) error
}

// LogAlertSink writes alerts to the log. Used when no external notification
// channel is wired up.
type LogAlertSink struct {
	Logger *zap.Logger
}

func (s LogAlertSink) PublishAlert(_ context.Context, a domain.Alert) error {
	s.Logger.Warn("alert",
		zap.String("type", a.Type),
		zap.String("severity", string(a.Severity)),
		zap.String("title", a.Title),
		zap.Bool("escalation_needed", a.EscalationNeeded))
	return nil
}

// Config holds the sweep interval and alerting thresholds.
type Config struct {
	Interval time.Duration

	SystemWindow       time.Duration
	UserWindow         time.Duration
	MinProviderSamples int

	SystemWarnRate       float64
	SystemCriticalRate   float64
	ProviderWarnRate     float64
	ProviderCriticalRate float64
	UserFailureCount     int
	UserWarnRate         float64
	UserCriticalRate     float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,

		SystemWindow:       time.Hour,
		UserWindow:         24 * time.Hour,
		MinProviderSamples: 5,

		SystemWarnRate:       0.80,
		SystemCriticalRate:   0.50,
		ProviderWarnRate:     0.70,
		ProviderCriticalRate: 0.30,
		UserFailureCount:     3,
		UserWarnRate:         0.50,
		UserCriticalRate:     0.20,
	}
}

// Monitor owns the periodic sweep. Overlap is prevented two ways: the cron
// schedule wraps the job in SkipIfStillRunning, and RunCycle itself holds an
// atomic guard so direct invocations cannot overlap either. A cycle that is
// still running when the next tick fires is skipped, not queued.
type Monitor struct {
	cfg      Config
	attempts repository.AttemptRepository
	esc      *escalation.Service
	sink     AlertSink
	logger   *zap.Logger
	cron     *cron.Cron
	running  atomic.Bool
	now      func() time.Time

	// onCycle is the metrics hook observing cycle duration; nil-safe.
	onCycle func(time.Duration)
}

func New(cfg Config, attempts repository.AttemptRepository, esc *escalation.Service, sink AlertSink, onCycle func(time.Duration), logger *zap.Logger) *Monitor {
	if sink == nil {
		sink = LogAlertSink{Logger: logger}
	}
	if onCycle == nil {
		onCycle = func(time.Duration) {}
	}
	return &Monitor{
		cfg:      cfg,
		attempts: attempts,
		esc:      esc,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
		onCycle:  onCycle,
	}
}

// SetNowFunc overrides the clock. Test hook only.
func (m *Monitor) SetNowFunc(now func() time.Time) { m.now = now }

// Start schedules the sweep and begins ticking. Stop with Stop().
func (m *Monitor) Start() error {
	m.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
		cron.Recover(cron.DiscardLogger),
	))

	_, err := m.cron.AddFunc(fmt.Sprintf("@every %s", m.cfg.Interval), func() {
		m.RunCycle(context.Background())
	})
	if err != nil {
		return fmt.Errorf("schedule monitor: %w", err)
	}

	m.cron.Start()
	m.logger.Info("proactive monitor started", zap.Duration("interval", m.cfg.Interval))
	return nil
}

// Stop halts the schedule and waits for a running cycle to finish.
func (m *Monitor) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
	m.logger.Info("proactive monitor stopped")
}

// RunCycle executes one sweep. Returns false when a cycle was already in
// progress and this invocation was skipped.
func (m *Monitor) RunCycle(ctx context.Context) bool {
	if !m.running.CompareAndSwap(false, true) {
		m.logger.Debug("monitoring cycle still running, skipping tick")
		return false
	}
	defer m.running.Store(false)

	start := m.now()
	var alerts []domain.Alert

	alerts = append(alerts, m.checkSystem(ctx)...)
	alerts = append(alerts, m.checkProviders(ctx)...)
	alerts = append(alerts, m.checkUsers(ctx)...)

	for _, alert := range alerts {
		if err := m.sink.PublishAlert(ctx, alert); err != nil {
			m.logger.Warn("failed to publish alert",
				zap.String("type", alert.Type), zap.Error(err))
		}
	}

	elapsed := m.now().Sub(start)
	m.onCycle(elapsed)
	m.logger.Info("monitoring cycle complete",
		zap.Int("alerts", len(alerts)),
		zap.Duration("elapsed", elapsed))
	return true
}

func (m *Monitor) checkSystem(ctx context.Context) []domain.Alert {
	stats, err := m.attempts.SystemStats(ctx, m.now().Add(-m.cfg.SystemWindow))
	if err != nil {
		m.logger.Error("system stats query failed", zap.Error(err))
		return nil
	}
	if stats.Total == 0 {
		return nil
	}

	metrics := map[string]float64{
		"success_rate": stats.SuccessRate,
		"total":        float64(stats.Total),
		"failed":       float64(stats.Failed),
	}

	switch {
	case stats.SuccessRate < m.cfg.SystemCriticalRate:
		alert := domain.Alert{
			Type:        "system_degradation",
			Severity:    domain.SeverityCritical,
			Title:       "system-wide delivery success critically low",
			Description: fmt.Sprintf("%.0f%% success over the last %s", stats.SuccessRate*100, m.cfg.SystemWindow),
			Metrics:     metrics,
			Solutions: []string{
				"check all provider health dashboards",
				"verify network egress from the delivery cluster",
			},
			EscalationNeeded: true,
			CreatedAt:        m.now().UTC(),
		}
		m.esc.CreateTicket(ctx, "", escalation.ReasonSystemDegradation, nil)
		return []domain.Alert{alert}
	case stats.SuccessRate < m.cfg.SystemWarnRate:
		return []domain.Alert{{
			Type:        "system_degradation",
			Severity:    domain.SeverityWarning,
			Title:       "system-wide delivery success below target",
			Description: fmt.Sprintf("%.0f%% success over the last %s", stats.SuccessRate*100, m.cfg.SystemWindow),
			Metrics:     metrics,
			Solutions:   []string{"review per-provider success rates for the degraded provider"},
			CreatedAt:   m.now().UTC(),
		}}
	}
	return nil
}

func (m *Monitor) checkProviders(ctx context.Context) []domain.Alert {
	stats, err := m.attempts.ProviderStats(ctx, m.now().Add(-m.cfg.SystemWindow))
	if err != nil {
		m.logger.Error("provider stats query failed", zap.Error(err))
		return nil
	}

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	var alerts []domain.Alert
	for _, name := range names {
		s := stats[name]
		if s.Total < m.cfg.MinProviderSamples {
			continue
		}

		metrics := map[string]float64{
			"success_rate": s.SuccessRate,
			"total":        float64(s.Total),
			"failed":       float64(s.Failed),
		}

		switch {
		case s.SuccessRate < m.cfg.ProviderCriticalRate:
			alerts = append(alerts, domain.Alert{
				Type:        "provider_outage",
				Severity:    domain.SeverityCritical,
				Title:       fmt.Sprintf("provider %s appears down", name),
				Description: fmt.Sprintf("%.0f%% success over %d attempts in the last %s", s.SuccessRate*100, s.Total, m.cfg.SystemWindow),
				ServiceName: name,
				Metrics:     metrics,
				Solutions: []string{
					"confirm the outage with the provider",
					"disable the provider until recovery is confirmed",
				},
				EscalationNeeded: true,
				CreatedAt:        m.now().UTC(),
			})
			m.esc.CreateTicket(ctx, "", escalation.ReasonProviderOutage, nil)
		case s.SuccessRate < m.cfg.ProviderWarnRate:
			alerts = append(alerts, domain.Alert{
				Type:        "provider_degradation",
				Severity:    domain.SeverityWarning,
				Title:       fmt.Sprintf("provider %s success below target", name),
				Description: fmt.Sprintf("%.0f%% success over %d attempts in the last %s", s.SuccessRate*100, s.Total, m.cfg.SystemWindow),
				ServiceName: name,
				Metrics:     metrics,
				Solutions:   []string{"watch the provider's breaker state; fallbacks are absorbing the failures"},
				CreatedAt:   m.now().UTC(),
			})
		}
	}
	return alerts
}

func (m *Monitor) checkUsers(ctx context.Context) []domain.Alert {
	users, err := m.attempts.UsersWithFailures(ctx, m.now().Add(-m.cfg.UserWindow))
	if err != nil {
		m.logger.Error("user failures query failed", zap.Error(err))
		return nil
	}

	var alerts []domain.Alert
	for _, u := range users {
		if u.Failed < m.cfg.UserFailureCount && u.SuccessRate >= m.cfg.UserWarnRate {
			continue
		}

		escalate := u.SuccessRate < m.cfg.UserCriticalRate
		alerts = append(alerts, domain.Alert{
			Type:        "user_delivery_issues",
			Severity:    domain.SeverityWarning,
			Title:       fmt.Sprintf("user %s experiencing delivery issues", u.UserID),
			Description: fmt.Sprintf("%d of %d attempts failed in the last %s", u.Failed, u.Total, m.cfg.UserWindow),
			UserID:      u.UserID,
			Metrics: map[string]float64{
				"success_rate": u.SuccessRate,
				"total":        float64(u.Total),
				"failed":       float64(u.Failed),
			},
			Solutions:        []string{"verify the user's contact details"},
			EscalationNeeded: escalate,
			CreatedAt:        m.now().UTC(),
		})

		if escalate {
			analysis, err := m.esc.AnalyzeUserPatterns(ctx, u.UserID, int(m.cfg.UserWindow.Hours()))
			if err != nil {
				m.logger.Error("user pattern analysis failed",
					zap.String("user_id", u.UserID), zap.Error(err))
				continue
			}
			reason := analysis.EscalationReason
			if reason == "" {
				reason = escalation.ReasonUserIssues
			}
			m.esc.CreateTicket(ctx, u.UserID, reason, analysis)
		}
	}
	return alerts
}
