// Package escalation decides when automated delivery and fallback are no
// longer enough and a human needs to look: it analyses delivery history
// against a small set of ordered triggers and files tickets from a static
// rule table.
package escalation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/verifyhub/otp-delivery/internal/domain"
	"github.com/verifyhub/otp-delivery/internal/repository"
)

// Escalation reasons. The rule table below keys on these.
const (
	ReasonPersistentFailure  = "persistent_delivery_failure"
	ReasonMultipleServices   = "multiple_service_failure"
	ReasonServiceDegradation = "service_degradation"
	ReasonSystemDegradation  = "system_degradation"
	ReasonProviderOutage     = "provider_outage"
	ReasonUserIssues         = "user_delivery_issues"
)

// TicketSink hands a finished ticket to the external ticketing collaborator.
// Failures are logged and never propagated.
type TicketSink interface {
	FileTicket(ctx context.Context, ticket *domain.EscalationTicket) error
}

// LogTicketSink writes tickets to the log. Used when no real ticketing
// system is wired up.
type LogTicketSink struct {
	Logger *zap.Logger
}

func (s LogTicketSink) FileTicket(_ context.Context, t *domain.EscalationTicket) error {
	s.Logger.Warn("escalation ticket filed",
		zap.String("ticket_id", t.TicketID),
		zap.String("user_id", t.UserID),
		zap.String("reason", t.Reason),
		zap.String("priority", string(t.Priority)),
		zap.Strings("required_actions", t.RequiredActions))
	return nil
}

type rule struct {
	priority  domain.TicketPriority
	sla       time.Duration
	pathTiers int
}

// supportTiers is the full escalation ladder; a rule's pathTiers selects a
// prefix, so higher priorities reach deeper tiers.
var supportTiers = []string{"support_l1", "support_l2", "engineering_oncall"}

var rules = map[string]rule{
	ReasonPersistentFailure:  {domain.TicketHigh, 30 * time.Minute, 3},
	ReasonMultipleServices:   {domain.TicketHigh, 30 * time.Minute, 3},
	ReasonServiceDegradation: {domain.TicketMedium, 2 * time.Hour, 2},
	ReasonSystemDegradation:  {domain.TicketCritical, 15 * time.Minute, 3},
	ReasonProviderOutage:     {domain.TicketCritical, 15 * time.Minute, 3},
	ReasonUserIssues:         {domain.TicketMedium, 2 * time.Hour, 2},
}

var defaultRule = rule{domain.TicketLow, 8 * time.Hour, 1}

var requiredActions = map[string][]string{
	ReasonPersistentFailure: {
		"re-test provider connectivity for this user's region",
		"review region-specific delivery configuration",
		"offer the user an alternate contact method",
	},
	ReasonMultipleServices: {
		"check provider status pages for ongoing incidents",
		"verify credentials for every affected provider",
		"consider raising priority of the remaining healthy provider",
	},
	ReasonServiceDegradation: {
		"review recent SERVICE_DOWN errors for a common root cause",
		"confirm the provider's incident status before re-enabling",
	},
	ReasonSystemDegradation: {
		"page the on-call engineer",
		"check all provider health dashboards",
		"verify network egress from the delivery cluster",
	},
	ReasonProviderOutage: {
		"confirm the outage with the provider",
		"disable the provider until recovery is confirmed",
	},
	ReasonUserIssues: {
		"verify the user's contact details",
		"review the user's recent attempt log for a pattern",
	},
}

// Thresholds for the ordered analysis triggers.
const (
	minAttemptsForAnalysis = 3
	persistentFailureRate  = 0.30
	providerFailureRate    = 0.50
	minProviderAttempts    = 2
	serviceDownErrorLimit  = 5
)

// Service analyses delivery history and produces tickets.
type Service struct {
	attempts repository.AttemptRepository
	sink     TicketSink
	logger   *zap.Logger
	now      func() time.Time
}

func New(attempts repository.AttemptRepository, sink TicketSink, logger *zap.Logger) *Service {
	if sink == nil {
		sink = LogTicketSink{Logger: logger}
	}
	return &Service{attempts: attempts, sink: sink, logger: logger, now: time.Now}
}

// SetNowFunc overrides the clock. Test hook only.
func (s *Service) SetNowFunc(now func() time.Time) { s.now = now }

// AnalyzeUserPatterns inspects a user's attempts over the lookback window
// and reports breakdowns, recommendations, and whether escalation is
// warranted. Triggers are checked in order; the first match wins.
func (s *Service) AnalyzeUserPatterns(ctx context.Context, userID string, lookbackHours int) (*domain.UserPatternAnalysis, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	since := s.now().Add(-time.Duration(lookbackHours) * time.Hour)

	records, err := s.attempts.UserAttempts(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("load user attempts: %w", err)
	}

	analysis := &domain.UserPatternAnalysis{
		UserID:          userID,
		LookbackHours:   lookbackHours,
		TotalAttempts:   len(records),
		PerMethod:       make(map[domain.Method]domain.DeliveryStats),
		PerProvider:     make(map[string]domain.DeliveryStats),
		ErrorCategories: make(map[domain.ErrorCategory]int),
	}

	succeeded := 0
	for _, r := range records {
		method := analysis.PerMethod[r.Method]
		prov := analysis.PerProvider[r.ServiceName]
		method.Total++
		prov.Total++
		if r.Status == domain.AttemptSuccess {
			succeeded++
			method.Succeeded++
			prov.Succeeded++
		} else {
			method.Failed++
			prov.Failed++
			if r.ErrorCategory != "" {
				analysis.ErrorCategories[r.ErrorCategory]++
			}
		}
		method.SuccessRate = method.Rate()
		prov.SuccessRate = prov.Rate()
		analysis.PerMethod[r.Method] = method
		analysis.PerProvider[r.ServiceName] = prov
	}
	if analysis.TotalAttempts > 0 {
		analysis.SuccessRate = float64(succeeded) / float64(analysis.TotalAttempts)
	}

	s.applyTriggers(analysis)
	analysis.Recommendations = s.recommend(analysis)

	return analysis, nil
}

// applyTriggers sets the escalation verdict. Order matters: the broadest
// user-level signal wins over provider-level ones.
func (s *Service) applyTriggers(a *domain.UserPatternAnalysis) {
	// 1. Persistent failure: most deliveries to this user are failing.
	if a.TotalAttempts >= minAttemptsForAnalysis && a.SuccessRate < persistentFailureRate {
		a.EscalationNeeded = true
		a.AutoEscalate = true
		a.EscalationReason = ReasonPersistentFailure
		return
	}

	// 2. Multiple providers individually failing for this user.
	failing := 0
	for _, stats := range a.PerProvider {
		if stats.Total >= minProviderAttempts && stats.SuccessRate < providerFailureRate {
			failing++
		}
	}
	if failing >= 2 {
		a.EscalationNeeded = true
		a.AutoEscalate = true
		a.EscalationReason = ReasonMultipleServices
		return
	}

	// 3. A pile of SERVICE_DOWN errors: degradation routed to manual review.
	if a.ErrorCategories[domain.CategoryServiceDown] > serviceDownErrorLimit {
		a.EscalationNeeded = true
		a.AutoEscalate = false
		a.EscalationReason = ReasonServiceDegradation
	}
}

func (s *Service) recommend(a *domain.UserPatternAnalysis) []string {
	var recs []string

	providers := make([]string, 0, len(a.PerProvider))
	for name := range a.PerProvider {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	for _, name := range providers {
		if stats := a.PerProvider[name]; stats.Total >= minProviderAttempts && stats.SuccessRate < providerFailureRate {
			recs = append(recs, fmt.Sprintf("review %s configuration: %.0f%% success over %d attempts",
				name, stats.SuccessRate*100, stats.Total))
		}
	}

	sms, email := a.PerMethod[domain.MethodSMS], a.PerMethod[domain.MethodEmail]
	if sms.Total > 0 && email.Total > 0 {
		if email.SuccessRate > sms.SuccessRate+0.25 {
			recs = append(recs, "email is significantly outperforming sms for this user; prefer email")
		} else if sms.SuccessRate > email.SuccessRate+0.25 {
			recs = append(recs, "sms is significantly outperforming email for this user; prefer sms")
		}
	}

	if a.ErrorCategories[domain.CategoryInvalidRecipient] > 0 {
		recs = append(recs, "verify the user's contact details; invalid-recipient errors were recorded")
	}

	return recs
}

// CreateTicket builds an escalation ticket from the reason's rule table
// entry and hands it to the ticketing sink. Sink failures are logged; the
// ticket is still returned so the caller can surface it.
func (s *Service) CreateTicket(ctx context.Context, userID, reason string, analysis *domain.UserPatternAnalysis) *domain.EscalationTicket {
	r, ok := rules[reason]
	if !ok {
		r = defaultRule
	}

	ticket := &domain.EscalationTicket{
		TicketID:        uuid.New().String(),
		UserID:          userID,
		Reason:          reason,
		Priority:        r.priority,
		Status:          "open",
		CreatedAt:       s.now().UTC(),
		ResponseSLA:     r.sla,
		EscalationPath:  supportTiers[:r.pathTiers],
		RequiredActions: requiredActions[reason],
	}

	if err := s.sink.FileTicket(ctx, ticket); err != nil {
		s.logger.Warn("failed to file escalation ticket",
			zap.String("ticket_id", ticket.TicketID),
			zap.Error(err))
	}

	if analysis != nil {
		s.logger.Info("escalation ticket created",
			zap.String("ticket_id", ticket.TicketID),
			zap.String("reason", reason),
			zap.Float64("success_rate", analysis.SuccessRate),
			zap.Int("attempts", analysis.TotalAttempts))
	}

	return ticket
}
