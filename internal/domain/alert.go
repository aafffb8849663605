package domain

import "time"

// AlertSeverity ranks how urgent an alert is.
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityWarning  AlertSeverity = "warning"
	SeverityInfo     AlertSeverity = "info"
)

// Alert is produced by a monitoring cycle. It is ephemeral: published to the
// notification sink and, when EscalationNeeded, forwarded to the escalation
// service. Metrics carries the numbers that tripped the threshold.
type Alert struct {
	Type             string             `json:"type"`
	Severity         AlertSeverity      `json:"severity"`
	Title            string             `json:"title"`
	Description      string             `json:"description"`
	ServiceName      string             `json:"service_name,omitempty"`
	UserID           string             `json:"user_id,omitempty"`
	Metrics          map[string]float64 `json:"metrics,omitempty"`
	Solutions        []string           `json:"solutions,omitempty"`
	EscalationNeeded bool               `json:"escalation_needed"`
	CreatedAt        time.Time          `json:"created_at"`
}

// TicketPriority ranks an escalation ticket.
type TicketPriority string

const (
	TicketLow      TicketPriority = "low"
	TicketMedium   TicketPriority = "medium"
	TicketHigh     TicketPriority = "high"
	TicketCritical TicketPriority = "critical"
)

// EscalationTicket is raised for human follow-up when automated delivery and
// fallback cannot resolve a persistent or systemic issue. Lifecycle beyond
// creation is owned by the external ticketing collaborator.
type EscalationTicket struct {
	TicketID        string         `json:"ticket_id"`
	UserID          string         `json:"user_id,omitempty"`
	Reason          string         `json:"reason"`
	Priority        TicketPriority `json:"priority"`
	Status          string         `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	ResponseSLA     time.Duration  `json:"response_sla"`
	EscalationPath  []string       `json:"escalation_path"`
	RequiredActions []string       `json:"required_actions"`
}
