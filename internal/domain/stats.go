package domain

// DeliveryStats aggregates attempt outcomes over a time window.
// SuccessRate is in [0,1] and is 0 when Total is 0.
type DeliveryStats struct {
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// Rate recomputes SuccessRate from the counters.
func (s *DeliveryStats) Rate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Total)
}

// UserDeliverySummary is one row of the per-user issue scan used by the
// proactive monitor.
type UserDeliverySummary struct {
	UserID      string  `json:"user_id"`
	Total       int     `json:"total"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// UserPatternAnalysis is the result of analysing one user's recent delivery
// history for escalation decisions.
type UserPatternAnalysis struct {
	UserID           string                   `json:"user_id"`
	LookbackHours    int                      `json:"lookback_hours"`
	TotalAttempts    int                      `json:"total_attempts"`
	SuccessRate      float64                  `json:"success_rate"`
	PerMethod        map[Method]DeliveryStats `json:"per_method"`
	PerProvider      map[string]DeliveryStats `json:"per_provider"`
	ErrorCategories  map[ErrorCategory]int    `json:"error_categories"`
	Recommendations  []string                 `json:"recommendations"`
	EscalationNeeded bool                     `json:"escalation_needed"`

	// AutoEscalate distinguishes triggers that file a ticket automatically
	// from those routed to manual review.
	AutoEscalate     bool   `json:"auto_escalate"`
	EscalationReason string `json:"escalation_reason,omitempty"`
}
