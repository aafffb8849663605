package repository

import (
	"context"
	"time"

	"github.com/verifyhub/otp-delivery/internal/domain"
)

// AttemptRepository is the narrow persistence contract the orchestration
// core needs: an append-only attempt log plus the aggregate reads consumed
// by the escalation service and the proactive monitor.
// The pgx implementation is in pg_attempt_repo.go.
// Tests use a hand-written mock (mock_attempt_repo.go).
type AttemptRepository interface {
	// Save appends one immutable attempt record. Callers treat failures
	// as best-effort: they are logged, never propagated into delivery
	// results.
	Save(ctx context.Context, record *domain.DeliveryAttemptRecord) error

	ListByDelivery(ctx context.Context, deliveryID string) ([]*domain.DeliveryAttemptRecord, error)

	// UserAttempts returns a user's attempts since the given time, newest
	// first. The escalation service derives its per-method, per-provider,
	// and per-category breakdowns from these rows.
	UserAttempts(ctx context.Context, userID string, since time.Time) ([]*domain.DeliveryAttemptRecord, error)

	// SystemStats aggregates all attempts since the given time.
	SystemStats(ctx context.Context, since time.Time) (domain.DeliveryStats, error)

	// ProviderStats aggregates attempts per provider since the given time.
	ProviderStats(ctx context.Context, since time.Time) (map[string]domain.DeliveryStats, error)

	// UsersWithFailures returns per-user summaries for users with at least
	// one failed attempt since the given time.
	UsersWithFailures(ctx context.Context, since time.Time) ([]domain.UserDeliverySummary, error)
}
