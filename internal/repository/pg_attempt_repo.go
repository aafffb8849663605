package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verifyhub/otp-delivery/internal/domain"
)

type pgAttemptRepository struct {
	pool *pgxpool.Pool
}

// NewPgAttemptRepository returns an AttemptRepository backed by PostgreSQL.
func NewPgAttemptRepository(pool *pgxpool.Pool) AttemptRepository {
	return &pgAttemptRepository{pool: pool}
}

func (r *pgAttemptRepository) Save(ctx context.Context, a *domain.DeliveryAttemptRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO delivery_attempts
			(id, delivery_id, user_id, service_name, method, contact, status,
			 error_category, error_message, retry_count, delivery_time_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.ID, a.DeliveryID, a.UserID, a.ServiceName, a.Method, a.Contact, a.Status,
		nullable(string(a.ErrorCategory)), nullable(a.Error), a.RetryCount, a.DeliveryTimeMs, a.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (r *pgAttemptRepository) ListByDelivery(ctx context.Context, deliveryID string) ([]*domain.DeliveryAttemptRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, delivery_id, user_id, service_name, method, contact, status,
		       error_category, error_message, retry_count, delivery_time_ms, created_at
		FROM delivery_attempts
		WHERE delivery_id = $1
		ORDER BY created_at ASC`, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func (r *pgAttemptRepository) UserAttempts(ctx context.Context, userID string, since time.Time) ([]*domain.DeliveryAttemptRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, delivery_id, user_id, service_name, method, contact, status,
		       error_category, error_message, retry_count, delivery_time_ms, created_at
		FROM delivery_attempts
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("user attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func (r *pgAttemptRepository) SystemStats(ctx context.Context, since time.Time) (domain.DeliveryStats, error) {
	var stats domain.DeliveryStats
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'success'),
		       COUNT(*) FILTER (WHERE status = 'failed')
		FROM delivery_attempts
		WHERE created_at >= $1`, since,
	).Scan(&stats.Total, &stats.Succeeded, &stats.Failed)
	if err != nil {
		return stats, fmt.Errorf("system stats: %w", err)
	}
	stats.SuccessRate = stats.Rate()
	return stats, nil
}

func (r *pgAttemptRepository) ProviderStats(ctx context.Context, since time.Time) (map[string]domain.DeliveryStats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT service_name,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'success'),
		       COUNT(*) FILTER (WHERE status = 'failed')
		FROM delivery_attempts
		WHERE created_at >= $1
		GROUP BY service_name`, since)
	if err != nil {
		return nil, fmt.Errorf("provider stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.DeliveryStats)
	for rows.Next() {
		var name string
		var stats domain.DeliveryStats
		if err := rows.Scan(&name, &stats.Total, &stats.Succeeded, &stats.Failed); err != nil {
			return nil, fmt.Errorf("scan provider stats: %w", err)
		}
		stats.SuccessRate = stats.Rate()
		out[name] = stats
	}
	return out, rows.Err()
}

func (r *pgAttemptRepository) UsersWithFailures(ctx context.Context, since time.Time) ([]domain.UserDeliverySummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'failed')
		FROM delivery_attempts
		WHERE created_at >= $1
		GROUP BY user_id
		HAVING COUNT(*) FILTER (WHERE status = 'failed') > 0`, since)
	if err != nil {
		return nil, fmt.Errorf("users with failures: %w", err)
	}
	defer rows.Close()

	var out []domain.UserDeliverySummary
	for rows.Next() {
		var s domain.UserDeliverySummary
		if err := rows.Scan(&s.UserID, &s.Total, &s.Failed); err != nil {
			return nil, fmt.Errorf("scan user summary: %w", err)
		}
		if s.Total > 0 {
			s.SuccessRate = float64(s.Total-s.Failed) / float64(s.Total)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
	Next() bool
	Err() error
}

func scanAttempts(rows rowScanner) ([]*domain.DeliveryAttemptRecord, error) {
	var out []*domain.DeliveryAttemptRecord
	for rows.Next() {
		var (
			a        domain.DeliveryAttemptRecord
			category *string
			errMsg   *string
		)
		if err := rows.Scan(
			&a.ID, &a.DeliveryID, &a.UserID, &a.ServiceName, &a.Method, &a.Contact,
			&a.Status, &category, &errMsg, &a.RetryCount, &a.DeliveryTimeMs, &a.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if category != nil {
			a.ErrorCategory = domain.ErrorCategory(*category)
		}
		if errMsg != nil {
			a.Error = *errMsg
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// nullable maps the empty string to NULL so optional columns stay NULL
// instead of storing empty strings.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
