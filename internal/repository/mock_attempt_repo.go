package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/verifyhub/otp-delivery/internal/domain"
)

// MockAttemptRepository is a hand-written, in-memory implementation of
// AttemptRepository used in unit tests. No mock-generation library needed.
type MockAttemptRepository struct {
	mu      sync.RWMutex
	records []*domain.DeliveryAttemptRecord

	// Optional error override — set in tests to simulate persistence
	// failures on the save path.
	SaveErr error
}

func NewMockAttemptRepository() *MockAttemptRepository {
	return &MockAttemptRepository{}
}

func (m *MockAttemptRepository) Save(_ context.Context, a *domain.DeliveryAttemptRecord) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *a
	m.records = append(m.records, &clone)
	return nil
}

// Seed inserts records directly, bypassing the error override. Test helper.
func (m *MockAttemptRepository) Seed(records ...*domain.DeliveryAttemptRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		clone := *r
		m.records = append(m.records, &clone)
	}
}

// Count returns the number of stored records. Test helper.
func (m *MockAttemptRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MockAttemptRepository) ListByDelivery(_ context.Context, deliveryID string) ([]*domain.DeliveryAttemptRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.DeliveryAttemptRecord
	for _, r := range m.records {
		if r.DeliveryID == deliveryID {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MockAttemptRepository) UserAttempts(_ context.Context, userID string, since time.Time) ([]*domain.DeliveryAttemptRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.DeliveryAttemptRecord
	for _, r := range m.records {
		if r.UserID == userID && !r.Timestamp.Before(since) {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *MockAttemptRepository) SystemStats(_ context.Context, since time.Time) (domain.DeliveryStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats domain.DeliveryStats
	for _, r := range m.records {
		if r.Timestamp.Before(since) {
			continue
		}
		stats.Total++
		if r.Status == domain.AttemptSuccess {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
	}
	stats.SuccessRate = stats.Rate()
	return stats, nil
}

func (m *MockAttemptRepository) ProviderStats(_ context.Context, since time.Time) (map[string]domain.DeliveryStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.DeliveryStats)
	for _, r := range m.records {
		if r.Timestamp.Before(since) {
			continue
		}
		stats := out[r.ServiceName]
		stats.Total++
		if r.Status == domain.AttemptSuccess {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
		stats.SuccessRate = stats.Rate()
		out[r.ServiceName] = stats
	}
	return out, nil
}

func (m *MockAttemptRepository) UsersWithFailures(_ context.Context, since time.Time) ([]domain.UserDeliverySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byUser := make(map[string]*domain.UserDeliverySummary)
	var order []string
	for _, r := range m.records {
		if r.Timestamp.Before(since) {
			continue
		}
		s, ok := byUser[r.UserID]
		if !ok {
			s = &domain.UserDeliverySummary{UserID: r.UserID}
			byUser[r.UserID] = s
			order = append(order, r.UserID)
		}
		s.Total++
		if r.Status == domain.AttemptFailed {
			s.Failed++
		}
	}

	var out []domain.UserDeliverySummary
	for _, userID := range order {
		s := byUser[userID]
		if s.Failed == 0 {
			continue
		}
		s.SuccessRate = float64(s.Total-s.Failed) / float64(s.Total)
		out = append(out, *s)
	}
	return out, nil
}

var _ AttemptRepository = (*MockAttemptRepository)(nil)
