package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gigmarket/notify-pipeline/internal/domain"
)

// MockQueueRepository is a hand-written, in-memory implementation of
// QueueRepository used in unit tests. No mock-generation library needed.
// Its claim methods honor the same status-guard semantics as the pg
// implementation, so concurrency properties can be exercised in-memory.
type MockQueueRepository struct {
	mu       sync.Mutex
	items    map[string]*domain.QueueItem
	attempts []*domain.DeliveryAttempt

	// Optional error overrides — set in tests to simulate failure paths.
	EnqueueErr       error
	ClaimErr         error
	RecordAttemptErr error
	MarkDeliveredErr error
	ScheduleRetryErr error
	MarkFailedErr    error
}

func NewMockQueueRepository() *MockQueueRepository {
	return &MockQueueRepository{items: make(map[string]*domain.QueueItem)}
}

func (m *MockQueueRepository) Enqueue(_ context.Context, item *domain.QueueItem) error {
	if m.EnqueueErr != nil {
		return m.EnqueueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.IdempotencyKey != nil {
		for _, existing := range m.items {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *item.IdempotencyKey {
				return domain.ErrConflict
			}
		}
	}
	clone := cloneItem(item)
	m.items[item.ID] = clone
	return nil
}

func (m *MockQueueRepository) GetByID(_ context.Context, id string) (*domain.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneItem(item), nil
}

func (m *MockQueueRepository) GetByIdempotencyKey(_ context.Context, key string) (*domain.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.IdempotencyKey != nil && *item.IdempotencyKey == key {
			return cloneItem(item), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockQueueRepository) List(_ context.Context, _ domain.ListFilter) ([]*domain.QueueItem, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*domain.QueueItem, 0, len(m.items))
	for _, item := range m.items {
		result = append(result, cloneItem(item))
	}
	return result, len(result), nil
}

func (m *MockQueueRepository) CountByStatus(_ context.Context) (map[domain.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.Status]int)
	for _, item := range m.items {
		counts[item.Status]++
	}
	return counts, nil
}

func (m *MockQueueRepository) ClaimDue(_ context.Context, limit int, now time.Time) ([]*domain.QueueItem, error) {
	if m.ClaimErr != nil {
		return nil, m.ClaimErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*domain.QueueItem
	for _, item := range m.items {
		if item.Status == domain.StatusPending && !item.ScheduledFor.After(now) {
			due = append(due, item)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].Priority.Rank() != due[j].Priority.Rank() {
			return due[i].Priority.Rank() > due[j].Priority.Rank()
		}
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*domain.QueueItem, 0, len(due))
	for _, item := range due {
		item.Status = domain.StatusProcessing
		item.Attempts++
		at := now
		item.LastAttemptAt = &at
		claimed = append(claimed, cloneItem(item))
	}
	return claimed, nil
}

func (m *MockQueueRepository) ClaimOne(_ context.Context, id string, now time.Time) (*domain.QueueItem, error) {
	if m.ClaimErr != nil {
		return nil, m.ClaimErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if item.Status != domain.StatusPending {
		return nil, domain.ErrNotPending
	}
	item.Status = domain.StatusProcessing
	item.Attempts++
	at := now
	item.LastAttemptAt = &at
	return cloneItem(item), nil
}

func (m *MockQueueRepository) MarkDelivered(_ context.Context, id string, deliveredAt time.Time, results map[domain.Channel]domain.DeliveryResult) error {
	if m.MarkDeliveredErr != nil {
		return m.MarkDeliveredErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[id]; ok {
		item.Status = domain.StatusDelivered
		at := deliveredAt
		item.DeliveredAt = &at
		item.DeliveryResults = results
		item.ErrorMessage = nil
	}
	return nil
}

func (m *MockQueueRepository) ScheduleRetry(_ context.Context, id string, nextAttempt time.Time, errMsg string, results map[domain.Channel]domain.DeliveryResult) error {
	if m.ScheduleRetryErr != nil {
		return m.ScheduleRetryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[id]; ok {
		item.Status = domain.StatusPending
		item.ScheduledFor = nextAttempt
		msg := domain.TruncateError(errMsg)
		item.ErrorMessage = &msg
		item.DeliveryResults = results
	}
	return nil
}

func (m *MockQueueRepository) MarkFailed(_ context.Context, id string, failedAt time.Time, errMsg string, results map[domain.Channel]domain.DeliveryResult) error {
	if m.MarkFailedErr != nil {
		return m.MarkFailedErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[id]; ok {
		item.Status = domain.StatusFailed
		at := failedAt
		item.FailedAt = &at
		msg := domain.TruncateError(errMsg)
		item.ErrorMessage = &msg
		item.DeliveryResults = results
	}
	return nil
}

func (m *MockQueueRepository) RecordAttempt(_ context.Context, a *domain.DeliveryAttempt) error {
	if m.RecordAttemptErr != nil {
		return m.RecordAttemptErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *a
	m.attempts = append(m.attempts, &clone)
	return nil
}

func (m *MockQueueRepository) ListAttempts(_ context.Context, queueID string) ([]*domain.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.DeliveryAttempt
	for _, a := range m.attempts {
		if a.QueueID == queueID {
			clone := *a
			result = append(result, &clone)
		}
	}
	return result, nil
}

// Attempts returns every recorded audit row; test helper.
func (m *MockQueueRepository) Attempts() []*domain.DeliveryAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*domain.DeliveryAttempt, len(m.attempts))
	for i, a := range m.attempts {
		clone := *a
		result[i] = &clone
	}
	return result
}

func cloneItem(item *domain.QueueItem) *domain.QueueItem {
	clone := *item
	if item.Channels != nil {
		clone.Channels = append([]domain.Channel(nil), item.Channels...)
	}
	if item.Data != nil {
		clone.Data = make(map[string]string, len(item.Data))
		for k, v := range item.Data {
			clone.Data[k] = v
		}
	}
	if item.DeliveryResults != nil {
		clone.DeliveryResults = make(map[domain.Channel]domain.DeliveryResult, len(item.DeliveryResults))
		for k, v := range item.DeliveryResults {
			clone.DeliveryResults[k] = v
		}
	}
	return &clone
}
