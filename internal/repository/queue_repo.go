package repository

import (
	"context"
	"time"

	"github.com/gigmarket/notify-pipeline/internal/domain"
)

// QueueRepository defines all persistence operations for the notification
// queue and its delivery-attempt audit log.
// The pgx implementation is in pg_queue_repo.go.
// Tests use a hand-written mock (mock_queue_repo.go).
type QueueRepository interface {
	// Enqueue is the producer contract: an opaque insert.
	// A duplicate idempotency key returns domain.ErrConflict.
	Enqueue(ctx context.Context, item *domain.QueueItem) error

	GetByID(ctx context.Context, id string) (*domain.QueueItem, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.QueueItem, error)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.QueueItem, int, error)
	CountByStatus(ctx context.Context) (map[domain.Status]int, error)

	// ClaimDue atomically flips up to limit eligible pending rows
	// (scheduled_for <= now) to processing, increments attempts, stamps
	// last_attempt_at, and returns the claimed rows ordered by priority
	// descending then scheduled_for ascending. The status guard makes the
	// claim a compare-and-swap: concurrent claimers never win the same row.
	ClaimDue(ctx context.Context, limit int, now time.Time) ([]*domain.QueueItem, error)

	// ClaimOne claims exactly one item iff it is currently pending.
	// Returns domain.ErrNotPending when the guard fails,
	// domain.ErrNotFound when no such row exists.
	ClaimOne(ctx context.Context, id string, now time.Time) (*domain.QueueItem, error)

	MarkDelivered(ctx context.Context, id string, deliveredAt time.Time, results map[domain.Channel]domain.DeliveryResult) error
	ScheduleRetry(ctx context.Context, id string, nextAttempt time.Time, errMsg string, results map[domain.Channel]domain.DeliveryResult) error
	MarkFailed(ctx context.Context, id string, failedAt time.Time, errMsg string, results map[domain.Channel]domain.DeliveryResult) error

	// RecordAttempt appends one audit row. Callers log and swallow errors:
	// a failed audit write must never flip a delivery outcome.
	RecordAttempt(ctx context.Context, attempt *domain.DeliveryAttempt) error
	ListAttempts(ctx context.Context, queueID string) ([]*domain.DeliveryAttempt, error)
}
