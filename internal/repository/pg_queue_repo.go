package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigmarket/notify-pipeline/internal/domain"
)

const queueColumns = `id, recipient_id, type, title, body, data, channels, priority,
	scheduled_for, status, attempts, max_attempts, last_attempt_at,
	delivered_at, failed_at, error_message, correlation_id, idempotency_key,
	delivery_results, created_at, updated_at`

// priorityRank mirrors domain.Priority.Rank for SQL ordering.
const priorityRank = `CASE priority
	WHEN 'critical' THEN 4
	WHEN 'high' THEN 3
	WHEN 'normal' THEN 2
	ELSE 1 END`

type pgQueueRepository struct {
	pool *pgxpool.Pool
}

// NewPgQueueRepository returns a QueueRepository backed by PostgreSQL.
func NewPgQueueRepository(pool *pgxpool.Pool) QueueRepository {
	return &pgQueueRepository{pool: pool}
}

func (r *pgQueueRepository) Enqueue(ctx context.Context, item *domain.QueueItem) error {
	data, results, err := marshalPayloads(item.Data, item.DeliveryResults)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notification_queue
			(id, recipient_id, type, title, body, data, channels, priority,
			 scheduled_for, status, attempts, max_attempts, correlation_id,
			 idempotency_key, delivery_results, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		item.ID, item.RecipientID, item.Type, item.Title, item.Body, data,
		channelStrings(item.Channels), item.Priority, item.ScheduledFor,
		item.Status, item.Attempts, item.MaxAttempts, item.CorrelationID,
		item.IdempotencyKey, results, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "idempotency_key") {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

func (r *pgQueueRepository) GetByID(ctx context.Context, id string) (*domain.QueueItem, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+queueColumns+` FROM notification_queue WHERE id = $1`, id)

	item, err := scanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return item, err
}

func (r *pgQueueRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.QueueItem, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+queueColumns+` FROM notification_queue WHERE idempotency_key = $1`, key)

	item, err := scanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return item, err
}

func (r *pgQueueRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.QueueItem, int, error) {
	where, args := buildListWhere(f)
	offset := (f.Page - 1) * f.Limit

	var total int
	countQuery := "SELECT COUNT(*) FROM notification_queue" + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count queue items: %w", err)
	}

	args = append(args, f.Limit, offset)
	limitPlaceholder := fmt.Sprintf("$%d", len(args)-1)
	offsetPlaceholder := fmt.Sprintf("$%d", len(args))

	query := fmt.Sprintf(`
		SELECT `+queueColumns+`
		FROM notification_queue%s
		ORDER BY created_at DESC
		LIMIT %s OFFSET %s`, where, limitPlaceholder, offsetPlaceholder)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	items, err := scanQueueItems(rows)
	return items, total, err
}

func (r *pgQueueRepository) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM notification_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int)
	for rows.Next() {
		var status domain.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// ClaimDue is the only correctness-critical query: the inner SELECT picks the
// due pending rows, the outer UPDATE flips them to processing guarded by
// "status is still pending", and RETURNING folds the re-read into the same
// statement. A concurrent claimer that loses the race matches zero rows.
func (r *pgQueueRepository) ClaimDue(ctx context.Context, limit int, now time.Time) ([]*domain.QueueItem, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE notification_queue
		SET status = 'processing', attempts = attempts + 1,
		    last_attempt_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM notification_queue
			WHERE status = 'pending' AND scheduled_for <= $1
			ORDER BY `+priorityRank+` DESC, scheduled_for ASC
			LIMIT $2
		) AND status = 'pending'
		RETURNING `+queueColumns, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due items: %w", err)
	}
	defer rows.Close()

	items, err := scanQueueItems(rows)
	if err != nil {
		return nil, err
	}

	// RETURNING yields rows in storage order; restore the claim ordering.
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority.Rank() != items[j].Priority.Rank() {
			return items[i].Priority.Rank() > items[j].Priority.Rank()
		}
		return items[i].ScheduledFor.Before(items[j].ScheduledFor)
	})
	return items, nil
}

func (r *pgQueueRepository) ClaimOne(ctx context.Context, id string, now time.Time) (*domain.QueueItem, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE notification_queue
		SET status = 'processing', attempts = attempts + 1,
		    last_attempt_at = $1, updated_at = $1
		WHERE id = $2 AND status = 'pending'
		RETURNING `+queueColumns, now, id)

	item, err := scanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing row from one in a non-pending state.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, domain.ErrNotPending
	}
	return item, err
}

func (r *pgQueueRepository) MarkDelivered(ctx context.Context, id string, deliveredAt time.Time, results map[domain.Channel]domain.DeliveryResult) error {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal delivery results: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'delivered', delivered_at = $1, delivery_results = $2,
		    error_message = NULL, updated_at = $1
		WHERE id = $3`, deliveredAt, resultsJSON, id)
	return err
}

func (r *pgQueueRepository) ScheduleRetry(ctx context.Context, id string, nextAttempt time.Time, errMsg string, results map[domain.Channel]domain.DeliveryResult) error {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal delivery results: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'pending', scheduled_for = $1, error_message = $2,
		    delivery_results = $3, updated_at = NOW()
		WHERE id = $4`, nextAttempt, domain.TruncateError(errMsg), resultsJSON, id)
	return err
}

func (r *pgQueueRepository) MarkFailed(ctx context.Context, id string, failedAt time.Time, errMsg string, results map[domain.Channel]domain.DeliveryResult) error {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal delivery results: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'failed', failed_at = $1, error_message = $2,
		    delivery_results = $3, updated_at = $1
		WHERE id = $4`, failedAt, domain.TruncateError(errMsg), resultsJSON, id)
	return err
}

func (r *pgQueueRepository) RecordAttempt(ctx context.Context, a *domain.DeliveryAttempt) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO delivery_attempts
			(id, queue_id, recipient_id, channel, success, provider,
			 provider_message_id, error_code, error_message, attempted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.QueueID, a.RecipientID, a.Channel, a.Success, a.Provider,
		a.ProviderMessageID, a.ErrorCode, domain.TruncateError(a.ErrorMessage), a.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery attempt: %w", err)
	}
	return nil
}

func (r *pgQueueRepository) ListAttempts(ctx context.Context, queueID string) ([]*domain.DeliveryAttempt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, queue_id, recipient_id, channel, success, provider,
		       provider_message_id, error_code, error_message, attempted_at
		FROM delivery_attempts
		WHERE queue_id = $1
		ORDER BY attempted_at ASC`, queueID)
	if err != nil {
		return nil, fmt.Errorf("list delivery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*domain.DeliveryAttempt
	for rows.Next() {
		var a domain.DeliveryAttempt
		if err := rows.Scan(
			&a.ID, &a.QueueID, &a.RecipientID, &a.Channel, &a.Success,
			&a.Provider, &a.ProviderMessageID, &a.ErrorCode, &a.ErrorMessage,
			&a.AttemptedAt,
		); err != nil {
			return nil, err
		}
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}

// ---- helpers ----

func channelStrings(channels []domain.Channel) []string {
	out := make([]string, len(channels))
	for i, ch := range channels {
		out[i] = string(ch)
	}
	return out
}

func marshalPayloads(data map[string]string, results map[domain.Channel]domain.DeliveryResult) ([]byte, []byte, error) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal data payload: %w", err)
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal delivery results: %w", err)
	}
	return dataJSON, resultsJSON, nil
}

// scanQueueItem reads a single queue row from any pgx row type.
func scanQueueItem(row pgx.Row) (*domain.QueueItem, error) {
	var item domain.QueueItem
	var data, results []byte
	var channels []string

	err := row.Scan(
		&item.ID, &item.RecipientID, &item.Type, &item.Title, &item.Body,
		&data, &channels, &item.Priority, &item.ScheduledFor, &item.Status,
		&item.Attempts, &item.MaxAttempts, &item.LastAttemptAt,
		&item.DeliveredAt, &item.FailedAt, &item.ErrorMessage,
		&item.CorrelationID, &item.IdempotencyKey, &results,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &item.Data); err != nil {
			return nil, fmt.Errorf("unmarshal data payload: %w", err)
		}
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &item.DeliveryResults); err != nil {
			return nil, fmt.Errorf("unmarshal delivery results: %w", err)
		}
	}
	item.Channels = make([]domain.Channel, len(channels))
	for i, ch := range channels {
		item.Channels[i] = domain.Channel(ch)
	}
	return &item, nil
}

func scanQueueItems(rows pgx.Rows) ([]*domain.QueueItem, error) {
	var result []*domain.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

// buildListWhere builds a parameterised WHERE clause from a ListFilter.
func buildListWhere(f domain.ListFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Type != nil {
		add("type = $%d", *f.Type)
	}
	if f.RecipientID != nil {
		add("recipient_id = $%d", *f.RecipientID)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
