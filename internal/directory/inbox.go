package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigmarket/notify-pipeline/internal/domain"
)

// InboxStore persists in-app notification records. The in_app channel has
// no external provider: a write here is the delivery.
type InboxStore interface {
	CreateRecord(ctx context.Context, rec *domain.InAppNotification) error
	ListForRecipient(ctx context.Context, recipientID string, limit int) ([]*domain.InAppNotification, error)
	MarkRead(ctx context.Context, id string, readAt time.Time) error
}

type pgInboxStore struct {
	pool *pgxpool.Pool
}

func NewPgInboxStore(pool *pgxpool.Pool) InboxStore {
	return &pgInboxStore{pool: pool}
}

func (s *pgInboxStore) CreateRecord(ctx context.Context, rec *domain.InAppNotification) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("marshal inbox data: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO in_app_notifications
			(id, recipient_id, queue_id, type, title, body, data, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.RecipientID, rec.QueueID, rec.Type, rec.Title, rec.Body, data, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert inbox record: %w", err)
	}
	return nil
}

func (s *pgInboxStore) ListForRecipient(ctx context.Context, recipientID string, limit int) ([]*domain.InAppNotification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, recipient_id, queue_id, type, title, body, data, read_at, created_at
		FROM in_app_notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list inbox records: %w", err)
	}
	defer rows.Close()

	var records []*domain.InAppNotification
	for rows.Next() {
		var rec domain.InAppNotification
		var data []byte
		if err := rows.Scan(
			&rec.ID, &rec.RecipientID, &rec.QueueID, &rec.Type,
			&rec.Title, &rec.Body, &data, &rec.ReadAt, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &rec.Data); err != nil {
				return nil, fmt.Errorf("unmarshal inbox data: %w", err)
			}
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func (s *pgInboxStore) MarkRead(ctx context.Context, id string, readAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE in_app_notifications SET read_at = $1
		WHERE id = $2 AND read_at IS NULL`, readAt, id)
	if err != nil {
		return fmt.Errorf("mark inbox record read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.getByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *pgInboxStore) getByID(ctx context.Context, id string) (string, error) {
	var got string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM in_app_notifications WHERE id = $1`, id).Scan(&got)
	if err != nil {
		return "", domain.ErrNotFound
	}
	return got, nil
}
