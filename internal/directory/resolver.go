package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigmarket/notify-pipeline/internal/domain"
)

// Resolver answers recipient lookups on behalf of the wider backend.
// The orchestrator consults it; the pipeline never mutates recipient data.
type Resolver interface {
	// ResolveRecipient returns domain.ErrNotFound for unknown ids.
	ResolveRecipient(ctx context.Context, id string) (*domain.Recipient, error)

	// PushTokens returns the recipient's active device tokens, possibly none.
	PushTokens(ctx context.Context, recipientID string) ([]string, error)
}

type pgResolver struct {
	pool *pgxpool.Pool
}

// NewPgResolver returns a Resolver backed by the recipients and
// device_tokens tables.
func NewPgResolver(pool *pgxpool.Pool) Resolver {
	return &pgResolver{pool: pool}
}

func (r *pgResolver) ResolveRecipient(ctx context.Context, id string) (*domain.Recipient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, opted_out_marketing
		FROM recipients WHERE id = $1`, id)

	var rec domain.Recipient
	err := row.Scan(&rec.ID, &rec.Email, &rec.OptedOutMarketing)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve recipient: %w", err)
	}
	return &rec, nil
}

func (r *pgResolver) PushTokens(ctx context.Context, recipientID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT token FROM device_tokens
		WHERE recipient_id = $1 AND active = TRUE
		ORDER BY created_at ASC`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list push tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}
