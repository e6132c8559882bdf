package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("message not found")

const messageColumns = `
	id, account_id, contact_id, direction, body, media_ref,
	provider_message_id, sent_via, status, sequence_step_position,
	created_at, updated_at`

// Repository is the append-mostly message log store.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(
		&m.ID, &m.AccountID, &m.ContactID, &m.Direction, &m.Body, &m.MediaRef,
		&m.ProviderMessageID, &m.SentVia, &m.Status, &m.SequenceStepPosition,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, err
	}
	return m, nil
}

// InsertParams describes a new log record.
type InsertParams struct {
	AccountID            uuid.UUID
	ContactID            uuid.UUID
	Direction            Direction
	Body                 string
	MediaRef             *string
	ProviderMessageID    *string
	SentVia              *SendMethod
	Status               Status
	SequenceStepPosition *int
}

func (r *Repository) Insert(ctx context.Context, params InsertParams) (Message, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO messages (account_id, contact_id, direction, body, media_ref,
			provider_message_id, sent_via, status, sequence_step_position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+messageColumns,
		params.AccountID, params.ContactID, params.Direction, params.Body, params.MediaRef,
		params.ProviderMessageID, params.SentVia, params.Status, params.SequenceStepPosition)
	return scanMessage(row)
}

// LatestOutbound returns the most recent outbound message for a contact,
// optionally bounded to sequence steps at or before maxStepPosition.
// Returns nil when none exists.
func (r *Repository) LatestOutbound(ctx context.Context, contactID uuid.UUID, maxStepPosition *int) (*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE contact_id = $1 AND direction = 'outbound'`
	args := []any{contactID}
	if maxStepPosition != nil {
		query += ` AND sequence_step_position IS NOT NULL AND sequence_step_position <= $2`
		args = append(args, *maxStepPosition)
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	m, err := scanMessage(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// LatestInboundAfter returns the newest inbound message created after the
// given instant, or nil.
func (r *Repository) LatestInboundAfter(ctx context.Context, contactID uuid.UUID, after time.Time) (*Message, error) {
	m, err := scanMessage(r.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE contact_id = $1 AND direction = 'inbound' AND created_at > $2
		ORDER BY created_at DESC
		LIMIT 1
	`, contactID, after))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// ListContactsWithStaleSent returns contacts that have outbound messages
// still in status 'sent' created before the threshold. Input for the block
// detector's audit sweep.
func (r *Repository) ListContactsWithStaleSent(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT contact_id
		FROM messages
		WHERE direction = 'outbound' AND status = 'sent' AND created_at < $1
	`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListStaleSentForContact returns the newest still-unconfirmed outbound
// messages for a contact, capped at limit.
func (r *Repository) ListStaleSentForContact(ctx context.Context, contactID uuid.UUID, before time.Time, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE contact_id = $1 AND direction = 'outbound' AND status = 'sent' AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, contactID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// UpdateStatus transitions a message to the provider-reported status.
func (r *Repository) UpdateStatus(ctx context.Context, messageID uuid.UUID, status Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages SET status = $2, updated_at = now() WHERE id = $1
	`, messageID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByContact returns a contact's conversation, newest first.
func (r *Repository) ListByContact(ctx context.Context, contactID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE contact_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, contactID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
