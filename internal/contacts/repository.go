package contacts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("contact not found")

const contactColumns = `
	id, account_id, name, phone,
	sequence_active, sequence_id, sequence_position, sequence_started_at,
	first_contact_at, last_interaction_at, last_interaction_source,
	client_responses_count, is_typing,
	cloud_api_sends, queued_sends,
	consecutive_undelivered, total_messages_sent, total_messages_delivered,
	last_delivered_at, block_probability, is_blocked,
	created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanContact(row pgx.Row) (Contact, error) {
	var c Contact
	var source *string
	err := row.Scan(
		&c.ID, &c.AccountID, &c.Name, &c.Phone,
		&c.SequenceActive, &c.SequenceID, &c.SequencePosition, &c.SequenceStartedAt,
		&c.FirstContactAt, &c.LastInteractionAt, &source,
		&c.ClientResponsesCount, &c.IsTyping,
		&c.CloudAPISends, &c.QueuedSends,
		&c.ConsecutiveUndelivered, &c.TotalMessagesSent, &c.TotalMessagesDelivered,
		&c.LastDeliveredAt, &c.BlockProbability, &c.IsBlocked,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, err
	}
	if source != nil {
		c.LastInteractionSource = InteractionSource(*source)
	}
	return c, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Contact, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	return scanContact(row)
}

// ListActiveSequenceContactIDs returns the ids of every contact, across all
// accounts, that currently has an active sequence assignment. Blocked
// contacts are excluded; the block detector already paused them.
func (r *Repository) ListActiveSequenceContactIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM contacts
		WHERE sequence_active = true AND sequence_id IS NOT NULL AND is_blocked = false
		ORDER BY account_id, id
	`)
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

// ListActiveSequenceContactIDsByAccount is the single-tenant variant backing
// the operator-triggered sweep.
func (r *Repository) ListActiveSequenceContactIDsByAccount(ctx context.Context, accountID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM contacts
		WHERE account_id = $1 AND sequence_active = true AND sequence_id IS NOT NULL AND is_blocked = false
		ORDER BY id
	`, accountID)
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

// AssignSequence binds a sequence to the contact and resets progress.
func (r *Repository) AssignSequence(ctx context.Context, contactID, sequenceID uuid.UUID, startedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contacts
		SET sequence_active = true,
		    sequence_id = $2,
		    sequence_position = 0,
		    sequence_started_at = $3,
		    updated_at = now()
		WHERE id = $1
	`, contactID, sequenceID, startedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSequenceActive flips the active flag, keeping the binding.
// Used for both the pause (false) and resume (true) transitions.
func (r *Repository) SetSequenceActive(ctx context.Context, contactID uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contacts
		SET sequence_active = $2, updated_at = now()
		WHERE id = $1 AND sequence_id IS NOT NULL
	`, contactID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearSequence removes the sequence binding entirely (the stop transition).
func (r *Repository) ClearSequence(ctx context.Context, contactID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contacts
		SET sequence_active = false,
		    sequence_id = NULL,
		    sequence_position = 0,
		    sequence_started_at = NULL,
		    updated_at = now()
		WHERE id = $1
	`, contactID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvancePosition moves the sequence cursor using compare-and-set. Returns
// false when another writer already moved it, in which case the caller must
// re-evaluate instead of retrying blindly.
func (r *Repository) AdvancePosition(ctx context.Context, contactID uuid.UUID, from, to int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contacts
		SET sequence_position = $3, updated_at = now()
		WHERE id = $1 AND sequence_position = $2 AND sequence_id IS NOT NULL
	`, contactID, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RecordSend bumps the per-channel delivery counters after a routed send.
func (r *Repository) RecordSend(ctx context.Context, contactID uuid.UUID, viaCloudAPI bool) error {
	column := "queued_sends"
	if viaCloudAPI {
		column = "cloud_api_sends"
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE contacts
		SET `+column+` = `+column+` + 1,
		    total_messages_sent = total_messages_sent + 1,
		    updated_at = now()
		WHERE id = $1
	`, contactID)
	return err
}

// BlockMetrics is the persisted slice of block detector state.
type BlockMetrics struct {
	ConsecutiveUndelivered int
	BlockProbability       int
	IsBlocked              bool
}

// UpdateBlockMetrics persists the block detector's verdict for a contact.
func (r *Repository) UpdateBlockMetrics(ctx context.Context, contactID uuid.UUID, m BlockMetrics) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contacts
		SET consecutive_undelivered = $2,
		    block_probability = $3,
		    is_blocked = $4,
		    updated_at = now()
		WHERE id = $1
	`, contactID, m.ConsecutiveUndelivered, m.BlockProbability, m.IsBlocked)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordDelivery updates delivery bookkeeping when a status callback confirms
// a message reached the contact.
func (r *Repository) RecordDelivery(ctx context.Context, contactID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE contacts
		SET total_messages_delivered = total_messages_delivered + 1,
		    consecutive_undelivered = 0,
		    last_delivered_at = $2,
		    updated_at = now()
		WHERE id = $1
	`, contactID, at)
	return err
}
