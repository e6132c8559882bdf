package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("queue item not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertParams describes a new pending item.
type InsertParams struct {
	AccountID uuid.UUID
	ContactID uuid.UUID
	Phone     string
	Kind      string
	Body      string
	MediaRef  *string
	Priority  Priority
}

func (r *Repository) Insert(ctx context.Context, params InsertParams) (Item, error) {
	var item Item
	err := r.pool.QueryRow(ctx, `
		INSERT INTO queue_items (account_id, contact_id, phone, kind, body, media_ref, priority, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		RETURNING id, account_id, contact_id, phone, kind, body, media_ref, priority, status, attempts, last_error, created_at, updated_at
	`, params.AccountID, params.ContactID, params.Phone, params.Kind, params.Body, params.MediaRef, params.Priority).
		Scan(&item.ID, &item.AccountID, &item.ContactID, &item.Phone, &item.Kind, &item.Body, &item.MediaRef,
			&item.Priority, &item.Status, &item.Attempts, &item.LastError, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Item, error) {
	var item Item
	err := r.pool.QueryRow(ctx, `
		SELECT id, account_id, contact_id, phone, kind, body, media_ref, priority, status, attempts, last_error, created_at, updated_at
		FROM queue_items
		WHERE id = $1
	`, id).Scan(&item.ID, &item.AccountID, &item.ContactID, &item.Phone, &item.Kind, &item.Body, &item.MediaRef,
		&item.Priority, &item.Status, &item.Attempts, &item.LastError, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	return item, nil
}

// ListPending returns pending items for one account, high priority first.
func (r *Repository) ListPending(ctx context.Context, accountID uuid.UUID, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, contact_id, phone, kind, body, media_ref, priority, status, attempts, last_error, created_at, updated_at
		FROM queue_items
		WHERE account_id = $1 AND status = 'pending'
		ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, created_at
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.AccountID, &item.ContactID, &item.Phone, &item.Kind, &item.Body, &item.MediaRef,
			&item.Priority, &item.Status, &item.Attempts, &item.LastError, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CountPending returns the pending backlog size for an account.
func (r *Repository) CountPending(ctx context.Context, accountID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM queue_items WHERE account_id = $1 AND status = 'pending'
	`, accountID).Scan(&count)
	return count, err
}

const itemColumns = `id, account_id, contact_id, phone, kind, body, media_ref, priority, status, attempts, last_error, created_at, updated_at`

// Claim atomically moves the highest-priority pending item for an account to
// 'processing' and returns it. ErrNotFound means the queue is drained.
func (r *Repository) Claim(ctx context.Context, accountID uuid.UUID) (Item, error) {
	var item Item
	err := r.pool.QueryRow(ctx, `
		UPDATE queue_items
		SET status = 'processing', attempts = attempts + 1, updated_at = now()
		WHERE id = (
			SELECT id FROM queue_items
			WHERE account_id = $1 AND status = 'pending'
			ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+itemColumns,
		accountID).Scan(&item.ID, &item.AccountID, &item.ContactID, &item.Phone, &item.Kind, &item.Body, &item.MediaRef,
		&item.Priority, &item.Status, &item.Attempts, &item.LastError, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	return item, nil
}

// Complete finishes a claimed item. Failed items below the attempt cap return
// to 'pending' for another try.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, sent bool, lastError *string) error {
	status := StatusSent
	if !sent {
		status = StatusFailed
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE queue_items
		SET status = CASE WHEN $2 = 'failed' AND attempts < 3 THEN 'pending' ELSE $2 END,
		    last_error = $3,
		    updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id, string(status), lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
