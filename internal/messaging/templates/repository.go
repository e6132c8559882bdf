package templates

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("template not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Template, error) {
	var t Template
	var buttons []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, account_id, name, language, wa_status, header_text, body_text, footer_text, buttons, created_at, updated_at
		FROM templates
		WHERE id = $1
	`, id).Scan(&t.ID, &t.AccountID, &t.Name, &t.Language, &t.Status, &t.HeaderText, &t.BodyText, &t.FooterText, &buttons, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Template{}, ErrNotFound
		}
		return Template{}, err
	}

	if len(buttons) > 0 {
		if err := json.Unmarshal(buttons, &t.Buttons); err != nil {
			return Template{}, err
		}
	}
	return t, nil
}

// ListByAccount returns the account's templates, newest first.
func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]Template, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, name, language, wa_status, header_text, body_text, footer_text, buttons, created_at, updated_at
		FROM templates
		WHERE account_id = $1
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Template, 0)
	for rows.Next() {
		var t Template
		var buttons []byte
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Name, &t.Language, &t.Status, &t.HeaderText, &t.BodyText, &t.FooterText, &buttons, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if len(buttons) > 0 {
			if err := json.Unmarshal(buttons, &t.Buttons); err != nil {
				return nil, err
			}
		}
		items = append(items, t)
	}
	return items, rows.Err()
}
