package pipeline

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrLeadNotFound     = errors.New("lead not found")
	ErrStageNotFound    = errors.New("stage not found")
	ErrPipelineNotFound = errors.New("pipeline not found")
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const leadColumns = `
	id, account_id, contact_id, product_id, pipeline_id, stage_id,
	name, estimated_value, created_at, updated_at`

func scanLead(row pgx.Row) (Lead, error) {
	var l Lead
	err := row.Scan(
		&l.ID, &l.AccountID, &l.ContactID, &l.ProductID, &l.PipelineID, &l.StageID,
		&l.Name, &l.EstimatedValue, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lead{}, ErrLeadNotFound
		}
		return Lead{}, err
	}
	return l, nil
}

func (r *Repository) GetLead(ctx context.Context, leadID, accountID uuid.UUID) (Lead, error) {
	return scanLead(r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+` FROM leads WHERE id = $1 AND account_id = $2
	`, leadID, accountID))
}

// GetLeadByContact returns the contact's lead within one product scope, or
// the most recent lead when productID is nil.
func (r *Repository) GetLeadByContact(ctx context.Context, contactID uuid.UUID, productID *uuid.UUID) (Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE contact_id = $1`
	args := []any{contactID}
	if productID != nil {
		query += ` AND product_id = $2`
		args = append(args, *productID)
	}
	query += ` ORDER BY created_at DESC LIMIT 1`
	return scanLead(r.pool.QueryRow(ctx, query, args...))
}

func (r *Repository) GetStage(ctx context.Context, stageID uuid.UUID) (Stage, error) {
	var s Stage
	err := r.pool.QueryRow(ctx, `
		SELECT id, pipeline_id, name, position, bound_sequence_id, created_at
		FROM stages WHERE id = $1
	`, stageID).Scan(&s.ID, &s.PipelineID, &s.Name, &s.Position, &s.BoundSequenceID, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stage{}, ErrStageNotFound
		}
		return Stage{}, err
	}
	return s, nil
}

// GetStageByName resolves a stage within one pipeline by its display name.
// Used by stage_change sequence steps, which carry the target by name.
func (r *Repository) GetStageByName(ctx context.Context, pipelineID uuid.UUID, name string) (Stage, error) {
	var s Stage
	err := r.pool.QueryRow(ctx, `
		SELECT id, pipeline_id, name, position, bound_sequence_id, created_at
		FROM stages WHERE pipeline_id = $1 AND lower(name) = lower($2)
	`, pipelineID, name).Scan(&s.ID, &s.PipelineID, &s.Name, &s.Position, &s.BoundSequenceID, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stage{}, ErrStageNotFound
		}
		return Stage{}, err
	}
	return s, nil
}

func (r *Repository) GetPipeline(ctx context.Context, pipelineID uuid.UUID) (Pipeline, error) {
	var p Pipeline
	err := r.pool.QueryRow(ctx, `
		SELECT id, account_id, product_id, name, created_at
		FROM pipelines WHERE id = $1
	`, pipelineID).Scan(&p.ID, &p.AccountID, &p.ProductID, &p.Name, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Pipeline{}, ErrPipelineNotFound
		}
		return Pipeline{}, err
	}
	return p, nil
}

// ListPipelines returns the account's pipelines with their stages.
func (r *Repository) ListPipelines(ctx context.Context, accountID uuid.UUID) ([]Pipeline, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, product_id, name, created_at
		FROM pipelines WHERE account_id = $1 ORDER BY name
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Pipeline, 0)
	for rows.Next() {
		var p Pipeline
		if err := rows.Scan(&p.ID, &p.AccountID, &p.ProductID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// ListStages returns the pipeline's stages in board order.
func (r *Repository) ListStages(ctx context.Context, pipelineID uuid.UUID) ([]Stage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, pipeline_id, name, position, bound_sequence_id, created_at
		FROM stages WHERE pipeline_id = $1 ORDER BY position
	`, pipelineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Stage, 0)
	for rows.Next() {
		var s Stage
		if err := rows.Scan(&s.ID, &s.PipelineID, &s.Name, &s.Position, &s.BoundSequenceID, &s.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

// UpdateLeadStage persists the stage transition.
func (r *Repository) UpdateLeadStage(ctx context.Context, leadID, stageID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET stage_id = $2, updated_at = now() WHERE id = $1
	`, leadID, stageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLeadNotFound
	}
	return nil
}

// GetProductName resolves the display name of a product for template context.
func (r *Repository) GetProductName(ctx context.Context, productID uuid.UUID) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT name FROM products WHERE id = $1`, productID).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return name, nil
}
