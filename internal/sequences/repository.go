package sequences

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"outreach_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a sequence does not exist.
var ErrNotFound = errors.New("sequence not found")

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const sequenceColumns = `id, account_id, name, active, created_at, updated_at`

func scanSequence(row pgx.Row) (Sequence, error) {
	var s Sequence
	err := row.Scan(&s.ID, &s.AccountID, &s.Name, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sequence{}, ErrNotFound
	}
	if err != nil {
		return Sequence{}, fmt.Errorf("scan sequence: %w", err)
	}
	return s, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Sequence, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sequenceColumns+` FROM sequences WHERE id = $1`, id)
	return scanSequence(row)
}

// GetWithSteps loads a sequence and its steps ordered by position.
func (r *Repository) GetWithSteps(ctx context.Context, id uuid.UUID) (Sequence, error) {
	seq, err := r.GetByID(ctx, id)
	if err != nil {
		return Sequence{}, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, sequence_id, order_position, step_type,
		       payload_type, text_body, media_ref, template_id,
		       pause_type, delay_hours, target_stage_name, condition
		FROM sequence_steps
		WHERE sequence_id = $1
		ORDER BY order_position ASC`, id)
	if err != nil {
		return Sequence{}, fmt.Errorf("query sequence steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return Sequence{}, err
		}
		seq.Steps = append(seq.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return Sequence{}, fmt.Errorf("iterate sequence steps: %w", err)
	}
	return seq, nil
}

func scanStep(row pgx.Row) (Step, error) {
	var (
		step          Step
		payloadType   *string
		textBody      *string
		mediaRef      *string
		templateID    *uuid.UUID
		pauseType     *string
		delayHours    *float64
		targetStage   *string
		conditionJSON []byte
	)
	err := row.Scan(&step.ID, &step.SequenceID, &step.OrderPosition, &step.Type,
		&payloadType, &textBody, &mediaRef, &templateID,
		&pauseType, &delayHours, &targetStage, &conditionJSON)
	if err != nil {
		return Step{}, fmt.Errorf("scan sequence step: %w", err)
	}

	if len(conditionJSON) > 0 {
		var cond KeywordCondition
		if err := json.Unmarshal(conditionJSON, &cond); err != nil {
			return Step{}, fmt.Errorf("decode step condition: %w", err)
		}
		if len(cond.Keywords) > 0 {
			step.Condition = &cond
		}
	}

	switch step.Type {
	case StepMessage:
		msg := MessageStep{PayloadType: "text", TemplateID: templateID}
		if payloadType != nil && *payloadType != "" {
			msg.PayloadType = *payloadType
		}
		if textBody != nil {
			msg.Text = *textBody
		}
		if mediaRef != nil {
			msg.MediaRef = *mediaRef
		}
		step.Message = &msg
	case StepPause:
		pause := PauseStep{PauseType: "fixed_delay"}
		if pauseType != nil && *pauseType != "" {
			pause.PauseType = *pauseType
		}
		if delayHours != nil {
			pause.DelayHoursFromPrevious = *delayHours
		}
		step.Pause = &pause
	case StepStageChange:
		sc := StageChangeStep{}
		if targetStage != nil {
			sc.TargetStageName = *targetStage
		}
		step.StageChange = &sc
	}
	return step, nil
}

func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]Sequence, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sequenceColumns+`
		FROM sequences
		WHERE account_id = $1
		ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query sequences: %w", err)
	}
	defer rows.Close()

	var out []Sequence
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seq)
	}
	return out, rows.Err()
}

// Create inserts a sequence and its steps in one transaction.
func (r *Repository) Create(ctx context.Context, seq Sequence) (Sequence, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Sequence{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO sequences (id, account_id, name, active)
		VALUES ($1, $2, $3, $4)
		RETURNING `+sequenceColumns,
		seq.ID, seq.AccountID, seq.Name, seq.Active)
	created, err := scanSequence(row)
	if err != nil {
		return Sequence{}, err
	}

	for i := range seq.Steps {
		step := seq.Steps[i]
		step.SequenceID = created.ID
		if step.ID == uuid.Nil {
			step.ID = uuid.New()
		}
		if err := insertStep(ctx, tx, step); err != nil {
			return Sequence{}, err
		}
		created.Steps = append(created.Steps, step)
	}

	if err := tx.Commit(ctx); err != nil {
		return Sequence{}, fmt.Errorf("commit tx: %w", err)
	}
	return created, nil
}

func insertStep(ctx context.Context, tx pgx.Tx, step Step) error {
	var (
		payloadType *string
		textBody    *string
		mediaRef    *string
		templateID  *uuid.UUID
		pauseType   *string
		delayHours  *float64
		targetStage *string
	)
	switch step.Type {
	case StepMessage:
		if step.Message == nil {
			return apperr.Validation("message step missing payload")
		}
		payloadType = &step.Message.PayloadType
		textBody = &step.Message.Text
		mediaRef = &step.Message.MediaRef
		templateID = step.Message.TemplateID
	case StepPause:
		if step.Pause == nil {
			return apperr.Validation("pause step missing configuration")
		}
		pauseType = &step.Pause.PauseType
		delayHours = &step.Pause.DelayHoursFromPrevious
	case StepStageChange:
		if step.StageChange == nil {
			return apperr.Validation("stage change step missing target")
		}
		targetStage = &step.StageChange.TargetStageName
	default:
		return apperr.Validation(fmt.Sprintf("unknown step type %q", step.Type))
	}

	var conditionJSON []byte
	if step.Condition != nil {
		b, err := json.Marshal(step.Condition)
		if err != nil {
			return fmt.Errorf("encode step condition: %w", err)
		}
		conditionJSON = b
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO sequence_steps (id, sequence_id, order_position, step_type,
			payload_type, text_body, media_ref, template_id,
			pause_type, delay_hours, target_stage_name, condition)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		step.ID, step.SequenceID, step.OrderPosition, step.Type,
		payloadType, textBody, mediaRef, templateID,
		pauseType, delayHours, targetStage, conditionJSON)
	if err != nil {
		return fmt.Errorf("insert sequence step: %w", err)
	}
	return nil
}

// SetActive toggles whether the sequence may be assigned to contacts.
func (r *Repository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sequences SET active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("update sequence active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sequences WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete sequence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
