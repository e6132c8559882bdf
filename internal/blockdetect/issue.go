package blockdetect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IssueType classifies a delivery issue.
type IssueType string

const (
	IssuePotentialBlock IssueType = "possible_block"
	IssueChronicFailure IssueType = "chronic_failure"
)

// Issue is a persisted delivery problem surfaced to operators.
type Issue struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	ContactID   uuid.UUID
	Type        IssueType
	Probability int
	Details     string
	Resolved    bool
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

var ErrIssueNotFound = errors.New("delivery issue not found")

type IssueRepository struct {
	db *pgxpool.Pool
}

func NewIssueRepository(db *pgxpool.Pool) *IssueRepository {
	return &IssueRepository{db: db}
}

const issueColumns = `id, account_id, contact_id, issue_type, probability, details, resolved, created_at, resolved_at`

func scanIssue(row pgx.Row) (Issue, error) {
	var i Issue
	err := row.Scan(&i.ID, &i.AccountID, &i.ContactID, &i.Type, &i.Probability,
		&i.Details, &i.Resolved, &i.CreatedAt, &i.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Issue{}, ErrIssueNotFound
	}
	if err != nil {
		return Issue{}, fmt.Errorf("scan delivery issue: %w", err)
	}
	return i, nil
}

// Raise records an issue unless an unresolved one of the same type already
// exists for the contact. Returns the open issue either way.
func (r *IssueRepository) Raise(ctx context.Context, issue Issue) (Issue, error) {
	existing, err := r.openIssue(ctx, issue.ContactID, issue.Type)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrIssueNotFound) {
		return Issue{}, err
	}

	if issue.ID == uuid.Nil {
		issue.ID = uuid.New()
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO delivery_issues (id, account_id, contact_id, issue_type, probability, details)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+issueColumns,
		issue.ID, issue.AccountID, issue.ContactID, issue.Type, issue.Probability, issue.Details)
	return scanIssue(row)
}

func (r *IssueRepository) openIssue(ctx context.Context, contactID uuid.UUID, issueType IssueType) (Issue, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+issueColumns+`
		FROM delivery_issues
		WHERE contact_id = $1 AND issue_type = $2 AND NOT resolved
		ORDER BY created_at DESC
		LIMIT 1`, contactID, issueType)
	return scanIssue(row)
}

// ResolveForContact closes all open issues of the given type for a contact.
func (r *IssueRepository) ResolveForContact(ctx context.Context, contactID uuid.UUID, issueType IssueType) error {
	_, err := r.db.Exec(ctx, `
		UPDATE delivery_issues
		SET resolved = true, resolved_at = now()
		WHERE contact_id = $1 AND issue_type = $2 AND NOT resolved`, contactID, issueType)
	if err != nil {
		return fmt.Errorf("resolve delivery issues: %w", err)
	}
	return nil
}

// ListOpen returns unresolved issues for an account, newest first.
func (r *IssueRepository) ListOpen(ctx context.Context, accountID uuid.UUID) ([]Issue, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+issueColumns+`
		FROM delivery_issues
		WHERE account_id = $1 AND NOT resolved
		ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query delivery issues: %w", err)
	}
	defer rows.Close()

	var out []Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, issue)
	}
	return out, rows.Err()
}
