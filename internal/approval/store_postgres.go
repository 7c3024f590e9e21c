package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"agentpass/pkg/domain"
	"agentpass/pkg/email"
	"agentpass/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

// PostgresStore persists approvals in the approvals table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectColumns = `id, passport_id, owner_email, action, service, details, status, created_at, responded_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (*Approval, error) {
	var (
		a           Approval
		id          uuid.UUID
		status      string
		respondedAt sql.NullTime
	)
	if err := row.Scan(&id, &a.PassportID, &a.OwnerEmail, &a.Action, &a.Service, &a.Details,
		&status, &a.CreatedAt, &respondedAt); err != nil {
		return nil, err
	}
	a.ID = domain.ApprovalID(id)
	a.Status = Status(status)
	a.CreatedAt = a.CreatedAt.UTC()
	if respondedAt.Valid {
		t := respondedAt.Time.UTC()
		a.RespondedAt = &t
	}
	return &a, nil
}

func (s *PostgresStore) Create(ctx context.Context, a *Approval) error {
	query := `
		INSERT INTO approvals (id, passport_id, owner_email, action, service, details, status, created_at, responded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(a.ID), a.PassportID, a.OwnerEmail, a.Action, a.Service, a.Details,
		string(a.Status), a.CreatedAt, a.RespondedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("approval %s: %w", a.ID, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.ApprovalID) (*Approval, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM approvals WHERE id = $1`, uuid.UUID(id))
	a, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("approval %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find approval: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerEmail string) ([]*Approval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM approvals WHERE owner_email = $1 ORDER BY seq`,
		email.Normalize(ownerEmail))
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var out []*Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	return out, nil
}

// Execute locks the row with SELECT ... FOR UPDATE, validates, mutates and
// writes it back in one transaction.
func (s *PostgresStore) Execute(ctx context.Context, id domain.ApprovalID, validate func(*Approval) error, mutate func(*Approval)) (*Approval, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin approval tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM approvals WHERE id = $1 FOR UPDATE`, uuid.UUID(id))
	a, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("approval %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("lock approval: %w", err)
	}
	if err := validate(a); err != nil {
		return nil, err
	}
	mutate(a)

	_, err = tx.ExecContext(ctx,
		`UPDATE approvals SET status = $2, responded_at = $3 WHERE id = $1`,
		uuid.UUID(id), string(a.Status), a.RespondedAt)
	if err != nil {
		return nil, fmt.Errorf("update approval: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit approval tx: %w", err)
	}
	return a, nil
}
