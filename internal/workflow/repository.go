package workflow

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

var ErrProjectNotFound = errors.New("project not found")

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const projectColumns = `id, project_number, title, client_id, mentor_id, student_id, status, payment_status,
	client_fee, mentor_fee, student_fee, platform_fee, revision_count, deadline,
	completed_at, paid_at, cancelled_at, cancel_reason, version, created_at, updated_at`

func (r *repository) GetByID(ctx context.Context, id int64) (*MentorshipProject, error) {
	var p MentorshipProject
	err := r.db.GetContext(ctx, &p, `SELECT `+projectColumns+` FROM mentorship_projects WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*MentorshipProject, error) {
	var p MentorshipProject
	err := tx.QueryRowxContext(ctx,
		`SELECT `+projectColumns+` FROM mentorship_projects WHERE id = $1 FOR UPDATE`,
		id,
	).StructScan(&p)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) GetByNumberForUpdate(ctx context.Context, tx *sqlx.Tx, projectNumber string) (*MentorshipProject, error) {
	var p MentorshipProject
	err := tx.QueryRowxContext(ctx,
		`SELECT `+projectColumns+` FROM mentorship_projects WHERE project_number = $1 FOR UPDATE`,
		projectNumber,
	).StructScan(&p)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Update persists both status dimensions and their side-effect fields with an
// optimistic version check.
func (r *repository) Update(ctx context.Context, tx *sqlx.Tx, p *MentorshipProject) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE mentorship_projects
		SET status = $1, payment_status = $2, revision_count = $3,
		    completed_at = $4, paid_at = $5, cancelled_at = $6, cancel_reason = $7,
		    version = version + 1, updated_at = NOW()
		WHERE id = $8 AND version = $9
	`, p.Status, p.PaymentStatus, p.RevisionCount,
		p.CompletedAt, p.PaidAt, p.CancelledAt, p.CancelReason,
		p.ID, p.Version,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProjectNotFound
	}

	p.Version++
	return nil
}
