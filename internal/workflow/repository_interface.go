package workflow

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	GetByID(ctx context.Context, id int64) (*MentorshipProject, error)
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*MentorshipProject, error)
	GetByNumberForUpdate(ctx context.Context, tx *sqlx.Tx, projectNumber string) (*MentorshipProject, error)
	Update(ctx context.Context, tx *sqlx.Tx, p *MentorshipProject) error
}
