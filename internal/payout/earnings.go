package payout

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"sanaahub/internal/auth"
	"sanaahub/internal/workflow"
)

// EarningsSource recomputes a user's earnings from the revenue tables.
// GrossEarned takes the caller's queryer so the saga can run it on the lock
// transaction and have the wallet baseline and the balance check see the same
// snapshot; a nil queryer falls back to the pool for read-only surfaces.
type EarningsSource interface {
	GrossEarned(ctx context.Context, q sqlx.ExtContext, userID int, role string) (decimal.Decimal, error)
	RecentEarnings(ctx context.Context, userID int, role string, limit int) ([]EarningsItem, error)
}

// EarningsItem is one revenue event behind the gross figure: a completed
// design sale or a released project fee.
type EarningsItem struct {
	Source    string          `db:"source" json:"source"`
	Reference string          `db:"reference" json:"reference"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	EarnedAt  time.Time       `db:"earned_at" json:"earned_at"`
}

type earningsSource struct {
	db *sqlx.DB
}

func NewEarningsSource(db *sqlx.DB) EarningsSource {
	return &earningsSource{db: db}
}

// GrossEarned sums the role's released revenue: professionals earn the net
// side of completed design sales, mentors and students earn their fee share
// once the escrow stage releasing them has passed.
func (s *earningsSource) GrossEarned(ctx context.Context, q sqlx.ExtContext, userID int, role string) (decimal.Decimal, error) {
	if q == nil {
		q = s.db
	}

	var query string
	args := []interface{}{userID}

	switch role {
	case auth.RoleProfessional:
		query = `
			SELECT COALESCE(SUM(net_amount), 0)
			FROM design_sales
			WHERE seller_id = $1 AND status = 'completed'
		`
	case auth.RoleMentor:
		query = `
			SELECT COALESCE(SUM(mentor_fee), 0)
			FROM mentorship_projects
			WHERE mentor_id = $1 AND payment_status IN ($2, $3, $4)
		`
		args = append(args,
			string(workflow.PaymentMentorReleased),
			string(workflow.PaymentStudentReleased),
			string(workflow.PaymentCompleted))
	case auth.RoleStudent:
		query = `
			SELECT COALESCE(SUM(student_fee), 0)
			FROM mentorship_projects
			WHERE student_id = $1 AND payment_status IN ($2, $3)
		`
		args = append(args,
			string(workflow.PaymentStudentReleased),
			string(workflow.PaymentCompleted))
	default:
		return decimal.Zero, nil
	}

	var gross decimal.Decimal
	if err := sqlx.GetContext(ctx, q, &gross, query, args...); err != nil {
		return decimal.Zero, err
	}
	return gross, nil
}

// RecentEarnings lists the newest revenue events for the role, the same rows
// GrossEarned sums over. It only feeds the summary surface and always reads
// from the pool.
func (s *earningsSource) RecentEarnings(ctx context.Context, userID int, role string, limit int) ([]EarningsItem, error) {
	if limit <= 0 {
		limit = 10
	}

	var query string
	args := []interface{}{userID}

	switch role {
	case auth.RoleProfessional:
		query = `
			SELECT 'design_sale' AS source, reference, net_amount AS amount, updated_at AS earned_at
			FROM design_sales
			WHERE seller_id = $1 AND status = 'completed'
			ORDER BY updated_at DESC
			LIMIT $2
		`
		args = append(args, limit)
	case auth.RoleMentor:
		query = `
			SELECT 'project_mentor_fee' AS source, project_number AS reference, mentor_fee AS amount, updated_at AS earned_at
			FROM mentorship_projects
			WHERE mentor_id = $1 AND payment_status IN ($2, $3, $4)
			ORDER BY updated_at DESC
			LIMIT $5
		`
		args = append(args,
			string(workflow.PaymentMentorReleased),
			string(workflow.PaymentStudentReleased),
			string(workflow.PaymentCompleted),
			limit)
	case auth.RoleStudent:
		query = `
			SELECT 'project_student_fee' AS source, project_number AS reference, student_fee AS amount, updated_at AS earned_at
			FROM mentorship_projects
			WHERE student_id = $1 AND payment_status IN ($2, $3)
			ORDER BY updated_at DESC
			LIMIT $4
		`
		args = append(args,
			string(workflow.PaymentStudentReleased),
			string(workflow.PaymentCompleted),
			limit)
	default:
		return []EarningsItem{}, nil
	}

	items := []EarningsItem{}
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, err
	}
	return items, nil
}
