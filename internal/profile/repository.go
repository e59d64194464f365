// Package profile covers the non-ledger side effects of releasing project
// money: completion statistics on mentor/student profiles and the
// mentor-student relationship, plus the founding-member flag the commission
// resolver consults.
package profile

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	IsFoundingMember(ctx context.Context, userID int) (bool, error)
	Email(ctx context.Context, userID int) (string, error)
	IncrementMentorCompletions(ctx context.Context, mentorID int) error
	IncrementStudentCompletions(ctx context.Context, studentID int) error
	RecordProjectOutcome(ctx context.Context, mentorID, studentID int) error
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) IsFoundingMember(ctx context.Context, userID int) (bool, error) {
	var founding bool
	err := r.db.GetContext(ctx, &founding,
		`SELECT is_founding_member FROM profiles WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return founding, nil
}

func (r *repository) Email(ctx context.Context, userID int) (string, error) {
	var email string
	err := r.db.GetContext(ctx, &email,
		`SELECT email FROM profiles WHERE user_id = $1`, userID)
	if err != nil {
		return "", err
	}
	return email, nil
}

func (r *repository) IncrementMentorCompletions(ctx context.Context, mentorID int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET mentor_completed_projects = mentor_completed_projects + 1, updated_at = NOW()
		 WHERE user_id = $1`, mentorID)
	return err
}

func (r *repository) IncrementStudentCompletions(ctx context.Context, studentID int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET student_completed_projects = student_completed_projects + 1, updated_at = NOW()
		 WHERE user_id = $1`, studentID)
	return err
}

// RecordProjectOutcome bumps the pair's shared completion counter, creating
// the relation row on first collaboration.
func (r *repository) RecordProjectOutcome(ctx context.Context, mentorID, studentID int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mentor_students (mentor_id, student_id, completed_projects)
		VALUES ($1, $2, 1)
		ON CONFLICT (mentor_id, student_id)
		DO UPDATE SET completed_projects = mentor_students.completed_projects + 1, updated_at = NOW()
	`, mentorID, studentID)
	return err
}
