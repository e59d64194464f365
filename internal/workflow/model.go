package workflow

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ProjectStatus is the workflow dimension of a mentorship project. Draft is
// initial; Paid and Cancelled are terminal.
type ProjectStatus string

const (
	StatusDraft                   ProjectStatus = "draft"
	StatusSubmitted               ProjectStatus = "submitted"
	StatusUnderReview             ProjectStatus = "under_review"
	StatusScoped                  ProjectStatus = "scoped"
	StatusPublished               ProjectStatus = "published"
	StatusClaimed                 ProjectStatus = "claimed"
	StatusStudentAssigned         ProjectStatus = "student_assigned"
	StatusInProgress              ProjectStatus = "in_progress"
	StatusUnderMentorReview       ProjectStatus = "under_mentor_review"
	StatusMentorApproved          ProjectStatus = "mentor_approved"
	StatusRevisionRequested       ProjectStatus = "revision_requested"
	StatusClientReview            ProjectStatus = "client_review"
	StatusClientRevisionRequested ProjectStatus = "client_revision_requested"
	StatusCompleted               ProjectStatus = "completed"
	StatusPaid                    ProjectStatus = "paid"
	StatusDisputed                ProjectStatus = "disputed"
	StatusCancelled               ProjectStatus = "cancelled"
)

// PaymentStatus is the escrow dimension. It evolves independently of
// ProjectStatus; the escrow coordinator owns its transitions.
type PaymentStatus string

const (
	PaymentPending         PaymentStatus = "pending"
	PaymentEscrowed        PaymentStatus = "escrowed"
	PaymentMentorReleased  PaymentStatus = "mentor_released"
	PaymentStudentReleased PaymentStatus = "student_released"
	PaymentCompleted       PaymentStatus = "completed"
	PaymentDisputed        PaymentStatus = "disputed"
	PaymentRefunded        PaymentStatus = "refunded"
)

// AllStatuses is the closed set of workflow states; the transition table is
// validated against it at startup.
var AllStatuses = []ProjectStatus{
	StatusDraft, StatusSubmitted, StatusUnderReview, StatusScoped,
	StatusPublished, StatusClaimed, StatusStudentAssigned, StatusInProgress,
	StatusUnderMentorReview, StatusMentorApproved, StatusRevisionRequested,
	StatusClientReview, StatusClientRevisionRequested, StatusCompleted,
	StatusPaid, StatusDisputed, StatusCancelled,
}

// TransitionTable maps each state to the set of states it may move to.
// It is injected configuration, not a hard-coded switch, so tests can
// substitute alternate tables.
type TransitionTable map[ProjectStatus][]ProjectStatus

// DefaultTransitions is the production table. Paid and Cancelled carry no
// outgoing edges.
func DefaultTransitions() TransitionTable {
	return TransitionTable{
		StatusDraft:                   {StatusSubmitted, StatusCancelled},
		StatusSubmitted:               {StatusUnderReview, StatusCancelled},
		StatusUnderReview:             {StatusScoped, StatusCancelled},
		StatusScoped:                  {StatusPublished, StatusCancelled},
		StatusPublished:               {StatusClaimed, StatusCancelled},
		StatusClaimed:                 {StatusStudentAssigned, StatusPublished, StatusCancelled},
		StatusStudentAssigned:         {StatusInProgress, StatusCancelled},
		StatusInProgress:              {StatusUnderMentorReview, StatusDisputed, StatusCancelled},
		StatusUnderMentorReview:       {StatusMentorApproved, StatusRevisionRequested, StatusDisputed},
		StatusRevisionRequested:       {StatusInProgress},
		StatusMentorApproved:          {StatusClientReview},
		StatusClientReview:            {StatusCompleted, StatusClientRevisionRequested, StatusDisputed},
		StatusClientRevisionRequested: {StatusInProgress},
		StatusCompleted:               {StatusPaid},
		StatusDisputed:                {StatusInProgress, StatusCancelled},
		StatusPaid:                    {},
		StatusCancelled:               {},
	}
}

// ValidateTable checks referential completeness: every source and target in
// the table is a known status. Called once at startup; a bad table is a
// programming error, not a runtime condition.
func ValidateTable(table TransitionTable) error {
	known := make(map[ProjectStatus]bool, len(AllStatuses))
	for _, s := range AllStatuses {
		known[s] = true
	}

	for from, targets := range table {
		if !known[from] {
			return fmt.Errorf("transition table references unknown source state %q", from)
		}
		for _, to := range targets {
			if !known[to] {
				return fmt.Errorf("transition table references unknown target state %q (from %q)", to, from)
			}
		}
	}

	return nil
}

// Allows reports whether the table permits from -> to.
func (t TransitionTable) Allows(from, to ProjectStatus) bool {
	for _, target := range t[from] {
		if target == to {
			return true
		}
	}
	return false
}

// MentorshipProject carries both status dimensions plus the fee split agreed
// at scoping time. Fees are in KES.
type MentorshipProject struct {
	ID            int64         `db:"id" json:"id"`
	ProjectNumber string        `db:"project_number" json:"project_number"`
	Title         string        `db:"title" json:"title"`
	ClientID      int           `db:"client_id" json:"client_id"`
	MentorID      *int          `db:"mentor_id" json:"mentor_id,omitempty"`
	StudentID     *int          `db:"student_id" json:"student_id,omitempty"`
	Status        ProjectStatus `db:"status" json:"status"`
	PaymentStatus PaymentStatus `db:"payment_status" json:"payment_status"`

	ClientFee   decimal.Decimal `db:"client_fee" json:"client_fee"`
	MentorFee   decimal.Decimal `db:"mentor_fee" json:"mentor_fee"`
	StudentFee  decimal.Decimal `db:"student_fee" json:"student_fee"`
	PlatformFee decimal.Decimal `db:"platform_fee" json:"platform_fee"`

	RevisionCount int        `db:"revision_count" json:"revision_count"`
	Deadline      *time.Time `db:"deadline" json:"deadline,omitempty"`

	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	PaidAt       *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	CancelledAt  *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelReason *string    `db:"cancel_reason" json:"cancel_reason,omitempty"`

	Version   int64     `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
