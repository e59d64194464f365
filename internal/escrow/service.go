// Package escrow coordinates project money: the client funds escrow up
// front, the platform releases the mentor and student shares after
// completion, and disputes freeze everything in place. Payment status is a
// separate dimension from workflow status; this package owns its
// transitions.
package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"sanaahub/internal/audit"
	"sanaahub/internal/db"
	"sanaahub/internal/gateway"
	"sanaahub/internal/logger"
	"sanaahub/internal/metrics"
	"sanaahub/internal/money"
	"sanaahub/internal/profile"
	"sanaahub/internal/workflow"
)

const referencePrefix = "ESC-"

var (
	ErrNotProjectClient    = errors.New("only the project client can fund escrow")
	ErrNotFundable         = errors.New("project is not in a fundable state")
	ErrNothingToVerify     = errors.New("no escrow payment expected for this reference")
	ErrPaymentNotConfirmed = errors.New("gateway has not confirmed this payment")
	ErrAmountMismatch      = errors.New("paid amount does not match the project client fee")
	ErrReleaseOrder        = errors.New("payment is not at the required release stage")
	ErrProjectNotReleased  = errors.New("project work is not completed")
	ErrNotDisputed         = errors.New("payment is not frozen")
	ErrBadUnfreezeTarget   = errors.New("unfreeze target must be escrowed or refunded")
)

// Notifier delivers escrow emails. Best-effort only.
type Notifier interface {
	QueueEscrowFunded(ctx context.Context, userID int, projectNumber string, amount decimal.Decimal) error
	QueuePaymentReleased(ctx context.Context, userID int, projectNumber string, amount decimal.Decimal) error
}

type Service struct {
	runner   db.TxRunner
	projects workflow.Repository
	engine   *workflow.Engine
	gw       gateway.Gateway
	audits   audit.Recorder
	profiles profile.Repository
	notifier Notifier
}

func NewService(
	runner db.TxRunner,
	projects workflow.Repository,
	engine *workflow.Engine,
	gw gateway.Gateway,
	audits audit.Recorder,
	profiles profile.Repository,
	notifier Notifier,
) *Service {
	return &Service{
		runner:   runner,
		projects: projects,
		engine:   engine,
		gw:       gw,
		audits:   audits,
		profiles: profiles,
		notifier: notifier,
	}
}

// fundableStatuses are the workflow states in which the client may pay into
// escrow: the fee split exists but work has not started against the money.
var fundableStatuses = map[workflow.ProjectStatus]bool{
	workflow.StatusScoped:          true,
	workflow.StatusPublished:       true,
	workflow.StatusClaimed:         true,
	workflow.StatusStudentAssigned: true,
}

// InitializeEscrow asks the gateway for a checkout session covering the
// client fee. The reference embeds the project number so the verification
// leg and the webhook can find the project again.
func (s *Service) InitializeEscrow(ctx context.Context, projectID int64, clientID int) (*gateway.PaymentInit, error) {
	p, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if p.ClientID != clientID {
		return nil, ErrNotProjectClient
	}
	if !fundableStatuses[p.Status] || p.PaymentStatus != workflow.PaymentPending {
		return nil, fmt.Errorf("%w: status %s, payment %s", ErrNotFundable, p.Status, p.PaymentStatus)
	}
	if !p.ClientFee.IsPositive() {
		return nil, fmt.Errorf("%w: client fee not set", ErrNotFundable)
	}

	amountMinor, err := money.ToMinorUnits(p.ClientFee)
	if err != nil {
		return nil, err
	}

	email, err := s.profiles.Email(ctx, clientID)
	if err != nil {
		return nil, err
	}

	init, err := s.gw.InitializePayment(ctx, gateway.PaymentInitRequest{
		Email:       email,
		AmountMinor: amountMinor,
		Reference:   referencePrefix + p.ProjectNumber,
		Currency:    money.Currency,
	})
	if err != nil {
		logger.Error("escrow initialization failed", "project_id", projectID, "error", err)
		return nil, err
	}

	metrics.RecordEscrowEvent("initialized")
	return init, nil
}

// VerifyEscrow confirms a payment with the gateway and moves the project to
// escrowed. Verifying an already-escrowed project is a success with no side
// effects; the webhook and the redirect landing both call this.
func (s *Service) VerifyEscrow(ctx context.Context, reference string) (*workflow.MentorshipProject, error) {
	number := strings.TrimPrefix(reference, referencePrefix)
	if number == reference || number == "" {
		return nil, ErrNothingToVerify
	}

	p, err := s.projectByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if p.PaymentStatus != workflow.PaymentPending {
		if p.PaymentStatus == workflow.PaymentEscrowed {
			return p, nil
		}
		return nil, fmt.Errorf("%w: payment %s", ErrNothingToVerify, p.PaymentStatus)
	}

	// Gateway round-trip happens before the transaction; no lock is held
	// across the network.
	verification, err := s.gw.VerifyPayment(ctx, reference)
	if err != nil {
		return nil, err
	}
	if verification.Status != "success" {
		return nil, fmt.Errorf("%w: gateway status %q", ErrPaymentNotConfirmed, verification.Status)
	}

	expectedMinor, err := money.ToMinorUnits(p.ClientFee)
	if err != nil {
		return nil, err
	}
	if verification.AmountMinor != expectedMinor {
		logger.Error("escrow amount mismatch",
			"reference", reference, "expected_minor", expectedMinor, "paid_minor", verification.AmountMinor)
		return nil, ErrAmountMismatch
	}

	var updated *workflow.MentorshipProject
	err = s.runner.RunSerializable(ctx, func(tx *sqlx.Tx) error {
		p, err := s.projects.GetByNumberForUpdate(ctx, tx, number)
		if err != nil {
			return err
		}
		if p.PaymentStatus != workflow.PaymentPending {
			// A concurrent verification won; nothing left to do.
			updated = p
			return nil
		}

		if err := s.setPaymentStatus(ctx, tx, p, workflow.PaymentEscrowed, p.ClientID,
			map[string]string{"reference": reference, "channel": verification.Channel}); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordEscrowEvent("funded")
	s.notifyFunded(ctx, updated)
	return updated, nil
}

// ReleaseMentorPayment moves escrowed funds one stage forward. Requires the
// work to be completed and the escrow untouched.
func (s *Service) ReleaseMentorPayment(ctx context.Context, projectID int64, actorID int) (*workflow.MentorshipProject, error) {
	p, err := s.releaseStage(ctx, projectID, actorID, workflow.PaymentEscrowed, workflow.PaymentMentorReleased)
	if err != nil {
		return nil, err
	}

	if p.MentorID != nil {
		if err := s.profiles.IncrementMentorCompletions(ctx, *p.MentorID); err != nil {
			logger.Warn("mentor completion stat not updated", "project_id", projectID, "error", err)
		}
		s.notifyReleased(ctx, *p.MentorID, p.ProjectNumber, p.MentorFee)
	}

	metrics.RecordEscrowEvent("mentor_released")
	return p, nil
}

// ReleaseStudentPayment releases the final share, marks the escrow
// completed, and drives the project workflow from completed to paid.
func (s *Service) ReleaseStudentPayment(ctx context.Context, projectID int64, actorID int) (*workflow.MentorshipProject, error) {
	p, err := s.releaseStage(ctx, projectID, actorID, workflow.PaymentMentorReleased, workflow.PaymentStudentReleased)
	if err != nil {
		return nil, err
	}

	if p.StudentID != nil {
		if err := s.profiles.IncrementStudentCompletions(ctx, *p.StudentID); err != nil {
			logger.Warn("student completion stat not updated", "project_id", projectID, "error", err)
		}
		s.notifyReleased(ctx, *p.StudentID, p.ProjectNumber, p.StudentFee)
	}
	if p.MentorID != nil && p.StudentID != nil {
		if err := s.profiles.RecordProjectOutcome(ctx, *p.MentorID, *p.StudentID); err != nil {
			logger.Warn("mentor-student outcome not recorded", "project_id", projectID, "error", err)
		}
	}

	// Both shares are out: the escrow is complete and the project is paid.
	if p.Status == workflow.StatusCompleted {
		if _, err := s.engine.Transition(ctx, projectID, workflow.StatusPaid, actorID, "escrow fully released"); err != nil {
			logger.Error("project not moved to paid after student release", "project_id", projectID, "error", err)
		}
	}

	err = s.runner.RunSerializable(ctx, func(tx *sqlx.Tx) error {
		fresh, err := s.projects.GetForUpdate(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if fresh.PaymentStatus != workflow.PaymentStudentReleased {
			return nil
		}
		if err := s.setPaymentStatus(ctx, tx, fresh, workflow.PaymentCompleted, actorID, nil); err != nil {
			return err
		}
		p = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordEscrowEvent("student_released")
	return p, nil
}

// releaseStage performs one escrow stage change under the usual
// preconditions: work completed, payment exactly at the prior stage.
func (s *Service) releaseStage(ctx context.Context, projectID int64, actorID int, from, to workflow.PaymentStatus) (*workflow.MentorshipProject, error) {
	var updated *workflow.MentorshipProject
	err := s.runner.RunSerializable(ctx, func(tx *sqlx.Tx) error {
		p, err := s.projects.GetForUpdate(ctx, tx, projectID)
		if err != nil {
			return err
		}

		if p.Status != workflow.StatusCompleted && p.Status != workflow.StatusPaid {
			return fmt.Errorf("%w: status %s", ErrProjectNotReleased, p.Status)
		}
		if p.PaymentStatus != from {
			return fmt.Errorf("%w: payment %s, expected %s", ErrReleaseOrder, p.PaymentStatus, from)
		}

		if err := s.setPaymentStatus(ctx, tx, p, to, actorID, nil); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ProcessRefund returns escrowed funds to the client.
func (s *Service) ProcessRefund(ctx context.Context, projectID int64, actorID int, reason string) (*workflow.MentorshipProject, error) {
	p, err := s.guardedPaymentChange(ctx, projectID, actorID, workflow.PaymentEscrowed, workflow.PaymentRefunded, reason)
	if err != nil {
		return nil, err
	}
	metrics.RecordEscrowEvent("refunded")
	return p, nil
}

// FreezePayment parks escrowed funds while a dispute is resolved.
func (s *Service) FreezePayment(ctx context.Context, projectID int64, actorID int, reason string) (*workflow.MentorshipProject, error) {
	p, err := s.guardedPaymentChange(ctx, projectID, actorID, workflow.PaymentEscrowed, workflow.PaymentDisputed, reason)
	if err != nil {
		return nil, err
	}
	metrics.RecordEscrowEvent("frozen")
	return p, nil
}

// UnfreezePayment resolves a dispute back to escrowed or out to refunded.
func (s *Service) UnfreezePayment(ctx context.Context, projectID int64, actorID int, target workflow.PaymentStatus, reason string) (*workflow.MentorshipProject, error) {
	if target != workflow.PaymentEscrowed && target != workflow.PaymentRefunded {
		return nil, ErrBadUnfreezeTarget
	}

	p, err := s.guardedPaymentChange(ctx, projectID, actorID, workflow.PaymentDisputed, target, reason)
	if err != nil {
		if errors.Is(err, ErrReleaseOrder) {
			return nil, ErrNotDisputed
		}
		return nil, err
	}
	metrics.RecordEscrowEvent("unfrozen")
	return p, nil
}

func (s *Service) guardedPaymentChange(ctx context.Context, projectID int64, actorID int, from, to workflow.PaymentStatus, reason string) (*workflow.MentorshipProject, error) {
	var updated *workflow.MentorshipProject
	err := s.runner.RunSerializable(ctx, func(tx *sqlx.Tx) error {
		p, err := s.projects.GetForUpdate(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if p.PaymentStatus != from {
			return fmt.Errorf("%w: payment %s, expected %s", ErrReleaseOrder, p.PaymentStatus, from)
		}

		meta := map[string]string{}
		if reason != "" {
			meta["reason"] = reason
		}
		if err := s.setPaymentStatus(ctx, tx, p, to, actorID, meta); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// setPaymentStatus mutates, persists and audits a payment-status change
// inside the caller's transaction.
func (s *Service) setPaymentStatus(ctx context.Context, tx *sqlx.Tx, p *workflow.MentorshipProject, to workflow.PaymentStatus, actorID int, meta map[string]string) error {
	old := p.PaymentStatus
	p.PaymentStatus = to

	if err := s.projects.Update(ctx, tx, p); err != nil {
		return err
	}

	metaJSON := json.RawMessage(`{}`)
	if len(meta) > 0 {
		metaJSON, _ = json.Marshal(meta)
	}
	return s.audits.Record(ctx, tx, audit.Entry{
		ActorID:    actorID,
		EntityType: audit.EntityProject,
		EntityID:   p.ID,
		Action:     audit.ActionPaymentStatusChanged,
		OldValue:   string(old),
		NewValue:   string(to),
		Metadata:   metaJSON,
	})
}

func (s *Service) projectByNumber(ctx context.Context, number string) (*workflow.MentorshipProject, error) {
	var p *workflow.MentorshipProject
	err := s.runner.RunSerializable(ctx, func(tx *sqlx.Tx) error {
		var err error
		p, err = s.projects.GetByNumberForUpdate(ctx, tx, number)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) notifyFunded(ctx context.Context, p *workflow.MentorshipProject) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.QueueEscrowFunded(ctx, p.ClientID, p.ProjectNumber, p.ClientFee); err != nil {
		logger.Warn("escrow funded email not queued", "project_id", p.ID, "error", err)
	}
}

func (s *Service) notifyReleased(ctx context.Context, userID int, projectNumber string, amount decimal.Decimal) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.QueuePaymentReleased(ctx, userID, projectNumber, amount); err != nil {
		logger.Warn("payment released email not queued", "project_number", projectNumber, "error", err)
	}
}
