package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"sanaahub/internal/audit"
	"sanaahub/internal/db"
	"sanaahub/internal/logger"
	"sanaahub/internal/metrics"
)

var ErrInvalidTransition = fmt.Errorf("invalid project transition")

// Engine is the only interface for changing a project's workflow status.
// Each transition runs in one serializable transaction: reload, check the
// edge, apply side effects, write one audit row, persist.
type Engine struct {
	runner      db.TxRunner
	repo        Repository
	audits      audit.Recorder
	transitions TransitionTable
	now         func() time.Time
}

func NewEngine(runner db.TxRunner, repo Repository, audits audit.Recorder, transitions TransitionTable) (*Engine, error) {
	if err := ValidateTable(transitions); err != nil {
		return nil, err
	}

	return &Engine{
		runner:      runner,
		repo:        repo,
		audits:      audits,
		transitions: transitions,
		now:         time.Now,
	}, nil
}

// Transition moves projectID to newStatus on behalf of actorID. An edge not
// in the table is rejected without mutating anything; the rejection is
// observable through the warning log and the transition metric, never through
// a misleading audit row.
func (e *Engine) Transition(ctx context.Context, projectID int64, newStatus ProjectStatus, actorID int, notes string) (*MentorshipProject, error) {
	var updated *MentorshipProject

	err := e.runner.RunSerializable(ctx, func(tx *sqlx.Tx) error {
		p, err := e.repo.GetForUpdate(ctx, tx, projectID)
		if err != nil {
			return err
		}

		if !e.transitions.Allows(p.Status, newStatus) {
			logger.Warn("invalid transition rejected",
				"project_id", projectID, "from", string(p.Status), "to", string(newStatus), "actor_id", actorID)
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, newStatus)
		}

		oldStatus := p.Status
		p.Status = newStatus
		e.applySideEffects(p, newStatus, notes)

		if err := e.repo.Update(ctx, tx, p); err != nil {
			return err
		}

		meta, _ := json.Marshal(map[string]string{"notes": notes})
		if err := e.audits.Record(ctx, tx, audit.Entry{
			ActorID:    actorID,
			EntityType: audit.EntityProject,
			EntityID:   projectID,
			Action:     audit.ActionStatusChanged,
			OldValue:   string(oldStatus),
			NewValue:   string(newStatus),
			Metadata:   meta,
		}); err != nil {
			return err
		}

		updated = p
		return nil
	})
	if err != nil {
		// Outcome metrics are emitted once per call, outside the closure,
		// so a retried transaction cannot count twice.
		if errors.Is(err, ErrInvalidTransition) {
			metrics.RecordWorkflowTransition(string(newStatus), "rejected")
		}
		return nil, err
	}

	metrics.RecordWorkflowTransition(string(newStatus), "applied")
	return updated, nil
}

func (e *Engine) applySideEffects(p *MentorshipProject, newStatus ProjectStatus, notes string) {
	now := e.now()
	switch newStatus {
	case StatusCompleted:
		p.CompletedAt = &now
	case StatusPaid:
		p.PaidAt = &now
	case StatusCancelled:
		p.CancelledAt = &now
		reason := notes
		p.CancelReason = &reason
	case StatusRevisionRequested, StatusClientRevisionRequested:
		p.RevisionCount++
	}
}
