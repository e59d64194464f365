// Package audit appends immutable audit rows for every financial and
// workflow state change. Rows are written inside the same transaction as the
// change they describe and are never updated or deleted.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	EntityWallet  = "wallet"
	EntityPayout  = "payout_request"
	EntityProject = "project"
)

// Wallet/payout actions.
const (
	ActionWithdrawalLocked         = "withdrawal_locked"
	ActionWithdrawalCompleted      = "withdrawal_completed"
	ActionWithdrawalFailedUnlocked = "withdrawal_failed_unlocked"
)

// Project actions.
const (
	ActionStatusChanged        = "status_changed"
	ActionPaymentStatusChanged = "payment_status_changed"
)

type Entry struct {
	ID         int64           `db:"id" json:"id"`
	ActorID    int             `db:"actor_id" json:"actor_id"`
	EntityType string          `db:"entity_type" json:"entity_type"`
	EntityID   int64           `db:"entity_id" json:"entity_id"`
	Action     string          `db:"action" json:"action"`
	OldValue   string          `db:"old_value" json:"old_value"`
	NewValue   string          `db:"new_value" json:"new_value"`
	Metadata   json.RawMessage `db:"metadata" json:"metadata"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

type Recorder interface {
	Record(ctx context.Context, tx sqlx.ExtContext, e Entry) error
	ListForEntity(ctx context.Context, entityType string, entityID int64, limit int) ([]Entry, error)
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Recorder {
	return &repository{db: db}
}

func (r *repository) Record(ctx context.Context, tx sqlx.ExtContext, e Entry) error {
	if len(e.Metadata) == 0 {
		e.Metadata = json.RawMessage(`{}`)
	}

	q := tx
	if q == nil {
		q = r.db
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO audit_logs (actor_id, entity_type, entity_id, action, old_value, new_value, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ActorID, e.EntityType, e.EntityID, e.Action, e.OldValue, e.NewValue, []byte(e.Metadata),
	)
	return err
}

func (r *repository) ListForEntity(ctx context.Context, entityType string, entityID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	var entries []Entry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT id, actor_id, entity_type, entity_id, action, old_value, new_value, metadata, created_at
		FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}

	return entries, nil
}
