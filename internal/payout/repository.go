package payout

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

const payoutColumns = `id, user_id, wallet_id, role, amount, currency, channel, recipient_name, destination,
	bank_code, reference, idempotency_key, status, recipient_code, transfer_code, failure_reason,
	gross_earnings_snapshot, prior_withdrawals_snapshot, available_before_request, reserve_amount,
	created_at, updated_at, completed_at`

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateInTx(ctx context.Context, tx *sqlx.Tx, p *PayoutRequest) error {
	query := `
		INSERT INTO payout_requests
			(user_id, wallet_id, role, amount, currency, channel, recipient_name, destination,
			 bank_code, reference, idempotency_key, status,
			 gross_earnings_snapshot, prior_withdrawals_snapshot, available_before_request, reserve_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at, updated_at
	`

	return tx.QueryRowxContext(ctx, query,
		p.UserID, p.WalletID, p.Role, p.Amount, p.Currency, p.Channel, p.RecipientName, p.Destination,
		p.BankCode, p.Reference, p.IdempotencyKey, p.Status,
		p.GrossEarningsSnapshot, p.PriorWithdrawalsSnapshot, p.AvailableBeforeRequest, p.ReserveAmount,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *repository) MarkCompleted(ctx context.Context, tx *sqlx.Tx, id int64, recipientCode, transferCode string) error {
	query := `
		UPDATE payout_requests
		SET status = $2, recipient_code = $3, transfer_code = $4, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $5
	`

	res, err := tx.ExecContext(ctx, query, id, StatusCompleted, recipientCode, transferCode, StatusProcessing)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (r *repository) MarkFailed(ctx context.Context, tx *sqlx.Tx, id int64, reason string) error {
	query := `
		UPDATE payout_requests
		SET status = $2, failure_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`

	res, err := tx.ExecContext(ctx, query, id, StatusFailed, reason, StatusProcessing)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

var ErrRequestNotProcessing = errors.New("payout request is not in processing state")

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRequestNotProcessing
	}
	return nil
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, userID int, key string) (*PayoutRequest, error) {
	var p PayoutRequest
	err := r.db.GetContext(ctx, &p,
		`SELECT `+payoutColumns+` FROM payout_requests WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// HasCashoutOnUTCDay reports whether the user already has a non-failed
// request on the given UTC calendar day. Failed requests do not consume the
// daily slot. Run on the lock transaction the read conflicts with a
// concurrent same-day insert; a nil queryer reads the pool.
func (r *repository) HasCashoutOnUTCDay(ctx context.Context, q sqlx.ExtContext, userID int, day time.Time) (bool, error) {
	if q == nil {
		q = r.db
	}
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	var exists bool
	err := sqlx.GetContext(ctx, q, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM payout_requests
			WHERE user_id = $1
			  AND status IN ($2, $3)
			  AND created_at >= $4 AND created_at < $5
		)
	`, userID, StatusProcessing, StatusCompleted, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *repository) ListRecent(ctx context.Context, userID int, limit int) ([]PayoutRequest, error) {
	if limit <= 0 {
		limit = 10
	}

	var requests []PayoutRequest
	err := r.db.SelectContext(ctx, &requests, `
		SELECT `+payoutColumns+`
		FROM payout_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *repository) FindStaleProcessing(ctx context.Context, olderThan time.Time) ([]PayoutRequest, error) {
	var requests []PayoutRequest
	err := r.db.SelectContext(ctx, &requests, `
		SELECT `+payoutColumns+`
		FROM payout_requests
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
	`, StatusProcessing, olderThan)
	if err != nil {
		return nil, err
	}
	return requests, nil
}
