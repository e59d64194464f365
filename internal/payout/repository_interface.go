package payout

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// Repository persists payout requests. Create/MarkCompleted/MarkFailed take
// the saga's transaction so the request row commits together with the ledger
// movement it describes. HasCashoutOnUTCDay takes a queryer: the saga runs it
// on the lock transaction so two same-day requests conflict under
// serializable isolation instead of both passing the check; a nil queryer
// falls back to the pool for read-only surfaces.
type Repository interface {
	CreateInTx(ctx context.Context, tx *sqlx.Tx, p *PayoutRequest) error
	MarkCompleted(ctx context.Context, tx *sqlx.Tx, id int64, recipientCode, transferCode string) error
	MarkFailed(ctx context.Context, tx *sqlx.Tx, id int64, reason string) error

	FindByIdempotencyKey(ctx context.Context, userID int, key string) (*PayoutRequest, error)
	HasCashoutOnUTCDay(ctx context.Context, q sqlx.ExtContext, userID int, day time.Time) (bool, error)
	ListRecent(ctx context.Context, userID int, limit int) ([]PayoutRequest, error)
	FindStaleProcessing(ctx context.Context, olderThan time.Time) ([]PayoutRequest, error)
}
