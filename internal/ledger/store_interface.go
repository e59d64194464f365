package ledger

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Store is the only path through which wallet balances change. Mutating
// methods take the caller's transaction so the payout saga can commit a
// balance change together with its own rows; the transaction must run at
// serializable isolation (see db.TxRunner).
type Store interface {
	EnsureWallet(ctx context.Context, tx *sqlx.Tx, userID int, earnedBaseline decimal.Decimal) (*Wallet, error)
	LockForWithdrawal(ctx context.Context, tx *sqlx.Tx, walletID int64, amount decimal.Decimal, idempotencyKey, reference string, payoutID int64) error
	FinalizeWithdrawal(ctx context.Context, tx *sqlx.Tx, walletID int64, amount decimal.Decimal, idempotencyKey, reference string, payoutID int64) error
	ReleaseLock(ctx context.Context, tx *sqlx.Tx, walletID int64, amount decimal.Decimal, idempotencyKey, reference string, payoutID int64, reason string) error

	GetWallet(ctx context.Context, userID int) (*Wallet, error)
	EntriesForWallet(ctx context.Context, walletID int64, limit int) ([]Entry, error)
}
