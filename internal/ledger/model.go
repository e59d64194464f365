package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"sanaahub/internal/money"
)

// Wallet is the single serialization point for one user's funds. Balances
// only ever change through the Store, one serializable transaction at a time,
// and every change appends a matching Entry.
type Wallet struct {
	ID             int64           `db:"id" json:"id"`
	UserID         int             `db:"user_id" json:"user_id"`
	Currency       string          `db:"currency" json:"currency"`
	TotalEarned    decimal.Decimal `db:"total_earned" json:"total_earned"`
	TotalWithdrawn decimal.Decimal `db:"total_withdrawn" json:"total_withdrawn"`
	PendingBalance decimal.Decimal `db:"pending_balance" json:"pending_balance"`
	Version        int64           `db:"version" json:"version"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// AvailableBalance = totalEarned - totalWithdrawn - pendingBalance.
// Never negative while the Store's invariants hold.
func (w *Wallet) AvailableBalance() decimal.Decimal {
	return w.TotalEarned.Sub(w.TotalWithdrawn).Sub(w.PendingBalance)
}

// Entry types. Lock and unlock move the pending sub-balance; debit moves the
// locked amount into total_withdrawn.
const (
	EntryLockWithdrawal   = "lock_withdrawal"
	EntryUnlockWithdrawal = "unlock_withdrawal"
	EntryDebitWithdrawn   = "debit_withdrawn"
)

// Entry is one immutable row of the append-only transaction log.
// BalanceBefore/BalanceAfter describe the sub-balance the entry type affects
// (pending for lock/unlock, total_withdrawn for debit).
type Entry struct {
	ID             int64           `db:"id" json:"id"`
	WalletID       int64           `db:"wallet_id" json:"wallet_id"`
	Type           string          `db:"type" json:"type"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	BalanceBefore  decimal.Decimal `db:"balance_before" json:"balance_before"`
	BalanceAfter   decimal.Decimal `db:"balance_after" json:"balance_after"`
	IdempotencyKey *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	ExternalRef    string          `db:"external_reference" json:"external_reference"`
	PayoutID       *int64          `db:"payout_id" json:"payout_id,omitempty"`
	Reason         string          `db:"reason" json:"reason"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// ReplayBalance reconstructs (totalWithdrawn, pendingBalance) from a baseline
// and the entry sequence. Conservation tests compare the result against the
// stored wallet.
func ReplayBalance(entries []Entry) (withdrawn, pending decimal.Decimal) {
	withdrawn = decimal.Zero
	pending = decimal.Zero
	for _, e := range entries {
		switch e.Type {
		case EntryLockWithdrawal:
			pending = pending.Add(e.Amount)
		case EntryUnlockWithdrawal:
			pending = pending.Sub(e.Amount)
		case EntryDebitWithdrawn:
			pending = pending.Sub(e.Amount)
			withdrawn = withdrawn.Add(e.Amount)
		}
	}
	return money.Round(withdrawn), money.Round(pending)
}
