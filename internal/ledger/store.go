package ledger

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"sanaahub/internal/db"
	"sanaahub/internal/money"
)

var (
	// ErrInsufficientBalance means the operation would drive the available
	// balance negative.
	ErrInsufficientBalance = errors.New("insufficient available balance")

	// ErrAlreadyApplied means an entry with the same idempotency key exists.
	// The enclosing transaction is aborted by the unique violation; callers
	// treat this as "the first application already succeeded", not a fault.
	ErrAlreadyApplied = errors.New("idempotency key already applied")

	// ErrVersionConflict means a concurrent writer bumped the wallet version
	// between read and write. Under serializable isolation this surfaces as a
	// retry rather than a user-visible failure.
	ErrVersionConflict = errors.New("wallet version conflict")

	ErrWalletNotFound = errors.New("wallet not found")
)

type store struct {
	db *sqlx.DB
}

func NewStore(database *sqlx.DB) Store {
	return &store{db: database}
}

const walletColumns = `id, user_id, currency, total_earned, total_withdrawn, pending_balance, version, created_at, updated_at`

// EnsureWallet creates the wallet on first access, seeded with the externally
// recomputed gross-earnings baseline. On later calls the baseline can only
// raise total_earned: the wallet caches the gross-earned figure, the
// orders/projects tables own it.
func (s *store) EnsureWallet(ctx context.Context, tx *sqlx.Tx, userID int, earnedBaseline decimal.Decimal) (*Wallet, error) {
	var w Wallet
	err := tx.QueryRowxContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`,
		userID,
	).StructScan(&w)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		err = tx.QueryRowxContext(ctx,
			`INSERT INTO wallets (user_id, currency, total_earned)
			 VALUES ($1, $2, $3)
			 RETURNING `+walletColumns,
			userID, money.Currency, money.Round(earnedBaseline),
		).StructScan(&w)
		if err != nil {
			return nil, err
		}
		return &w, nil
	}

	if earnedBaseline.GreaterThan(w.TotalEarned) {
		err = tx.QueryRowxContext(ctx,
			`UPDATE wallets
			 SET total_earned = $1, version = version + 1, updated_at = NOW()
			 WHERE id = $2
			 RETURNING `+walletColumns,
			money.Round(earnedBaseline), w.ID,
		).StructScan(&w)
		if err != nil {
			return nil, err
		}
	}

	return &w, nil
}

func (s *store) LockForWithdrawal(ctx context.Context, tx *sqlx.Tx, walletID int64, amount decimal.Decimal, idempotencyKey, reference string, payoutID int64) error {
	w, err := s.walletForUpdate(ctx, tx, walletID)
	if err != nil {
		return err
	}

	amount = money.Round(amount)
	newPending := w.PendingBalance.Add(amount)
	if w.TotalEarned.Sub(w.TotalWithdrawn).Sub(newPending).IsNegative() {
		return ErrInsufficientBalance
	}

	if err := s.appendEntry(ctx, tx, Entry{
		WalletID:       walletID,
		Type:           EntryLockWithdrawal,
		Amount:         amount,
		BalanceBefore:  w.PendingBalance,
		BalanceAfter:   newPending,
		IdempotencyKey: &idempotencyKey,
		ExternalRef:    reference,
		PayoutID:       &payoutID,
	}); err != nil {
		return err
	}

	return s.writeBalances(ctx, tx, w, w.TotalEarned, w.TotalWithdrawn, newPending)
}

func (s *store) FinalizeWithdrawal(ctx context.Context, tx *sqlx.Tx, walletID int64, amount decimal.Decimal, idempotencyKey, reference string, payoutID int64) error {
	w, err := s.walletForUpdate(ctx, tx, walletID)
	if err != nil {
		return err
	}

	amount = money.Round(amount)
	newPending := w.PendingBalance.Sub(amount)
	if newPending.IsNegative() {
		return ErrInsufficientBalance
	}
	newWithdrawn := w.TotalWithdrawn.Add(amount)

	if err := s.appendEntry(ctx, tx, Entry{
		WalletID:       walletID,
		Type:           EntryDebitWithdrawn,
		Amount:         amount,
		BalanceBefore:  w.TotalWithdrawn,
		BalanceAfter:   newWithdrawn,
		IdempotencyKey: &idempotencyKey,
		ExternalRef:    reference,
		PayoutID:       &payoutID,
	}); err != nil {
		return err
	}

	return s.writeBalances(ctx, tx, w, w.TotalEarned, newWithdrawn, newPending)
}

func (s *store) ReleaseLock(ctx context.Context, tx *sqlx.Tx, walletID int64, amount decimal.Decimal, idempotencyKey, reference string, payoutID int64, reason string) error {
	w, err := s.walletForUpdate(ctx, tx, walletID)
	if err != nil {
		return err
	}

	amount = money.Round(amount)
	newPending := w.PendingBalance.Sub(amount)
	if newPending.IsNegative() {
		return ErrInsufficientBalance
	}

	if err := s.appendEntry(ctx, tx, Entry{
		WalletID:       walletID,
		Type:           EntryUnlockWithdrawal,
		Amount:         amount,
		BalanceBefore:  w.PendingBalance,
		BalanceAfter:   newPending,
		IdempotencyKey: &idempotencyKey,
		ExternalRef:    reference,
		PayoutID:       &payoutID,
		Reason:         reason,
	}); err != nil {
		return err
	}

	return s.writeBalances(ctx, tx, w, w.TotalEarned, w.TotalWithdrawn, newPending)
}

func (s *store) GetWallet(ctx context.Context, userID int) (*Wallet, error) {
	var w Wallet
	err := s.db.GetContext(ctx, &w, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (s *store) EntriesForWallet(ctx context.Context, walletID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	var entries []Entry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT id, wallet_id, type, amount, balance_before, balance_after, idempotency_key, external_reference, payout_id, reason, created_at
		FROM ledger_entries
		WHERE wallet_id = $1
		ORDER BY id ASC
		LIMIT $2
	`, walletID, limit)
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func (s *store) walletForUpdate(ctx context.Context, tx *sqlx.Tx, walletID int64) (*Wallet, error) {
	var w Wallet
	err := tx.QueryRowxContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`,
		walletID,
	).StructScan(&w)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// appendEntry inserts the immutable log row. The unique constraint on
// idempotency_key is the idempotency mechanism: a violation aborts the
// transaction and surfaces as ErrAlreadyApplied.
func (s *store) appendEntry(ctx context.Context, tx *sqlx.Tx, e Entry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (wallet_id, type, amount, balance_before, balance_after, idempotency_key, external_reference, payout_id, reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.WalletID, e.Type, e.Amount, e.BalanceBefore, e.BalanceAfter, e.IdempotencyKey, e.ExternalRef, e.PayoutID, e.Reason,
	)
	if err != nil {
		if db.IsUniqueViolation(err, "ledger_entries_idempotency_key_key") {
			return ErrAlreadyApplied
		}
		return err
	}
	return nil
}

// writeBalances persists new sub-balances with an optimistic version check.
// Zero rows affected means another writer got there first.
func (s *store) writeBalances(ctx context.Context, tx *sqlx.Tx, w *Wallet, earned, withdrawn, pending decimal.Decimal) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE wallets
		 SET total_earned = $1, total_withdrawn = $2, pending_balance = $3, version = version + 1, updated_at = NOW()
		 WHERE id = $4 AND version = $5`,
		earned, withdrawn, pending, w.ID, w.Version,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	return nil
}
