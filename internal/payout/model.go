// Package payout implements the cashout saga: lock funds in one serializable
// transaction, call the transfer gateway outside any transaction, then either
// finalize the withdrawal or compensate by releasing the lock. A payout
// request row exists for every attempt and is the idempotency anchor.
package payout

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Terminal and in-flight request states. A request is created as processing
// inside the lock transaction and ends as completed or failed; processing
// requests older than the reconciliation bound are force-failed by the sweep.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// PayoutRequest snapshots everything needed to replay, compensate or audit
// the cashout without consulting the gateway: the destination is stored
// masked, the reference is unique and doubles as the gateway transfer
// reference, and the balance figures the lock transaction decided on are
// frozen alongside the request.
type PayoutRequest struct {
	ID             int64           `db:"id" json:"id"`
	UserID         int             `db:"user_id" json:"user_id"`
	WalletID       int64           `db:"wallet_id" json:"wallet_id"`
	Role           string          `db:"role" json:"role"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Currency       string          `db:"currency" json:"currency"`
	Channel        string          `db:"channel" json:"channel"`
	RecipientName  string          `db:"recipient_name" json:"recipient_name"`
	Destination    string          `db:"destination" json:"destination"`
	BankCode       string          `db:"bank_code" json:"bank_code"`
	Reference      string          `db:"reference" json:"reference"`
	IdempotencyKey *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	Status         string          `db:"status" json:"status"`
	RecipientCode  *string         `db:"recipient_code" json:"recipient_code,omitempty"`
	TransferCode   *string         `db:"transfer_code" json:"transfer_code,omitempty"`
	FailureReason  *string         `db:"failure_reason" json:"failure_reason,omitempty"`

	// Balance snapshot taken inside the lock transaction, immediately
	// before the lock was placed.
	GrossEarningsSnapshot    decimal.Decimal `db:"gross_earnings_snapshot" json:"gross_earnings_snapshot"`
	PriorWithdrawalsSnapshot decimal.Decimal `db:"prior_withdrawals_snapshot" json:"prior_withdrawals_snapshot"`
	AvailableBeforeRequest   decimal.Decimal `db:"available_before_request" json:"available_before_request"`
	ReserveAmount            decimal.Decimal `db:"reserve_amount" json:"reserve_amount"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// CashoutInput is the saga's request. Role selects the earnings computation;
// it comes from the authenticated caller, never from the request body.
type CashoutInput struct {
	UserID         int
	Role           string
	Amount         decimal.Decimal
	Channel        string
	AccountNumber  string
	BankCode       string
	RecipientName  string
	IdempotencyKey string
}

// Summary is the earnings surface shown before a cashout: the balance
// figures, the cashout history and the most recent individual earnings that
// produced the balance.
type Summary struct {
	GrossEarned     decimal.Decimal `json:"gross_earned"`
	TotalWithdrawn  decimal.Decimal `json:"total_withdrawn"`
	PendingBalance  decimal.Decimal `json:"pending_balance"`
	Available       decimal.Decimal `json:"available"`
	Reserve         decimal.Decimal `json:"reserve"`
	Withdrawable    decimal.Decimal `json:"withdrawable"`
	CanCashoutToday bool            `json:"can_cashout_today"`
	LastCashoutAt   *time.Time      `json:"last_cashout_at,omitempty"`
	Currency        string          `json:"currency"`
	RecentEarnings  []EarningsItem  `json:"recent_earnings"`
	History         []PayoutRequest `json:"history"`
}

// maskDestination keeps the last four characters of an account or phone
// number; the full destination never touches storage.
func maskDestination(s string) string {
	if len(s) <= 4 {
		return s
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
