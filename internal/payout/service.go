package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"sanaahub/internal/audit"
	"sanaahub/internal/db"
	"sanaahub/internal/gateway"
	"sanaahub/internal/ledger"
	"sanaahub/internal/logger"
	"sanaahub/internal/metrics"
	"sanaahub/internal/money"
)

var (
	ErrInvalidAmount       = errors.New("cashout amount must be positive")
	ErrInvalidDestination  = errors.New("invalid cashout destination")
	ErrInvalidRecipient    = errors.New("recipient name must be at least 3 characters")
	ErrDailyLimitReached   = errors.New("daily cashout limit reached, try again tomorrow")
	ErrInsufficientFunds   = errors.New("amount exceeds withdrawable balance")
	ErrCashoutInProgress   = errors.New("a cashout with this idempotency key is still processing")

	// ErrTransferFailed is the only error surfaced after a gateway fault.
	// The caller must see that nothing was deducted, never the gateway
	// detail.
	ErrTransferFailed = errors.New("transfer could not be completed, no funds were deducted")
)

// Notifier sends the post-cashout email. Failures are logged and dropped;
// they never affect the saga outcome.
type Notifier interface {
	QueuePayoutCompleted(ctx context.Context, userID int, amount decimal.Decimal, reference string) error
	QueuePayoutFailed(ctx context.Context, userID int, amount decimal.Decimal, reference string) error
}

type Service struct {
	runner   db.TxRunner
	repo     Repository
	ledger   ledger.Store
	earnings EarningsSource
	gw       gateway.Gateway
	audits   audit.Recorder
	notifier Notifier
	reserve  decimal.Decimal
	now      func() time.Time
}

func NewService(
	runner db.TxRunner,
	repo Repository,
	store ledger.Store,
	earnings EarningsSource,
	gw gateway.Gateway,
	audits audit.Recorder,
	notifier Notifier,
	reserve decimal.Decimal,
) *Service {
	return &Service{
		runner:   runner,
		repo:     repo,
		ledger:   store,
		earnings: earnings,
		gw:       gw,
		audits:   audits,
		notifier: notifier,
		reserve:  reserve,
		now:      time.Now,
	}
}

// Cashout runs the payout saga. Money is locked before the gateway is
// touched; a gateway fault of any kind releases the lock before the caller
// hears about it. On success (or a pending transfer, treated as settling)
// the lock is converted into a withdrawal.
func (s *Service) Cashout(ctx context.Context, in CashoutInput) (*PayoutRequest, error) {
	if err := validateCashout(in); err != nil {
		return nil, err
	}
	amount := money.Round(in.Amount)

	amountMinor, err := money.ToMinorUnits(amount)
	if err != nil {
		return nil, ErrInvalidAmount
	}

	// Replay before the daily check so retrying today's own request returns
	// its recorded outcome instead of a limit error.
	if in.IdempotencyKey != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.replay(existing)
		}
	}

	req, err := s.lockPhase(ctx, in, amount)
	if err != nil {
		// A concurrent submission of the same idempotency key committed
		// first; its row is the outcome to replay.
		if in.IdempotencyKey != "" && db.IsUniqueViolation(err, "idx_payout_requests_idempotency") {
			existing, findErr := s.repo.FindByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
			if findErr == nil && existing != nil {
				return s.replay(existing)
			}
		}
		return nil, err
	}

	transfer, gwErr := s.executeTransfer(ctx, in, req, amountMinor)
	if gwErr != nil {
		return nil, s.compensate(ctx, req, gwErr.Error(), stageOf(req))
	}
	if transfer.Status != "success" && transfer.Status != "pending" {
		return nil, s.compensate(ctx, req, fmt.Sprintf("transfer status %q", transfer.Status), "transfer")
	}

	if err := s.finalize(ctx, req, transfer); err != nil {
		// Money may already be moving at the gateway; never release the
		// lock here. The stale-payout sweep or an operator resolves it.
		logger.Error("cashout finalize failed, request left processing",
			"payout_id", req.ID, "reference", req.Reference, "error", err)
		return nil, err
	}

	metrics.RecordCashout(req.Channel, "completed")
	s.notifyCompleted(ctx, req)
	return req, nil
}

func validateCashout(in CashoutInput) error {
	if !in.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if len(in.RecipientName) < 3 {
		return ErrInvalidRecipient
	}
	switch in.Channel {
	case gateway.ChannelBank:
		if len(in.AccountNumber) < 6 || in.BankCode == "" {
			return fmt.Errorf("%w: bank account number and bank code required", ErrInvalidDestination)
		}
	case gateway.ChannelMobileMoney:
		if len(in.AccountNumber) < 8 || in.BankCode == "" {
			return fmt.Errorf("%w: mobile number and provider required", ErrInvalidDestination)
		}
	default:
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidDestination, in.Channel)
	}
	return nil
}

// replay maps an existing request for the same idempotency key onto the
// outcome the original attempt produced.
func (s *Service) replay(existing *PayoutRequest) (*PayoutRequest, error) {
	switch existing.Status {
	case StatusCompleted:
		return existing, nil
	case StatusProcessing:
		return nil, ErrCashoutInProgress
	default:
		return nil, ErrTransferFailed
	}
}

// lockPhase is the single serializable transaction that reserves the funds:
// daily-slot check, wallet reconcile, balance check, request row, ledger
// lock, audit row. The daily check reads through the transaction so two
// same-day requests conflict and the retried loser sees the winner's row.
func (s *Service) lockPhase(ctx context.Context, in CashoutInput, amount decimal.Decimal) (*PayoutRequest, error) {
	reference := "CSH-" + uuid.NewString()

	req := &PayoutRequest{
		UserID:        in.UserID,
		Role:          in.Role,
		Amount:        amount,
		Currency:      money.Currency,
		Channel:       in.Channel,
		RecipientName: in.RecipientName,
		Destination:   maskDestination(in.AccountNumber),
		BankCode:      in.BankCode,
		Reference:     reference,
		Status:        StatusProcessing,
	}
	if in.IdempotencyKey != "" {
		key := in.IdempotencyKey
		req.IdempotencyKey = &key
	}

	err := s.runner.RunSerializable(ctx, func(tx *sqlx.Tx) error {
		taken, err := s.repo.HasCashoutOnUTCDay(ctx, tx, in.UserID, s.now().UTC())
		if err != nil {
			return err
		}
		if taken {
			return ErrDailyLimitReached
		}

		gross, err := s.earnings.GrossEarned(ctx, tx, in.UserID, in.Role)
		if err != nil {
			return err
		}

		w, err := s.ledger.EnsureWallet(ctx, tx, in.UserID, gross)
		if err != nil {
			return err
		}

		withdrawable := w.AvailableBalance().Sub(s.reserve)
		if withdrawable.IsNegative() {
			withdrawable = decimal.Zero
		}
		if amount.GreaterThan(withdrawable) {
			return fmt.Errorf("%w: withdrawable %s %s", ErrInsufficientFunds, withdrawable.StringFixed(2), money.Currency)
		}

		req.WalletID = w.ID
		req.GrossEarningsSnapshot = money.Round(gross)
		req.PriorWithdrawalsSnapshot = w.TotalWithdrawn
		req.AvailableBeforeRequest = w.AvailableBalance()
		req.ReserveAmount = s.reserve
		if err := s.repo.CreateInTx(ctx, tx, req); err != nil {
			return err
		}

		if err := s.ledger.LockForWithdrawal(ctx, tx, w.ID, amount, reference+"-lock", reference, req.ID); err != nil {
			return err
		}

		meta, _ := json.Marshal(map[string]string{"reference": reference, "channel": in.Channel})
		return s.audits.Record(ctx, tx, audit.Entry{
			ActorID:    in.UserID,
			EntityType: audit.EntityPayout,
			EntityID:   req.ID,
			Action:     audit.ActionWithdrawalLocked,
			NewValue:   amount.StringFixed(2),
			Metadata:   meta,
		})
	})
	if err != nil {
		return nil, err
	}

	return req, nil
}

// executeTransfer is the gateway phase. It runs outside any transaction and
// converts panics into errors so a misbehaving client still routes to
// compensation.
func (s *Service) executeTransfer(ctx context.Context, in CashoutInput, req *PayoutRequest, amountMinor int64) (result *gateway.TransferResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("gateway panic: %v", r)
		}
	}()

	recipientCode, err := s.gw.CreateTransferRecipient(ctx, gateway.RecipientRequest{
		Channel:       in.Channel,
		Name:          in.RecipientName,
		AccountNumber: in.AccountNumber,
		BankCode:      in.BankCode,
		Currency:      money.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("create recipient: %w", err)
	}
	req.RecipientCode = &recipientCode

	return s.gw.InitiateTransfer(ctx, gateway.TransferRequest{
		AmountMinor:   amountMinor,
		RecipientCode: recipientCode,
		Reference:     req.Reference,
		Reason:        "SanaaHub cashout",
	})
}

func stageOf(req *PayoutRequest) string {
	if req.RecipientCode == nil {
		return "recipient"
	}
	return "transfer"
}

// compensate releases the lock and marks the request failed in one
// serializable transaction, then returns the safe error for the caller. The
// gateway detail goes only to the log and the failure_reason column.
func (s *Service) compensate(ctx context.Context, req *PayoutRequest, reason, stage string) error {
	logger.Error("cashout gateway fault, compensating",
		"payout_id", req.ID, "reference", req.Reference, "stage", stage, "reason", reason)

	err := s.runner.RunSerializable(ctx, func(tx *sqlx.Tx) error {
		if err := s.ledger.ReleaseLock(ctx, tx, req.WalletID, req.Amount, req.Reference+"-unlock", req.Reference, req.ID, reason); err != nil {
			return err
		}
		if err := s.repo.MarkFailed(ctx, tx, req.ID, reason); err != nil {
			return err
		}
		return s.audits.Record(ctx, tx, audit.Entry{
			ActorID:    req.UserID,
			EntityType: audit.EntityPayout,
			EntityID:   req.ID,
			Action:     audit.ActionWithdrawalFailedUnlocked,
			OldValue:   StatusProcessing,
			NewValue:   StatusFailed,
			Metadata:   json.RawMessage(`{}`),
		})
	})
	if errors.Is(err, ledger.ErrAlreadyApplied) {
		// The unlock landed in an earlier attempt; only the status row is
		// left to settle.
		err = s.runner.RunSerializable(ctx, func(tx *sqlx.Tx) error {
			return s.repo.MarkFailed(ctx, tx, req.ID, reason)
		})
	}
	if err != nil {
		logger.Error("cashout compensation failed",
			"payout_id", req.ID, "reference", req.Reference, "error", err)
		return err
	}

	metrics.RecordCashout(req.Channel, "failed")
	metrics.RecordCashoutCompensation(stage)
	s.notifyFailed(ctx, req)
	return ErrTransferFailed
}

// finalize converts the lock into a withdrawal once the gateway accepted the
// transfer. A pending gateway status finalizes too: the transfer is settling
// and the stale sweep never touches completed requests.
func (s *Service) finalize(ctx context.Context, req *PayoutRequest, transfer *gateway.TransferResult) error {
	recipientCode := ""
	if req.RecipientCode != nil {
		recipientCode = *req.RecipientCode
	}

	err := s.runner.RunSerializable(ctx, func(tx *sqlx.Tx) error {
		if err := s.ledger.FinalizeWithdrawal(ctx, tx, req.WalletID, req.Amount, req.Reference+"-debit", req.Reference, req.ID); err != nil {
			return err
		}
		if err := s.repo.MarkCompleted(ctx, tx, req.ID, recipientCode, transfer.TransferCode); err != nil {
			return err
		}

		meta, _ := json.Marshal(map[string]string{"transfer_code": transfer.TransferCode, "gateway_status": transfer.Status})
		return s.audits.Record(ctx, tx, audit.Entry{
			ActorID:    req.UserID,
			EntityType: audit.EntityPayout,
			EntityID:   req.ID,
			Action:     audit.ActionWithdrawalCompleted,
			OldValue:   StatusProcessing,
			NewValue:   StatusCompleted,
			Metadata:   meta,
		})
	})
	if err != nil {
		return err
	}

	code := transfer.TransferCode
	req.TransferCode = &code
	req.Status = StatusCompleted
	return nil
}

// Summary assembles the earnings surface. A user without a wallet row sees
// their recomputed gross with nothing withdrawn.
func (s *Service) Summary(ctx context.Context, userID int, role string) (*Summary, error) {
	gross, err := s.earnings.GrossEarned(ctx, nil, userID, role)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		GrossEarned: money.Round(gross),
		Reserve:     s.reserve,
		Currency:    money.Currency,
	}

	w, err := s.ledger.GetWallet(ctx, userID)
	switch {
	case err == nil:
		// The wallet baseline only moves during a cashout; the summary
		// reflects revenue landed since then.
		if gross.GreaterThan(w.TotalEarned) {
			sum.GrossEarned = money.Round(gross)
		} else {
			sum.GrossEarned = w.TotalEarned
		}
		sum.TotalWithdrawn = w.TotalWithdrawn
		sum.PendingBalance = w.PendingBalance
		sum.Available = sum.GrossEarned.Sub(w.TotalWithdrawn).Sub(w.PendingBalance)
	case errors.Is(err, ledger.ErrWalletNotFound):
		sum.Available = sum.GrossEarned
	default:
		return nil, err
	}

	sum.Withdrawable = sum.Available.Sub(s.reserve)
	if sum.Withdrawable.IsNegative() {
		sum.Withdrawable = decimal.Zero
	}

	taken, err := s.repo.HasCashoutOnUTCDay(ctx, nil, userID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	sum.CanCashoutToday = !taken

	recent, err := s.earnings.RecentEarnings(ctx, userID, role, 10)
	if err != nil {
		return nil, err
	}
	sum.RecentEarnings = recent

	history, err := s.repo.ListRecent(ctx, userID, 10)
	if err != nil {
		return nil, err
	}
	sum.History = history
	for i := range history {
		if history[i].Status == StatusCompleted {
			t := history[i].CreatedAt
			sum.LastCashoutAt = &t
			break
		}
	}

	return sum, nil
}

// PayoutOptions lists the destinations the gateway can pay into.
func (s *Service) PayoutOptions(ctx context.Context, channel string) ([]gateway.Bank, error) {
	return s.gw.GetTransferBanks(ctx, money.Currency, channel == gateway.ChannelMobileMoney)
}

// ReconcileStale force-compensates processing requests older than maxAge.
// A request stuck in processing means the process died between the lock and
// the terminal transaction; the lock must not outlive the attempt.
func (s *Service) ReconcileStale(ctx context.Context, maxAge time.Duration) (int, error) {
	stale, err := s.repo.FindStaleProcessing(ctx, s.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for i := range stale {
		req := stale[i]
		if err := s.compensate(ctx, &req, "stale processing request reconciled", "reconcile"); err != nil && !errors.Is(err, ErrTransferFailed) {
			logger.Error("stale payout reconciliation failed", "payout_id", req.ID, "error", err)
			continue
		}
		metrics.RecordStalePayoutReconciled()
		reconciled++
	}

	if reconciled > 0 {
		logger.Info("stale payout requests reconciled", "count", reconciled)
	}
	return reconciled, nil
}

func (s *Service) notifyCompleted(ctx context.Context, req *PayoutRequest) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.QueuePayoutCompleted(ctx, req.UserID, req.Amount, req.Reference); err != nil {
		logger.Warn("payout completion email not queued", "payout_id", req.ID, "error", err)
	}
}

func (s *Service) notifyFailed(ctx context.Context, req *PayoutRequest) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.QueuePayoutFailed(ctx, req.UserID, req.Amount, req.Reference); err != nil {
		logger.Warn("payout failure email not queued", "payout_id", req.ID, "error", err)
	}
}
