package payout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sanaahub/internal/audit"
	"sanaahub/internal/gateway"
	"sanaahub/internal/ledger"
	"sanaahub/internal/logger"
)

func init() {
	logger.Init()
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeRunner struct{}

func (fakeRunner) RunSerializable(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}

type MockRepository struct{ mock.Mock }

func (m *MockRepository) CreateInTx(ctx context.Context, tx *sqlx.Tx, p *PayoutRequest) error {
	args := m.Called(ctx, tx, p)
	if args.Error(0) == nil {
		p.ID = 77
	}
	return args.Error(0)
}

func (m *MockRepository) MarkCompleted(ctx context.Context, tx *sqlx.Tx, id int64, recipientCode, transferCode string) error {
	return m.Called(ctx, tx, id, recipientCode, transferCode).Error(0)
}

func (m *MockRepository) MarkFailed(ctx context.Context, tx *sqlx.Tx, id int64, reason string) error {
	return m.Called(ctx, tx, id, reason).Error(0)
}

func (m *MockRepository) FindByIdempotencyKey(ctx context.Context, userID int, key string) (*PayoutRequest, error) {
	args := m.Called(ctx, userID, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PayoutRequest), args.Error(1)
}

func (m *MockRepository) HasCashoutOnUTCDay(ctx context.Context, q sqlx.ExtContext, userID int, day time.Time) (bool, error) {
	args := m.Called(ctx, q, userID, day)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) ListRecent(ctx context.Context, userID int, limit int) ([]PayoutRequest, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]PayoutRequest), args.Error(1)
}

func (m *MockRepository) FindStaleProcessing(ctx context.Context, olderThan time.Time) ([]PayoutRequest, error) {
	args := m.Called(ctx, olderThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]PayoutRequest), args.Error(1)
}

type MockLedger struct{ mock.Mock }

func (m *MockLedger) EnsureWallet(ctx context.Context, tx *sqlx.Tx, userID int, earnedBaseline decimal.Decimal) (*ledger.Wallet, error) {
	args := m.Called(ctx, tx, userID, earnedBaseline)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Wallet), args.Error(1)
}

func (m *MockLedger) LockForWithdrawal(ctx context.Context, tx *sqlx.Tx, walletID int64, amount decimal.Decimal, idempotencyKey, reference string, payoutID int64) error {
	return m.Called(ctx, tx, walletID, amount, idempotencyKey, reference, payoutID).Error(0)
}

func (m *MockLedger) FinalizeWithdrawal(ctx context.Context, tx *sqlx.Tx, walletID int64, amount decimal.Decimal, idempotencyKey, reference string, payoutID int64) error {
	return m.Called(ctx, tx, walletID, amount, idempotencyKey, reference, payoutID).Error(0)
}

func (m *MockLedger) ReleaseLock(ctx context.Context, tx *sqlx.Tx, walletID int64, amount decimal.Decimal, idempotencyKey, reference string, payoutID int64, reason string) error {
	return m.Called(ctx, tx, walletID, amount, idempotencyKey, reference, payoutID, reason).Error(0)
}

func (m *MockLedger) GetWallet(ctx context.Context, userID int) (*ledger.Wallet, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Wallet), args.Error(1)
}

func (m *MockLedger) EntriesForWallet(ctx context.Context, walletID int64, limit int) ([]ledger.Entry, error) {
	args := m.Called(ctx, walletID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ledger.Entry), args.Error(1)
}

type stubEarnings struct {
	gross decimal.Decimal
	items []EarningsItem
	err   error
}

func (s stubEarnings) GrossEarned(ctx context.Context, q sqlx.ExtContext, userID int, role string) (decimal.Decimal, error) {
	return s.gross, s.err
}

func (s stubEarnings) RecentEarnings(ctx context.Context, userID int, role string, limit int) ([]EarningsItem, error) {
	return s.items, s.err
}

type MockGateway struct{ mock.Mock }

func (m *MockGateway) CreateTransferRecipient(ctx context.Context, req gateway.RecipientRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) InitiateTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.TransferResult), args.Error(1)
}

func (m *MockGateway) GetTransferBanks(ctx context.Context, currency string, mobileMoneyOnly bool) ([]gateway.Bank, error) {
	args := m.Called(ctx, currency, mobileMoneyOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]gateway.Bank), args.Error(1)
}

func (m *MockGateway) InitializePayment(ctx context.Context, req gateway.PaymentInitRequest) (*gateway.PaymentInit, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PaymentInit), args.Error(1)
}

func (m *MockGateway) VerifyPayment(ctx context.Context, reference string) (*gateway.PaymentVerification, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PaymentVerification), args.Error(1)
}

func (m *MockGateway) VerifySignature(payload []byte, signature string) bool {
	return m.Called(payload, signature).Bool(0)
}

type MockRecorder struct{ mock.Mock }

func (m *MockRecorder) Record(ctx context.Context, tx sqlx.ExtContext, e audit.Entry) error {
	return m.Called(ctx, tx, e).Error(0)
}

func (m *MockRecorder) ListForEntity(ctx context.Context, entityType string, entityID int64, limit int) ([]audit.Entry, error) {
	args := m.Called(ctx, entityType, entityID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]audit.Entry), args.Error(1)
}

type saga struct {
	repo     *MockRepository
	store    *MockLedger
	gw       *MockGateway
	audits   *MockRecorder
	earnings stubEarnings
}

func newSaga() *saga {
	return &saga{
		repo:   new(MockRepository),
		store:  new(MockLedger),
		gw:     new(MockGateway),
		audits: new(MockRecorder),
	}
}

func (s *saga) service(reserve string) *Service {
	return NewService(fakeRunner{}, s.repo, s.store, s.earnings, s.gw, s.audits, nil, dec(reserve))
}

func wallet(earned, withdrawn, pending string) *ledger.Wallet {
	return &ledger.Wallet{
		ID:             5,
		UserID:         1,
		Currency:       "KES",
		TotalEarned:    dec(earned),
		TotalWithdrawn: dec(withdrawn),
		PendingBalance: dec(pending),
	}
}

func bankInput(amount string) CashoutInput {
	return CashoutInput{
		UserID:        1,
		Role:          "professional",
		Amount:        dec(amount),
		Channel:       gateway.ChannelBank,
		AccountNumber: "0123456789",
		BankCode:      "01",
		RecipientName: "Wanjiku Designs",
	}
}

func TestCashout_Validation(t *testing.T) {
	svc := newSaga().service("150")

	cases := []struct {
		name   string
		mutate func(*CashoutInput)
		want   error
	}{
		{"zero amount", func(in *CashoutInput) { in.Amount = dec("0") }, ErrInvalidAmount},
		{"negative amount", func(in *CashoutInput) { in.Amount = dec("-10") }, ErrInvalidAmount},
		{"short recipient name", func(in *CashoutInput) { in.RecipientName = "ab" }, ErrInvalidRecipient},
		{"short bank account", func(in *CashoutInput) { in.AccountNumber = "12345" }, ErrInvalidDestination},
		{"missing bank code", func(in *CashoutInput) { in.BankCode = "" }, ErrInvalidDestination},
		{"unknown channel", func(in *CashoutInput) { in.Channel = "cheque" }, ErrInvalidDestination},
		{"short mobile number", func(in *CashoutInput) {
			in.Channel = gateway.ChannelMobileMoney
			in.AccountNumber = "0712345"
		}, ErrInvalidDestination},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := bankInput("100")
			tc.mutate(&in)
			_, err := svc.Cashout(context.Background(), in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCashout_DailyLimit(t *testing.T) {
	s := newSaga()
	s.repo.On("HasCashoutOnUTCDay", mock.Anything, mock.Anything, 1, mock.Anything).Return(true, nil)

	_, err := s.service("150").Cashout(context.Background(), bankInput("100"))
	assert.ErrorIs(t, err, ErrDailyLimitReached)
	s.store.AssertNotCalled(t, "LockForWithdrawal", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// serialRunner mimics serializable isolation for in-memory fakes: the
// transactions cannot overlap, so the later one observes the earlier one's
// writes the way a retried transaction sees the committed winner.
type serialRunner struct{ mu sync.Mutex }

func (r *serialRunner) RunSerializable(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(nil)
}

// daySlotRepo remembers created requests so the daily check sees rows from
// earlier transactions.
type daySlotRepo struct {
	mu      sync.Mutex
	created int
}

func (r *daySlotRepo) CreateInTx(ctx context.Context, tx *sqlx.Tx, p *PayoutRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
	p.ID = int64(r.created)
	return nil
}

func (r *daySlotRepo) HasCashoutOnUTCDay(ctx context.Context, q sqlx.ExtContext, userID int, day time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.created > 0, nil
}

func (r *daySlotRepo) MarkCompleted(ctx context.Context, tx *sqlx.Tx, id int64, recipientCode, transferCode string) error {
	return nil
}

func (r *daySlotRepo) MarkFailed(ctx context.Context, tx *sqlx.Tx, id int64, reason string) error {
	return nil
}

func (r *daySlotRepo) FindByIdempotencyKey(ctx context.Context, userID int, key string) (*PayoutRequest, error) {
	return nil, nil
}

func (r *daySlotRepo) ListRecent(ctx context.Context, userID int, limit int) ([]PayoutRequest, error) {
	return nil, nil
}

func (r *daySlotRepo) FindStaleProcessing(ctx context.Context, olderThan time.Time) ([]PayoutRequest, error) {
	return nil, nil
}

func TestCashout_DailyLimitUnderConcurrentRequests(t *testing.T) {
	repo := &daySlotRepo{}
	store := new(MockLedger)
	gw := new(MockGateway)
	audits := new(MockRecorder)

	store.On("EnsureWallet", mock.Anything, mock.Anything, 1, mock.Anything).Return(wallet("1000", "0", "0"), nil)
	store.On("LockForWithdrawal", mock.Anything, mock.Anything, int64(5), mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	store.On("FinalizeWithdrawal", mock.Anything, mock.Anything, int64(5), mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	audits.On("Record", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	gw.On("CreateTransferRecipient", mock.Anything, mock.Anything).Return("RCP_1", nil)
	gw.On("InitiateTransfer", mock.Anything, mock.Anything).
		Return(&gateway.TransferResult{TransferCode: "TRF_1", Status: "success"}, nil)

	svc := NewService(&serialRunner{}, repo, store, stubEarnings{gross: dec("1000")}, gw, audits, nil, dec("150"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Cashout(context.Background(), bankInput("100"))
		}(i)
	}
	wg.Wait()

	var succeeded, limited int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrDailyLimitReached):
			limited++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one same-day request may lock funds")
	assert.Equal(t, 1, limited)
}

func TestCashout_IdempotentReplay(t *testing.T) {
	t.Run("completed request is returned as-is", func(t *testing.T) {
		s := newSaga()
		existing := &PayoutRequest{ID: 9, Status: StatusCompleted, Amount: dec("100")}
		s.repo.On("FindByIdempotencyKey", mock.Anything, 1, "key-1").Return(existing, nil)

		in := bankInput("100")
		in.IdempotencyKey = "key-1"

		got, err := s.service("150").Cashout(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, existing, got)
		s.gw.AssertNotCalled(t, "CreateTransferRecipient", mock.Anything, mock.Anything)
		s.repo.AssertNotCalled(t, "HasCashoutOnUTCDay", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("processing request reports in progress", func(t *testing.T) {
		s := newSaga()
		s.repo.On("FindByIdempotencyKey", mock.Anything, 1, "key-2").
			Return(&PayoutRequest{ID: 9, Status: StatusProcessing}, nil)

		in := bankInput("100")
		in.IdempotencyKey = "key-2"

		_, err := s.service("150").Cashout(context.Background(), in)
		assert.ErrorIs(t, err, ErrCashoutInProgress)
	})

	t.Run("failed request replays the failure", func(t *testing.T) {
		s := newSaga()
		s.repo.On("FindByIdempotencyKey", mock.Anything, 1, "key-3").
			Return(&PayoutRequest{ID: 9, Status: StatusFailed}, nil)

		in := bankInput("100")
		in.IdempotencyKey = "key-3"

		_, err := s.service("150").Cashout(context.Background(), in)
		assert.ErrorIs(t, err, ErrTransferFailed)
	})
}

func TestCashout_IdempotencyKeyRaceReplaysWinner(t *testing.T) {
	// Two submissions with the same key both miss the replay lookup; the
	// loser's insert hits the per-user key index and must surface the
	// winner's outcome, not a storage error.
	s := newSaga()
	s.earnings.gross = dec("1000")
	winner := &PayoutRequest{ID: 41, Status: StatusCompleted, Amount: dec("100")}
	s.repo.On("FindByIdempotencyKey", mock.Anything, 1, "key-9").Return(nil, nil).Once()
	s.repo.On("HasCashoutOnUTCDay", mock.Anything, mock.Anything, 1, mock.Anything).Return(false, nil)
	s.store.On("EnsureWallet", mock.Anything, mock.Anything, 1, mock.Anything).Return(wallet("1000", "0", "0"), nil)
	s.repo.On("CreateInTx", mock.Anything, mock.Anything, mock.Anything).
		Return(&pq.Error{Code: "23505", Constraint: "idx_payout_requests_idempotency"})
	s.repo.On("FindByIdempotencyKey", mock.Anything, 1, "key-9").Return(winner, nil).Once()

	in := bankInput("100")
	in.IdempotencyKey = "key-9"

	got, err := s.service("150").Cashout(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, winner, got)
	s.gw.AssertNotCalled(t, "CreateTransferRecipient", mock.Anything, mock.Anything)
	s.store.AssertNotCalled(t, "LockForWithdrawal", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCashout_ReserveBlocksFullBalance(t *testing.T) {
	// Available 150, reserve 150: withdrawable is zero, any amount fails and
	// nothing is locked.
	s := newSaga()
	s.earnings.gross = dec("150")
	s.repo.On("HasCashoutOnUTCDay", mock.Anything, mock.Anything, 1, mock.Anything).Return(false, nil)
	s.store.On("EnsureWallet", mock.Anything, mock.Anything, 1, mock.Anything).Return(wallet("150", "0", "0"), nil)

	_, err := s.service("150").Cashout(context.Background(), bankInput("150"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	s.repo.AssertNotCalled(t, "CreateInTx", mock.Anything, mock.Anything, mock.Anything)
	s.store.AssertNotCalled(t, "LockForWithdrawal", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCashout_FullWithdrawableSucceeds(t *testing.T) {
	// Available 1000, reserve 150: exactly 850 goes through and finalizes.
	s := newSaga()
	s.earnings.gross = dec("1000")
	s.repo.On("HasCashoutOnUTCDay", mock.Anything, mock.Anything, 1, mock.Anything).Return(false, nil)
	s.store.On("EnsureWallet", mock.Anything, mock.Anything, 1, mock.Anything).Return(wallet("1000", "0", "0"), nil)
	s.repo.On("CreateInTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	s.store.On("LockForWithdrawal", mock.Anything, mock.Anything, int64(5), mock.Anything, mock.Anything, mock.Anything, int64(77)).Return(nil)
	s.audits.On("Record", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	s.gw.On("CreateTransferRecipient", mock.Anything, mock.Anything).Return("RCP_1", nil)
	s.gw.On("InitiateTransfer", mock.Anything, mock.MatchedBy(func(req gateway.TransferRequest) bool {
		return req.AmountMinor == 85000 && req.RecipientCode == "RCP_1"
	})).Return(&gateway.TransferResult{TransferCode: "TRF_1", Status: "success"}, nil)

	s.store.On("FinalizeWithdrawal", mock.Anything, mock.Anything, int64(5), mock.Anything, mock.Anything, mock.Anything, int64(77)).Return(nil)
	s.repo.On("MarkCompleted", mock.Anything, mock.Anything, int64(77), "RCP_1", "TRF_1").Return(nil)

	got, err := s.service("150").Cashout(context.Background(), bankInput("850"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.TransferCode)
	assert.Equal(t, "TRF_1", *got.TransferCode)
	assert.Equal(t, "******6789", got.Destination)

	// The balance figures the lock transaction decided on are frozen on the
	// request row.
	assert.Equal(t, "professional", got.Role)
	assert.True(t, got.GrossEarningsSnapshot.Equal(dec("1000")))
	assert.True(t, got.PriorWithdrawalsSnapshot.IsZero())
	assert.True(t, got.AvailableBeforeRequest.Equal(dec("1000")))
	assert.True(t, got.ReserveAmount.Equal(dec("150")))

	s.store.AssertNotCalled(t, "ReleaseLock",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	s.repo.AssertExpectations(t)
	s.store.AssertExpectations(t)
	s.gw.AssertExpectations(t)
}

func TestCashout_PendingTransferFinalizes(t *testing.T) {
	s := newSaga()
	s.earnings.gross = dec("1000")
	s.repo.On("HasCashoutOnUTCDay", mock.Anything, mock.Anything, 1, mock.Anything).Return(false, nil)
	s.store.On("EnsureWallet", mock.Anything, mock.Anything, 1, mock.Anything).Return(wallet("1000", "0", "0"), nil)
	s.repo.On("CreateInTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	s.store.On("LockForWithdrawal", mock.Anything, mock.Anything, int64(5), mock.Anything, mock.Anything, mock.Anything, int64(77)).Return(nil)
	s.audits.On("Record", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	s.gw.On("CreateTransferRecipient", mock.Anything, mock.Anything).Return("RCP_1", nil)
	s.gw.On("InitiateTransfer", mock.Anything, mock.Anything).
		Return(&gateway.TransferResult{TransferCode: "TRF_2", Status: "pending"}, nil)
	s.store.On("FinalizeWithdrawal", mock.Anything, mock.Anything, int64(5), mock.Anything, mock.Anything, mock.Anything, int64(77)).Return(nil)
	s.repo.On("MarkCompleted", mock.Anything, mock.Anything, int64(77), "RCP_1", "TRF_2").Return(nil)

	got, err := s.service("150").Cashout(context.Background(), bankInput("500"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

// expectLockPhase wires the mocks for a lock phase that succeeds.
func expectLockPhase(s *saga) {
	s.earnings.gross = dec("1000")
	s.repo.On("HasCashoutOnUTCDay", mock.Anything, mock.Anything, 1, mock.Anything).Return(false, nil)
	s.store.On("EnsureWallet", mock.Anything, mock.Anything, 1, mock.Anything).Return(wallet("1000", "0", "0"), nil)
	s.repo.On("CreateInTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	s.store.On("LockForWithdrawal", mock.Anything, mock.Anything, int64(5), mock.Anything, mock.Anything, mock.Anything, int64(77)).Return(nil)
	s.audits.On("Record", mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func expectCompensation(s *saga) {
	s.store.On("ReleaseLock", mock.Anything, mock.Anything, int64(5), mock.Anything, mock.Anything, mock.Anything, int64(77), mock.Anything).Return(nil)
	s.repo.On("MarkFailed", mock.Anything, mock.Anything, int64(77), mock.Anything).Return(nil)
	s.audits.On("Record", mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func TestCashout_CompensatesOnRecipientFailure(t *testing.T) {
	s := newSaga()
	expectLockPhase(s)
	expectCompensation(s)
	s.gw.On("CreateTransferRecipient", mock.Anything, mock.Anything).Return("", errors.New("account resolution failed"))

	_, err := s.service("150").Cashout(context.Background(), bankInput("500"))
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.NotContains(t, err.Error(), "account resolution failed", "gateway detail must not leak")

	s.gw.AssertNotCalled(t, "InitiateTransfer", mock.Anything, mock.Anything)
	s.store.AssertNotCalled(t, "FinalizeWithdrawal",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	s.store.AssertExpectations(t)
	s.repo.AssertExpectations(t)
}

func TestCashout_CompensatesOnTransferFailure(t *testing.T) {
	s := newSaga()
	expectLockPhase(s)
	expectCompensation(s)
	s.gw.On("CreateTransferRecipient", mock.Anything, mock.Anything).Return("RCP_1", nil)
	s.gw.On("InitiateTransfer", mock.Anything, mock.Anything).Return(nil, errors.New("insufficient float"))

	_, err := s.service("150").Cashout(context.Background(), bankInput("500"))
	assert.ErrorIs(t, err, ErrTransferFailed)
	s.store.AssertExpectations(t)
	s.repo.AssertExpectations(t)
}

func TestCashout_CompensatesOnGatewayPanic(t *testing.T) {
	s := newSaga()
	expectLockPhase(s)
	expectCompensation(s)
	s.gw.On("CreateTransferRecipient", mock.Anything, mock.Anything).Return("RCP_1", nil)
	s.gw.On("InitiateTransfer", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { panic("nil response body") }).
		Return(nil, nil)

	_, err := s.service("150").Cashout(context.Background(), bankInput("500"))
	assert.ErrorIs(t, err, ErrTransferFailed)
	s.store.AssertExpectations(t)
	s.repo.AssertExpectations(t)
}

func TestCashout_CompensatesOnDeclinedTransferStatus(t *testing.T) {
	s := newSaga()
	expectLockPhase(s)
	expectCompensation(s)
	s.gw.On("CreateTransferRecipient", mock.Anything, mock.Anything).Return("RCP_1", nil)
	s.gw.On("InitiateTransfer", mock.Anything, mock.Anything).
		Return(&gateway.TransferResult{TransferCode: "TRF_3", Status: "failed"}, nil)

	_, err := s.service("150").Cashout(context.Background(), bankInput("500"))
	assert.ErrorIs(t, err, ErrTransferFailed)
	s.store.AssertExpectations(t)
}

func TestSummary(t *testing.T) {
	t.Run("wallet present", func(t *testing.T) {
		s := newSaga()
		s.earnings.gross = dec("1200")
		s.earnings.items = []EarningsItem{
			{Source: "design_sale", Reference: "DSN-1", Amount: dec("700")},
			{Source: "design_sale", Reference: "DSN-2", Amount: dec("500")},
		}
		s.store.On("GetWallet", mock.Anything, 1).Return(wallet("1000", "200", "0"), nil)
		s.repo.On("HasCashoutOnUTCDay", mock.Anything, mock.Anything, 1, mock.Anything).Return(false, nil)
		completedAt := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
		s.repo.On("ListRecent", mock.Anything, 1, 10).Return([]PayoutRequest{
			{ID: 3, Status: StatusFailed, CreatedAt: completedAt.Add(time.Hour)},
			{ID: 2, Status: StatusCompleted, CreatedAt: completedAt},
		}, nil)

		sum, err := s.service("150").Summary(context.Background(), 1, "professional")
		require.NoError(t, err)
		// Gross recomputed above the stored baseline.
		assert.True(t, sum.GrossEarned.Equal(dec("1200")))
		assert.True(t, sum.Available.Equal(dec("1000")))
		assert.True(t, sum.Withdrawable.Equal(dec("850")))
		assert.True(t, sum.CanCashoutToday)
		require.NotNil(t, sum.LastCashoutAt)
		assert.Equal(t, completedAt, *sum.LastCashoutAt)
		assert.Len(t, sum.History, 2)
		require.Len(t, sum.RecentEarnings, 2)
		assert.Equal(t, "DSN-1", sum.RecentEarnings[0].Reference)
		assert.True(t, sum.RecentEarnings[0].Amount.Equal(dec("700")))
	})

	t.Run("no wallet yet", func(t *testing.T) {
		s := newSaga()
		s.earnings.gross = dec("100")
		s.store.On("GetWallet", mock.Anything, 1).Return(nil, ledger.ErrWalletNotFound)
		s.repo.On("HasCashoutOnUTCDay", mock.Anything, mock.Anything, 1, mock.Anything).Return(false, nil)
		s.repo.On("ListRecent", mock.Anything, 1, 10).Return([]PayoutRequest{}, nil)

		sum, err := s.service("150").Summary(context.Background(), 1, "professional")
		require.NoError(t, err)
		assert.True(t, sum.Available.Equal(dec("100")))
		assert.True(t, sum.Withdrawable.IsZero(), "reserve exceeds available")
		assert.Nil(t, sum.LastCashoutAt)
	})
}

func TestReconcileStale(t *testing.T) {
	s := newSaga()
	stale := []PayoutRequest{
		{ID: 77, UserID: 1, WalletID: 5, Amount: dec("300"), Channel: gateway.ChannelBank, Reference: "CSH-old", Status: StatusProcessing},
	}
	s.repo.On("FindStaleProcessing", mock.Anything, mock.Anything).Return(stale, nil)
	expectCompensation(s)

	n, err := s.service("150").ReconcileStale(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	s.store.AssertExpectations(t)
	s.repo.AssertExpectations(t)
}

func TestMaskDestination(t *testing.T) {
	assert.Equal(t, "******6789", maskDestination("0123456789"))
	assert.Equal(t, "1234", maskDestination("1234"))
}
