// Package gateway wraps the Paystack REST API behind the narrow interface the
// financial core needs. Everything network-bound lives here; callers never
// hold a database transaction open across these calls.
package gateway

import "context"

// Channel names shared with the payout saga.
const (
	ChannelBank        = "bank"
	ChannelMobileMoney = "mobile_money"
)

type RecipientRequest struct {
	Channel       string
	Name          string
	AccountNumber string
	BankCode      string
	Currency      string
}

type TransferRequest struct {
	AmountMinor   int64
	RecipientCode string
	Reference     string
	Reason        string
}

// TransferResult statuses as returned by the gateway. "pending" means the
// transfer was accepted and is settling; see the payout saga for how that is
// treated.
type TransferResult struct {
	TransferCode string
	Status       string
}

type Bank struct {
	Name string `json:"name"`
	Code string `json:"code"`
	Type string `json:"type"`
}

type PaymentInitRequest struct {
	Email       string
	AmountMinor int64
	Reference   string
	Currency    string
}

type PaymentInit struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

type PaymentVerification struct {
	Status      string
	Reference   string
	AmountMinor int64
	Channel     string
}

type Gateway interface {
	CreateTransferRecipient(ctx context.Context, req RecipientRequest) (string, error)
	InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	GetTransferBanks(ctx context.Context, currency string, mobileMoneyOnly bool) ([]Bank, error)
	InitializePayment(ctx context.Context, req PaymentInitRequest) (*PaymentInit, error)
	VerifyPayment(ctx context.Context, reference string) (*PaymentVerification, error)
	VerifySignature(payload []byte, signature string) bool
}
