package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var ErrGatewayDeclined = errors.New("gateway declined the request")

type Paystack struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

func NewPaystack(baseURL, secretKey string) *Paystack {
	return &Paystack{
		baseURL:   baseURL,
		secretKey: secretKey,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// envelope is Paystack's uniform response wrapper.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (p *Paystack) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("gateway returned malformed response (http %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode >= 400 || !env.Status {
		return fmt.Errorf("%w: %s", ErrGatewayDeclined, env.Message)
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("gateway returned unexpected payload: %w", err)
		}
	}

	return nil
}

func (p *Paystack) CreateTransferRecipient(ctx context.Context, req RecipientRequest) (string, error) {
	recipientType := "kepss"
	if req.Channel == ChannelMobileMoney {
		recipientType = "mobile_money"
	}

	body := map[string]string{
		"type":           recipientType,
		"name":           req.Name,
		"account_number": req.AccountNumber,
		"bank_code":      req.BankCode,
		"currency":       req.Currency,
	}

	var data struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := p.do(ctx, http.MethodPost, "/transferrecipient", body, &data); err != nil {
		return "", err
	}
	if data.RecipientCode == "" {
		return "", fmt.Errorf("%w: missing recipient code", ErrGatewayDeclined)
	}

	return data.RecipientCode, nil
}

func (p *Paystack) InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	body := map[string]interface{}{
		"source":    "balance",
		"amount":    req.AmountMinor,
		"recipient": req.RecipientCode,
		"reference": req.Reference,
		"reason":    req.Reason,
	}

	var data struct {
		TransferCode string `json:"transfer_code"`
		Status       string `json:"status"`
	}
	if err := p.do(ctx, http.MethodPost, "/transfer", body, &data); err != nil {
		return nil, err
	}

	return &TransferResult{TransferCode: data.TransferCode, Status: data.Status}, nil
}

func (p *Paystack) GetTransferBanks(ctx context.Context, currency string, mobileMoneyOnly bool) ([]Bank, error) {
	q := url.Values{}
	q.Set("currency", currency)
	if mobileMoneyOnly {
		q.Set("type", "mobile_money")
	}

	var banks []Bank
	if err := p.do(ctx, http.MethodGet, "/bank?"+q.Encode(), nil, &banks); err != nil {
		return nil, err
	}

	return banks, nil
}

func (p *Paystack) InitializePayment(ctx context.Context, req PaymentInitRequest) (*PaymentInit, error) {
	body := map[string]interface{}{
		"email":     req.Email,
		"amount":    req.AmountMinor,
		"reference": req.Reference,
		"currency":  req.Currency,
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := p.do(ctx, http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return nil, err
	}

	return &PaymentInit{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
	}, nil
}

func (p *Paystack) VerifyPayment(ctx context.Context, reference string) (*PaymentVerification, error) {
	var data struct {
		Status    string `json:"status"`
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Channel   string `json:"channel"`
	}
	if err := p.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data); err != nil {
		return nil, err
	}

	return &PaymentVerification{
		Status:      data.Status,
		Reference:   data.Reference,
		AmountMinor: data.Amount,
		Channel:     data.Channel,
	}, nil
}

// VerifySignature checks the x-paystack-signature header: an HMAC-SHA512 of
// the raw webhook payload keyed with the secret key.
func (p *Paystack) VerifySignature(payload []byte, signature string) bool {
	mac := hmac.New(sha512.New, []byte(p.secretKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
