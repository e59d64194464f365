package payout

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"sanaahub/internal/api"
	"sanaahub/internal/auth"
	"sanaahub/internal/gateway"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// GetSummary returns the caller's earnings surface.
func (h *Handler) GetSummary(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	role, _ := auth.GetUserRole(c)

	summary, err := h.service.Summary(c.Request.Context(), userID, role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load earnings summary"})
		return
	}

	c.JSON(http.StatusOK, summary)
}

type cashoutRequest struct {
	Amount         string `json:"amount" binding:"required"`
	Channel        string `json:"channel" binding:"required,oneof=bank mobile_money"`
	AccountNumber  string `json:"account_number" binding:"required"`
	BankCode       string `json:"bank_code" binding:"required"`
	RecipientName  string `json:"recipient_name" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Cashout runs the payout saga for the authenticated caller.
func (h *Handler) Cashout(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	role, _ := auth.GetUserRole(c)

	var req cashoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": api.BindErrors(err)})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
		return
	}

	result, err := h.service.Cashout(c.Request.Context(), CashoutInput{
		UserID:         userID,
		Role:           role,
		Amount:         amount,
		Channel:        req.Channel,
		AccountNumber:  req.AccountNumber,
		BankCode:       req.BankCode,
		RecipientName:  req.RecipientName,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		status, msg := cashoutErrorResponse(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, result)
}

func cashoutErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidDestination),
		errors.Is(err, ErrInvalidRecipient):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrDailyLimitReached),
		errors.Is(err, ErrCashoutInProgress):
		return http.StatusConflict, err.Error()
	case errors.Is(err, ErrTransferFailed):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, "Failed to process cashout"
	}
}

// GetPayoutOptions lists banks or mobile-money providers for the channel.
func (h *Handler) GetPayoutOptions(c *gin.Context) {
	channel := c.DefaultQuery("channel", gateway.ChannelBank)
	if channel != gateway.ChannelBank && channel != gateway.ChannelMobileMoney {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel must be 'bank' or 'mobile_money'"})
		return
	}

	banks, err := h.service.PayoutOptions(c.Request.Context(), channel)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch payout options"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"channel": channel, "options": banks})
}
