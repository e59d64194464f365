package commission

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"sanaahub/internal/api"
	"sanaahub/internal/profile"
)

type Handler struct {
	resolver *Resolver
	profiles profile.Repository
}

func NewHandler(resolver *Resolver, profiles profile.Repository) *Handler {
	return &Handler{resolver: resolver, profiles: profiles}
}

type quoteRequest struct {
	UserID      int    `json:"user_id" binding:"required"`
	RevenueType string `json:"revenue_type" binding:"required,oneof=design_sale contract_referral"`
	Amount      string `json:"amount" binding:"required"`
}

// Quote resolves the commission split a seller would pay on a given amount.
// Admin only.
func (h *Handler) Quote(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": api.BindErrors(err)})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
		return
	}

	founding, err := h.profiles.IsFoundingMember(c.Request.Context(), req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load seller profile"})
		return
	}

	quote, err := h.resolver.Resolve(c.Request.Context(), RevenueType(req.RevenueType), amount, founding)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Amount must be positive"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve commission"})
		return
	}

	c.JSON(http.StatusOK, quote)
}
