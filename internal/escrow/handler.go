package escrow

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sanaahub/internal/api"
	"sanaahub/internal/auth"
	"sanaahub/internal/gateway"
	"sanaahub/internal/logger"
	"sanaahub/internal/workflow"
)

type Handler struct {
	service *Service
	gw      gateway.Gateway
}

func NewHandler(service *Service, gw gateway.Gateway) *Handler {
	return &Handler{service: service, gw: gw}
}

func projectParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("projectID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid project ID"})
		return 0, false
	}
	return id, true
}

// InitializeEscrow starts a checkout session for the project's client fee.
func (h *Handler) InitializeEscrow(c *gin.Context) {
	userID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	projectID, ok := projectParam(c)
	if !ok {
		return
	}

	init, err := h.service.InitializeEscrow(c.Request.Context(), projectID, userID)
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrProjectNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		case errors.Is(err, ErrNotProjectClient):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, ErrNotFundable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to initialize escrow payment"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authorization_url": init.AuthorizationURL,
		"reference":         init.Reference,
	})
}

// VerifyEscrow confirms a payment by reference, e.g. on redirect back from
// the checkout page.
func (h *Handler) VerifyEscrow(c *gin.Context) {
	reference := c.Query("reference")
	if reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reference query param is required"})
		return
	}

	p, err := h.service.VerifyEscrow(c.Request.Context(), reference)
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrProjectNotFound), errors.Is(err, ErrNothingToVerify):
			c.JSON(http.StatusNotFound, gin.H{"error": "No escrow payment found for this reference"})
		case errors.Is(err, ErrAmountMismatch), errors.Is(err, ErrPaymentNotConfirmed):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to verify escrow payment"})
		}
		return
	}

	c.JSON(http.StatusOK, p)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) release(c *gin.Context, releaseFn func(c *gin.Context, projectID int64, actorID int) (*workflow.MentorshipProject, error)) {
	actorID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	projectID, ok := projectParam(c)
	if !ok {
		return
	}

	p, err := releaseFn(c, projectID, actorID)
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrProjectNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		case errors.Is(err, ErrProjectNotReleased), errors.Is(err, ErrReleaseOrder),
			errors.Is(err, ErrNotDisputed), errors.Is(err, ErrBadUnfreezeTarget):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update escrow payment"})
		}
		return
	}

	c.JSON(http.StatusOK, p)
}

func (h *Handler) ReleaseMentorPayment(c *gin.Context) {
	h.release(c, func(c *gin.Context, projectID int64, actorID int) (*workflow.MentorshipProject, error) {
		return h.service.ReleaseMentorPayment(c.Request.Context(), projectID, actorID)
	})
}

func (h *Handler) ReleaseStudentPayment(c *gin.Context) {
	h.release(c, func(c *gin.Context, projectID int64, actorID int) (*workflow.MentorshipProject, error) {
		return h.service.ReleaseStudentPayment(c.Request.Context(), projectID, actorID)
	})
}

func (h *Handler) ProcessRefund(c *gin.Context) {
	h.release(c, func(c *gin.Context, projectID int64, actorID int) (*workflow.MentorshipProject, error) {
		var req reasonRequest
		_ = c.ShouldBindJSON(&req)
		return h.service.ProcessRefund(c.Request.Context(), projectID, actorID, req.Reason)
	})
}

func (h *Handler) FreezePayment(c *gin.Context) {
	h.release(c, func(c *gin.Context, projectID int64, actorID int) (*workflow.MentorshipProject, error) {
		var req reasonRequest
		_ = c.ShouldBindJSON(&req)
		return h.service.FreezePayment(c.Request.Context(), projectID, actorID, req.Reason)
	})
}

type unfreezeRequest struct {
	Target string `json:"target" binding:"required,oneof=escrowed refunded"`
	Reason string `json:"reason"`
}

func (h *Handler) UnfreezePayment(c *gin.Context) {
	var req unfreezeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": api.BindErrors(err)})
		return
	}

	h.release(c, func(c *gin.Context, projectID int64, actorID int) (*workflow.MentorshipProject, error) {
		return h.service.UnfreezePayment(c.Request.Context(), projectID, actorID, workflow.PaymentStatus(req.Target), req.Reason)
	})
}

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

// Webhook handles gateway callbacks. The signature covers the raw body; an
// invalid one is dropped without processing. Unknown events are acknowledged
// so the gateway stops retrying them.
func (h *Handler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	if !h.gw.VerifySignature(body, c.GetHeader("x-paystack-signature")) {
		logger.Warn("webhook signature verification failed", "remote_addr", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	if event.Event == "charge.success" && event.Data.Reference != "" {
		if _, err := h.service.VerifyEscrow(c.Request.Context(), event.Data.Reference); err != nil {
			logger.Error("webhook escrow verification failed", "reference", event.Data.Reference, "error", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
