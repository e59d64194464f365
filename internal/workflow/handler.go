package workflow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sanaahub/internal/api"
	"sanaahub/internal/audit"
	"sanaahub/internal/auth"
)

type Handler struct {
	engine *Engine
	audits audit.Recorder
}

func NewHandler(engine *Engine, audits audit.Recorder) *Handler {
	return &Handler{engine: engine, audits: audits}
}

type transitionRequest struct {
	Status string `json:"status" binding:"required"`
	Notes  string `json:"notes"`
}

// Transition moves a project to a new workflow status. Admin only.
func (h *Handler) Transition(c *gin.Context) {
	actorID, exists := auth.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	projectID, err := strconv.ParseInt(c.Param("projectID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid project ID"})
		return
	}

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": api.BindErrors(err)})
		return
	}

	p, err := h.engine.Transition(c.Request.Context(), projectID, ProjectStatus(req.Status), actorID, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, ErrProjectNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		case errors.Is(err, ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to transition project"})
		}
		return
	}

	c.JSON(http.StatusOK, p)
}

// History returns the audit trail of a project, newest first.
func (h *Handler) History(c *gin.Context) {
	projectID, err := strconv.ParseInt(c.Param("projectID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid project ID"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := h.audits.ListForEntity(c.Request.Context(), audit.EntityProject, projectID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch project history"})
		return
	}

	c.JSON(http.StatusOK, entries)
}
