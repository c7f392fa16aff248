package policy

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/treasurer/internal/validation"
)

// Handler provides HTTP endpoints for the spending limit.
type Handler struct {
	store        Store
	limitName    string
	defaultLimit string
}

// NewHandler creates a new policy handler.
func NewHandler(store Store, limitName, defaultLimit string) *Handler {
	return &Handler{store: store, limitName: limitName, defaultLimit: defaultLimit}
}

// RegisterRoutes sets up public (read-only) policy routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/policy/limit", h.GetLimit)
}

// RegisterProtectedRoutes sets up protected (admin-only) policy routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.PUT("/policy/limit", h.SetLimit)
}

// GetLimit handles GET /v1/policy/limit
func (h *Handler) GetLimit(c *gin.Context) {
	limit, err := h.store.GetLimit(c.Request.Context(), h.limitName)
	usingDefault := false
	if err == ErrLimitNotSet {
		limit = h.defaultLimit
		usingDefault = true
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "policy_read_failed",
			"message": "Failed to read spending limit",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name":    h.limitName,
		"limit":   limit,
		"default": usingDefault,
	})
}

// SetLimitRequest is the body for PUT /v1/policy/limit.
type SetLimitRequest struct {
	Limit string `json:"limit" binding:"required"`
}

// SetLimit handles PUT /v1/policy/limit
func (h *Handler) SetLimit(c *gin.Context) {
	var req SetLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidAmount("limit", req.Limit),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	if err := h.store.SetLimit(c.Request.Context(), h.limitName, req.Limit); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "policy_write_failed",
			"message": "Failed to update spending limit",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"name": h.limitName, "limit": req.Limit})
}
