package saga

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/treasurer/internal/ledger"
	"github.com/mbd888/treasurer/internal/validation"
)

// Handler provides the payment submission endpoint.
type Handler struct {
	orchestrator *Orchestrator
}

// NewHandler creates a new payments handler.
func NewHandler(orchestrator *Orchestrator) *Handler {
	return &Handler{orchestrator: orchestrator}
}

// RegisterRoutes sets up payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments", h.Submit)
}

// SubmitRequest is the body for POST /v1/payments.
type SubmitRequest struct {
	RequestID   string `json:"requestId" binding:"required"`
	RequesterID string `json:"requesterId"`
	Vendor      string `json:"vendor" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
}

// Submit handles POST /v1/payments
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "requestId, vendor, and amount are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("requestId", req.RequestID),
		validation.Required("vendor", req.Vendor),
		validation.MaxLength("requestId", req.RequestID, 128),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	outcome, err := h.orchestrator.Submit(c.Request.Context(), Request{
		RequestID:   req.RequestID,
		RequesterID: req.RequesterID,
		Vendor:      req.Vendor,
		Amount:      req.Amount,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInFlight) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "payment_in_flight",
				"message": "A payment with this requestId is already being processed",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "payment_failed",
			"message": "Failed to process payment request",
		})
		return
	}

	c.JSON(statusCode(outcome.Status), outcome)
}

// statusCode maps a terminal payment status to its HTTP response code.
// PAUSED is accepted-but-not-done; FAILED is a valid terminal outcome of a
// well-formed request, not a server error.
func statusCode(s Status) int {
	switch s {
	case StatusPaused:
		return http.StatusAccepted
	case StatusFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusOK
	}
}
