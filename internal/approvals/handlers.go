package approvals

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/treasurer/internal/pagination"
)

// Handler provides HTTP endpoints for the approval queue.
type Handler struct {
	queue *Queue
}

// NewHandler creates a new approvals handler.
func NewHandler(queue *Queue) *Handler {
	return &Handler{queue: queue}
}

// RegisterProtectedRoutes sets up admin-only approval routes. The whole
// queue is operator surface; nothing here is public.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/approvals", h.ListPending)
	r.GET("/approvals/:id", h.Get)
	r.POST("/approvals/:id/resolve", h.Resolve)
}

// ListPending handles GET /v1/approvals
func (h *Handler) ListPending(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	after, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Cursor is not valid",
		})
		return
	}

	// Fetch one extra row to learn whether another page exists.
	tickets, err := h.queue.ListPending(c.Request.Context(), after, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "approvals_list_failed",
			"message": "Failed to list pending approvals",
		})
		return
	}

	tickets, nextCursor, hasMore := pagination.ComputePage(tickets, limit, func(t *Ticket) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	if tickets == nil {
		tickets = []*Ticket{}
	}

	resp := gin.H{
		"tickets":  tickets,
		"count":    len(tickets),
		"has_more": hasMore,
	}
	if nextCursor != "" {
		resp["next_cursor"] = nextCursor
	}
	c.JSON(http.StatusOK, resp)
}

// Get handles GET /v1/approvals/:id
func (h *Handler) Get(c *gin.Context) {
	t, err := h.queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "ticket_not_found",
				"message": "No approval ticket with that ID",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "approvals_read_failed",
			"message": "Failed to read approval ticket",
		})
		return
	}
	c.JSON(http.StatusOK, t)
}

// ResolveRequest is the body for POST /v1/approvals/:id/resolve.
type ResolveRequest struct {
	Approve   bool   `json:"approve"`
	DecidedBy string `json:"decidedBy" binding:"required"`
	Note      string `json:"note"`
}

// Resolve handles POST /v1/approvals/:id/resolve
func (h *Handler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: decidedBy is required",
		})
		return
	}

	res, err := h.queue.Resolve(c.Request.Context(), c.Param("id"), req.Approve, req.DecidedBy, req.Note)
	if err != nil {
		switch {
		case errors.Is(err, ErrTicketNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "ticket_not_found",
				"message": "No approval ticket with that ID",
			})
		case errors.Is(err, ErrTicketResolved):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "ticket_already_resolved",
				"message": "Ticket has already been decided",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "approvals_resolve_failed",
				"message": "Failed to resolve approval ticket",
			})
		}
		return
	}

	resp := gin.H{"ticket": res.Ticket}
	if res.SettlementRef != "" {
		resp["settlementRef"] = res.SettlementRef
	}
	if res.ExecutionErr != nil {
		// Decision recorded, execution failed. 200 with the failure detail:
		// the approval itself succeeded and is consumed.
		resp["executionError"] = res.ExecutionErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}
