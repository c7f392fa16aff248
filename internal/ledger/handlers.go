package ledger

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides read access to reservations.
type Handler struct {
	reservations *Reservations
}

// NewHandler creates a new ledger handler.
func NewHandler(reservations *Reservations) *Handler {
	return &Handler{reservations: reservations}
}

// RegisterRoutes sets up reservation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/reservations/:requestId", h.Get)
}

// Get handles GET /v1/reservations/:requestId
func (h *Handler) Get(c *gin.Context) {
	rsv, err := h.reservations.Get(c.Request.Context(), c.Param("requestId"))
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "reservation_not_found",
				"message": "No reservation recorded for that request",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reservation_read_failed",
			"message": "Failed to read reservation",
		})
		return
	}
	c.JSON(http.StatusOK, rsv)
}
