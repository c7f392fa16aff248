package registry

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/treasurer/internal/validation"
)

// Handler provides HTTP endpoints for vendor management.
type Handler struct {
	store Store
}

// NewHandler creates a new registry handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up public (read-only) vendor routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/vendors", h.ListVendors)
}

// RegisterProtectedRoutes sets up protected (admin-only) vendor routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/vendors", h.CreateVendor)
	r.DELETE("/vendors/:name", h.DeleteVendor)
}

// CreateVendorRequest is the body for POST /v1/vendors.
type CreateVendorRequest struct {
	Name    string `json:"name" binding:"required"`
	Address string `json:"address" binding:"required"`
}

// CreateVendor handles POST /v1/vendors
func (h *Handler) CreateVendor(c *gin.Context) {
	var req CreateVendorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.ValidAddress("address", req.Address),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	now := time.Now()
	v := &Vendor{
		Name:      normalizeName(req.Name),
		Address:   validation.SanitizeAddress(req.Address),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.Create(c.Request.Context(), v); err != nil {
		if err == ErrVendorExists {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "vendor_exists",
				"message": "Vendor name is already registered",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "vendor_create_failed",
			"message": "Failed to register vendor",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"vendor": v})
}

// ListVendors handles GET /v1/vendors
func (h *Handler) ListVendors(c *gin.Context) {
	vendors, err := h.store.List(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "vendor_list_failed",
			"message": "Failed to list vendors",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"vendors": vendors})
}

// DeleteVendor handles DELETE /v1/vendors/:name
func (h *Handler) DeleteVendor(c *gin.Context) {
	name := c.Param("name")
	if err := h.store.Delete(c.Request.Context(), name); err != nil {
		if err == ErrVendorNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "vendor_not_found",
				"message": "No vendor registered under that name",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "vendor_delete_failed",
			"message": "Failed to delete vendor",
		})
		return
	}
	c.Status(http.StatusNoContent)
}
