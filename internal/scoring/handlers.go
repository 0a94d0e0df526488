package scoring

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/riskguard/riskguard/internal/logging"
	"github.com/riskguard/riskguard/internal/order"
	"github.com/riskguard/riskguard/internal/pagination"
	"github.com/riskguard/riskguard/internal/risk"
	"github.com/riskguard/riskguard/internal/validation"
)

// Handler provides HTTP endpoints for order scoring.
type Handler struct {
	service *Service
}

// NewHandler creates a new scoring handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the scoring and read routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/analyze", h.Analyze)
	r.GET("/assessments/:order_id", validation.OrderIDParamMiddleware(), h.GetAssessment)
	r.GET("/customers/:email/orders", validation.EmailParamMiddleware(), h.CustomerOrders)
	r.GET("/orders", h.ListOrders)
	r.DELETE("/orders/:order_id", validation.OrderIDParamMiddleware(), h.DeleteOrder)
}

// Analyze handles POST /api/v1/analyze
func (h *Handler) Analyze(c *gin.Context) {
	var payload order.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "user_profile, order_details, address, ip_info and history are required: " + err.Error(),
		})
		return
	}

	oc := order.FromPayload(payload)
	if errs := oc.Validate(); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	assessment, err := h.service.Analyze(c.Request.Context(), oc)
	if err != nil {
		if errors.Is(err, risk.ErrEvaluationFailure) {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "evaluation_failed",
				"message": err.Error(),
			})
			return
		}
		logging.L(c.Request.Context()).Error("analyze failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to score order",
		})
		return
	}

	c.JSON(http.StatusOK, assessment)
}

// GetAssessment handles GET /api/v1/assessments/:order_id
func (h *Handler) GetAssessment(c *gin.Context) {
	stored, err := h.service.Latest(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		if errors.Is(err, risk.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No assessment recorded for this order",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"assessment": stored})
}

// CustomerOrders handles GET /api/v1/customers/:email/orders
func (h *Handler) CustomerOrders(c *gin.Context) {
	email, _ := url.PathUnescape(c.Param("email"))
	page, err := h.service.CustomerOrders(c.Request.Context(), email, limitParam(c), c.Query("cursor"))
	if err != nil {
		listError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ListOrders handles GET /api/v1/orders
func (h *Handler) ListOrders(c *gin.Context) {
	page, err := h.service.Orders(c.Request.Context(), limitParam(c), c.Query("cursor"))
	if err != nil {
		listError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// DeleteOrder handles DELETE /api/v1/orders/:order_id
func (h *Handler) DeleteOrder(c *gin.Context) {
	err := h.service.DeleteOrder(c.Request.Context(), c.Param("order_id"))
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No order recorded with this ID",
		})
	case errors.Is(err, ErrHistoryUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "history_unavailable",
			"message": err.Error(),
		})
	default:
		logging.L(c.Request.Context()).Error("delete order failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to delete order",
		})
	}
}

func limitParam(c *gin.Context) int {
	limit := 0
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}
	return pagination.Limit(limit)
}

func listError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pagination.ErrInvalidCursor):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is not valid for this listing",
		})
	case errors.Is(err, ErrHistoryUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "history_unavailable",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
