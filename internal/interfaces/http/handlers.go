package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyjia/pizza-workflow/internal/domain/event"
	"github.com/garyjia/pizza-workflow/internal/domain/order"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine Orchestrator
	logger *zap.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(engine Orchestrator, logger *zap.Logger) *Handlers {
	return &Handlers{
		engine: engine,
		logger: logger,
	}
}

// Response is the standard API response envelope
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CreateOrderRequest is the payload for starting a new order
type CreateOrderRequest struct {
	OrderID   string `json:"order_id" binding:"required"`
	PizzaType string `json:"pizza_type" binding:"required"`
	Size      string `json:"size" binding:"required"`
	Customer  struct {
		Name    string `json:"name" binding:"required"`
		Address string `json:"address" binding:"required"`
		Phone   string `json:"phone"`
	} `json:"customer" binding:"required"`
}

// ValidationRequest is the payload for the manager's approval decision
type ValidationRequest struct {
	OrderID  string `json:"order_id" binding:"required"`
	Approved *bool  `json:"approved" binding:"required"`
}

// OrderRef identifies an order for lifecycle operations
type OrderRef struct {
	OrderID string `json:"order_id" binding:"required"`
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"status": "healthy"},
	})
}

// CreateOrder starts a new pizza order workflow
func (h *Handlers) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "Invalid request: " + err.Error(),
		})
		return
	}

	customer := order.Customer{
		Name:    req.Customer.Name,
		Address: req.Customer.Address,
		Phone:   req.Customer.Phone,
	}

	o, err := h.engine.Start(c.Request.Context(), req.OrderID, req.PizzaType, req.Size, customer)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("Order workflow started",
		zap.String("order_id", o.OrderID),
		zap.String("instance_id", o.InstanceID))

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    o,
	})
}

// GetOrder returns the current state of an order
func (h *Handlers) GetOrder(c *gin.Context) {
	orderID := c.Param("order_id")

	o, err := h.engine.GetStatus(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    o,
	})
}

// DeleteOrder removes an order and its history
func (h *Handlers) DeleteOrder(c *gin.Context) {
	orderID := c.Param("order_id")

	if err := h.engine.Delete(c.Request.Context(), orderID); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"order_id": orderID, "deleted": true},
	})
}

// ValidatePizza records the manager's approval or rejection
func (h *Handlers) ValidatePizza(c *gin.Context) {
	var req ValidationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "Invalid request: " + err.Error(),
		})
		return
	}

	dec := &event.ValidationDecision{
		OrderID:  req.OrderID,
		Approved: *req.Approved,
	}

	if err := h.engine.HandleValidationDecision(c.Request.Context(), dec); err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("Validation decision recorded",
		zap.String("order_id", req.OrderID),
		zap.Bool("approved", dec.Approved))

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"order_id": req.OrderID, "approved": dec.Approved},
	})
}

// PauseOrder suspends event processing for an order
func (h *Handlers) PauseOrder(c *gin.Context) {
	h.lifecycleOp(c, h.engine.Pause, "paused")
}

// ResumeOrder resumes a paused order and replays buffered events
func (h *Handlers) ResumeOrder(c *gin.Context) {
	h.lifecycleOp(c, h.engine.Resume, "resumed")
}

// CancelOrder terminates an in-flight order
func (h *Handlers) CancelOrder(c *gin.Context) {
	h.lifecycleOp(c, h.engine.Cancel, "cancelled")
}

// lifecycleOp handles the shared request shape of pause/resume/cancel
func (h *Handlers) lifecycleOp(c *gin.Context, op func(ctx context.Context, orderID string) error, action string) {
	var req OrderRef
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "Invalid request: " + err.Error(),
		})
		return
	}

	if err := op(c.Request.Context(), req.OrderID); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"order_id": req.OrderID, "status": action},
	})
}

// respondError maps domain errors to HTTP status codes
func (h *Handlers) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, order.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, order.ErrDuplicateInstance),
		errors.Is(err, order.ErrTerminal),
		errors.Is(err, order.ErrUnexpectedEvent),
		errors.Is(err, order.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, order.ErrDispatchFailed):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.Error(err))
	}

	c.JSON(status, Response{
		Success: false,
		Error:   err.Error(),
	})
}
