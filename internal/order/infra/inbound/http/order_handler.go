package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/davicafu/eventorders/internal/order/application"
	orderDomain "github.com/davicafu/eventorders/internal/order/domain"
	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	"github.com/davicafu/eventorders/internal/shared/domain/events"
	"github.com/davicafu/eventorders/pkg/utils"
)

// OrderService es lo que el handler necesita de la capa de aplicación.
type OrderService interface {
	ExecuteCommand(ctx context.Context, orderID string, cmd orderDomain.Command, correlationID string) (application.Result, error)
	GetOrder(ctx context.Context, orderID string) (orderDomain.Snapshot, error)
}

// OrderHandler encapsula los endpoints HTTP relacionados con Order.
type OrderHandler struct {
	service OrderService
}

// NewOrderHandler crea un nuevo OrderHandler.
func NewOrderHandler(service OrderService) *OrderHandler {
	return &OrderHandler{service: service}
}

type commandRequest struct {
	Type          string          `json:"type" binding:"required"`
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload"`
}

type commandResponse struct {
	OrderID    string         `json:"orderId"`
	NewVersion int64          `json:"newVersion"`
	Events     []events.Event `json:"events"`
}

// ExecuteCommand endpoint POST /orders/:id/commands
func (h *OrderHandler) ExecuteCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	cmd, err := orderDomain.DecodeCommand(req.Type, req.Payload)
	if err != nil {
		sendDomainError(c, err)
		return
	}

	orderID := c.Param("id")
	res, err := h.service.ExecuteCommand(c.Request.Context(), orderID, cmd, req.CorrelationID)
	if err != nil {
		sendDomainError(c, err)
		return
	}

	utils.SendSuccess(c, http.StatusOK, commandResponse{OrderID: orderID, NewVersion: res.NewVersion, Events: res.Events})
}

// GetOrder endpoint GET /orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	snap, err := h.service.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		var rule *sharedDomain.DomainRuleViolation
		if errors.As(err, &rule) && rule.Rule == orderDomain.RuleNotFound {
			utils.SendNotFound(c, "order not found")
			return
		}
		sendDomainError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, snap)
}

// sendDomainError traduce la taxonomía de errores a códigos HTTP.
func sendDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sharedDomain.ErrDomainRule):
		utils.SendError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, sharedDomain.ErrConcurrency):
		utils.SendError(c, http.StatusConflict, err.Error())
	default:
		utils.SendInternalServerError(c, err.Error())
	}
}
