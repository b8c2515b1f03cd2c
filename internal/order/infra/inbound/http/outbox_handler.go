package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	"github.com/davicafu/eventorders/pkg/utils"
)

// OutboxOperator es la superficie de operador del dispatcher.
type OutboxOperator interface {
	ListFailed(ctx context.Context, limit int) ([]sharedDomain.OutboxEntry, error)
	Requeue(ctx context.Context, id uuid.UUID) error
}

type OutboxHandler struct {
	operator OutboxOperator
}

func NewOutboxHandler(operator OutboxOperator) *OutboxHandler {
	return &OutboxHandler{operator: operator}
}

// ListFailed endpoint GET /outbox/failed?limit=n
func (h *OutboxHandler) ListFailed(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		utils.SendBadRequest(c, "invalid limit")
		return
	}

	entries, err := h.operator.ListFailed(c.Request.Context(), limit)
	if err != nil {
		utils.SendInternalServerError(c, err.Error())
		return
	}
	if entries == nil {
		entries = []sharedDomain.OutboxEntry{}
	}
	utils.SendSuccess(c, http.StatusOK, entries)
}

// Requeue endpoint POST /outbox/:id/requeue
func (h *OutboxHandler) Requeue(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid outbox entry id")
		return
	}

	if err := h.operator.Requeue(c.Request.Context(), id); err != nil {
		if errors.Is(err, sharedDomain.ErrOutboxNotFound) {
			utils.SendNotFound(c, "outbox entry not found or not failed")
			return
		}
		utils.SendInternalServerError(c, err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

// DeliveryReporter resume los desenlaces auditados del dispatcher.
type DeliveryReporter interface {
	Summary(ctx context.Context, start, end time.Time) ([]sharedDomain.DeliveryStats, error)
}

type DeliveryStatsHandler struct {
	reporter DeliveryReporter
	now      func() time.Time
}

func NewDeliveryStatsHandler(reporter DeliveryReporter) *DeliveryStatsHandler {
	return &DeliveryStatsHandler{reporter: reporter, now: func() time.Time { return time.Now().UTC() }}
}

// Stats endpoint GET /outbox/stats?from=RFC3339&to=RFC3339 (por defecto, las últimas 24h)
func (h *DeliveryStatsHandler) Stats(c *gin.Context) {
	to := h.now()
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			utils.SendBadRequest(c, "invalid to")
			return
		}
		to = t
	}
	from := to.Add(-24 * time.Hour)
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			utils.SendBadRequest(c, "invalid from")
			return
		}
		from = t
	}
	if from.After(to) {
		utils.SendBadRequest(c, "from must not be after to")
		return
	}

	stats, err := h.reporter.Summary(c.Request.Context(), from, to)
	if err != nil {
		utils.SendInternalServerError(c, err.Error())
		return
	}
	if stats == nil {
		stats = []sharedDomain.DeliveryStats{}
	}
	utils.SendSuccess(c, http.StatusOK, stats)
}
