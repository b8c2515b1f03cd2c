package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/davicafu/eventorders/internal/order/application"
	orderDomain "github.com/davicafu/eventorders/internal/order/domain"
	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	"github.com/davicafu/eventorders/tests/mocks/ordermocks"
)

func newRouter(svc OrderService, op OutboxOperator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterOrderRoutes(r, NewOrderHandler(svc))
	RegisterOutboxRoutes(r, NewOutboxHandler(op))
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestExecuteCommand_OK(t *testing.T) {
	svc := new(ordermocks.MockOrderService)
	svc.On("ExecuteCommand", mock.Anything, "order-1", orderDomain.ShipOrder{TrackingNumber: "TRK-1"}, "corr-1").
		Return(application.Result{NewVersion: 4}, nil).Once()
	r := newRouter(svc, new(ordermocks.MockOutboxOperator))

	rec := do(r, http.MethodPost, "/orders/order-1/commands",
		`{"type":"ShipOrder","correlationId":"corr-1","payload":{"trackingNumber":"TRK-1"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data commandResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(4), body.Data.NewVersion)
	assert.Equal(t, "order-1", body.Data.OrderID)
	svc.AssertExpectations(t)
}

func TestExecuteCommand_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"regla de negocio", sharedDomain.NewDomainRuleViolation(orderDomain.RuleInvalidTransition, "nope"), http.StatusUnprocessableEntity},
		{"conflicto", &sharedDomain.ConcurrencyError{StreamID: "order-1", Expected: 1, Actual: 2}, http.StatusConflict},
		{"store caído", sharedDomain.Unavailable("append", errors.New("timeout")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ordermocks.MockOrderService)
			svc.On("ExecuteCommand", mock.Anything, "order-1", orderDomain.ConfirmOrder{}, "").
				Return(application.Result{}, tt.err).Once()
			r := newRouter(svc, new(ordermocks.MockOutboxOperator))

			rec := do(r, http.MethodPost, "/orders/order-1/commands", `{"type":"ConfirmOrder"}`)

			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestExecuteCommand_BadRequests(t *testing.T) {
	svc := new(ordermocks.MockOrderService)
	r := newRouter(svc, new(ordermocks.MockOutboxOperator))

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/orders/o/commands", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/orders/o/commands", `{}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, do(r, http.MethodPost, "/orders/o/commands", `{"type":"RefundOrder"}`).Code)

	svc.AssertNotCalled(t, "ExecuteCommand", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetOrder(t *testing.T) {
	svc := new(ordermocks.MockOrderService)
	svc.On("GetOrder", mock.Anything, "order-1").
		Return(orderDomain.Snapshot{State: orderDomain.State{ID: "order-1", Status: orderDomain.StatusPaid}, Version: 3}, nil)
	svc.On("GetOrder", mock.Anything, "ghost").
		Return(orderDomain.Snapshot{}, sharedDomain.NewDomainRuleViolation(orderDomain.RuleNotFound, "missing"))
	r := newRouter(svc, new(ordermocks.MockOutboxOperator))

	rec := do(r, http.MethodGet, "/orders/order-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data orderDomain.Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, orderDomain.StatusPaid, body.Data.State.Status)
	assert.Equal(t, int64(3), body.Data.Version)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/orders/ghost", "").Code)
}

func TestOutbox_ListFailed(t *testing.T) {
	op := new(ordermocks.MockOutboxOperator)
	op.On("ListFailed", mock.Anything, 10).
		Return([]sharedDomain.OutboxEntry{{ID: uuid.New(), Status: sharedDomain.OutboxFailed}}, nil).Once()
	op.On("ListFailed", mock.Anything, 50).Return(nil, nil).Once()
	r := newRouter(new(ordermocks.MockOrderService), op)

	rec := do(r, http.MethodGet, "/outbox/failed?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []sharedDomain.OutboxEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Data, 1)

	rec = do(r, http.MethodGet, "/outbox/failed", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/outbox/failed?limit=abc", "").Code)
	op.AssertExpectations(t)
}

func TestOutbox_Requeue(t *testing.T) {
	id := uuid.New()
	missing := uuid.New()
	op := new(ordermocks.MockOutboxOperator)
	op.On("Requeue", mock.Anything, id).Return(nil).Once()
	op.On("Requeue", mock.Anything, missing).Return(sharedDomain.ErrOutboxNotFound).Once()
	r := newRouter(new(ordermocks.MockOrderService), op)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/outbox/"+id.String()+"/requeue", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/outbox/"+missing.String()+"/requeue", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/outbox/not-a-uuid/requeue", "").Code)
	op.AssertExpectations(t)
}

func TestDeliveryStats(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	rep := new(ordermocks.MockDeliveryReporter)
	rep.On("Summary", mock.Anything, now.Add(-24*time.Hour), now).
		Return([]sharedDomain.DeliveryStats{{EventType: "orders.created", Published: 7, Failed: 1, AvgAttempts: 1.5}}, nil).Once()
	rep.On("Summary", mock.Anything, from, now).Return(nil, nil).Once()

	handler := NewDeliveryStatsHandler(rep)
	handler.now = func() time.Time { return now }
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterDeliveryStatsRoutes(r, handler)

	rec := do(r, http.MethodGet, "/outbox/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[{"eventType":"orders.created","published":7,"failed":1,"avgAttempts":1.5}]}`, rec.Body.String())

	rec = do(r, http.MethodGet, "/outbox/stats?from=2026-05-01T00:00:00Z&to=2026-05-01T12:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/outbox/stats?from=ayer", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/outbox/stats?from=2026-05-02T00:00:00Z&to=2026-05-01T00:00:00Z", "").Code)
	rep.AssertExpectations(t)
}
