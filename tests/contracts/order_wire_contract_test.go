package contracts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/eventorders/internal/order/application"
	orderDomain "github.com/davicafu/eventorders/internal/order/domain"
	orderEvents "github.com/davicafu/eventorders/internal/order/infra/inbound/events"
	orderHttp "github.com/davicafu/eventorders/internal/order/infra/inbound/http"
	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	shEvents "github.com/davicafu/eventorders/internal/shared/domain/events"
	sharedEvents "github.com/davicafu/eventorders/internal/shared/events"
	infraEvents "github.com/davicafu/eventorders/internal/shared/infra/events"
	sharedBus "github.com/davicafu/eventorders/internal/shared/infra/platform/bus"
	"github.com/davicafu/eventorders/internal/shared/infra/platform/db/memory"
	"github.com/davicafu/eventorders/internal/shared/infra/platform/inbox"
	"github.com/davicafu/eventorders/internal/shared/infra/relayer"
)

// harness monta el servicio completo en memoria: store, dispatcher, bus, consumidor y HTTP.
type harness struct {
	store   *memory.EventStore
	bus     *infraEvents.InMemoryEventBus
	service *application.OrderService
	router  *gin.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := memory.NewEventStore(sharedDomain.NewOutboxEnqueuer(orderDomain.NewEventRegistry(), "orders"))
	bus := infraEvents.NewInMemoryEventBus()
	dispatcher := relayer.NewDispatcher(store, bus, relayer.Config{Interval: 20 * time.Millisecond}, zap.NewNop())
	store.SetCommitHook(func(string, int64) { dispatcher.Notify() })
	go dispatcher.Run(ctx)

	service := application.NewOrderService(store, 3, zap.NewNop())
	consumer := orderEvents.NewOrderConsumer(service, zap.NewNop())
	handler := infraEvents.NewDedupHandler(inbox.NewInMemoryInbox(time.Hour), consumer, zap.NewNop())
	for _, topic := range consumer.Topics() {
		bus.Consume(ctx, topic, handler)
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	orderHttp.RegisterOrderRoutes(router, orderHttp.NewOrderHandler(service))
	orderHttp.RegisterOutboxRoutes(router, orderHttp.NewOutboxHandler(dispatcher))

	return &harness{store: store, bus: bus, service: service, router: router}
}

func (h *harness) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) publishedOn(topic string) []sharedBus.Message {
	var out []sharedBus.Message
	for _, m := range h.bus.Published() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// TestOrderCreated_WireContract fija el envelope que ven los demás servicios.
func TestOrderCreated_WireContract(t *testing.T) {
	h := newHarness(t)

	rec := h.post(t, "/orders/order-1/commands",
		`{"type":"CreateOrder","correlationId":"corr-http","payload":{"buyerId":"buyer-1","items":[{"productId":"sku-1","units":2,"unitPrice":1250}]}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool { return len(h.publishedOn(sharedEvents.OrdersCreatedTopic)) == 1 },
		2*time.Second, 10*time.Millisecond)
	msg := h.publishedOn(sharedEvents.OrdersCreatedTopic)[0]

	assert.Equal(t, "order-1", msg.Key)
	assert.Equal(t, sharedEvents.OrdersCreatedTopic, msg.Type)
	assert.Equal(t, "corr-http", msg.CorrelationID)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &raw))
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{"id", "type", "timestamp", "correlationId", "source", "streamId", "sequenceNumber", "payload"}, keys)

	var env shEvents.IntegrationEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &env))
	assert.Equal(t, msg.ID, env.ID.String())
	assert.Equal(t, "orders", env.Source)
	assert.Equal(t, int64(1), env.SequenceNumber)

	var created sharedEvents.OrderCreated
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, sharedEvents.OrderCreated{
		OrderID: "order-1",
		BuyerID: "buyer-1",
		Lines:   []sharedEvents.OrderLine{{ProductID: "sku-1", Units: 2, UnitPrice: 1250}},
		Total:   2500,
	}, created)

	// La entrada queda publicada y no vuelve a salir.
	require.Eventually(t, func() bool {
		for _, e := range h.store.Outbox() {
			if e.Status != sharedDomain.OutboxPublished {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, h.publishedOn(sharedEvents.OrdersCreatedTopic), 1)
}

// TestPaymentSucceeded_IsAppliedOnce: la redelivery del mismo evento de pago no duplica el cobro.
func TestPaymentSucceeded_IsAppliedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.service.ExecuteCommand(ctx, "order-7", orderDomain.CreateOrder{
		BuyerID: "buyer-1",
		Items:   []orderDomain.OrderItem{{ProductID: "sku-1", Units: 1, UnitPrice: 999}},
	}, "corr-7")
	require.NoError(t, err)
	_, err = h.service.ExecuteCommand(ctx, "order-7", orderDomain.ConfirmOrder{}, "corr-7")
	require.NoError(t, err)

	data, err := json.Marshal(sharedEvents.PaymentSucceeded{OrderID: "order-7", PaymentID: "pay-1", Amount: 999})
	require.NoError(t, err)
	env := shEvents.IntegrationEvent{
		ID:            uuid.New(),
		Type:          sharedEvents.PaymentsSucceededTopic,
		Timestamp:     time.Now().UTC(),
		CorrelationID: "corr-7",
		Source:        "payments",
		StreamID:      "payment-1",
		Data:          data,
	}
	payload, err := json.Marshal(env)
	require.NoError(t, err)
	msg := sharedBus.Message{Topic: sharedEvents.PaymentsSucceededTopic, Key: "payment-1", ID: env.ID.String(), Type: env.Type, Payload: payload}

	require.NoError(t, h.bus.Publish(ctx, msg))
	require.NoError(t, h.bus.Publish(ctx, msg))

	require.Eventually(t, func() bool { return len(h.publishedOn(sharedEvents.OrdersPaidTopic)) == 1 },
		2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	snap, err := h.service.GetOrder(ctx, "order-7")
	require.NoError(t, err)
	assert.Equal(t, orderDomain.StatusPaid, snap.State.Status)
	assert.Equal(t, "pay-1", snap.State.PaymentID)
	assert.Equal(t, int64(3), snap.Version)
	assert.Len(t, h.publishedOn(sharedEvents.OrdersPaidTopic), 1)

	var paidEnv shEvents.IntegrationEvent
	require.NoError(t, json.Unmarshal(h.publishedOn(sharedEvents.OrdersPaidTopic)[0].Payload, &paidEnv))
	assert.Equal(t, "corr-7", paidEnv.CorrelationID, "la correlación viaja del evento entrante al saliente")
}

func TestOutboxOperator_HTTPRoundTrip(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/outbox/failed?limit=5", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, h.post(t, "/outbox/"+uuid.NewString()+"/requeue", "").Code)
}
