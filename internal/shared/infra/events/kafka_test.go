package events

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	sharedBus "github.com/davicafu/eventorders/internal/shared/infra/platform/bus"
)

func TestFromKafkaMessage_ReadsHeaders(t *testing.T) {
	km := kafka.Message{
		Topic: "orders.paid",
		Key:   []byte("order-1"),
		Value: []byte(`{"id":"x"}`),
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte("evt-1")},
			{Key: HeaderEventType, Value: []byte("orders.paid")},
			{Key: HeaderCorrelationID, Value: []byte("corr-1")},
			{Key: "other", Value: []byte("ignored")},
		},
	}

	msg := fromKafkaMessage(km)

	assert.Equal(t, sharedBus.Message{
		Topic:         "orders.paid",
		Key:           "order-1",
		ID:            "evt-1",
		Type:          "orders.paid",
		CorrelationID: "corr-1",
		Payload:       []byte(`{"id":"x"}`),
	}, msg)
}

// TestKafka_PublishAndConsume necesita un broker real con auto-creación de topics.
func TestKafka_PublishAndConsume(t *testing.T) {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("KAFKA_BROKERS no definido")
	}
	list := strings.Split(brokers, ",")
	topic := "eventorders-test-" + uuid.NewString()[:8]

	publisher := NewKafkaPublisher(NewKafkaWriter(list), zap.NewNop())
	defer publisher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sent := sharedBus.Message{Topic: topic, Key: "order-1", ID: uuid.NewString(), Type: "orders.created", CorrelationID: "c", Payload: []byte(`{}`)}
	require.NoError(t, publisher.Publish(ctx, sent))

	received := make(chan sharedBus.Message, 1)
	reader := NewKafkaReader(list, "eventorders-test-"+uuid.NewString()[:8], topic)
	NewConsumerAdapter(reader, sharedBus.HandlerFunc(func(ctx context.Context, msg sharedBus.Message) error {
		received <- msg
		return nil
	}), zap.NewNop()).Start(ctx)

	select {
	case msg := <-received:
		assert.Equal(t, sent.ID, msg.ID)
		assert.Equal(t, sent.Key, msg.Key)
		assert.Equal(t, sent.CorrelationID, msg.CorrelationID)
	case <-ctx.Done():
		t.Fatal("no llegó el mensaje")
	}
}
