package events

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/segmentio/kafka-go"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	sharedBus "github.com/davicafu/eventorders/internal/shared/infra/platform/bus"
)

const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderCorrelationID = "correlation_id"
)

type KafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

// NewKafkaWriter deja el topic vacío para fijarlo por mensaje.
// Hash asegura que una misma key (stream) cae siempre en la misma partición.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaPublisher(writer *kafka.Writer, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg sharedBus.Message) error {
	km := kafka.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.Key),
		Value: msg.Payload,
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(msg.ID)},
			{Key: HeaderEventType, Value: []byte(msg.Type)},
			{Key: HeaderCorrelationID, Value: []byte(msg.CorrelationID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, km); err != nil {
		p.log.Error("Error publishing to Kafka", zap.String("topic", msg.Topic), zap.String("event_id", msg.ID), zap.Error(err))
		return fmt.Errorf("%w: %w", sharedDomain.ErrPublishFailure, err)
	}

	p.log.Debug("Event published successfully", zap.String("topic", msg.Topic), zap.String("event_id", msg.ID))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// fromKafkaMessage recompone el Message a partir de las cabeceras.
func fromKafkaMessage(km kafka.Message) sharedBus.Message {
	msg := sharedBus.Message{
		Topic:   km.Topic,
		Key:     string(km.Key),
		Payload: km.Value,
	}
	for _, h := range km.Headers {
		switch h.Key {
		case HeaderEventID:
			msg.ID = string(h.Value)
		case HeaderEventType:
			msg.Type = string(h.Value)
		case HeaderCorrelationID:
			msg.CorrelationID = string(h.Value)
		}
	}
	return msg
}

// Verificación estática
var _ sharedBus.EventBus = (*KafkaPublisher)(nil)
