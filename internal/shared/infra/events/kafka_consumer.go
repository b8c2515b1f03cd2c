package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	sharedBus "github.com/davicafu/eventorders/internal/shared/infra/platform/bus"
)

// ConsumerAdapter es el "oído" que escucha en Kafka.
// Sólo confirma el offset cuando el handler termina sin error: entrega al-menos-una-vez.
type ConsumerAdapter struct {
	reader  *kafka.Reader
	handler sharedBus.MessageHandler
	log     *zap.Logger
}

func NewKafkaReader(brokers []string, groupID string, topics ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
}

func NewConsumerAdapter(reader *kafka.Reader, handler sharedBus.MessageHandler, log *zap.Logger) *ConsumerAdapter {
	return &ConsumerAdapter{
		reader:  reader,
		handler: handler,
		log:     log,
	}
}

// Start inicia el bucle de consumo de mensajes en una goroutine.
func (c *ConsumerAdapter) Start(ctx context.Context) {
	c.log.Info("🎧 Iniciando consumidor de Kafka...",
		zap.Strings("topics", c.reader.Config().GroupTopics),
		zap.Strings("brokers", c.reader.Config().Brokers),
	)

	go func() {
		defer c.reader.Close()
		for {
			// FetchMessage es una llamada bloqueante y no confirma el offset.
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				// Si el contexto se cancela, el error es normal y salimos limpiamente.
				if ctx.Err() != nil {
					c.log.Info("Consumidor de Kafka detenido.")
					return
				}
				c.log.Error("Error al leer mensaje de Kafka", zap.Error(err))
				continue // Continuamos con el siguiente mensaje
			}

			if !c.handleUntilDone(ctx, msg) {
				return
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				c.log.Warn("⚠️ No se pudo confirmar el offset", zap.Int64("offset", msg.Offset), zap.Error(err))
			}
		}
	}()
}

// handleUntilDone reintenta el mensaje en el sitio; el orden por partición se conserva.
// Devuelve false si ctx se cancela antes de procesarlo.
func (c *ConsumerAdapter) handleUntilDone(ctx context.Context, km kafka.Message) bool {
	msg := fromKafkaMessage(km)
	delay := 200 * time.Millisecond
	for {
		err := c.handler.HandleMessage(ctx, msg)
		if err == nil {
			return true
		}
		c.log.Warn("⚠️ Error procesando mensaje, se reintentará",
			zap.String("topic", km.Topic),
			zap.String("event_id", msg.ID),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		if delay < 5*time.Second {
			delay *= 2
		}
	}
}
