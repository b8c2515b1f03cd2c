package events

import (
	"context"
	"sync"
	"time"

	sharedBus "github.com/davicafu/eventorders/internal/shared/infra/platform/bus"
)

// InMemoryEventBus entrega los mensajes a los suscriptores de cada topic dentro del proceso.
// Publish bloquea hasta que todos los suscriptores aceptan el mensaje o se cancela ctx,
// de modo que un retorno sin error equivale al acuse del broker.
type InMemoryEventBus struct {
	subscribers map[string][]chan sharedBus.Message
	mu          sync.RWMutex

	publishedMu sync.Mutex
	published   []sharedBus.Message
}

// Verifica en tiempo de compilación que cumple la interfaz
var _ sharedBus.EventBus = (*InMemoryEventBus)(nil)

func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make(map[string][]chan sharedBus.Message),
	}
}

// Publish envía el mensaje a todos los suscriptores de su topic.
func (b *InMemoryEventBus) Publish(ctx context.Context, msg sharedBus.Message) error {
	b.mu.RLock()
	subs := b.subscribers[msg.Topic]
	b.mu.RUnlock()

	for _, subChan := range subs {
		select {
		case subChan <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.publishedMu.Lock()
	b.published = append(b.published, msg)
	b.publishedMu.Unlock()
	return nil
}

// Subscribe suscribe un nuevo oyente a un topic.
func (b *InMemoryEventBus) Subscribe(topic string, bufferSize int) <-chan sharedBus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	subChan := make(chan sharedBus.Message, bufferSize)
	b.subscribers[topic] = append(b.subscribers[topic], subChan)
	return subChan
}

// Consume entrega cada mensaje del topic al handler hasta que ctx se cancele.
// Un error del handler provoca una redelivery tras redeliveryDelay.
func (b *InMemoryEventBus) Consume(ctx context.Context, topic string, handler sharedBus.MessageHandler) {
	ch := b.Subscribe(topic, 64)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-ch:
				for handler.HandleMessage(ctx, msg) != nil {
					select {
					case <-ctx.Done():
						return
					case <-time.After(redeliveryDelay):
					}
				}
			}
		}
	}()
}

const redeliveryDelay = 100 * time.Millisecond

// Published devuelve una copia de todo lo publicado con éxito.
func (b *InMemoryEventBus) Published() []sharedBus.Message {
	b.publishedMu.Lock()
	defer b.publishedMu.Unlock()
	out := make([]sharedBus.Message, len(b.published))
	copy(out, b.published)
	return out
}
