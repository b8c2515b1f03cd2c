package bus

import "context"

// Message es lo que viaja por el broker: el envelope serializado más los metadatos de enrutado.
// Key es el stream, así los mensajes de un mismo agregado caen en la misma partición.
type Message struct {
	Topic         string
	Key           string
	ID            string
	Type          string
	CorrelationID string
	Payload       []byte
}

// La semántica de topic/nombre y formato del payload la decides en los adapters.
type EventBus interface {
	Publish(ctx context.Context, msg Message) error
}

// MessageHandler procesa un mensaje entrante. Un error deja el mensaje sin confirmar
// para que el broker lo vuelva a entregar.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg Message) error
}

type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg Message) error { return f(ctx, msg) }
