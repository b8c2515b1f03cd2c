package events

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	sharedBus "github.com/davicafu/eventorders/internal/shared/infra/platform/bus"
)

const defaultHold = 30 * time.Second

// DedupHandler descarta los mensajes cuyo id ya se procesó.
// El id se reserva durante hold mientras corre el handler y sólo se confirma si termina bien;
// si falla se libera. Una reserva huérfana (proceso caído) vence sola y la redelivery se procesa.
type DedupHandler struct {
	inbox sharedDomain.Inbox
	next  sharedBus.MessageHandler
	hold  time.Duration
	log   *zap.Logger
}

type DedupOption func(*DedupHandler)

// WithHold fija cuánto dura la reserva; debe superar el timeout del handler.
func WithHold(d time.Duration) DedupOption {
	return func(h *DedupHandler) {
		if d > 0 {
			h.hold = d
		}
	}
}

func NewDedupHandler(inbox sharedDomain.Inbox, next sharedBus.MessageHandler, log *zap.Logger, opts ...DedupOption) *DedupHandler {
	h := &DedupHandler{inbox: inbox, next: next, hold: defaultHold, log: log}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *DedupHandler) HandleMessage(ctx context.Context, msg sharedBus.Message) error {
	if msg.ID == "" {
		return h.next.HandleMessage(ctx, msg)
	}

	claim, err := h.inbox.Claim(ctx, msg.ID, h.hold)
	if err != nil {
		return fmt.Errorf("inbox claim %s: %w", msg.ID, err)
	}
	switch claim {
	case sharedDomain.InboxDone:
		h.log.Debug("Mensaje duplicado descartado", zap.String("event_id", msg.ID), zap.String("topic", msg.Topic))
		return nil
	case sharedDomain.InboxInFlight:
		// No se confirma: el adaptador lo reintentará cuando la otra entrega termine o su reserva venza.
		return fmt.Errorf("%w: %s", sharedDomain.ErrInboxInFlight, msg.ID)
	}

	// Liberar o confirmar no debe depender de que la petición siga viva.
	bookkeeping := context.WithoutCancel(ctx)

	if err := h.next.HandleMessage(ctx, msg); err != nil {
		if ferr := h.inbox.Forget(bookkeeping, msg.ID); ferr != nil {
			h.log.Warn("⚠️ No se pudo liberar el id en el inbox", zap.String("event_id", msg.ID), zap.Error(ferr))
		}
		return err
	}
	if err := h.inbox.Confirm(bookkeeping, msg.ID); err != nil {
		// La reserva vencerá y una redelivery se reprocesará; Pay/Complete son idempotentes en el agregado.
		h.log.Warn("⚠️ No se pudo confirmar el id en el inbox", zap.String("event_id", msg.ID), zap.Error(err))
	}
	return nil
}

var _ sharedBus.MessageHandler = (*DedupHandler)(nil)
