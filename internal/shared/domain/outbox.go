package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/davicafu/eventorders/internal/shared/domain/events"
	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxPublished OutboxStatus = "published"
	OutboxFailed    OutboxStatus = "failed"
)

// OutboxEntry representa un evento de integración pendiente de publicar en el broker.
// Se crea en la misma transacción que el Append del evento de dominio del que deriva.
type OutboxEntry struct {
	ID             uuid.UUID       `json:"id"`
	StreamID       string          `json:"stream_id"`
	SequenceNumber int64           `json:"sequence_number"`
	CorrelationID  string          `json:"correlation_id"`
	EventType      string          `json:"event_type"` // ej. "orders.confirmed"
	Topic          string          `json:"topic"`
	Payload        json.RawMessage `json:"payload"` // IntegrationEvent serializado
	Status         OutboxStatus    `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	PublishedAt    *time.Time      `json:"published_at,omitempty"`
	AttemptCount   int             `json:"attempt_count"`
	NextAttemptAt  time.Time       `json:"next_attempt_at"`
	LeaseOwner     string          `json:"lease_owner,omitempty"`
	LeaseUntil     *time.Time      `json:"lease_until,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
}

// Claimable indica si el dispatcher puede reclamar la entrada en el instante now.
func (e OutboxEntry) Claimable(now time.Time) bool {
	if e.Status != OutboxPending || e.NextAttemptAt.After(now) {
		return false
	}
	return e.LeaseUntil == nil || e.LeaseUntil.Before(now)
}

// OutboxRepository define el contrato que necesita el dispatcher sobre la tabla outbox.
type OutboxRepository interface {
	// ClaimPending arrienda hasta limit entradas Pending reclamables, como mucho una por stream
	// y siempre la más antigua pendiente de ese stream, en orden de createdAt.
	ClaimPending(ctx context.Context, owner string, limit int, now time.Time, lease time.Duration) ([]OutboxEntry, error)

	// Las marcas exigen que owner siga teniendo el lease; si no, devuelven ErrLeaseLost.
	MarkPublished(ctx context.Context, id uuid.UUID, owner string, at time.Time) error
	MarkRetry(ctx context.Context, id uuid.UUID, owner string, attempts int, nextAttemptAt time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id uuid.UUID, owner string, attempts int, lastErr string) error

	// Superficie de operador.
	ListFailed(ctx context.Context, limit int) ([]OutboxEntry, error)
	Requeue(ctx context.Context, id uuid.UUID, now time.Time) error
}

// DeliveryRecord es una fila de auditoría de un desenlace terminal del dispatcher.
type DeliveryRecord struct {
	EntryID       uuid.UUID
	StreamID      string
	EventType     string
	CorrelationID string
	Status        OutboxStatus
	Attempts      int
	LastError     string
	At            time.Time
}

// DeliveryAudit recibe los desenlaces Published/Failed para los operadores.
type DeliveryAudit interface {
	Record(ctx context.Context, rec DeliveryRecord) error
}

// DeliveryStats agrega los desenlaces de un tipo de evento en una ventana.
type DeliveryStats struct {
	EventType   string  `json:"eventType"`
	Published   uint64  `json:"published"`
	Failed      uint64  `json:"failed"`
	AvgAttempts float64 `json:"avgAttempts"`
}

// InboxClaim es el resultado de reservar un id en el inbox.
type InboxClaim int

const (
	// InboxClaimed: nadie lo había visto, el llamante lo procesa.
	InboxClaimed InboxClaim = iota
	// InboxInFlight: otro intento lo tiene reservado y aún no lo ha confirmado.
	InboxInFlight
	// InboxDone: ya se procesó.
	InboxDone
)

// Inbox deduplica mensajes entrantes por id de evento de integración.
// Un id reservado y nunca confirmado se libera solo al vencer la reserva.
type Inbox interface {
	// Claim reserva eventID durante hold si está libre.
	Claim(ctx context.Context, eventID string, hold time.Duration) (InboxClaim, error)
	// Confirm marca eventID como procesado durante el TTL del inbox.
	Confirm(ctx context.Context, eventID string) error
	// Forget libera eventID para que una redelivery vuelva a procesarse.
	Forget(ctx context.Context, eventID string) error
}

// outboxNamespace deriva ids estables de (stream, secuencia).
var outboxNamespace = uuid.MustParse("4f1c2a7e-3b59-4c2e-9d2a-6f0b8e7a9c11")

// OutboxEnqueuer convierte eventos de dominio confirmados en entradas Pending.
type OutboxEnqueuer struct {
	Registry events.Registry
	Source   string
}

func NewOutboxEnqueuer(registry events.Registry, source string) *OutboxEnqueuer {
	return &OutboxEnqueuer{Registry: registry, Source: source}
}

// Enqueue produce una entrada por cada evento presente en el registro.
// Los eventos deben llevar ya su secuencia asignada.
func (q *OutboxEnqueuer) Enqueue(evts []events.Event, now time.Time) ([]OutboxEntry, error) {
	if q == nil {
		return nil, nil
	}
	var entries []OutboxEntry
	for _, evt := range evts {
		meta, ok := q.Registry[evt.Type]
		if !ok {
			continue
		}

		data := evt.Payload
		if meta.Map != nil {
			contract, err := meta.Map(evt)
			if err != nil {
				return nil, Serialization("map integration event", err)
			}
			if data, err = json.Marshal(contract); err != nil {
				return nil, Serialization("marshal integration payload", err)
			}
		}

		id := uuid.NewSHA1(outboxNamespace, []byte(fmt.Sprintf("%s/%d", evt.StreamID, evt.SequenceNumber)))
		envelope := events.IntegrationEvent{
			ID:             id,
			Type:           meta.IntegrationType,
			Timestamp:      evt.OccurredAt.UTC(),
			CorrelationID:  evt.CorrelationID,
			Source:         q.Source,
			StreamID:       evt.StreamID,
			SequenceNumber: evt.SequenceNumber,
			Data:           data,
		}
		payload, err := json.Marshal(envelope)
		if err != nil {
			return nil, Serialization("marshal integration envelope", err)
		}

		entries = append(entries, OutboxEntry{
			ID:             id,
			StreamID:       evt.StreamID,
			SequenceNumber: evt.SequenceNumber,
			CorrelationID:  evt.CorrelationID,
			EventType:      meta.IntegrationType,
			Topic:          meta.Topic,
			Payload:        payload,
			Status:         OutboxPending,
			CreatedAt:      now.UTC(),
			NextAttemptAt:  now.UTC(),
		})
	}
	return entries, nil
}
