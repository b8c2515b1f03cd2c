package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event es el registro inmutable de un cambio de estado dentro de un stream.
// SequenceNumber lo asigna el event store al hacer Append (empieza en 1, sin huecos).
type Event struct {
	StreamID       string          `json:"streamId"`
	SequenceNumber int64           `json:"sequenceNumber"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	OccurredAt     time.Time       `json:"occurredAt"`
	CorrelationID  string          `json:"correlationId"`
}

// New serializa el payload y construye un evento de dominio aún no confirmado.
func New(streamID, eventType string, payload interface{}, correlationID string, at time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		StreamID:      streamID,
		Type:          eventType,
		Payload:       data,
		OccurredAt:    at.UTC(),
		CorrelationID: correlationID,
	}, nil
}

// Decode deserializa el payload en dest (puntero).
func (e Event) Decode(dest interface{}) error {
	if err := json.Unmarshal(e.Payload, dest); err != nil {
		return fmt.Errorf("decode %s #%d of stream %s: %w", e.Type, e.SequenceNumber, e.StreamID, err)
	}
	return nil
}

// IntegrationEvent es el contrato estable que viaja por el bus hacia otros servicios.
// Los consumidores deben deduplicar por ID.
type IntegrationEvent struct {
	ID             uuid.UUID       `json:"id"`
	Type           string          `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	CorrelationID  string          `json:"correlationId"`
	Source         string          `json:"source"`
	StreamID       string          `json:"streamId"`
	SequenceNumber int64           `json:"sequenceNumber"`
	Data           json.RawMessage `json:"payload"`
}

func (e IntegrationEvent) PartitionKey() string {
	return e.StreamID
}

// EventMetadata describe cómo un evento de dominio se publica hacia fuera.
// Map traduce el payload interno al contrato de integración; si es nil se reenvía tal cual.
type EventMetadata struct {
	IntegrationType string
	Topic           string
	Map             func(evt Event) (interface{}, error)
}

// Registry indexa los metadatos por tipo de evento de dominio.
// Un tipo ausente no es relevante para la integración.
type Registry map[string]EventMetadata

// Merge combina varios registros; el último gana ante claves repetidas.
func Merge(registries ...Registry) Registry {
	out := make(Registry)
	for _, r := range registries {
		for k, v := range r {
			out[k] = v
		}
	}
	return out
}
