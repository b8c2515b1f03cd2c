package domain

import (
	"context"
	"fmt"

	"github.com/davicafu/eventorders/internal/shared/domain/events"
)

// Aggregate es cualquier tipo con identidad y versión capaz de aplicar eventos confirmados.
type Aggregate interface {
	AggregateID() string
	Version() int64
	Apply(evt events.Event) error
}

// AggregateRoot agrupa identidad, versión confirmada y el buffer de eventos pendientes.
// Se compone dentro de los agregados; no define comportamiento de negocio.
type AggregateRoot struct {
	id          string
	version     int64
	uncommitted []events.Event
}

func NewAggregateRoot(id string) AggregateRoot {
	return AggregateRoot{id: id}
}

// RestoreAggregateRoot parte de un snapshot ya aplicado hasta version.
func RestoreAggregateRoot(id string, version int64) AggregateRoot {
	return AggregateRoot{id: id, version: version}
}

func (r *AggregateRoot) AggregateID() string { return r.id }

// Version es el número de eventos confirmados aplicados.
func (r *AggregateRoot) Version() int64 { return r.version }

// Uncommitted devuelve una copia de los eventos producidos y aún no persistidos.
func (r *AggregateRoot) Uncommitted() []events.Event {
	out := make([]events.Event, len(r.uncommitted))
	copy(out, r.uncommitted)
	return out
}

// NextSequence es el número que recibirá el próximo evento producido.
func (r *AggregateRoot) NextSequence() int64 {
	return r.version + int64(len(r.uncommitted)) + 1
}

// Record añade eventos recién producidos al buffer.
func (r *AggregateRoot) Record(evts ...events.Event) {
	r.uncommitted = append(r.uncommitted, evts...)
}

// Advance registra un evento confirmado durante el replay. Exige secuencia contigua.
func (r *AggregateRoot) Advance(evt events.Event) error {
	if evt.StreamID != r.id {
		return Serialization("advance", fmt.Errorf("event of stream %s applied to %s", evt.StreamID, r.id))
	}
	if evt.SequenceNumber != r.version+1 {
		return Serialization("advance", fmt.Errorf("stream %s: expected sequence %d, got %d", r.id, r.version+1, evt.SequenceNumber))
	}
	r.version = evt.SequenceNumber
	return nil
}

// MarkCommitted vacía el buffer tras un Append exitoso.
func (r *AggregateRoot) MarkCommitted(newVersion int64) {
	r.version = newVersion
	r.uncommitted = nil
}

// Rehydrate reproduce el stream a partir de la versión actual del agregado:
// todo el stream si está vacío, sólo la cola si viene de un snapshot.
func Rehydrate(ctx context.Context, store EventStore, agg Aggregate) error {
	for evt, err := range store.Read(ctx, agg.AggregateID(), agg.Version()) {
		if err != nil {
			return err
		}
		if err := agg.Apply(evt); err != nil {
			return err
		}
	}
	return nil
}
