package domain

import (
	"context"
	"iter"

	"github.com/davicafu/eventorders/internal/shared/domain/events"
)

// EventStore es el log append-only por stream.
type EventStore interface {
	// Append escribe events sólo si la versión almacenada es expectedVersion.
	// Asigna secuencias expectedVersion+1..expectedVersion+len(events) y devuelve la nueva versión.
	// Debe devolver *ConcurrencyError sin escrituras parciales si la versión no coincide.
	Append(ctx context.Context, streamID string, expectedVersion int64, evts []events.Event) (int64, error)

	// Read produce los eventos con secuencia > fromVersion en orden.
	// Cada range vuelve a leer desde el almacenamiento; un stream inexistente es vacío.
	Read(ctx context.Context, streamID string, fromVersion int64) iter.Seq2[events.Event, error]
}

// CommitHook se invoca tras cada Append confirmado (p. ej. para despertar al dispatcher).
type CommitHook func(streamID string, newVersion int64)

// StampSequences devuelve una copia de evts con secuencias contiguas a partir de expectedVersion+1.
func StampSequences(streamID string, expectedVersion int64, evts []events.Event) []events.Event {
	out := make([]events.Event, len(evts))
	for i, evt := range evts {
		evt.StreamID = streamID
		evt.SequenceNumber = expectedVersion + int64(i) + 1
		evt.OccurredAt = evt.OccurredAt.UTC()
		out[i] = evt
	}
	return out
}
