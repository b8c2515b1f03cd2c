package memory

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	"github.com/davicafu/eventorders/internal/shared/domain/events"
	"github.com/google/uuid"
)

// stream guarda el log de un agregado. Cada stream tiene su propio lock,
// así que los Append a streams distintos no compiten entre sí.
type stream struct {
	mu     sync.Mutex
	events []events.Event
}

// EventStore implementa EventStore y OutboxRepository en memoria.
// No es durable: pensado para tests y despliegues locales sin base de datos.
type EventStore struct {
	streams  sync.Map // streamID -> *stream
	enqueuer *sharedDomain.OutboxEnqueuer
	onCommit sharedDomain.CommitHook
	now      func() time.Time

	outboxMu sync.Mutex
	outbox   map[uuid.UUID]*sharedDomain.OutboxEntry
}

type Option func(*EventStore)

func WithClock(now func() time.Time) Option {
	return func(s *EventStore) { s.now = now }
}

func WithCommitHook(hook sharedDomain.CommitHook) Option {
	return func(s *EventStore) { s.onCommit = hook }
}

func NewEventStore(enqueuer *sharedDomain.OutboxEnqueuer, opts ...Option) *EventStore {
	s := &EventStore{
		enqueuer: enqueuer,
		now:      func() time.Time { return time.Now().UTC() },
		outbox:   make(map[uuid.UUID]*sharedDomain.OutboxEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *EventStore) streamFor(id string) *stream {
	st, _ := s.streams.LoadOrStore(id, &stream{})
	return st.(*stream)
}

func (s *EventStore) SetClock(now func() time.Time) { s.now = now }

// SetCommitHook permite registrar el hook después de construir el store.
func (s *EventStore) SetCommitHook(hook sharedDomain.CommitHook) {
	s.onCommit = hook
}

// Append compara y escribe bajo el lock del stream; las entradas outbox se insertan
// antes de liberar el lock, de modo que eventos y outbox se hacen visibles juntos.
func (s *EventStore) Append(ctx context.Context, streamID string, expectedVersion int64, evts []events.Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	st := s.streamFor(streamID)
	st.mu.Lock()
	defer st.mu.Unlock()

	current := int64(len(st.events))
	if current != expectedVersion {
		return 0, &sharedDomain.ConcurrencyError{StreamID: streamID, Expected: expectedVersion, Actual: current}
	}
	if len(evts) == 0 {
		return current, nil
	}

	stamped := sharedDomain.StampSequences(streamID, expectedVersion, evts)
	entries, err := s.enqueuer.Enqueue(stamped, s.now())
	if err != nil {
		return 0, err
	}

	s.outboxMu.Lock()
	for i := range entries {
		entry := entries[i]
		s.outbox[entry.ID] = &entry
	}
	s.outboxMu.Unlock()

	st.events = append(st.events, stamped...)
	newVersion := current + int64(len(stamped))

	if s.onCommit != nil {
		s.onCommit(streamID, newVersion)
	}
	return newVersion, nil
}

// Read toma una instantánea del stream en cada iteración.
func (s *EventStore) Read(ctx context.Context, streamID string, fromVersion int64) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		v, ok := s.streams.Load(streamID)
		if !ok {
			return
		}
		st := v.(*stream)

		st.mu.Lock()
		var snapshot []events.Event
		if fromVersion < int64(len(st.events)) {
			from := fromVersion
			if from < 0 {
				from = 0
			}
			snapshot = append(snapshot, st.events[from:]...)
		}
		st.mu.Unlock()

		for _, evt := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(events.Event{}, err)
				return
			}
			if !yield(evt, nil) {
				return
			}
		}
	}
}

// Outbox devuelve una copia de todas las entradas, ordenadas por createdAt y secuencia.
func (s *EventStore) Outbox() []sharedDomain.OutboxEntry {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()
	return s.sortedLocked(func(sharedDomain.OutboxEntry) bool { return true })
}

func (s *EventStore) sortedLocked(keep func(sharedDomain.OutboxEntry) bool) []sharedDomain.OutboxEntry {
	var out []sharedDomain.OutboxEntry
	for _, e := range s.outbox {
		if keep(*e) {
			out = append(out, *e)
		}
	}
	sortEntries(out)
	return out
}

func sortEntries(out []sharedDomain.OutboxEntry) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if out[i].StreamID != out[j].StreamID {
			return out[i].StreamID < out[j].StreamID
		}
		return out[i].SequenceNumber < out[j].SequenceNumber
	})
}

// Verificación en tiempo de compilación.
var _ sharedDomain.EventStore = (*EventStore)(nil)
