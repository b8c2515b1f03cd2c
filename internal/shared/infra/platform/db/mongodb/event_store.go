package mongodb

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	"github.com/davicafu/eventorders/internal/shared/domain/events"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// EventStore implementa EventStore y OutboxRepository para MongoDB.
// Requiere un replica set: Append usa transacciones multi-documento.
type EventStore struct {
	client      *mongo.Client
	streamsColl *mongo.Collection
	eventsColl  *mongo.Collection
	outboxColl  *mongo.Collection
	enqueuer    *sharedDomain.OutboxEnqueuer
	onCommit    sharedDomain.CommitHook
	now         func() time.Time
}

// NewEventStore es el constructor del repositorio.
func NewEventStore(ctx context.Context, client *mongo.Client, dbName string, enqueuer *sharedDomain.OutboxEnqueuer) (*EventStore, error) {
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not ping mongoDB: %w", err)
	}

	db := client.Database(dbName)
	return &EventStore{
		client:      client,
		streamsColl: db.Collection("streams"),
		eventsColl:  db.Collection("events"),
		outboxColl:  db.Collection("outbox"),
		enqueuer:    enqueuer,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *EventStore) SetCommitHook(hook sharedDomain.CommitHook) { s.onCommit = hook }

func (s *EventStore) SetClock(now func() time.Time) { s.now = now }

// InitSchema crea los índices que sostienen la unicidad (stream, secuencia) y el claim del outbox.
func (s *EventStore) InitSchema(ctx context.Context) error {
	if _, err := s.eventsColl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "streamId", Value: 1}, {Key: "sequenceNumber", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("failed to create events index: %w", err)
	}
	_, err := s.outboxColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "streamId", Value: 1}, {Key: "sequenceNumber", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "sequenceNumber", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "streamId", Value: 1}, {Key: "sequenceNumber", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create outbox indexes: %w", err)
	}
	return nil
}

// --- Structs de BSON para el mapeo ---
// Se definen localmente para no "contaminar" el dominio con tags de BSON.

type mongoStream struct {
	ID      string `bson:"_id"`
	Version int64  `bson:"version"`
}

// occurredAt se guarda como texto: BSON Date trunca a milisegundos.
type mongoEvent struct {
	StreamID       string `bson:"streamId"`
	SequenceNumber int64  `bson:"sequenceNumber"`
	Type           string `bson:"eventType"`
	Payload        []byte `bson:"payload"`
	OccurredAt     string `bson:"occurredAt"`
	CorrelationID  string `bson:"correlationId"`
}

func toMongoEvent(e events.Event) mongoEvent {
	return mongoEvent{
		StreamID:       e.StreamID,
		SequenceNumber: e.SequenceNumber,
		Type:           e.Type,
		Payload:        e.Payload,
		OccurredAt:     e.OccurredAt.UTC().Format(time.RFC3339Nano),
		CorrelationID:  e.CorrelationID,
	}
}

func fromMongoEvent(me mongoEvent) (events.Event, error) {
	at, err := time.Parse(time.RFC3339Nano, me.OccurredAt)
	if err != nil {
		return events.Event{}, err
	}
	return events.Event{
		StreamID:       me.StreamID,
		SequenceNumber: me.SequenceNumber,
		Type:           me.Type,
		Payload:        me.Payload,
		OccurredAt:     at.UTC(),
		CorrelationID:  me.CorrelationID,
	}, nil
}

func (s *EventStore) currentVersion(ctx context.Context, streamID string) (int64, error) {
	var ms mongoStream
	err := s.streamsColl.FindOne(ctx, bson.M{"_id": streamID}).Decode(&ms)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	return ms.Version, err
}

// casVersion mueve el stream de expected a next dentro de la sesión.
func (s *EventStore) casVersion(sessCtx mongo.SessionContext, streamID string, expected, next int64) (bool, error) {
	if expected == 0 {
		_, err := s.streamsColl.InsertOne(sessCtx, mongoStream{ID: streamID, Version: next})
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return err == nil, err
	}
	res, err := s.streamsColl.UpdateOne(sessCtx,
		bson.M{"_id": streamID, "version": expected},
		bson.M{"$set": bson.M{"version": next}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// --- Append Transaccional ---

func (s *EventStore) Append(ctx context.Context, streamID string, expectedVersion int64, evts []events.Event) (int64, error) {
	if len(evts) == 0 {
		current, err := s.currentVersion(ctx, streamID)
		if err != nil {
			return 0, sharedDomain.Unavailable("read version", err)
		}
		if current != expectedVersion {
			return 0, &sharedDomain.ConcurrencyError{StreamID: streamID, Expected: expectedVersion, Actual: current}
		}
		return current, nil
	}

	stamped := sharedDomain.StampSequences(streamID, expectedVersion, evts)
	entries, err := s.enqueuer.Enqueue(stamped, s.now())
	if err != nil {
		return 0, err
	}
	newVersion := expectedVersion + int64(len(stamped))

	session, err := s.client.StartSession()
	if err != nil {
		return 0, sharedDomain.Unavailable("start session", err)
	}
	defer session.EndSession(ctx)

	// La transacción asegura que versión, eventos y outbox sean atómicos.
	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		// 1. CAS sobre la versión del stream
		ok, err := s.casVersion(sessCtx, streamID, expectedVersion, newVersion)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &sharedDomain.ConcurrencyError{StreamID: streamID, Expected: expectedVersion}
		}

		// 2. Insertar los eventos
		docs := make([]interface{}, 0, len(stamped))
		for _, evt := range stamped {
			docs = append(docs, toMongoEvent(evt))
		}
		if _, err := s.eventsColl.InsertMany(sessCtx, docs); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, &sharedDomain.ConcurrencyError{StreamID: streamID, Expected: expectedVersion}
			}
			return nil, err
		}

		// 3. Insertar las entradas de outbox
		if len(entries) > 0 {
			outboxDocs := make([]interface{}, 0, len(entries))
			for _, e := range entries {
				outboxDocs = append(outboxDocs, toMongoOutbox(e))
			}
			if _, err := s.outboxColl.InsertMany(sessCtx, outboxDocs); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		var ce *sharedDomain.ConcurrencyError
		if errors.As(err, &ce) {
			// Un error dentro de la transacción la aborta: la versión real se lee fuera de la sesión.
			if actual, verr := s.currentVersion(ctx, streamID); verr == nil {
				ce.Actual = actual
			}
			return 0, ce
		}
		return 0, sharedDomain.Unavailable("append transaction", err)
	}

	if s.onCommit != nil {
		s.onCommit(streamID, newVersion)
	}
	return newVersion, nil
}

// Read recorre el cursor perezosamente; cada range lanza una consulta nueva.
func (s *EventStore) Read(ctx context.Context, streamID string, fromVersion int64) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		filter := bson.M{"streamId": streamID, "sequenceNumber": bson.M{"$gt": fromVersion}}
		opts := options.Find().SetSort(bson.D{{Key: "sequenceNumber", Value: 1}})

		cursor, err := s.eventsColl.Find(ctx, filter, opts)
		if err != nil {
			yield(events.Event{}, sharedDomain.Unavailable("read stream", err))
			return
		}
		defer cursor.Close(ctx)

		for cursor.Next(ctx) {
			var me mongoEvent
			if err := cursor.Decode(&me); err != nil {
				yield(events.Event{}, sharedDomain.Serialization("decode event", err))
				return
			}
			evt, err := fromMongoEvent(me)
			if err != nil {
				yield(events.Event{}, sharedDomain.Serialization("parse occurredAt", err))
				return
			}
			if !yield(evt, nil) {
				return
			}
		}
		if err := cursor.Err(); err != nil {
			yield(events.Event{}, sharedDomain.Unavailable("iterate stream", err))
		}
	}
}

// Verificación en tiempo de compilación.
var _ sharedDomain.EventStore = (*EventStore)(nil)
