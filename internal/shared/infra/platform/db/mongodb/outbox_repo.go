package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoOutboxEntry es un helper para mapear los documentos de la base de datos a un struct.
type mongoOutboxEntry struct {
	ID             string     `bson:"_id"`
	StreamID       string     `bson:"streamId"`
	SequenceNumber int64      `bson:"sequenceNumber"`
	CorrelationID  string     `bson:"correlationId"`
	EventType      string     `bson:"eventType"`
	Topic          string     `bson:"topic"`
	Payload        []byte     `bson:"payload"`
	Status         string     `bson:"status"`
	CreatedAt      time.Time  `bson:"createdAt"`
	PublishedAt    *time.Time `bson:"publishedAt"`
	AttemptCount   int        `bson:"attemptCount"`
	NextAttemptAt  time.Time  `bson:"nextAttemptAt"`
	LeaseOwner     string     `bson:"leaseOwner"`
	LeaseUntil     *time.Time `bson:"leaseUntil"`
	LastError      string     `bson:"lastError"`
}

func toMongoOutbox(e sharedDomain.OutboxEntry) mongoOutboxEntry {
	return mongoOutboxEntry{
		ID:             e.ID.String(),
		StreamID:       e.StreamID,
		SequenceNumber: e.SequenceNumber,
		CorrelationID:  e.CorrelationID,
		EventType:      e.EventType,
		Topic:          e.Topic,
		Payload:        e.Payload,
		Status:         string(e.Status),
		CreatedAt:      e.CreatedAt,
		AttemptCount:   e.AttemptCount,
		NextAttemptAt:  e.NextAttemptAt,
	}
}

// fromMongoOutbox es un helper para convertir de BSON a nuestro tipo de dominio.
func fromMongoOutbox(mo mongoOutboxEntry) (sharedDomain.OutboxEntry, error) {
	id, err := uuid.Parse(mo.ID)
	if err != nil {
		return sharedDomain.OutboxEntry{}, fmt.Errorf("invalid UUID in outbox document: %w", err)
	}
	e := sharedDomain.OutboxEntry{
		ID:             id,
		StreamID:       mo.StreamID,
		SequenceNumber: mo.SequenceNumber,
		CorrelationID:  mo.CorrelationID,
		EventType:      mo.EventType,
		Topic:          mo.Topic,
		Payload:        mo.Payload,
		Status:         sharedDomain.OutboxStatus(mo.Status),
		CreatedAt:      mo.CreatedAt.UTC(),
		AttemptCount:   mo.AttemptCount,
		NextAttemptAt:  mo.NextAttemptAt.UTC(),
		LeaseOwner:     mo.LeaseOwner,
		LastError:      mo.LastError,
	}
	if mo.PublishedAt != nil {
		t := mo.PublishedAt.UTC()
		e.PublishedAt = &t
	}
	if mo.LeaseUntil != nil {
		t := mo.LeaseUntil.UTC()
		e.LeaseUntil = &t
	}
	return e, nil
}

// claimableFilter exige Pending, vencida y sin lease vigente.
func claimableFilter(now time.Time) bson.M {
	return bson.M{
		"status":        string(sharedDomain.OutboxPending),
		"nextAttemptAt": bson.M{"$lte": now},
		"$or": bson.A{
			bson.M{"leaseUntil": nil},
			bson.M{"leaseUntil": bson.M{"$lt": now}},
		},
	}
}

// outboxHead es la pendiente de menor secuencia de un stream.
type outboxHead struct {
	ID             string    `bson:"_id"`
	StreamID       string    `bson:"streamId"`
	SequenceNumber int64     `bson:"sequenceNumber"`
	CreatedAt      time.Time `bson:"createdAt"`
}

// pendingHeads agrupa las pendientes por stream y se queda con la de menor secuencia.
func (s *EventStore) pendingHeads(ctx context.Context) ([]outboxHead, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"status": string(sharedDomain.OutboxPending)}}},
		{{Key: "$sort", Value: bson.D{{Key: "streamId", Value: 1}, {Key: "sequenceNumber", Value: 1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$streamId"},
			{Key: "entryId", Value: bson.M{"$first": "$_id"}},
			{Key: "sequenceNumber", Value: bson.M{"$first": "$sequenceNumber"}},
			{Key: "createdAt", Value: bson.M{"$first": "$createdAt"}},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: "$entryId"},
			{Key: "streamId", Value: "$_id"},
			{Key: "sequenceNumber", Value: 1},
			{Key: "createdAt", Value: 1},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: 1}, {Key: "streamId", Value: 1}}}},
	}
	cursor, err := s.outboxColl.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var heads []outboxHead
	if err := cursor.All(ctx, &heads); err != nil {
		return nil, err
	}
	return heads, nil
}

// ClaimPending arrienda la cabeza de cada stream, en orden de createdAt entre streams.
// Cada lease se toma con FindOneAndUpdate condicionado, así dos dispatchers no comparten entrada.
func (s *EventStore) ClaimPending(ctx context.Context, owner string, limit int, now time.Time, lease time.Duration) ([]sharedDomain.OutboxEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	heads, err := s.pendingHeads(ctx)
	if err != nil {
		return nil, sharedDomain.Unavailable("claim outbox", err)
	}

	until := now.Add(lease)
	after := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var claimed []sharedDomain.OutboxEntry
	for _, head := range heads {
		if len(claimed) >= limit {
			break
		}
		filter := claimableFilter(now)
		filter["_id"] = head.ID

		var mo mongoOutboxEntry
		err := s.outboxColl.FindOneAndUpdate(ctx, filter,
			bson.M{"$set": bson.M{"leaseOwner": owner, "leaseUntil": until}}, after,
		).Decode(&mo)
		if errors.Is(err, mongo.ErrNoDocuments) {
			// No vencida todavía o arrendada por otro dispatcher: el stream espera.
			continue
		}
		if err != nil {
			return nil, sharedDomain.Unavailable("lease outbox entry", err)
		}
		e, err := fromMongoOutbox(mo)
		if err != nil {
			return nil, sharedDomain.Serialization("decode outbox entry", err)
		}
		claimed = append(claimed, e)
	}
	return claimed, nil
}

func (s *EventStore) leasedUpdate(ctx context.Context, id uuid.UUID, owner string, set bson.M) error {
	filter := bson.M{"_id": id.String(), "leaseOwner": owner, "status": string(sharedDomain.OutboxPending)}

	res, err := s.outboxColl.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return sharedDomain.Unavailable(fmt.Sprintf("update outbox entry %s", id), err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := s.outboxColl.CountDocuments(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return sharedDomain.Unavailable(fmt.Sprintf("lookup outbox entry %s", id), err)
	}
	if n == 0 {
		return sharedDomain.ErrOutboxNotFound
	}
	return sharedDomain.ErrLeaseLost
}

func (s *EventStore) MarkPublished(ctx context.Context, id uuid.UUID, owner string, at time.Time) error {
	return s.leasedUpdate(ctx, id, owner, bson.M{
		"status":      string(sharedDomain.OutboxPublished),
		"publishedAt": at,
		"leaseOwner":  "",
		"leaseUntil":  nil,
		"lastError":   "",
	})
}

func (s *EventStore) MarkRetry(ctx context.Context, id uuid.UUID, owner string, attempts int, nextAttemptAt time.Time, lastErr string) error {
	return s.leasedUpdate(ctx, id, owner, bson.M{
		"attemptCount":  attempts,
		"nextAttemptAt": nextAttemptAt,
		"lastError":     lastErr,
		"leaseOwner":    "",
		"leaseUntil":    nil,
	})
}

func (s *EventStore) MarkFailed(ctx context.Context, id uuid.UUID, owner string, attempts int, lastErr string) error {
	return s.leasedUpdate(ctx, id, owner, bson.M{
		"status":       string(sharedDomain.OutboxFailed),
		"attemptCount": attempts,
		"lastError":    lastErr,
		"leaseOwner":   "",
		"leaseUntil":   nil,
	})
}

func (s *EventStore) ListFailed(ctx context.Context, limit int) ([]sharedDomain.OutboxEntry, error) {
	// En Mongo un límite 0 significa "sin límite".
	if limit <= 0 {
		return nil, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "sequenceNumber", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := s.outboxColl.Find(ctx, bson.M{"status": string(sharedDomain.OutboxFailed)}, opts)
	if err != nil {
		return nil, sharedDomain.Unavailable("list failed outbox", err)
	}
	defer cursor.Close(ctx)

	var failed []sharedDomain.OutboxEntry
	for cursor.Next(ctx) {
		var mo mongoOutboxEntry
		if err := cursor.Decode(&mo); err != nil {
			return nil, err
		}
		e, err := fromMongoOutbox(mo)
		if err != nil {
			return nil, err
		}
		failed = append(failed, e)
	}
	return failed, cursor.Err()
}

func (s *EventStore) Requeue(ctx context.Context, id uuid.UUID, now time.Time) error {
	res, err := s.outboxColl.UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": string(sharedDomain.OutboxFailed)},
		bson.M{"$set": bson.M{
			"status":        string(sharedDomain.OutboxPending),
			"attemptCount":  0,
			"nextAttemptAt": now,
			"lastError":     "",
		}},
	)
	if err != nil {
		return sharedDomain.Unavailable(fmt.Sprintf("requeue outbox entry %s", id), err)
	}
	if res.MatchedCount == 0 {
		return sharedDomain.ErrOutboxNotFound
	}
	return nil
}

// Verificación en tiempo de compilación.
var _ sharedDomain.OutboxRepository = (*EventStore)(nil)
