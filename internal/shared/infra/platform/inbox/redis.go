package inbox

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
)

const (
	markProcessing = "processing"
	markDone       = "done"
)

// RedisInbox reserva ids con SETNX y un TTL corto; al confirmar, el TTL pasa a ser el del inbox.
// El TTL debe superar la ventana máxima de redelivery del broker.
type RedisInbox struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisInbox(client *redis.Client, prefix string, ttl time.Duration) *RedisInbox {
	return &RedisInbox{client: client, prefix: prefix, ttl: ttl}
}

func (i *RedisInbox) Claim(ctx context.Context, eventID string, hold time.Duration) (sharedDomain.InboxClaim, error) {
	key := i.prefix + eventID
	ok, err := i.client.SetNX(ctx, key, markProcessing, hold).Result()
	if err != nil {
		return sharedDomain.InboxInFlight, err
	}
	if ok {
		return sharedDomain.InboxClaimed, nil
	}

	val, err := i.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// La reserva venció entre SETNX y GET: el siguiente intento la tomará.
		return sharedDomain.InboxInFlight, nil
	}
	if err != nil {
		return sharedDomain.InboxInFlight, err
	}
	if val == markDone {
		return sharedDomain.InboxDone, nil
	}
	return sharedDomain.InboxInFlight, nil
}

func (i *RedisInbox) Confirm(ctx context.Context, eventID string) error {
	return i.client.Set(ctx, i.prefix+eventID, markDone, i.ttl).Err()
}

func (i *RedisInbox) Forget(ctx context.Context, eventID string) error {
	return i.client.Del(ctx, i.prefix+eventID).Err()
}

var _ sharedDomain.Inbox = (*RedisInbox)(nil)
