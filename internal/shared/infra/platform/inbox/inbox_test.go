package inbox

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
)

func TestInMemoryInbox_ClaimConfirmAndTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	in := NewInMemoryInbox(time.Hour)
	in.SetClock(func() time.Time { return now })

	claim, err := in.Claim(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, sharedDomain.InboxClaimed, claim)

	claim, err = in.Claim(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, sharedDomain.InboxInFlight, claim)

	require.NoError(t, in.Confirm(ctx, "evt-1"))
	now = now.Add(30 * time.Minute)
	claim, err = in.Claim(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, sharedDomain.InboxDone, claim, "confirmado dura el TTL del inbox, no el de la reserva")

	now = now.Add(31 * time.Minute)
	claim, err = in.Claim(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, sharedDomain.InboxClaimed, claim, "pasado el TTL el id vuelve a contar como nuevo")
}

func TestInMemoryInbox_UnconfirmedClaimExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	in := NewInMemoryInbox(time.Hour)
	in.SetClock(func() time.Time { return now })

	_, err := in.Claim(ctx, "evt-1", time.Minute)
	require.NoError(t, err)

	now = now.Add(61 * time.Second)
	claim, err := in.Claim(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, sharedDomain.InboxClaimed, claim)
}

func TestInMemoryInbox_Forget(t *testing.T) {
	ctx := context.Background()
	in := NewInMemoryInbox(time.Hour)

	_, _ = in.Claim(ctx, "evt-1", time.Minute)
	require.NoError(t, in.Forget(ctx, "evt-1"))

	claim, err := in.Claim(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, sharedDomain.InboxClaimed, claim)
}

func TestInMemoryInbox_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in := NewInMemoryInbox(time.Hour)

	_, err := in.Claim(ctx, "evt-1", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, in.Confirm(ctx, "evt-1"), context.Canceled)
	assert.ErrorIs(t, in.Forget(ctx, "evt-1"), context.Canceled)
}

func TestRedisInbox(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR no definido")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(ctx).Err())

	in := NewRedisInbox(client, "test:inbox:"+uuid.NewString()+":", time.Minute)

	claim, err := in.Claim(ctx, "evt-1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, sharedDomain.InboxClaimed, claim)

	claim, err = in.Claim(ctx, "evt-1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, sharedDomain.InboxInFlight, claim)

	require.NoError(t, in.Confirm(ctx, "evt-1"))
	claim, err = in.Claim(ctx, "evt-1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, sharedDomain.InboxDone, claim)

	require.NoError(t, in.Forget(ctx, "evt-1"))
	claim, err = in.Claim(ctx, "evt-1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, sharedDomain.InboxClaimed, claim)
}
