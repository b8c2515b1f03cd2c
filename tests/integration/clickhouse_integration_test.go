package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	"github.com/davicafu/eventorders/internal/shared/infra/platform/analytics/clickhouse"
)

func TestDeliveryAudit_RecordAndSummary(t *testing.T) {
	addr := os.Getenv("CLICKHOUSE_ADDR")
	if addr == "" {
		t.Skip("CLICKHOUSE_ADDR no está configurada, saltando test de integración con ClickHouse")
	}

	repo, err := clickhouse.NewDeliveryAuditRepo(addr, "default")
	require.NoError(t, err)
	defer repo.Close()
	require.NoError(t, repo.InitSchema())

	ctx := context.Background()
	now := time.Now().UTC()
	eventType := "orders.test." + uuid.NewString()[:8]
	recs := []sharedDomain.DeliveryRecord{
		{EntryID: uuid.New(), StreamID: "o-1", EventType: eventType, Status: sharedDomain.OutboxPublished, Attempts: 1, At: now},
		{EntryID: uuid.New(), StreamID: "o-2", EventType: eventType, Status: sharedDomain.OutboxPublished, Attempts: 3, At: now},
		{EntryID: uuid.New(), StreamID: "o-3", EventType: eventType, Status: sharedDomain.OutboxFailed, Attempts: 10, LastError: "poison", At: now},
	}
	require.NoError(t, repo.LogBatch(ctx, recs[:2]))
	require.NoError(t, repo.Record(ctx, recs[2]))

	stats, err := repo.Summary(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)

	var found *sharedDomain.DeliveryStats
	for i := range stats {
		if stats[i].EventType == eventType {
			found = &stats[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, uint64(2), found.Published)
	assert.Equal(t, uint64(1), found.Failed)
	assert.InDelta(t, 14.0/3.0, found.AvgAttempts, 0.01)
}
