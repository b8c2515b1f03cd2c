package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	"github.com/davicafu/eventorders/internal/shared/infra/platform/db/mongodb"
	"github.com/davicafu/eventorders/tests/storetest"
)

// TestMongoEventStore necesita un replica set: Append usa transacciones multi-documento.
func TestMongoEventStore(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI no está configurada, saltando test de integración con MongoDB")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	storetest.Run(t, func(t *testing.T, enqueuer *sharedDomain.OutboxEnqueuer) storetest.Store {
		dbName := "eventorders_test_" + uuid.NewString()[:8]
		t.Cleanup(func() { _ = client.Database(dbName).Drop(context.Background()) })

		store, err := mongodb.NewEventStore(context.Background(), client, dbName, enqueuer)
		require.NoError(t, err)
		require.NoError(t, store.InitSchema(context.Background()))
		return store
	})
}
