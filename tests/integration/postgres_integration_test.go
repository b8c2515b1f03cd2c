package integration

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	"github.com/davicafu/eventorders/internal/shared/infra/platform/db/postgres"
	"github.com/davicafu/eventorders/tests/storetest"
)

// TestPostgresEventStore ejecuta la batería común contra un Postgres real.
// Vacía las tablas antes de cada escenario: no usar contra una base compartida.
func TestPostgresEventStore(t *testing.T) {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		t.Skip("DATABASE_URL no está configurada, saltando test de integración con Postgres")
	}

	db, err := postgres.Open(connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Ping())
	require.NoError(t, postgres.InitSchema(db))

	storetest.Run(t, func(t *testing.T, enqueuer *sharedDomain.OutboxEnqueuer) storetest.Store {
		_, err := db.Exec(`TRUNCATE streams, events, outbox`)
		require.NoError(t, err)
		return postgres.NewEventStore(db, enqueuer)
	})
}
