package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	config "github.com/davicafu/eventorders/internal/config"
	orderApp "github.com/davicafu/eventorders/internal/order/application"
	orderDomain "github.com/davicafu/eventorders/internal/order/domain"
	orderEvents "github.com/davicafu/eventorders/internal/order/infra/inbound/events"
	orderHttp "github.com/davicafu/eventorders/internal/order/infra/inbound/http"
	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	shEvents "github.com/davicafu/eventorders/internal/shared/domain/events"
	infraEvents "github.com/davicafu/eventorders/internal/shared/infra/events"
	"github.com/davicafu/eventorders/internal/shared/infra/platform/analytics/clickhouse"
	sharedBus "github.com/davicafu/eventorders/internal/shared/infra/platform/bus"
	sharedCache "github.com/davicafu/eventorders/internal/shared/infra/platform/cache"
	platformDB "github.com/davicafu/eventorders/internal/shared/infra/platform/db"
	"github.com/davicafu/eventorders/internal/shared/infra/platform/db/memory"
	"github.com/davicafu/eventorders/internal/shared/infra/platform/db/mongodb"
	"github.com/davicafu/eventorders/internal/shared/infra/platform/db/postgres"
	"github.com/davicafu/eventorders/internal/shared/infra/platform/db/sqlite"
	"github.com/davicafu/eventorders/internal/shared/infra/platform/inbox"
	infraRelayer "github.com/davicafu/eventorders/internal/shared/infra/relayer"
	sharedUtils "github.com/davicafu/eventorders/internal/shared/infra/utils"
	"github.com/davicafu/eventorders/pkg/logger"
)

// orderStore es lo que ofrece cada driver: log de eventos, outbox y hook de commit.
type orderStore interface {
	sharedDomain.EventStore
	sharedDomain.OutboxRepository
	SetCommitHook(hook sharedDomain.CommitHook)
}

// ---------------- Main ----------------
func main() {
	cfg := config.LoadConfig()
	logger.Init(cfg.ServiceName) // inicializa zap
	log := logger.Logger()       // obtiene logger estructurado
	defer log.Sync()             // flush buffers al salir

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---------------- Store ----------------
	registry := shEvents.Merge(orderDomain.NewEventRegistry())
	enqueuer := sharedDomain.NewOutboxEnqueuer(registry, cfg.ServiceName)

	store, closeStore, err := openStore(ctx, cfg, enqueuer)
	if err != nil {
		log.Fatal("failed to open event store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer closeStore()
	log.Info("✅ Event store listo", zap.String("driver", cfg.StoreDriver))

	// ---------------- Cache / Inbox ----------------
	var cacheInstance sharedCache.Cache
	var inboxInstance sharedDomain.Inbox
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("⚠️ Redis no disponible, cache e inbox en memoria:", zap.Error(err))
		memCache := sharedCache.NewInMemoryCache(cfg.CacheTTL, 3*cfg.CacheTTL)
		defer memCache.Stop()
		cacheInstance = memCache
		inboxInstance = inbox.NewInMemoryInbox(cfg.InboxTTL)
	} else {
		cacheInstance = sharedCache.NewRedisCache(rdb, cfg.ServiceName+":", cfg.CacheTTL)
		inboxInstance = inbox.NewRedisInbox(rdb, cfg.ServiceName+":inbox:", cfg.InboxTTL)
		log.Info("✅ Redis conectado, cache de snapshots e inbox habilitados")
	}
	defer rdb.Close()

	// ---------------- Events ---------------
	var publisher sharedBus.EventBus
	var inMemoryBus *infraEvents.InMemoryEventBus
	if cfg.UseKafka {
		writer := infraEvents.NewKafkaWriter(cfg.KafkaBrokers)
		kafkaPublisher := infraEvents.NewKafkaPublisher(writer, log)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	} else {
		inMemoryBus = infraEvents.NewInMemoryEventBus()
		publisher = inMemoryBus
	}
	log.Info("🚌 Bus de eventos", zap.String("bus", sharedUtils.Ternary(cfg.UseKafka, "kafka", "memory")))

	// ------------ Outbox Dispatcher ------------
	var dispatcherOpts []infraRelayer.Option
	var deliveryReporter orderHttp.DeliveryReporter
	if cfg.ClickHouseAddr != "" {
		audit, err := clickhouse.NewDeliveryAuditRepo(cfg.ClickHouseAddr, cfg.ClickHouseDB)
		if err != nil {
			log.Warn("⚠️ ClickHouse no disponible, sin auditoría de entregas", zap.Error(err))
		} else if err := audit.InitSchema(); err != nil {
			log.Warn("⚠️ No se pudo crear la tabla de auditoría", zap.Error(err))
			audit.Close()
		} else {
			defer audit.Close()
			dispatcherOpts = append(dispatcherOpts, infraRelayer.WithAudit(audit))
			deliveryReporter = audit
		}
	}

	dispatcher := infraRelayer.NewDispatcher(store, publisher, infraRelayer.Config{
		Interval:       cfg.OutboxPeriod,
		BatchSize:      cfg.OutboxBatch,
		MaxAttempts:    cfg.OutboxMaxAttempts,
		Lease:          cfg.OutboxLease,
		PublishTimeout: cfg.OutboxPublishTimeout,
		BackoffBase:    cfg.OutboxBackoffBase,
		BackoffMax:     cfg.OutboxBackoffMax,
	}, log, dispatcherOpts...)
	store.SetCommitHook(func(string, int64) { dispatcher.Notify() })

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(ctx)
	}()

	// --------------- Servicio --------------
	eventStore := platformDB.NewRetryingStore(store, cfg.StoreRetry, 100*time.Millisecond, 2*time.Second, log)
	orderService := orderApp.NewOrderService(eventStore, cfg.CommandMaxAttempts, log, orderApp.WithSnapshotCache(cacheInstance))

	// ------------ Consumers ------------
	orderConsumer := orderEvents.NewOrderConsumer(orderService, log)
	handler := infraEvents.NewDedupHandler(inboxInstance, orderConsumer, log, infraEvents.WithHold(cfg.InboxHold))
	if cfg.UseKafka {
		reader := infraEvents.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaGroupID, orderConsumer.Topics()...)
		infraEvents.NewConsumerAdapter(reader, handler, log).Start(ctx)
	} else {
		for _, topic := range orderConsumer.Topics() {
			log.Info("🎧 Iniciando listener en memoria", zap.String("topic", topic))
			inMemoryBus.Consume(ctx, topic, handler)
		}
	}

	// ---------------- HTTP ----------------
	router := gin.Default()
	orderHttp.RegisterOrderRoutes(router, orderHttp.NewOrderHandler(orderService))
	orderHttp.RegisterOutboxRoutes(router, orderHttp.NewOutboxHandler(dispatcher))
	if deliveryReporter != nil {
		orderHttp.RegisterDeliveryStatsRoutes(router, orderHttp.NewDeliveryStatsHandler(deliveryReporter))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: router}
	go func() {
		log.Info("🚀 Server running", zap.String("url", "http://localhost:"+cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("🛑 Apagando servicio")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown", zap.Error(err))
	}
	<-dispatcherDone
}

// openStore abre el driver configurado y prepara su esquema.
func openStore(ctx context.Context, cfg *config.Config, enqueuer *sharedDomain.OutboxEnqueuer) (orderStore, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		return memory.NewEventStore(enqueuer), func() {}, nil

	case "postgres":
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.InitSchema(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return postgres.NewEventStore(db, enqueuer), func() { db.Close() }, nil

	case "mongodb":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() { _ = client.Disconnect(context.Background()) }
		store, err := mongodb.NewEventStore(ctx, client, cfg.MongoDB, enqueuer)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		if err := store.InitSchema(ctx); err != nil {
			closeFn()
			return nil, nil, err
		}
		return store, closeFn, nil

	default:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := sqlite.InitSchema(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return sqlite.NewEventStore(db, enqueuer), func() { db.Close() }, nil
	}
}
