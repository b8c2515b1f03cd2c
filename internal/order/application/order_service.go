package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	orderDomain "github.com/davicafu/eventorders/internal/order/domain"
	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	"github.com/davicafu/eventorders/internal/shared/domain/events"
	sharedCache "github.com/davicafu/eventorders/internal/shared/infra/platform/cache"
)

const snapshotTTLSecs = 300

// Result es lo que devuelve un comando confirmado.
type Result struct {
	NewVersion int64
	Events     []events.Event
}

// OrderService define los casos de uso del pedido sobre el event store.
type OrderService struct {
	store       sharedDomain.EventStore
	cache       sharedCache.Cache
	maxAttempts int
	now         func() time.Time
	log         *zap.Logger
}

type Option func(*OrderService)

// WithSnapshotCache activa la carga desde snapshot más replay de la cola.
func WithSnapshotCache(c sharedCache.Cache) Option {
	return func(s *OrderService) { s.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *OrderService) { s.now = now }
}

// NewOrderService es el constructor. maxAttempts acota los reintentos ante ConcurrencyError.
func NewOrderService(store sharedDomain.EventStore, maxAttempts int, log *zap.Logger, opts ...Option) *OrderService {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	s := &OrderService{
		store:       store,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		log:         log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExecuteCommand carga el pedido, ejecuta el comando y confirma los eventos con control optimista.
// Ante ConcurrencyError recarga y reintenta hasta maxAttempts; después devuelve el conflicto.
func (s *OrderService) ExecuteCommand(ctx context.Context, orderID string, cmd orderDomain.Command, correlationID string) (Result, error) {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logFields := []zap.Field{
		zap.String("order_id", orderID),
		zap.String("command", cmd.Name()),
		zap.String("correlation_id", correlationID),
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		res, err := s.executeOnce(ctx, orderID, cmd, correlationID)
		if err == nil {
			s.log.Info("✅ Comando aplicado", append(logFields, zap.Int64("version", res.NewVersion), zap.Int("events", len(res.Events)))...)
			return res, nil
		}

		switch {
		case errors.Is(err, sharedDomain.ErrConcurrency):
			lastErr = err
			s.log.Debug("Conflicto de versión, recargando", append(logFields, zap.Int("attempt", attempt))...)
			continue
		case errors.Is(err, sharedDomain.ErrDomainRule):
			s.log.Warn("Regla de negocio violada", append(logFields, zap.Error(err))...)
		case errors.Is(err, sharedDomain.ErrSerialization):
			s.log.Error("❌ Error de serialización en el stream", append(logFields, zap.Error(err))...)
		default:
			s.log.Error("Fallo al ejecutar el comando", append(logFields, zap.Error(err))...)
		}
		return Result{}, err
	}

	s.log.Warn("⚠️ Reintentos por concurrencia agotados", append(logFields, zap.Int("attempts", s.maxAttempts), zap.Error(lastErr))...)
	return Result{}, lastErr
}

func (s *OrderService) executeOnce(ctx context.Context, orderID string, cmd orderDomain.Command, correlationID string) (Result, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	expected := order.Version()

	produced, err := cmd.Execute(order, orderDomain.Metadata{CorrelationID: correlationID, At: s.now()})
	if err != nil {
		return Result{}, err
	}

	newVersion, err := s.store.Append(ctx, orderID, expected, order.Uncommitted())
	if err != nil {
		return Result{}, err
	}

	committed := sharedDomain.StampSequences(orderID, expected, produced)
	order.MarkCommitted(newVersion)
	s.saveSnapshot(ctx, order)
	return Result{NewVersion: newVersion, Events: committed}, nil
}

// GetOrder devuelve el estado actual y su versión. Un pedido inexistente es DomainRuleViolation.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (orderDomain.Snapshot, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return orderDomain.Snapshot{}, err
	}
	if order.Version() == 0 {
		return orderDomain.Snapshot{}, sharedDomain.NewDomainRuleViolation(orderDomain.RuleNotFound, "order %s does not exist", orderID)
	}
	return order.Snapshot(), nil
}

// load parte del snapshot si lo hay y reproduce sólo la cola del stream.
func (s *OrderService) load(ctx context.Context, orderID string) (*orderDomain.Order, error) {
	order := orderDomain.NewOrder(orderID)
	fromSnapshot := false

	if s.cache != nil {
		var snap orderDomain.Snapshot
		if hit, err := s.cache.Get(ctx, orderDomain.OrderSnapshotKey(orderID), &snap); err != nil {
			s.log.Debug("Snapshot no disponible, replay completo", zap.String("order_id", orderID), zap.Error(err))
		} else if hit && snap.Version > 0 {
			order = orderDomain.FromSnapshot(orderID, snap)
			fromSnapshot = true
		}
	}

	err := sharedDomain.Rehydrate(ctx, s.store, order)
	if err != nil && fromSnapshot && errors.Is(err, sharedDomain.ErrSerialization) {
		// Snapshot incoherente con el stream: se descarta y se reproduce desde cero.
		s.log.Warn("Snapshot descartado", zap.String("order_id", orderID), zap.Error(err))
		order = orderDomain.NewOrder(orderID)
		err = sharedDomain.Rehydrate(ctx, s.store, order)
	}
	if err != nil {
		return nil, err
	}

	if order.Version() > 0 {
		s.saveSnapshot(ctx, order)
	}
	return order, nil
}

func (s *OrderService) saveSnapshot(ctx context.Context, order *orderDomain.Order) {
	sharedCache.AsyncCacheSet(ctx, s.cache, orderDomain.OrderSnapshotKey(order.AggregateID()), order.Snapshot(), snapshotTTLSecs, s.log)
}
