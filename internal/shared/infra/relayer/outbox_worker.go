package relayer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	sharedBus "github.com/davicafu/eventorders/internal/shared/infra/platform/bus"
)

// Config agrupa los parámetros del dispatcher. Los ceros toman los valores por defecto.
type Config struct {
	Owner          string
	Interval       time.Duration
	BatchSize      int
	MaxAttempts    int
	Lease          time.Duration
	PublishTimeout time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Owner == "" {
		host, _ := os.Hostname()
		c.Owner = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.Lease <= c.PublishTimeout {
		c.Lease = 2*c.PublishTimeout + time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = 5 * time.Minute
	}
	return c
}

// Dispatcher publica las entradas pendientes del outbox con entrega al-menos-una-vez.
// Varias instancias pueden convivir: cada entrada se arrienda antes de publicarse.
type Dispatcher struct {
	repo      sharedDomain.OutboxRepository
	publisher sharedBus.EventBus
	audit     sharedDomain.DeliveryAudit
	cfg       Config
	log       *zap.Logger
	now       func() time.Time
	wake      chan struct{}
}

type Option func(*Dispatcher)

// WithAudit registra cada desenlace terminal en el sink dado.
func WithAudit(audit sharedDomain.DeliveryAudit) Option {
	return func(d *Dispatcher) { d.audit = audit }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(
	repo sharedDomain.OutboxRepository,
	publisher sharedBus.EventBus,
	cfg Config,
	log *zap.Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Owner() string { return d.cfg.Owner }

// Notify despierta el bucle sin esperar al siguiente tick. No bloquea.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run ejecuta el bucle de polling hasta que ctx se cancele.
// Las publicaciones en curso terminan antes de volver.
func (d *Dispatcher) Run(ctx context.Context) {
	timer := time.NewTimer(d.cfg.Interval)
	defer timer.Stop()

	d.log.Info("🚀 Outbox dispatcher iniciado",
		zap.String("owner", d.cfg.Owner),
		zap.Duration("interval", d.cfg.Interval),
		zap.Int("batch_size", d.cfg.BatchSize),
	)

	for {
		n, err := d.ProcessBatch(ctx)
		if err != nil && ctx.Err() == nil {
			d.log.Warn("⚠️ Error al reclamar entradas pendientes", zap.Error(err))
		}
		if ctx.Err() != nil {
			d.log.Info("🛑 Outbox dispatcher detenido.")
			return
		}
		if n > 0 {
			// Puede quedar más trabajo: el siguiente del mismo stream ya es reclamable.
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d.cfg.Interval)

		select {
		case <-ctx.Done():
			d.log.Info("🛑 Outbox dispatcher detenido.")
			return
		case <-d.wake:
		case <-timer.C:
		}
	}
}

// ProcessBatch reclama un lote, lo publica y devuelve cuántas entradas reclamó.
func (d *Dispatcher) ProcessBatch(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	entries, err := d.repo.ClaimPending(ctx, d.cfg.Owner, d.cfg.BatchSize, d.now(), d.cfg.Lease)
	if err != nil {
		return 0, err
	}
	if len(entries) > 0 {
		d.log.Debug(fmt.Sprintf("📬 %d entradas reclamadas para publicar", len(entries)))
	}

	// Como mucho una entrada por stream, así que publicarlas en paralelo no rompe el orden.
	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func(e sharedDomain.OutboxEntry) {
			defer wg.Done()
			d.deliver(ctx, e)
		}(entry)
	}
	wg.Wait()
	return len(entries), nil
}

func (d *Dispatcher) deliver(ctx context.Context, entry sharedDomain.OutboxEntry) {
	// Publicación y marca sobreviven a la cancelación de ctx para no dejar trabajo a medias al apagar.
	bg := context.WithoutCancel(ctx)
	pubCtx, cancel := context.WithTimeout(bg, d.cfg.PublishTimeout)
	defer cancel()

	logFields := []zap.Field{
		zap.String("entry_id", entry.ID.String()),
		zap.String("stream_id", entry.StreamID),
		zap.Int64("sequence_number", entry.SequenceNumber),
		zap.String("event_type", entry.EventType),
		zap.String("correlation_id", entry.CorrelationID),
	}

	err := d.publisher.Publish(pubCtx, sharedBus.Message{
		Topic:         entry.Topic,
		Key:           entry.StreamID,
		ID:            entry.ID.String(),
		Type:          entry.EventType,
		CorrelationID: entry.CorrelationID,
		Payload:       entry.Payload,
	})
	now := d.now()

	if err == nil {
		if merr := d.repo.MarkPublished(bg, entry.ID, d.cfg.Owner, now); merr != nil {
			d.logMarkError("published", merr, logFields)
			return
		}
		d.log.Info("✅ Evento publicado y marcado", logFields...)
		d.record(bg, entry, sharedDomain.OutboxPublished, entry.AttemptCount, "", now)
		return
	}

	attempts := entry.AttemptCount + 1
	lastErr := err.Error()
	logFields = append(logFields, zap.Int("attempts", attempts), zap.Error(err))

	if attempts >= d.cfg.MaxAttempts {
		if merr := d.repo.MarkFailed(bg, entry.ID, d.cfg.Owner, attempts, lastErr); merr != nil {
			d.logMarkError("failed", merr, logFields)
			return
		}
		d.log.Error("❌ Entrada de outbox agotó sus reintentos", logFields...)
		d.record(bg, entry, sharedDomain.OutboxFailed, attempts, lastErr, now)
		return
	}

	delay := d.RetryDelay(attempts)
	if merr := d.repo.MarkRetry(bg, entry.ID, d.cfg.Owner, attempts, now.Add(delay), lastErr); merr != nil {
		d.logMarkError("retry", merr, logFields)
		return
	}
	d.log.Warn("⚠️ No se pudo publicar evento, se reintentará", append(logFields, zap.Duration("retry_in", delay))...)
}

// RetryDelay es el backoff exponencial sin jitter para el intento fallido número attempts.
func (d *Dispatcher) RetryDelay(attempts int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     d.cfg.BackoffBase,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         d.cfg.BackoffMax,
	}
	b.Reset()
	delay := d.cfg.BackoffBase
	for i := 0; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (d *Dispatcher) logMarkError(mark string, err error, fields []zap.Field) {
	fields = append(fields, zap.String("mark", mark), zap.Error(err))
	if errors.Is(err, sharedDomain.ErrLeaseLost) {
		// Otro dispatcher tomó la entrada tras vencer el lease; puede haber un duplicado aguas abajo.
		d.log.Warn("⚠️ Lease perdido antes de marcar la entrada", fields...)
		return
	}
	d.log.Warn("⚠️ No se pudo marcar la entrada de outbox", fields...)
}

func (d *Dispatcher) record(ctx context.Context, entry sharedDomain.OutboxEntry, status sharedDomain.OutboxStatus, attempts int, lastErr string, at time.Time) {
	if d.audit == nil {
		return
	}
	err := d.audit.Record(ctx, sharedDomain.DeliveryRecord{
		EntryID:       entry.ID,
		StreamID:      entry.StreamID,
		EventType:     entry.EventType,
		CorrelationID: entry.CorrelationID,
		Status:        status,
		Attempts:      attempts,
		LastError:     lastErr,
		At:            at,
	})
	if err != nil {
		d.log.Warn("No se pudo registrar la auditoría de entrega", zap.String("entry_id", entry.ID.String()), zap.Error(err))
	}
}

// --- Superficie de operador ---

func (d *Dispatcher) ListFailed(ctx context.Context, limit int) ([]sharedDomain.OutboxEntry, error) {
	return d.repo.ListFailed(ctx, limit)
}

// Requeue devuelve una entrada Failed a Pending con los intentos a cero y despierta el bucle.
func (d *Dispatcher) Requeue(ctx context.Context, id uuid.UUID) error {
	if err := d.repo.Requeue(ctx, id, d.now()); err != nil {
		return err
	}
	d.log.Info("🔁 Entrada de outbox reencolada", zap.String("entry_id", id.String()))
	d.Notify()
	return nil
}
