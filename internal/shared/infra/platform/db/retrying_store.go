package db

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
	"github.com/davicafu/eventorders/internal/shared/domain/events"
)

// RetryingStore reintenta con backoff exponencial los fallos transitorios del store.
// Los conflictos de concurrencia y los errores de serialización se devuelven al primer intento.
type RetryingStore struct {
	inner       sharedDomain.EventStore
	maxAttempts uint
	base        time.Duration
	max         time.Duration
	log         *zap.Logger
}

func NewRetryingStore(inner sharedDomain.EventStore, maxAttempts uint, base, max time.Duration, log *zap.Logger) *RetryingStore {
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	return &RetryingStore{inner: inner, maxAttempts: maxAttempts, base: base, max: max, log: log}
}

func (r *RetryingStore) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.base
	b.MaxInterval = r.max
	b.Reset()
	return b
}

func (r *RetryingStore) classify(op string, err error) error {
	if sharedDomain.IsTransient(err) {
		r.log.Warn("⚠️ Fallo transitorio del event store, reintentando", zap.String("op", op), zap.Error(err))
		return err
	}
	return backoff.Permanent(err)
}

// Append es seguro de reintentar: si un intento llegó a confirmarse, el siguiente choca con el CAS.
// Tras un fallo transitorio (commit ambiguo), ese choque se resuelve mirando la cola del stream:
// si contiene exactamente nuestros eventos, el Append ya está hecho y se devuelve la nueva versión.
func (r *RetryingStore) Append(ctx context.Context, streamID string, expectedVersion int64, evts []events.Event) (int64, error) {
	ambiguous := false
	return backoff.Retry(ctx, func() (int64, error) {
		v, err := r.inner.Append(ctx, streamID, expectedVersion, evts)
		if err == nil {
			return v, nil
		}
		if ambiguous && errors.Is(err, sharedDomain.ErrConcurrency) && r.alreadyCommitted(ctx, streamID, expectedVersion, evts) {
			r.log.Info("El intento anterior se había confirmado", zap.String("stream_id", streamID), zap.Int64("expected_version", expectedVersion))
			return expectedVersion + int64(len(evts)), nil
		}
		if sharedDomain.IsTransient(err) {
			ambiguous = true
		}
		return 0, r.classify("append", err)
	}, backoff.WithBackOff(r.newBackOff()), backoff.WithMaxTries(r.maxAttempts))
}

// alreadyCommitted compara tipo, payload y correlación de los eventos tras expectedVersion.
func (r *RetryingStore) alreadyCommitted(ctx context.Context, streamID string, expectedVersion int64, evts []events.Event) bool {
	if len(evts) == 0 {
		return false
	}
	i := 0
	for stored, err := range r.inner.Read(ctx, streamID, expectedVersion) {
		if err != nil {
			return false
		}
		if i == len(evts) {
			break
		}
		want := evts[i]
		if stored.Type != want.Type || stored.CorrelationID != want.CorrelationID || !bytes.Equal(stored.Payload, want.Payload) {
			return false
		}
		i++
	}
	return i == len(evts)
}

// Read sólo reintenta si el fallo llega antes del primer evento entregado.
func (r *RetryingStore) Read(ctx context.Context, streamID string, fromVersion int64) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		b := r.newBackOff()
		for attempt := uint(1); ; attempt++ {
			delivered := false
			var failure error
			for evt, err := range r.inner.Read(ctx, streamID, fromVersion) {
				if err != nil {
					failure = err
					break
				}
				delivered = true
				if !yield(evt, nil) {
					return
				}
			}
			if failure == nil {
				return
			}
			if delivered || !sharedDomain.IsTransient(failure) || attempt >= r.maxAttempts {
				yield(events.Event{}, failure)
				return
			}

			r.log.Warn("⚠️ Lectura del stream fallida, reintentando",
				zap.String("stream_id", streamID), zap.Uint("attempt", attempt), zap.Error(failure))
			select {
			case <-time.After(b.NextBackOff()):
			case <-ctx.Done():
				yield(events.Event{}, ctx.Err())
				return
			}
		}
	}
}

// Verificación en tiempo de compilación.
var _ sharedDomain.EventStore = (*RetryingStore)(nil)
