package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const asyncSetTimeout = 200 * time.Millisecond

// AsyncCacheSet actualiza caché en background sin bloquear.
// La escritura no hereda la cancelación de ctx: una petición terminada no deja la caché a medias.
func AsyncCacheSet(ctx context.Context, cache Cache, key string, value interface{}, ttl int, log *zap.Logger) {
	if cache == nil {
		return
	}

	go func() {
		cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), asyncSetTimeout)
		defer cancel()

		if err := cache.Set(cacheCtx, key, value, ttl); err != nil {
			log.Warn("Cache update failed",
				zap.String("key", key),
				zap.Error(err))
		}
	}()
}
