package cache

import (
	"context"
)

// Cache es la caché clave-valor donde se guardan los snapshots de agregados.
// Nunca es la fuente de verdad: un fallo o un miss obliga a reconstruir desde el event store.
type Cache interface {
	// Get intenta poblar 'dest' (que debe ser un puntero) con el valor asociado a la 'key'.
	// Devuelve (true, nil) si hay un 'hit' y 'dest' fue rellenado; (false, nil) si es un 'miss'.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)

	// Set serializa y guarda el valor con un TTL en segundos.
	Set(ctx context.Context, key string, val interface{}, ttlSecs int) error

	Delete(ctx context.Context, key string) error
}
