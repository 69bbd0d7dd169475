package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const asyncTimeout = 200 * time.Millisecond

// AsyncCacheSetIf actualiza caché en background sin bloquear. Usa un contexto propio: la
// petición original puede haber terminado ya. Tras escribir borra la key si current() ya es
// falso, así una invalidación concurrente siempre gana al relleno.
func AsyncCacheSetIf(cache Cache, key string, value interface{}, ttl time.Duration, current func() bool, log *zap.Logger) {
	if cache == nil {
		return
	}

	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
		defer cancel()

		if err := cache.Set(cacheCtx, key, value, ttl); err != nil {
			log.Warn("⚠️ Cache update failed", zap.String("key", key), zap.Error(err))
			return
		}
		if current() {
			return
		}
		if err := cache.Delete(cacheCtx, key); err != nil {
			log.Warn("⚠️ Cache deletion failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

// Evict elimina la key de forma síncrona. Un fallo solo se registra: la entrada caduca por TTL.
func Evict(ctx context.Context, cache Cache, key string, log *zap.Logger) {
	if cache == nil {
		return
	}

	cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), asyncTimeout)
	defer cancel()

	if err := cache.Delete(cacheCtx, key); err != nil {
		log.Warn("⚠️ Cache deletion failed", zap.String("key", key), zap.Error(err))
	}
}
