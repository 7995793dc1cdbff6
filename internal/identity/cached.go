package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"bondledger/pkg/domain"
)

// CachedGate fronts a Gate with a Redis TTL cache. Clearance is consulted on
// every transfer and purchase; the cache keeps the provider off the hot
// path. The TTL bounds how long a revocation can go unnoticed, so keep it
// short (minutes).
//
// Cache failures degrade to the inner gate, never to a denied transfer.
type CachedGate struct {
	inner  Gate
	client Cache
	ttl    time.Duration
	logger *slog.Logger
}

// Cache is the slice of the go-redis client the gate needs. Narrow so tests
// can substitute a fake without implementing redis.Cmdable.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

func NewCachedGate(inner Gate, client Cache, ttl time.Duration, logger *slog.Logger) *CachedGate {
	return &CachedGate{inner: inner, client: client, ttl: ttl, logger: logger}
}

func cacheKey(instrumentID domain.InstrumentID, participant domain.Address) string {
	return fmt.Sprintf("bondledger:cleared:%d:%s", instrumentID, participant)
}

// IsCleared implements Gate.
func (g *CachedGate) IsCleared(ctx context.Context, instrumentID domain.InstrumentID, participant domain.Address) (bool, error) {
	key := cacheKey(instrumentID, participant)

	cached, err := g.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return cached == "1", nil
	case err != redis.Nil:
		g.logger.WarnContext(ctx, "identity cache read failed", "error", err)
	}

	cleared, err := g.inner.IsCleared(ctx, instrumentID, participant)
	if err != nil {
		return false, err
	}

	value := "0"
	if cleared {
		value = "1"
	}
	if err := g.client.Set(ctx, key, value, g.ttl).Err(); err != nil {
		g.logger.WarnContext(ctx, "identity cache write failed", "error", err)
	}
	return cleared, nil
}

// Invalidate drops the cached answer for a participant on one instrument.
// Called when the provider reports a revocation.
func (g *CachedGate) Invalidate(ctx context.Context, instrumentID domain.InstrumentID, participant domain.Address) {
	if err := g.client.Del(ctx, cacheKey(instrumentID, participant)).Err(); err != nil {
		g.logger.WarnContext(ctx, "identity cache invalidation failed", "error", err)
	}
}
