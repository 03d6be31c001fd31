package promptctx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// RedisCache stores rendered conversation projections in redis. It also
// satisfies the store's ProjectionCache so event appends invalidate the
// projection of the conversation they touch.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisCache creates a projection cache. ttl <= 0 falls back to 24h.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if client == nil {
		panic("promptctx: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		tracer: otel.Tracer("scambaiter.internal.promptctx.cache"),
	}
}

// Get returns the cached projection, or nil when none is stored.
func (c *RedisCache) Get(ctx context.Context, conversationID string) (*Projection, error) {
	ctx, span := c.tracer.Start(ctx, "promptctx.cache_get")
	defer span.End()

	data, err := c.client.Get(ctx, projectionKey(conversationID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("promptctx: load cached projection: %w", err)
	}

	var proj Projection
	if err := json.Unmarshal(data, &proj); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("promptctx: decode cached projection: %w", err)
	}
	return &proj, nil
}

// Put stores the projection with the configured TTL.
func (c *RedisCache) Put(ctx context.Context, conversationID string, proj *Projection) error {
	ctx, span := c.tracer.Start(ctx, "promptctx.cache_put")
	defer span.End()

	data, err := json.Marshal(proj)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("promptctx: encode projection: %w", err)
	}
	if err := c.client.Set(ctx, projectionKey(conversationID), data, c.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("promptctx: persist projection: %w", err)
	}
	return nil
}

// Invalidate drops the cached projection after a content event lands.
func (c *RedisCache) Invalidate(ctx context.Context, conversationID string) error {
	ctx, span := c.tracer.Start(ctx, "promptctx.cache_invalidate")
	defer span.End()

	if err := c.client.Del(ctx, projectionKey(conversationID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("promptctx: invalidate projection: %w", err)
	}
	return nil
}

func projectionKey(id string) string {
	return fmt.Sprintf("promptctx:%s", id)
}
