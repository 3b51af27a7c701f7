package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/model"
)

// RedisClient is the subset of *redis.Client the cache uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEx(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedStore is a read-through Redis cache in front of a Store. Redis
// errors fall through to the store.
type CachedStore struct {
	next  Store
	redis RedisClient
	ttl   time.Duration
}

// NewCachedStore wraps next. A non-positive ttl defaults to ten minutes.
func NewCachedStore(next Store, rdb RedisClient, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedStore{next: next, redis: rdb, ttl: ttl}
}

func slugKey(slug string) string { return "tenant:slug:" + slug }

func integrationKey(tenantID, provider string) string {
	return "tenant:" + tenantID + ":integration:" + provider
}

// GetBySlug returns the cached tenant or loads and caches it.
func (c *CachedStore) GetBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	var t model.Tenant
	if c.load(ctx, slugKey(slug), &t) {
		return &t, nil
	}
	got, err := c.next.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	c.store(ctx, slugKey(slug), got)
	return got, nil
}

// Integration returns cached credentials or loads them. A missing
// integration is not cached so a newly added one takes effect at once.
func (c *CachedStore) Integration(ctx context.Context, tenantID, provider string) (*model.TenantIntegration, error) {
	key := integrationKey(tenantID, provider)
	var i model.TenantIntegration
	if c.load(ctx, key, &i) {
		return &i, nil
	}
	got, err := c.next.Integration(ctx, tenantID, provider)
	if err != nil || got == nil {
		return got, err
	}
	c.store(ctx, key, got)
	return got, nil
}

// Invalidate drops a tenant's cached row and integrations.
func (c *CachedStore) Invalidate(ctx context.Context, t *model.Tenant) {
	keys := []string{slugKey(t.Slug)}
	for _, p := range []string{model.ProviderStripe, model.ProviderMeta, model.ProviderManyChat} {
		keys = append(keys, integrationKey(t.ID, p))
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		zap.L().Warn("tenant: cache invalidate failed", zap.String("tenant", t.Slug), zap.Error(err))
	}
}

func (c *CachedStore) load(ctx context.Context, key string, dst any) bool {
	raw, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("tenant: cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		zap.L().Warn("tenant: cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *CachedStore) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.redis.SetEx(ctx, key, data, c.ttl).Err(); err != nil {
		zap.L().Warn("tenant: cache write failed", zap.String("key", key), zap.Error(err))
	}
}
