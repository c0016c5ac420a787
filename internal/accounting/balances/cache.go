package balances

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	internalShared "github.com/odyssey-erp/ledger/internal/shared"
)

// BumpChannel carries "<tenant>:<version>" whenever a tenant's projections are dropped.
const BumpChannel = "ledger.balances.bump"

// Cache stores balance projections in Redis under a per-tenant version.
// Bumping the version orphans every entry of that tenant at once.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

// Version returns the tenant's current projection version, initialising when missing.
func (c *Cache) Version(ctx context.Context, tenantID int64) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	key := internalShared.BalanceVersionKey(tenantID)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		// SETNX keeps a concurrent Bump from being overwritten.
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes the cache key for kind under the current version.
func (c *Cache) BuildKey(ctx context.Context, tenantID int64, kind, suffix string) (string, error) {
	if !c.enabled() {
		return "", nil
	}
	ver, err := c.Version(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return internalShared.BalanceCacheKey(tenantID, ver, kind, suffix), nil
}

// Get loads a cached value into dest. It reports false on a miss.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.enabled() {
		return false, nil
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return false, fmt.Errorf("balances: decode %s: %w", key, err)
	}
	return true, nil
}

// Put stores value under key for the configured ttl.
func (c *Cache) Put(ctx context.Context, key string, value any) error {
	if !c.enabled() {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// Bump invalidates the tenant's projections and publishes the new version.
func (c *Cache) Bump(ctx context.Context, tenantID int64) error {
	if !c.enabled() {
		return nil
	}
	ver, err := c.client.Incr(ctx, internalShared.BalanceVersionKey(tenantID)).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, BumpChannel, fmt.Sprintf("%d:%d", tenantID, ver)).Err()
}
