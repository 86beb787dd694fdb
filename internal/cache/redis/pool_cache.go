package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

// DefaultPoolTTL bounds how stale a cached pool can be when an update on
// another instance misses the invalidation.
const DefaultPoolTTL = 5 * time.Minute

// PoolCache implements domain.PoolCache with one JSON string per pool code.
//
// Key schema:
//
//	pool:code:{code} - JSON-encoded domain.Pool
type PoolCache struct {
	client *Client
	ttl    time.Duration
}

// NewPoolCache creates a PoolCache. A non-positive ttl selects DefaultPoolTTL.
func NewPoolCache(c *Client, ttl time.Duration) *PoolCache {
	if ttl <= 0 {
		ttl = DefaultPoolTTL
	}
	return &PoolCache{client: c, ttl: ttl}
}

func (pc *PoolCache) key(code string) string {
	return pc.client.Key("pool:code:" + code)
}

// Set stores pool under its code.
func (pc *PoolCache) Set(ctx context.Context, pool domain.Pool) error {
	data, err := json.Marshal(pool)
	if err != nil {
		return fmt.Errorf("redis: marshal pool %s: %w", pool.Code, err)
	}
	if err := pc.client.Underlying().Set(ctx, pc.key(pool.Code), data, pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set pool %s: %w", pool.Code, err)
	}
	return nil
}

// GetByCode returns domain.ErrNotFound on a cache miss.
func (pc *PoolCache) GetByCode(ctx context.Context, code string) (domain.Pool, error) {
	data, err := pc.client.Underlying().Get(ctx, pc.key(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Pool{}, domain.ErrNotFound
		}
		return domain.Pool{}, fmt.Errorf("redis: get pool %s: %w", code, err)
	}

	var pool domain.Pool
	if err := json.Unmarshal(data, &pool); err != nil {
		return domain.Pool{}, fmt.Errorf("redis: unmarshal pool %s: %w", code, err)
	}
	return pool, nil
}

// Invalidate drops the cached entry for code.
func (pc *PoolCache) Invalidate(ctx context.Context, code string) error {
	if err := pc.client.Underlying().Del(ctx, pc.key(code)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate pool %s: %w", code, err)
	}
	return nil
}

var _ domain.PoolCache = (*PoolCache)(nil)
