package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakingengine/internal/domain"
	"github.com/alanyoungcy/stakingengine/internal/store/memory"
)

type mapPoolCache struct {
	mu          sync.Mutex
	pools       map[string]domain.Pool
	hits        int
	invalidated []string
}

func newMapPoolCache() *mapPoolCache {
	return &mapPoolCache{pools: make(map[string]domain.Pool)}
}

func (c *mapPoolCache) Set(_ context.Context, p domain.Pool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools[p.Code] = p
	return nil
}

func (c *mapPoolCache) GetByCode(_ context.Context, code string) (domain.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pools[code]
	if !ok {
		return domain.Pool{}, domain.ErrNotFound
	}
	c.hits++
	return p, nil
}

func (c *mapPoolCache) Invalidate(_ context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pools, code)
	c.invalidated = append(c.invalidated, code)
	return nil
}

func TestPoolRegistry_ReadThroughCache(t *testing.T) {
	ctx := context.Background()
	cache := newMapPoolCache()
	reg := NewPoolRegistry(memory.New().Pools(), cache, discardLogger())

	saved, err := reg.Upsert(ctx, slhPool())
	require.NoError(t, err)
	assert.Equal(t, []string{"SLH-30D"}, cache.invalidated)

	got, err := reg.GetByCode(ctx, "SLH-30D")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, got.ID)
	assert.Zero(t, cache.hits)

	got, err = reg.GetByCode(ctx, "SLH-30D")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, got.ID)
	assert.Equal(t, 1, cache.hits)

	_, err = reg.GetByCode(ctx, "NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPoolRegistry_SyncAndListActive(t *testing.T) {
	ctx := context.Background()
	reg := NewPoolRegistry(memory.New().Pools(), nil, discardLogger())

	flex := slhPool()
	flex.Code = "FLEX"
	flex.LockSeconds = 0
	off := slhPool()
	off.Code = "OFF"
	off.IsActive = false

	require.NoError(t, reg.Sync(ctx, []domain.Pool{slhPool(), flex, off}))
	// Syncing again updates in place.
	require.NoError(t, reg.Sync(ctx, []domain.Pool{slhPool()}))

	active, err := reg.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "FLEX", active[0].Code)
	assert.Equal(t, "SLH-30D", active[1].Code)

	bad := slhPool()
	bad.Code = "BAD"
	ends := time.Now().Add(-time.Hour)
	starts := time.Now()
	bad.StartsAt, bad.EndsAt = &starts, &ends
	assert.ErrorIs(t, reg.Sync(ctx, []domain.Pool{bad}), domain.ErrValidation)
}
