package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

// PoolRegistry serves pool lookups, reading through an optional cache.
type PoolRegistry struct {
	store  domain.PoolStore
	cache  domain.PoolCache
	logger *slog.Logger
}

// NewPoolRegistry creates a PoolRegistry. cache may be nil.
func NewPoolRegistry(store domain.PoolStore, cache domain.PoolCache, logger *slog.Logger) *PoolRegistry {
	return &PoolRegistry{
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "pool_registry")),
	}
}

// ListActive returns every active pool ordered by code.
func (r *PoolRegistry) ListActive(ctx context.Context) ([]domain.Pool, error) {
	pools, err := r.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool_registry: list active: %w", err)
	}
	return pools, nil
}

// GetByCode looks a pool up by its code.
func (r *PoolRegistry) GetByCode(ctx context.Context, code string) (domain.Pool, error) {
	if r.cache != nil {
		pool, err := r.cache.GetByCode(ctx, code)
		if err == nil {
			return pool, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.WarnContext(ctx, "pool cache read failed",
				slog.String("code", code),
				slog.String("error", err.Error()),
			)
		}
	}

	pool, err := r.store.GetByCode(ctx, code)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("pool_registry: get pool %q: %w", code, err)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, pool); err != nil {
			r.logger.WarnContext(ctx, "pool cache write failed",
				slog.String("code", code),
				slog.String("error", err.Error()),
			)
		}
	}
	return pool, nil
}

// GetByID looks a pool up by its id.
func (r *PoolRegistry) GetByID(ctx context.Context, id string) (domain.Pool, error) {
	pool, err := r.store.GetByID(ctx, id)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("pool_registry: get pool by id %q: %w", id, err)
	}
	return pool, nil
}

// Upsert creates or updates a pool keyed by code and drops its cache entry.
func (r *PoolRegistry) Upsert(ctx context.Context, pool domain.Pool) (domain.Pool, error) {
	saved, err := r.store.Upsert(ctx, pool)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("pool_registry: upsert %q: %w", pool.Code, err)
	}
	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, saved.Code); err != nil {
			r.logger.WarnContext(ctx, "pool cache invalidate failed",
				slog.String("code", saved.Code),
				slog.String("error", err.Error()),
			)
		}
	}
	return saved, nil
}

// Sync upserts every configured pool.
func (r *PoolRegistry) Sync(ctx context.Context, pools []domain.Pool) error {
	for _, p := range pools {
		saved, err := r.Upsert(ctx, p)
		if err != nil {
			return err
		}
		r.logger.InfoContext(ctx, "pool synced",
			slog.String("code", saved.Code),
			slog.String("id", saved.ID),
			slog.Int("apy_bps", saved.APYBps),
		)
	}
	return nil
}
