// Package service implements the staking operations on top of the domain
// store: position creation, accrual, claims, unstakes, and batch sweeps.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

// EngineConfig tunes the engine. Zero values select defaults.
type EngineConfig struct {
	SweepLockKey int64
	SweepLockTTL time.Duration
	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

// Engine is the caller-facing entry point to every staking operation.
type Engine struct {
	Pools     *PoolRegistry
	Positions *PositionService
	Accruals  *AccrualService
	Claims    *ClaimService
	Unstakes  *UnstakeService
	Sweeper   *Sweeper
}

// NewEngine wires the services around one store. poolCache, locks, and
// fanout may be nil.
func NewEngine(
	store domain.StakingStore,
	poolCache domain.PoolCache,
	locks domain.LockManager,
	fanout *Fanout,
	cfg EngineConfig,
	logger *slog.Logger,
) *Engine {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Engine{
		Pools:     NewPoolRegistry(store.Pools(), poolCache, logger),
		Positions: NewPositionService(store, fanout, now, logger),
		Accruals:  NewAccrualService(store, fanout, now, logger),
		Claims:    NewClaimService(store, fanout, now, logger),
		Unstakes:  NewUnstakeService(store, fanout, now, logger),
		Sweeper:   NewSweeper(store, locks, fanout, cfg.SweepLockKey, cfg.SweepLockTTL, now, logger),
	}
}

// CreatePosition opens and activates a position in poolID.
func (e *Engine) CreatePosition(ctx context.Context, owner, poolID string, amount decimal.Decimal) (domain.Position, error) {
	return e.Positions.Create(ctx, owner, poolID, amount)
}

// Accrue records rewards earned by a position up to now.
func (e *Engine) Accrue(ctx context.Context, positionID string) (decimal.Decimal, error) {
	return e.Accruals.Accrue(ctx, positionID)
}

// Claim claims all claimable rewards once per key.
func (e *Engine) Claim(ctx context.Context, positionID, owner, key string) (decimal.Decimal, error) {
	return e.Claims.Claim(ctx, positionID, owner, key)
}

// UnstakePrepare quotes an unstake.
func (e *Engine) UnstakePrepare(ctx context.Context, positionID, owner string) (UnstakeQuote, error) {
	return e.Unstakes.Prepare(ctx, positionID, owner)
}

// UnstakeConfirm closes a position once per key.
func (e *Engine) UnstakeConfirm(ctx context.Context, positionID, owner, key string) (UnstakeResult, error) {
	return e.Unstakes.Confirm(ctx, positionID, owner, key)
}

// Sweep runs one batch accrual over all ACTIVE positions.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	return e.Sweeper.Run(ctx)
}
