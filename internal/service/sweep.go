package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

// DefaultSweepLockKey is the PostgreSQL advisory lock key that keeps sweeps
// mutually exclusive across processes.
const DefaultSweepLockKey int64 = 912345678

const sweepLockName = "staking:sweep"

// SweepResult summarizes one batch accrual run.
type SweepResult struct {
	Skipped         bool            `json:"skipped"`
	Scanned         int             `json:"scanned"`
	Updated         int             `json:"updated"`
	RewardsInserted int             `json:"rewards_inserted"`
	Completed       int             `json:"completed"`
	TotalReward     decimal.Decimal `json:"total_reward"`
	Now             time.Time       `json:"now"`
	Duration        time.Duration   `json:"duration"`
}

// Sweeper accrues every ACTIVE position in one unit of work.
type Sweeper struct {
	store   domain.StakingStore
	locks   domain.LockManager
	fanout  *Fanout
	lockKey int64
	lockTTL time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewSweeper creates a Sweeper. locks may be nil; when set it is taken
// before the database advisory lock so idle replicas skip without opening a
// transaction.
func NewSweeper(
	store domain.StakingStore,
	locks domain.LockManager,
	fanout *Fanout,
	lockKey int64,
	lockTTL time.Duration,
	now func() time.Time,
	logger *slog.Logger,
) *Sweeper {
	if lockKey == 0 {
		lockKey = DefaultSweepLockKey
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &Sweeper{
		store:   store,
		locks:   locks,
		fanout:  fanout,
		lockKey: lockKey,
		lockTTL: lockTTL,
		now:     now,
		logger:  logger.With(slog.String("component", "sweeper")),
	}
}

// Run accrues all ACTIVE positions with a single now. It reports Skipped
// when another sweep holds the lock. Rows locked by user operations are
// skipped and picked up by the next run.
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	started := time.Now()
	now := s.now().UTC()
	res := SweepResult{TotalReward: decimal.Zero, Now: now}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, sweepLockName, s.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			res.Skipped = true
			s.logger.InfoContext(ctx, "sweep skipped, distributed lock held")
			return res, nil
		}
		if err != nil {
			// The advisory lock below still guarantees exclusion.
			s.logger.WarnContext(ctx, "distributed sweep lock unavailable",
				slog.String("error", err.Error()),
			)
		} else {
			defer unlock()
		}
	}

	log := &eventLog{}
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.StakingTx) error {
		ok, err := tx.TryAdvisoryLock(ctx, s.lockKey)
		if err != nil {
			return err
		}
		if !ok {
			res.Skipped = true
			return nil
		}

		positions, err := tx.LockActivePositions(ctx)
		if err != nil {
			return err
		}

		pools := make(map[string]domain.Pool)
		for i := range positions {
			pos := &positions[i]
			res.Scanned++

			pool, cached := pools[pos.PoolID]
			if !cached {
				if pool, err = tx.GetPool(ctx, pos.PoolID); err != nil {
					return fmt.Errorf("get pool %q for position %q: %w", pos.PoolID, pos.ID, err)
				}
				pools[pos.PoolID] = pool
			}

			out, err := accrueLocked(ctx, tx, pos, pool, now, log)
			if err != nil {
				return fmt.Errorf("accrue position %q: %w", pos.ID, err)
			}
			if out.Mutated {
				res.Updated++
			}
			if out.Reward.IsPositive() {
				res.RewardsInserted++
				res.TotalReward = res.TotalReward.Add(out.Reward)
			}
			if out.Completed {
				res.Completed++
			}
		}
		return nil
	})
	res.Duration = time.Since(started)
	if err != nil {
		return SweepResult{}, fmt.Errorf("sweeper: run: %w", err)
	}

	if res.Skipped {
		s.logger.InfoContext(ctx, "sweep skipped, advisory lock held")
		return res, nil
	}

	s.fanout.Publish(ctx, log.events)
	s.logger.InfoContext(ctx, "sweep finished",
		slog.Int("scanned", res.Scanned),
		slog.Int("updated", res.Updated),
		slog.Int("rewards_inserted", res.RewardsInserted),
		slog.Int("completed", res.Completed),
		slog.String("total_reward", domain.FormatAmount(res.TotalReward)),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}
