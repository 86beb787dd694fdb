package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakingengine/internal/accrual"
	"github.com/alanyoungcy/stakingengine/internal/domain"
)

// accrualOutcome describes what one accrual step did to a position.
type accrualOutcome struct {
	Reward    decimal.Decimal
	Mutated   bool
	Completed bool
}

// accrueLocked brings a row-locked position up to now and persists the
// result in tx. It is the single accrual routine shared by every operation.
func accrueLocked(
	ctx context.Context,
	tx domain.StakingTx,
	pos *domain.Position,
	pool domain.Pool,
	now time.Time,
	log *eventLog,
) (accrualOutcome, error) {
	out := accrualOutcome{Reward: decimal.Zero}
	if !pos.State.Accrues() {
		return out, nil
	}

	start := pos.AccrualStart()
	end := now
	if pos.MaturesAt != nil && end.After(*pos.MaturesAt) {
		end = *pos.MaturesAt
	}
	if pool.EndsAt != nil && end.After(*pool.EndsAt) {
		end = *pool.EndsAt
	}

	if end.After(start) {
		res := accrual.Calculate(pos.Principal, pool.APYBps, start, end)
		pos.LastAccrualAt = &end
		pos.Version++
		out.Mutated = true

		if res.Amount.IsPositive() {
			out.Reward = res.Amount
			pos.TotalRewardAccrued = pos.TotalRewardAccrued.Add(res.Amount)

			periodStart, periodEnd := start, end
			if err := tx.InsertReward(ctx, domain.Reward{
				ID:          uuid.NewString(),
				PositionID:  pos.ID,
				Type:        domain.RewardAccrual,
				Amount:      res.Amount,
				PeriodStart: &periodStart,
				PeriodEnd:   &periodEnd,
				Meta: map[string]any{
					"apy_bps":   pool.APYBps,
					"seconds":   res.Seconds,
					"method":    accrual.Method,
					"pool_code": pool.Code,
				},
				CreatedAt: now,
			}); err != nil {
				return out, fmt.Errorf("insert accrual reward: %w", err)
			}

			amount := res.Amount
			if err := log.append(ctx, tx, domain.Event{
				Type:       domain.EventAccrualRecorded,
				Owner:      pos.Owner,
				PoolID:     pool.ID,
				PositionID: pos.ID,
				OccurredAt: now,
				ActorType:  domain.ActorSystem,
				Amount:     &amount,
				Details: map[string]any{
					"period_start": start.Format(time.RFC3339Nano),
					"period_end":   end.Format(time.RFC3339Nano),
					"seconds":      res.Seconds,
					"pool_code":    pool.Code,
				},
			}); err != nil {
				return out, fmt.Errorf("insert accrual event: %w", err)
			}
		}
	}

	// A pool that closed before maturity stops the window early, so the
	// completion check cannot depend on the window being non-empty.
	if pos.State == domain.PositionActive && pos.MaturesAt != nil && !now.Before(*pos.MaturesAt) {
		if err := pos.TransitionTo(domain.PositionCompleted); err != nil {
			return out, err
		}
		pos.Version++
		out.Mutated = true
		out.Completed = true

		if err := log.append(ctx, tx, domain.Event{
			Type:       domain.EventPositionCompleted,
			Owner:      pos.Owner,
			PoolID:     pool.ID,
			PositionID: pos.ID,
			OccurredAt: now,
			ActorType:  domain.ActorSystem,
			Details:    map[string]any{"matures_at": pos.MaturesAt.Format(time.RFC3339Nano)},
		}); err != nil {
			return out, fmt.Errorf("insert completion event: %w", err)
		}
	}

	if out.Mutated {
		if err := tx.UpdatePosition(ctx, *pos); err != nil {
			return out, fmt.Errorf("update position: %w", err)
		}
	}
	return out, nil
}

// AccrualService accrues rewards for a single position on demand.
type AccrualService struct {
	store  domain.StakingStore
	fanout *Fanout
	now    func() time.Time
	logger *slog.Logger
}

// NewAccrualService creates an AccrualService.
func NewAccrualService(store domain.StakingStore, fanout *Fanout, now func() time.Time, logger *slog.Logger) *AccrualService {
	return &AccrualService{
		store:  store,
		fanout: fanout,
		now:    now,
		logger: logger.With(slog.String("component", "accrual_service")),
	}
}

// Accrue locks the position, records any reward earned since the last
// accrual, and returns the amount recorded by this call.
func (s *AccrualService) Accrue(ctx context.Context, positionID string) (decimal.Decimal, error) {
	now := s.now().UTC()
	log := &eventLog{}
	var out accrualOutcome

	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.StakingTx) error {
		pos, err := tx.LockPosition(ctx, positionID)
		if err != nil {
			return err
		}
		pool, err := tx.GetPool(ctx, pos.PoolID)
		if err != nil {
			return fmt.Errorf("get pool %q: %w", pos.PoolID, err)
		}
		out, err = accrueLocked(ctx, tx, &pos, pool, now, log)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("accrual_service: accrue %q: %w", positionID, err)
	}

	s.fanout.Publish(ctx, log.events)
	if out.Mutated {
		s.logger.DebugContext(ctx, "position accrued",
			slog.String("position_id", positionID),
			slog.String("reward", domain.FormatAmount(out.Reward)),
			slog.Bool("completed", out.Completed),
		)
	}
	return out.Reward, nil
}
