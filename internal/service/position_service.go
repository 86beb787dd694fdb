package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

// PositionService opens positions and serves the read side.
type PositionService struct {
	store  domain.StakingStore
	fanout *Fanout
	now    func() time.Time
	logger *slog.Logger
}

// NewPositionService creates a PositionService.
func NewPositionService(store domain.StakingStore, fanout *Fanout, now func() time.Time, logger *slog.Logger) *PositionService {
	return &PositionService{
		store:  store,
		fanout: fanout,
		now:    now,
		logger: logger.With(slog.String("component", "position_service")),
	}
}

// Create validates amount against the pool and opens an ACTIVE position.
// Activation happens in the same unit of work as creation.
func (s *PositionService) Create(ctx context.Context, owner, poolID string, amount decimal.Decimal) (domain.Position, error) {
	owner = strings.TrimSpace(owner)
	if err := domain.CheckOwner(owner); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: create: %w", err)
	}
	if !amount.Equal(domain.TruncateScale(amount)) {
		return domain.Position{}, fmt.Errorf("position_service: create: %w",
			domain.Validationf("amount %s has more than %d fractional digits", amount, domain.Scale))
	}

	now := s.now().UTC()
	log := &eventLog{}
	var pos domain.Position

	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.StakingTx) error {
		pool, err := tx.GetPool(ctx, poolID)
		if err != nil {
			return fmt.Errorf("get pool %q: %w", poolID, err)
		}
		if err := pool.CheckStake(amount, now); err != nil {
			return err
		}

		pos = domain.Position{
			ID:                 uuid.NewString(),
			Owner:              owner,
			PoolID:             pool.ID,
			Principal:          amount,
			State:              domain.PositionCreated,
			CreatedAt:          now,
			TotalRewardAccrued: decimal.Zero,
			TotalRewardClaimed: decimal.Zero,
			Version:            1,
		}

		principal := amount
		if err := log.append(ctx, tx, domain.Event{
			Type:       domain.EventPositionCreated,
			Owner:      owner,
			PoolID:     pool.ID,
			PositionID: pos.ID,
			OccurredAt: now,
			ActorType:  domain.ActorUser,
			ActorID:    owner,
			Amount:     &principal,
			Details:    map[string]any{"pool_code": pool.Code},
		}); err != nil {
			return fmt.Errorf("insert created event: %w", err)
		}

		if err := pos.TransitionTo(domain.PositionActive); err != nil {
			return err
		}
		activated := now
		pos.ActivatedAt = &activated
		pos.LastAccrualAt = &activated
		if pool.LockSeconds > 0 {
			matures := now.Add(time.Duration(pool.LockSeconds) * time.Second)
			pos.MaturesAt = &matures
		}

		if err := tx.InsertPosition(ctx, pos); err != nil {
			return fmt.Errorf("insert position: %w", err)
		}

		if err := log.append(ctx, tx, domain.Event{
			Type:       domain.EventPositionActivated,
			Owner:      owner,
			PoolID:     pool.ID,
			PositionID: pos.ID,
			OccurredAt: now,
			ActorType:  domain.ActorSystem,
			Details:    map[string]any{"activated_at": now.Format(time.RFC3339Nano)},
		}); err != nil {
			return fmt.Errorf("insert activated event: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: create for %q in pool %q: %w", owner, poolID, err)
	}

	s.fanout.Publish(ctx, log.events)
	s.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("owner", owner),
		slog.String("pool_id", poolID),
		slog.String("principal", domain.FormatAmount(amount)),
	)
	return pos, nil
}

// Get returns a position without locking it.
func (s *PositionService) Get(ctx context.Context, positionID string) (domain.Position, error) {
	pos, err := s.store.Positions().GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get position %q: %w", positionID, err)
	}
	return pos, nil
}

// ListByOwner returns the owner's positions, newest first.
func (s *PositionService) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	out, err := s.store.Positions().ListByOwner(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list positions for %q: %w", owner, err)
	}
	return out, nil
}

// Rewards returns the reward log of a position.
func (s *PositionService) Rewards(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.Reward, error) {
	out, err := s.store.Ledger().ListRewards(ctx, positionID, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list rewards for %q: %w", positionID, err)
	}
	return out, nil
}

// Events returns the audit log of a position.
func (s *PositionService) Events(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.Event, error) {
	out, err := s.store.Ledger().ListEvents(ctx, positionID, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list events for %q: %w", positionID, err)
	}
	return out, nil
}
