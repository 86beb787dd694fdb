package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

// ClaimService pays out accrued rewards exactly once per idempotency key.
type ClaimService struct {
	store  domain.StakingStore
	fanout *Fanout
	now    func() time.Time
	logger *slog.Logger
}

// NewClaimService creates a ClaimService.
func NewClaimService(store domain.StakingStore, fanout *Fanout, now func() time.Time, logger *slog.Logger) *ClaimService {
	return &ClaimService{
		store:  store,
		fanout: fanout,
		now:    now,
		logger: logger.With(slog.String("component", "claim_service")),
	}
}

// Claim accrues the position and claims everything claimable. It returns
// zero when nothing is claimable or key was already used. An empty key is
// replaced by a fresh one, so such calls are not deduplicated.
func (s *ClaimService) Claim(ctx context.Context, positionID, owner, key string) (decimal.Decimal, error) {
	if err := domain.CheckIdempotencyKey(key); err != nil {
		return decimal.Zero, fmt.Errorf("claim_service: claim %q: %w", positionID, err)
	}
	if key == "" {
		key = uuid.NewString()
	}

	now := s.now().UTC()
	log := &eventLog{}
	claimed := decimal.Zero
	duplicate := false

	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.StakingTx) error {
		pos, err := tx.LockPosition(ctx, positionID)
		if err != nil {
			return err
		}
		if pos.Owner != owner {
			return domain.ErrPermissionDenied
		}
		pool, err := tx.GetPool(ctx, pos.PoolID)
		if err != nil {
			return fmt.Errorf("get pool %q: %w", pos.PoolID, err)
		}

		if _, err := accrueLocked(ctx, tx, &pos, pool, now, log); err != nil {
			return err
		}

		claimable := pos.Claimable()
		if !claimable.IsPositive() {
			return nil
		}

		_, err = tx.EventByKey(ctx, key)
		switch {
		case err == nil:
			duplicate = true
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("check idempotency key: %w", err)
		}

		if err := tx.InsertReward(ctx, domain.Reward{
			ID:         uuid.NewString(),
			PositionID: pos.ID,
			Type:       domain.RewardClaim,
			Amount:     claimable,
			Meta:       map[string]any{"idempotency_key": key},
			CreatedAt:  now,
		}); err != nil {
			return fmt.Errorf("insert claim reward: %w", err)
		}

		pos.TotalRewardClaimed = pos.TotalRewardClaimed.Add(claimable)
		pos.Version++
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return fmt.Errorf("update position: %w", err)
		}

		amount := claimable
		if err := log.append(ctx, tx, domain.Event{
			Type:           domain.EventRewardClaimed,
			Owner:          pos.Owner,
			PoolID:         pos.PoolID,
			PositionID:     pos.ID,
			IdempotencyKey: key,
			OccurredAt:     now,
			ActorType:      domain.ActorUser,
			ActorID:        owner,
			Amount:         &amount,
		}); err != nil {
			return fmt.Errorf("insert claim event: %w", err)
		}

		claimed = claimable
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateKey) {
		// A concurrent request committed the key first; everything this
		// unit of work wrote was rolled back.
		log.events = nil
		claimed = decimal.Zero
		duplicate = true
		err = nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("claim_service: claim %q: %w", positionID, err)
	}

	s.fanout.Publish(ctx, log.events)
	if duplicate {
		s.logger.InfoContext(ctx, "duplicate claim suppressed",
			slog.String("position_id", positionID),
			slog.String("idempotency_key", key),
		)
		return decimal.Zero, nil
	}
	if claimed.IsPositive() {
		s.logger.InfoContext(ctx, "reward claimed",
			slog.String("position_id", positionID),
			slog.String("amount", domain.FormatAmount(claimed)),
		)
	}
	return claimed, nil
}
