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

// UnstakeQuote is the preview shown before an unstake is confirmed.
type UnstakeQuote struct {
	PositionID   string               `json:"position_id"`
	PoolCode     string               `json:"pool_code"`
	State        domain.PositionState `json:"state"`
	Principal    decimal.Decimal      `json:"principal"`
	Claimable    decimal.Decimal      `json:"claimable_reward"`
	Penalty      decimal.Decimal      `json:"penalty"`
	NetPrincipal decimal.Decimal      `json:"net_principal"`
	MaturesAt    *time.Time           `json:"matures_at,omitempty"`
	Matured      bool                 `json:"matured"`
}

// UnstakeResult is the outcome of a confirmed unstake. Duplicate is set
// when the idempotency key was already used; Penalty and Matured then come
// from the original withdrawal when it can be found.
type UnstakeResult struct {
	PositionID   string               `json:"position_id"`
	State        domain.PositionState `json:"state"`
	Penalty      decimal.Decimal      `json:"penalty"`
	NetPrincipal decimal.Decimal      `json:"net_principal"`
	Matured      bool                 `json:"matured"`
	Duplicate    bool                 `json:"duplicate"`
}

// UnstakeService quotes and executes withdrawals.
type UnstakeService struct {
	store  domain.StakingStore
	fanout *Fanout
	now    func() time.Time
	logger *slog.Logger
}

// NewUnstakeService creates an UnstakeService.
func NewUnstakeService(store domain.StakingStore, fanout *Fanout, now func() time.Time, logger *slog.Logger) *UnstakeService {
	return &UnstakeService{
		store:  store,
		fanout: fanout,
		now:    now,
		logger: logger.With(slog.String("component", "unstake_service")),
	}
}

// withdrawalTerms returns the penalty and maturity flag for closing pos at now.
func withdrawalTerms(pos domain.Position, pool domain.Pool, now time.Time) (penalty decimal.Decimal, matured bool) {
	matured = pos.Matured(now)
	if matured {
		return decimal.Zero, true
	}
	return pool.Penalty(pos.Principal), false
}

// Prepare accrues the position and quotes an unstake. Only the accrual is
// persisted.
func (s *UnstakeService) Prepare(ctx context.Context, positionID, owner string) (UnstakeQuote, error) {
	now := s.now().UTC()
	log := &eventLog{}
	var quote UnstakeQuote

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

		penalty, matured := withdrawalTerms(pos, pool, now)
		quote = UnstakeQuote{
			PositionID:   pos.ID,
			PoolCode:     pool.Code,
			State:        pos.State,
			Principal:    pos.Principal,
			Claimable:    pos.Claimable(),
			Penalty:      penalty,
			NetPrincipal: pos.Principal.Sub(penalty),
			MaturesAt:    pos.MaturesAt,
			Matured:      matured,
		}
		return nil
	})
	if err != nil {
		return UnstakeQuote{}, fmt.Errorf("unstake_service: prepare %q: %w", positionID, err)
	}

	s.fanout.Publish(ctx, log.events)
	return quote, nil
}

// Confirm closes the position. key is required; a repeated key returns the
// original outcome flagged as Duplicate without writing anything.
//
// Keys are global across positions and operations. A key already used by
// any event, including a claim or another position's unstake, also yields
// Duplicate, with State and terms read from this position.
func (s *UnstakeService) Confirm(ctx context.Context, positionID, owner, key string) (UnstakeResult, error) {
	if key == "" {
		return UnstakeResult{}, fmt.Errorf("unstake_service: confirm %q: %w",
			positionID, domain.Validationf("idempotency key is required"))
	}
	if err := domain.CheckIdempotencyKey(key); err != nil {
		return UnstakeResult{}, fmt.Errorf("unstake_service: confirm %q: %w", positionID, err)
	}

	now := s.now().UTC()
	log := &eventLog{}
	var result UnstakeResult

	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.StakingTx) error {
		pos, err := tx.LockPosition(ctx, positionID)
		if err != nil {
			return err
		}
		if pos.Owner != owner {
			return domain.ErrPermissionDenied
		}

		_, err = tx.EventByKey(ctx, key)
		switch {
		case err == nil:
			result = priorWithdrawal(ctx, tx, pos)
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("check idempotency key: %w", err)
		}

		pool, err := tx.GetPool(ctx, pos.PoolID)
		if err != nil {
			return fmt.Errorf("get pool %q: %w", pos.PoolID, err)
		}

		if err := log.append(ctx, tx, domain.Event{
			Type:           domain.EventUnstakeRequested,
			Owner:          pos.Owner,
			PoolID:         pool.ID,
			PositionID:     pos.ID,
			IdempotencyKey: key,
			OccurredAt:     now,
			ActorType:      domain.ActorUser,
			ActorID:        owner,
		}); err != nil {
			return fmt.Errorf("insert unstake request: %w", err)
		}

		if _, err := accrueLocked(ctx, tx, &pos, pool, now, log); err != nil {
			return err
		}

		penalty, matured := withdrawalTerms(pos, pool, now)
		target, closedEvent := domain.PositionWithdrawn, domain.EventPositionWithdrawn
		if pos.State == domain.PositionCreated {
			target, closedEvent = domain.PositionCancelled, domain.EventPositionCancelled
		}
		if err := pos.TransitionTo(target); err != nil {
			return err
		}
		closed := now
		pos.ClosedAt = &closed
		pos.Version++
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return fmt.Errorf("update position: %w", err)
		}

		net := pos.Principal.Sub(penalty)
		principal := pos.Principal
		if err := log.append(ctx, tx, domain.Event{
			Type:       closedEvent,
			Owner:      pos.Owner,
			PoolID:     pool.ID,
			PositionID: pos.ID,
			OccurredAt: now,
			ActorType:  domain.ActorSystem,
			Amount:     &principal,
			Details: map[string]any{
				"penalty":         domain.FormatAmount(penalty),
				"net_principal":   domain.FormatAmount(net),
				"matured":         matured,
				"idempotency_key": key,
			},
		}); err != nil {
			return fmt.Errorf("insert withdrawal event: %w", err)
		}

		result = UnstakeResult{
			PositionID:   pos.ID,
			State:        pos.State,
			Penalty:      penalty,
			NetPrincipal: net,
			Matured:      matured,
		}
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateKey) {
		// A concurrent request committed the key first and this unit of work
		// was rolled back. Report it like a sequential retry.
		log.events = nil
		result, err = s.replayDuplicate(ctx, positionID, owner)
	}
	if err != nil {
		return UnstakeResult{}, fmt.Errorf("unstake_service: confirm %q: %w", positionID, err)
	}

	s.fanout.Publish(ctx, log.events)
	if result.Duplicate {
		s.logger.InfoContext(ctx, "duplicate unstake suppressed",
			slog.String("position_id", positionID),
			slog.String("idempotency_key", key),
		)
	} else {
		s.logger.InfoContext(ctx, "position closed",
			slog.String("position_id", positionID),
			slog.String("state", result.State.String()),
			slog.String("penalty", domain.FormatAmount(result.Penalty)),
			slog.Bool("matured", result.Matured),
		)
	}
	return result, nil
}

// replayDuplicate builds the Duplicate result for positionID in a fresh
// unit of work.
func (s *UnstakeService) replayDuplicate(ctx context.Context, positionID, owner string) (UnstakeResult, error) {
	var result UnstakeResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.StakingTx) error {
		pos, err := tx.LockPosition(ctx, positionID)
		if err != nil {
			return err
		}
		if pos.Owner != owner {
			return domain.ErrPermissionDenied
		}
		result = priorWithdrawal(ctx, tx, pos)
		return nil
	})
	return result, err
}

// priorWithdrawal rebuilds the result of an already-confirmed unstake from
// the position's closing event.
func priorWithdrawal(ctx context.Context, tx domain.StakingTx, pos domain.Position) UnstakeResult {
	res := UnstakeResult{
		PositionID:   pos.ID,
		State:        pos.State,
		Penalty:      decimal.Zero,
		NetPrincipal: pos.Principal,
		Duplicate:    true,
	}
	ev, err := tx.LatestEvent(ctx, pos.ID, domain.EventPositionWithdrawn, domain.EventPositionCancelled)
	if err != nil {
		return res
	}
	if s, ok := ev.Details["penalty"].(string); ok {
		if p, err := decimal.NewFromString(s); err == nil {
			res.Penalty = p
			res.NetPrincipal = pos.Principal.Sub(p)
		}
	}
	if m, ok := ev.Details["matured"].(bool); ok {
		res.Matured = m
	}
	return res
}
