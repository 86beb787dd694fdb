package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

// LedgerStore reads the append-only staking_rewards and staking_events logs.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

var _ domain.LedgerReader = (*LedgerStore)(nil)

const rewardSelectCols = `id, position_id, reward_type, amount, period_start, period_end, meta, created_at`

const eventSelectCols = `id, event_type, owner, COALESCE(pool_id, ''), COALESCE(position_id, ''),
	COALESCE(idempotency_key, ''), occurred_at, actor_type, COALESCE(actor_id, ''), amount, details`

func scanRewardRow(row pgx.Row) (domain.Reward, error) {
	var r domain.Reward
	var rewardType string
	var meta []byte

	if err := row.Scan(
		&r.ID, &r.PositionID, &rewardType, &r.Amount,
		&r.PeriodStart, &r.PeriodEnd, &meta, &r.CreatedAt,
	); err != nil {
		return domain.Reward{}, err
	}
	r.Type = domain.RewardType(rewardType)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &r.Meta); err != nil {
			return domain.Reward{}, fmt.Errorf("unmarshal reward meta: %w", err)
		}
	}
	return r, nil
}

func scanEventRow(row pgx.Row) (domain.Event, error) {
	var e domain.Event
	var eventType, actorType string
	var amount decimal.NullDecimal
	var details []byte

	if err := row.Scan(
		&e.ID, &eventType, &e.Owner, &e.PoolID, &e.PositionID,
		&e.IdempotencyKey, &e.OccurredAt, &actorType, &e.ActorID, &amount, &details,
	); err != nil {
		return domain.Event{}, err
	}
	e.Type = domain.EventType(eventType)
	e.ActorType = domain.ActorType(actorType)
	if amount.Valid {
		e.Amount = &amount.Decimal
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return domain.Event{}, fmt.Errorf("unmarshal event details: %w", err)
		}
	}
	return e, nil
}

func collectRewards(rows pgx.Rows) ([]domain.Reward, error) {
	defer rows.Close()
	var out []domain.Reward
	for rows.Next() {
		r, err := scanRewardRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func collectEvents(rows pgx.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		e, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// jsonOrNil marshals m for a JSONB column, storing NULL for empty maps.
func jsonOrNil(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func insertReward(ctx context.Context, q querier, r domain.Reward) error {
	meta, err := jsonOrNil(r.Meta)
	if err != nil {
		return fmt.Errorf("postgres: marshal reward meta: %w", err)
	}

	const query = `
		INSERT INTO staking_rewards (
			id, position_id, reward_type, amount, period_start, period_end, meta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = q.Exec(ctx, query,
		r.ID, r.PositionID, string(r.Type), r.Amount,
		r.PeriodStart, r.PeriodEnd, meta, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert reward %s: %w", r.ID, mapError(err))
	}
	return nil
}

func insertEvent(ctx context.Context, q querier, e domain.Event) error {
	details, err := jsonOrNil(e.Details)
	if err != nil {
		return fmt.Errorf("postgres: marshal event details: %w", err)
	}
	var amount decimal.NullDecimal
	if e.Amount != nil {
		amount = decimal.NullDecimal{Decimal: *e.Amount, Valid: true}
	}

	const query = `
		INSERT INTO staking_events (
			id, event_type, owner, pool_id, position_id, idempotency_key,
			occurred_at, actor_type, actor_id, amount, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = q.Exec(ctx, query,
		e.ID, string(e.Type), e.Owner, nullString(e.PoolID), nullString(e.PositionID),
		nullString(e.IdempotencyKey), e.OccurredAt, string(e.ActorType),
		nullString(e.ActorID), amount, details,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert event %s: %w", e.Type, mapError(err))
	}
	return nil
}

// ListRewards returns a position's rewards in creation order.
func (s *LedgerStore) ListRewards(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.Reward, error) {
	query := `SELECT ` + rewardSelectCols + ` FROM staking_rewards WHERE position_id = $1`
	query, args := applyListOpts(query, []any{positionID}, "created_at", "ASC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rewards for %s: %w", positionID, err)
	}
	rewards, err := collectRewards(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan rewards: %w", err)
	}
	return rewards, nil
}

// ListEvents returns a position's events in occurrence order.
func (s *LedgerStore) ListEvents(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT ` + eventSelectCols + ` FROM staking_events WHERE position_id = $1`
	query, args := applyListOpts(query, []any{positionID}, "occurred_at", "ASC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for %s: %w", positionID, err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events: %w", err)
	}
	return events, nil
}

// RewardsBetween returns all rewards created in [since, until).
func (s *LedgerStore) RewardsBetween(ctx context.Context, since, until time.Time) ([]domain.Reward, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+rewardSelectCols+` FROM staking_rewards
		 WHERE created_at >= $1 AND created_at < $2
		 ORDER BY created_at, id`, since, until)
	if err != nil {
		return nil, fmt.Errorf("postgres: query rewards between: %w", err)
	}
	rewards, err := collectRewards(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan rewards: %w", err)
	}
	return rewards, nil
}

// EventsBetween returns all events that occurred in [since, until).
func (s *LedgerStore) EventsBetween(ctx context.Context, since, until time.Time) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventSelectCols+` FROM staking_events
		 WHERE occurred_at >= $1 AND occurred_at < $2
		 ORDER BY occurred_at, id`, since, until)
	if err != nil {
		return nil, fmt.Errorf("postgres: query events between: %w", err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events: %w", err)
	}
	return events, nil
}
