package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

// StakingStore implements domain.StakingStore. Every InTx call is one
// PostgreSQL transaction with lock_timeout applied to its row locks.
type StakingStore struct {
	client    *Client
	pools     *PoolStore
	positions *PositionStore
	ledger    *LedgerStore
}

var _ domain.StakingStore = (*StakingStore)(nil)

// NewStakingStore builds the store and its readers on top of client.
func NewStakingStore(client *Client) *StakingStore {
	return &StakingStore{
		client:    client,
		pools:     NewPoolStore(client.pool),
		positions: NewPositionStore(client.pool),
		ledger:    NewLedgerStore(client.pool),
	}
}

// Pools returns the pool registry.
func (s *StakingStore) Pools() domain.PoolStore { return s.pools }

// Positions returns the lock-free position reader.
func (s *StakingStore) Positions() domain.PositionReader { return s.positions }

// Ledger returns the reward and event log reader.
func (s *StakingStore) Ledger() domain.LedgerReader { return s.ledger }

// InTx runs fn inside a transaction. It commits when fn returns nil and
// rolls back otherwise.
func (s *StakingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.StakingTx) error) error {
	tx, err := s.client.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// SET does not take bind parameters.
	setTimeout := fmt.Sprintf("SET LOCAL lock_timeout = %d", s.client.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, setTimeout); err != nil {
		return fmt.Errorf("postgres: set lock_timeout: %w", err)
	}

	if err := fn(ctx, &stakingTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", mapError(err))
	}
	return nil
}

type stakingTx struct {
	tx pgx.Tx
}

func (t *stakingTx) GetPool(ctx context.Context, id string) (domain.Pool, error) {
	return getPool(ctx, t.tx, id)
}

func (t *stakingTx) LockPosition(ctx context.Context, id string) (domain.Position, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM staking_positions WHERE id = $1 FOR UPDATE`, id)
	p, err := scanPositionRow(row)
	if err != nil {
		mapped := mapError(err)
		if errors.Is(mapped, domain.ErrNotFound) || errors.Is(mapped, domain.ErrLockUnavailable) {
			return domain.Position{}, mapped
		}
		return domain.Position{}, fmt.Errorf("postgres: lock position %s: %w", id, err)
	}
	return p, nil
}

func (t *stakingTx) LockActivePositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+positionSelectCols+` FROM staking_positions
		 WHERE state = $1
		 ORDER BY created_at, id
		 FOR UPDATE SKIP LOCKED`, domain.PositionActive.String())
	if err != nil {
		return nil, fmt.Errorf("postgres: lock active positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active positions: %w", err)
	}
	return positions, nil
}

func (t *stakingTx) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	if err := t.tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, key).Scan(&ok); err != nil {
		return false, fmt.Errorf("postgres: try advisory lock %d: %w", key, err)
	}
	return ok, nil
}

func (t *stakingTx) InsertPosition(ctx context.Context, p domain.Position) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	const query = `
		INSERT INTO staking_positions (
			id, owner, pool_id, principal_amount, state,
			created_at, activated_at, matures_at, closed_at, last_accrual_at,
			total_reward_accrued, total_reward_claimed, version
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13
		)`

	_, err := t.tx.Exec(ctx, query,
		p.ID, p.Owner, p.PoolID, p.Principal, p.State.String(),
		p.CreatedAt, p.ActivatedAt, p.MaturesAt, p.ClosedAt, p.LastAccrualAt,
		p.TotalRewardAccrued, p.TotalRewardClaimed, p.Version,
	)
	if err != nil {
		mapped := mapError(err)
		if errors.Is(mapped, domain.ErrDuplicateKey) {
			mapped = domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: insert position %s: %w", p.ID, mapped)
	}
	return nil
}

func (t *stakingTx) UpdatePosition(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE staking_positions SET
			state                = $2,
			activated_at         = $3,
			matures_at           = $4,
			closed_at            = $5,
			last_accrual_at      = $6,
			total_reward_accrued = $7,
			total_reward_claimed = $8,
			version              = $9
		WHERE id = $1`

	tag, err := t.tx.Exec(ctx, query,
		p.ID, p.State.String(), p.ActivatedAt, p.MaturesAt, p.ClosedAt, p.LastAccrualAt,
		p.TotalRewardAccrued, p.TotalRewardClaimed, p.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *stakingTx) InsertReward(ctx context.Context, r domain.Reward) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return insertReward(ctx, t.tx, r)
}

func (t *stakingTx) InsertEvent(ctx context.Context, e domain.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return insertEvent(ctx, t.tx, e)
}

func (t *stakingTx) EventByKey(ctx context.Context, key string) (domain.Event, error) {
	e, err := scanEventRow(t.tx.QueryRow(ctx,
		`SELECT `+eventSelectCols+` FROM staking_events WHERE idempotency_key = $1`, key))
	if err != nil {
		if mapped := mapError(err); mapped == domain.ErrNotFound {
			return domain.Event{}, mapped
		}
		return domain.Event{}, fmt.Errorf("postgres: get event by key: %w", err)
	}
	return e, nil
}

func (t *stakingTx) LatestEvent(ctx context.Context, positionID string, types ...domain.EventType) (domain.Event, error) {
	query := `SELECT ` + eventSelectCols + ` FROM staking_events WHERE position_id = $1`
	args := []any{positionID}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, typ := range types {
			names[i] = string(typ)
		}
		query += ` AND event_type = ANY($2)`
		args = append(args, names)
	}
	query += ` ORDER BY occurred_at DESC, id DESC LIMIT 1`

	e, err := scanEventRow(t.tx.QueryRow(ctx, query, args...))
	if err != nil {
		if mapped := mapError(err); mapped == domain.ErrNotFound {
			return domain.Event{}, mapped
		}
		return domain.Event{}, fmt.Errorf("postgres: latest event for %s (%s): %w",
			positionID, joinTypes(types), err)
	}
	return e, nil
}

func joinTypes(types []domain.EventType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}
