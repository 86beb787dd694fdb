package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

// PoolStore implements domain.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

var _ domain.PoolStore = (*PoolStore)(nil)

const poolSelectCols = `id, code, name, COALESCE(description, ''), asset_symbol,
	reward_asset_symbol, apy_bps, lock_seconds, early_withdraw_penalty_bps,
	min_stake, max_stake, is_active, starts_at, ends_at, created_at, updated_at`

func scanPoolRow(row pgx.Row) (domain.Pool, error) {
	var p domain.Pool
	var minStake, maxStake decimal.NullDecimal

	err := row.Scan(
		&p.ID, &p.Code, &p.Name, &p.Description, &p.AssetSymbol,
		&p.RewardAssetSymbol, &p.APYBps, &p.LockSeconds, &p.EarlyWithdrawPenaltyBps,
		&minStake, &maxStake, &p.IsActive, &p.StartsAt, &p.EndsAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Pool{}, err
	}
	if minStake.Valid {
		p.MinStake = &minStake.Decimal
	}
	if maxStake.Valid {
		p.MaxStake = &maxStake.Decimal
	}
	return p, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func getPool(ctx context.Context, q querier, id string) (domain.Pool, error) {
	p, err := scanPoolRow(q.QueryRow(ctx,
		`SELECT `+poolSelectCols+` FROM staking_pools WHERE id = $1`, id))
	if err != nil {
		if mapped := mapError(err); mapped == domain.ErrNotFound {
			return domain.Pool{}, mapped
		}
		return domain.Pool{}, fmt.Errorf("postgres: get pool %s: %w", id, err)
	}
	return p, nil
}

// Upsert inserts the pool or updates the row with the same code. The
// existing id is kept on update.
func (s *PoolStore) Upsert(ctx context.Context, p domain.Pool) (domain.Pool, error) {
	if err := p.Validate(); err != nil {
		return domain.Pool{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	const query = `
		INSERT INTO staking_pools (
			id, code, name, description, asset_symbol, reward_asset_symbol,
			apy_bps, lock_seconds, early_withdraw_penalty_bps,
			min_stake, max_stake, is_active, starts_at, ends_at
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), $5, $6,
			$7, $8, $9,
			$10, $11, $12, $13, $14
		)
		ON CONFLICT (code) DO UPDATE SET
			name                       = EXCLUDED.name,
			description                = EXCLUDED.description,
			asset_symbol               = EXCLUDED.asset_symbol,
			reward_asset_symbol        = EXCLUDED.reward_asset_symbol,
			apy_bps                    = EXCLUDED.apy_bps,
			lock_seconds               = EXCLUDED.lock_seconds,
			early_withdraw_penalty_bps = EXCLUDED.early_withdraw_penalty_bps,
			min_stake                  = EXCLUDED.min_stake,
			max_stake                  = EXCLUDED.max_stake,
			is_active                  = EXCLUDED.is_active,
			starts_at                  = EXCLUDED.starts_at,
			ends_at                    = EXCLUDED.ends_at,
			updated_at                 = NOW()
		RETURNING ` + poolSelectCols

	row := s.pool.QueryRow(ctx, query,
		p.ID, p.Code, p.Name, p.Description, p.AssetSymbol, p.RewardAssetSymbol,
		p.APYBps, p.LockSeconds, p.EarlyWithdrawPenaltyBps,
		nullDecimal(p.MinStake), nullDecimal(p.MaxStake), p.IsActive, p.StartsAt, p.EndsAt,
	)
	saved, err := scanPoolRow(row)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("postgres: upsert pool %s: %w", p.Code, err)
	}
	return saved, nil
}

// GetByID retrieves a pool by its ID.
func (s *PoolStore) GetByID(ctx context.Context, id string) (domain.Pool, error) {
	return getPool(ctx, s.pool, id)
}

// GetByCode retrieves a pool by its unique code.
func (s *PoolStore) GetByCode(ctx context.Context, code string) (domain.Pool, error) {
	p, err := scanPoolRow(s.pool.QueryRow(ctx,
		`SELECT `+poolSelectCols+` FROM staking_pools WHERE code = $1`, code))
	if err != nil {
		if mapped := mapError(err); mapped == domain.ErrNotFound {
			return domain.Pool{}, mapped
		}
		return domain.Pool{}, fmt.Errorf("postgres: get pool by code %s: %w", code, err)
	}
	return p, nil
}

// ListActive returns every active pool ordered by code.
func (s *PoolStore) ListActive(ctx context.Context) ([]domain.Pool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+poolSelectCols+` FROM staking_pools WHERE is_active ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active pools: %w", err)
	}
	defer rows.Close()

	var pools []domain.Pool
	for rows.Next() {
		p, err := scanPoolRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}
