package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

// PositionStore implements domain.PositionReader using PostgreSQL. Reads
// take no row locks; mutation goes through StakingStore.InTx.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ domain.PositionReader = (*PositionStore)(nil)

const positionSelectCols = `id, owner, pool_id, principal_amount, state,
	created_at, activated_at, matures_at, closed_at, last_accrual_at,
	total_reward_accrued, total_reward_claimed, version`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var state string

	err := row.Scan(
		&p.ID, &p.Owner, &p.PoolID, &p.Principal, &state,
		&p.CreatedAt, &p.ActivatedAt, &p.MaturesAt, &p.ClosedAt, &p.LastAccrualAt,
		&p.TotalRewardAccrued, &p.TotalRewardClaimed, &p.Version,
	)
	if err != nil {
		return domain.Position{}, err
	}
	if p.State, err = domain.ParsePositionState(state); err != nil {
		return domain.Position{}, err
	}
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM staking_positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if mapped := mapError(err); mapped == domain.ErrNotFound {
			return domain.Position{}, mapped
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListByOwner returns the owner's positions, newest first.
func (s *PositionStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM staking_positions WHERE owner = $1`
	args := []any{owner}

	query, args = applyListOpts(query, args, "created_at", "DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", owner, err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// applyListOpts appends time filters, ordering, and pagination to a query
// whose WHERE clause already binds len(args) parameters.
func applyListOpts(query string, args []any, timeCol, order string, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", timeCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY %s %s, id", timeCol, order)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
