package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PoolStore is the read-mostly pool registry.
type PoolStore interface {
	Upsert(ctx context.Context, pool Pool) (Pool, error)
	GetByID(ctx context.Context, id string) (Pool, error)
	GetByCode(ctx context.Context, code string) (Pool, error)
	ListActive(ctx context.Context) ([]Pool, error)
}

// PositionReader serves lock-free reads for reporting callers.
type PositionReader interface {
	GetByID(ctx context.Context, id string) (Position, error)
	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]Position, error)
}

// LedgerReader serves the append-only reward and event logs.
type LedgerReader interface {
	ListRewards(ctx context.Context, positionID string, opts ListOpts) ([]Reward, error)
	ListEvents(ctx context.Context, positionID string, opts ListOpts) ([]Event, error)
	// RewardsBetween and EventsBetween return rows created in [since, until).
	RewardsBetween(ctx context.Context, since, until time.Time) ([]Reward, error)
	EventsBetween(ctx context.Context, since, until time.Time) ([]Event, error)
}

// StakingTx is one unit of work. Every method runs inside the same
// transaction and all writes commit or roll back together.
type StakingTx interface {
	GetPool(ctx context.Context, id string) (Pool, error)

	// LockPosition reads a position under an exclusive row lock held until
	// the transaction ends. It returns ErrLockUnavailable when the lock
	// cannot be acquired within the store's lock timeout.
	LockPosition(ctx context.Context, id string) (Position, error)

	// LockActivePositions locks every ACTIVE position it can, skipping rows
	// another transaction holds.
	LockActivePositions(ctx context.Context) ([]Position, error)

	// TryAdvisoryLock takes a transaction-scoped global lock. It returns
	// false without waiting if another transaction holds it.
	TryAdvisoryLock(ctx context.Context, key int64) (bool, error)

	InsertPosition(ctx context.Context, pos Position) error
	UpdatePosition(ctx context.Context, pos Position) error
	InsertReward(ctx context.Context, r Reward) error

	// InsertEvent returns ErrDuplicateKey when the idempotency key exists.
	InsertEvent(ctx context.Context, e Event) error

	// EventByKey returns ErrNotFound when no event carries key.
	EventByKey(ctx context.Context, key string) (Event, error)

	// LatestEvent returns the newest event of the given types for a position.
	LatestEvent(ctx context.Context, positionID string, types ...EventType) (Event, error)
}

// StakingStore opens units of work and serves reads.
type StakingStore interface {
	// InTx runs fn in a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(ctx context.Context, tx StakingTx) error) error

	Pools() PoolStore
	Positions() PositionReader
	Ledger() LedgerReader
}
