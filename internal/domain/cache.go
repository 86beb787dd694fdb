package domain

import (
	"context"
	"time"
)

// PoolCache provides fast pool lookups by code in front of the PoolStore.
type PoolCache interface {
	Set(ctx context.Context, pool Pool) error
	GetByCode(ctx context.Context, code string) (Pool, error)
	Invalidate(ctx context.Context, code string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// EventPublisher fans committed staking events out to downstream consumers.
type EventPublisher interface {
	PublishEvents(ctx context.Context, events []Event) error
}
