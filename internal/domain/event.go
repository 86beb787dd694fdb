package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a state-affecting action in the staking audit log.
type EventType string

const (
	EventPositionCreated   EventType = "POSITION_CREATED"
	EventPositionActivated EventType = "POSITION_ACTIVATED"
	EventAccrualRecorded   EventType = "ACCRUAL_RECORDED"
	EventRewardClaimed     EventType = "REWARD_CLAIMED"
	EventUnstakeRequested  EventType = "UNSTAKE_REQUESTED"
	EventPositionWithdrawn EventType = "POSITION_WITHDRAWN"
	EventPositionCancelled EventType = "POSITION_CANCELLED"
	EventPositionCompleted EventType = "POSITION_COMPLETED"
)

// ActorType identifies who caused an event.
type ActorType string

const (
	ActorUser   ActorType = "USER"
	ActorSystem ActorType = "SYSTEM"
	ActorAdmin  ActorType = "ADMIN"
)

// Event is an append-only audit entry. IdempotencyKey is unique when set.
type Event struct {
	ID             string           `json:"id"`
	Type           EventType        `json:"event_type"`
	Owner          string           `json:"owner"`
	PoolID         string           `json:"pool_id,omitempty"`
	PositionID     string           `json:"position_id,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
	ActorType      ActorType        `json:"actor_type"`
	ActorID        string           `json:"actor_id,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	Details        map[string]any   `json:"details,omitempty"`
}
