package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PositionState is the lifecycle state of a staking position.
type PositionState uint8

const (
	PositionCreated PositionState = iota
	PositionActive
	PositionCompleted
	PositionWithdrawn
	PositionCancelled

	positionStateCount
)

var positionStateNames = [positionStateCount]string{
	PositionCreated:   "CREATED",
	PositionActive:    "ACTIVE",
	PositionCompleted: "COMPLETED",
	PositionWithdrawn: "WITHDRAWN",
	PositionCancelled: "CANCELLED",
}

// allowedTransitions is the only place transitions are defined. Rows are the
// source state, columns the destination.
var allowedTransitions = [positionStateCount][positionStateCount]bool{
	PositionCreated: {
		PositionActive:    true,
		PositionCancelled: true,
	},
	PositionActive: {
		PositionCompleted: true,
		PositionWithdrawn: true,
		PositionCancelled: true,
	},
	PositionCompleted: {
		PositionWithdrawn: true,
	},
	PositionWithdrawn: {},
	PositionCancelled: {},
}

// AllPositionStates returns every state in declaration order.
func AllPositionStates() []PositionState {
	out := make([]PositionState, 0, positionStateCount)
	for s := PositionState(0); s < positionStateCount; s++ {
		out = append(out, s)
	}
	return out
}

func (s PositionState) String() string {
	if !s.Valid() {
		return fmt.Sprintf("PositionState(%d)", uint8(s))
	}
	return positionStateNames[s]
}

// Valid reports whether s is one of the declared states.
func (s PositionState) Valid() bool {
	return s < positionStateCount
}

// Terminal reports whether no further transition is possible from s.
func (s PositionState) Terminal() bool {
	if !s.Valid() {
		return false
	}
	for _, ok := range allowedTransitions[s] {
		if ok {
			return false
		}
	}
	return true
}

// Accrues reports whether positions in state s still earn rewards.
func (s PositionState) Accrues() bool {
	return s == PositionActive || s == PositionCompleted
}

// ParsePositionState maps the persisted name back to a PositionState.
func ParsePositionState(name string) (PositionState, error) {
	for i, n := range positionStateNames {
		if strings.EqualFold(n, name) {
			return PositionState(i), nil
		}
	}
	return 0, fmt.Errorf("domain: unknown position state %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s PositionState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("domain: marshal invalid position state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *PositionState) UnmarshalText(text []byte) error {
	v, err := ParsePositionState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ValidateTransition returns a *StateTransitionError unless from -> to is in
// the transition matrix.
func ValidateTransition(from, to PositionState) error {
	if !from.Valid() || !to.Valid() || !allowedTransitions[from][to] {
		return &StateTransitionError{From: from, To: to}
	}
	return nil
}

// Position is one owner's stake against a pool.
type Position struct {
	ID                 string          `json:"id"`
	Owner              string          `json:"owner"`
	PoolID             string          `json:"pool_id"`
	Principal          decimal.Decimal `json:"principal"`
	State              PositionState   `json:"state"`
	CreatedAt          time.Time       `json:"created_at"`
	ActivatedAt        *time.Time      `json:"activated_at,omitempty"`
	MaturesAt          *time.Time      `json:"matures_at,omitempty"`
	ClosedAt           *time.Time      `json:"closed_at,omitempty"`
	LastAccrualAt      *time.Time      `json:"last_accrual_at,omitempty"`
	TotalRewardAccrued decimal.Decimal `json:"total_reward_accrued"`
	TotalRewardClaimed decimal.Decimal `json:"total_reward_claimed"`
	Version            int64           `json:"version"`
}

// TransitionTo moves the position to state to, leaving it untouched when
// the transition is not allowed. Callers bump Version.
func (p *Position) TransitionTo(to PositionState) error {
	if err := ValidateTransition(p.State, to); err != nil {
		return err
	}
	p.State = to
	return nil
}

// Claimable is accrued minus claimed, floored at zero.
func (p *Position) Claimable() decimal.Decimal {
	c := p.TotalRewardAccrued.Sub(p.TotalRewardClaimed)
	if !c.IsPositive() {
		return decimal.Zero
	}
	return c
}

// AccrualStart is the beginning of the next accrual window.
func (p *Position) AccrualStart() time.Time {
	switch {
	case p.LastAccrualAt != nil:
		return *p.LastAccrualAt
	case p.ActivatedAt != nil:
		return *p.ActivatedAt
	default:
		return p.CreatedAt
	}
}

// Matured reports whether the lock has elapsed at now. Positions without a
// maturity deadline are always matured.
func (p *Position) Matured(now time.Time) bool {
	return p.MaturesAt == nil || !now.Before(*p.MaturesAt)
}
