package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxBps is 100% expressed in basis points.
const MaxBps = 10_000

// Pool is the configuration template a position stakes against.
type Pool struct {
	ID                      string           `json:"id"`
	Code                    string           `json:"code"`
	Name                    string           `json:"name"`
	Description             string           `json:"description,omitempty"`
	AssetSymbol             string           `json:"asset_symbol"`
	RewardAssetSymbol       string           `json:"reward_asset_symbol"`
	APYBps                  int              `json:"apy_bps"`
	LockSeconds             int64            `json:"lock_seconds"`
	EarlyWithdrawPenaltyBps int              `json:"early_withdraw_penalty_bps"`
	MinStake                *decimal.Decimal `json:"min_stake,omitempty"`
	MaxStake                *decimal.Decimal `json:"max_stake,omitempty"`
	IsActive                bool             `json:"is_active"`
	StartsAt                *time.Time       `json:"starts_at,omitempty"`
	EndsAt                  *time.Time       `json:"ends_at,omitempty"`
	CreatedAt               time.Time        `json:"created_at"`
	UpdatedAt               time.Time        `json:"updated_at"`
}

// Validate checks the pool's static invariants.
func (p Pool) Validate() error {
	if p.Code == "" {
		return Validationf("pool code is required")
	}
	if p.APYBps < 0 {
		return Validationf("pool %s: apy_bps must be >= 0, got %d", p.Code, p.APYBps)
	}
	if p.LockSeconds < 0 {
		return Validationf("pool %s: lock_seconds must be >= 0, got %d", p.Code, p.LockSeconds)
	}
	if p.EarlyWithdrawPenaltyBps < 0 || p.EarlyWithdrawPenaltyBps > MaxBps {
		return Validationf("pool %s: early_withdraw_penalty_bps must be in [0, %d], got %d",
			p.Code, MaxBps, p.EarlyWithdrawPenaltyBps)
	}
	if p.MinStake != nil && p.MaxStake != nil && p.MinStake.GreaterThan(*p.MaxStake) {
		return Validationf("pool %s: min_stake exceeds max_stake", p.Code)
	}
	if p.StartsAt != nil && p.EndsAt != nil && p.EndsAt.Before(*p.StartsAt) {
		return Validationf("pool %s: ends_at is before starts_at", p.Code)
	}
	return nil
}

// CheckStake validates a stake amount against the pool at time now.
func (p Pool) CheckStake(amount decimal.Decimal, now time.Time) error {
	if !amount.IsPositive() {
		return Validationf("amount must be > 0")
	}
	if p.MinStake != nil && amount.LessThan(*p.MinStake) {
		return Validationf("amount %s below pool minimum %s", amount, p.MinStake)
	}
	if p.MaxStake != nil && amount.GreaterThan(*p.MaxStake) {
		return Validationf("amount %s above pool maximum %s", amount, p.MaxStake)
	}
	if !p.IsActive {
		return Validationf("pool %s is not active", p.Code)
	}
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return Validationf("pool %s opens at %s", p.Code, p.StartsAt.Format(time.RFC3339))
	}
	if p.EndsAt != nil && !now.Before(*p.EndsAt) {
		return Validationf("pool %s closed at %s", p.Code, p.EndsAt.Format(time.RFC3339))
	}
	return nil
}

// Penalty is the early-withdrawal penalty on principal, truncated to Scale.
func (p Pool) Penalty(principal decimal.Decimal) decimal.Decimal {
	if p.EarlyWithdrawPenaltyBps <= 0 || !principal.IsPositive() {
		return decimal.Zero
	}
	return MulBps(principal, int64(p.EarlyWithdrawPenaltyBps))
}
