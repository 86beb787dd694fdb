package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RewardType classifies a reward row.
type RewardType string

const (
	RewardAccrual    RewardType = "ACCRUAL"
	RewardClaim      RewardType = "CLAIM"
	RewardAdjustment RewardType = "ADJUSTMENT"
)

// Reward is an immutable record of one accrual, claim, or adjustment.
type Reward struct {
	ID          string          `json:"id"`
	PositionID  string          `json:"position_id"`
	Type        RewardType      `json:"reward_type"`
	Amount      decimal.Decimal `json:"amount"`
	PeriodStart *time.Time      `json:"period_start,omitempty"`
	PeriodEnd   *time.Time      `json:"period_end,omitempty"`
	Meta        map[string]any  `json:"meta,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
