// Package accrual computes simple-interest staking rewards in fixed point.
package accrual

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

// SecondsPerYear is the fixed 365-day year used for every accrual.
const SecondsPerYear int64 = 365 * 24 * 60 * 60

// Method is recorded on accrual rewards so auditors can recompute them.
const Method = "continuous_seconds_365d"

// Result is the outcome of one accrual window.
type Result struct {
	Amount  decimal.Decimal
	Seconds int64
}

var denominator = decimal.NewFromInt(domain.MaxBps * SecondsPerYear)

// Calculate returns principal * apyBps/10000 * seconds/SecondsPerYear
// truncated to 18 fractional digits. Only whole elapsed seconds count.
func Calculate(principal decimal.Decimal, apyBps int, start, end time.Time) Result {
	if !end.After(start) {
		return Result{Amount: decimal.Zero}
	}
	seconds := int64(end.Sub(start) / time.Second)
	if !principal.IsPositive() || apyBps <= 0 || seconds == 0 {
		return Result{Amount: decimal.Zero, Seconds: seconds}
	}

	numerator := principal.
		Mul(decimal.NewFromInt(int64(apyBps))).
		Mul(decimal.NewFromInt(seconds))
	amount, _ := numerator.QuoRem(denominator, domain.Scale)
	return Result{Amount: amount, Seconds: seconds}
}
