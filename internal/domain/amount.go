package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits persisted for every amount.
const Scale int32 = 18

var bpsDenominator = decimal.NewFromInt(MaxBps)

// ParseAmount parses a decimal string strictly. Empty, malformed, or
// over-precise input is rejected rather than rounded or defaulted to zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, Validationf("amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, Validationf("malformed amount %q", s)
	}
	if d.Exponent() < -Scale && !d.Equal(d.Truncate(Scale)) {
		return decimal.Zero, Validationf("amount %q has more than %d fractional digits", s, Scale)
	}
	return d.Truncate(Scale), nil
}

// TruncateScale drops digits beyond Scale toward zero.
func TruncateScale(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(Scale)
}

// MulBps returns amount * bps / 10000 truncated to Scale.
func MulBps(amount decimal.Decimal, bps int64) decimal.Decimal {
	q, _ := amount.Mul(decimal.NewFromInt(bps)).QuoRem(bpsDenominator, Scale)
	return q
}

// FormatAmount renders d with exactly Scale fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
