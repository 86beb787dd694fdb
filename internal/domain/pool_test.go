package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func timePtr(t time.Time) *time.Time { return &t }

func testPool() Pool {
	return Pool{
		ID:                      "pool-1",
		Code:                    "SLH-30D",
		APYBps:                  1200,
		LockSeconds:             30 * 24 * 3600,
		EarlyWithdrawPenaltyBps: 500,
		MinStake:                decPtr("1"),
		MaxStake:                decPtr("1000000"),
		IsActive:                true,
	}
}

func TestPool_Validate(t *testing.T) {
	assert.NoError(t, testPool().Validate())

	tests := []struct {
		name   string
		mutate func(p *Pool)
	}{
		{"missing code", func(p *Pool) { p.Code = "" }},
		{"negative apy", func(p *Pool) { p.APYBps = -1 }},
		{"negative lock", func(p *Pool) { p.LockSeconds = -1 }},
		{"penalty above 100%", func(p *Pool) { p.EarlyWithdrawPenaltyBps = 10_001 }},
		{"negative penalty", func(p *Pool) { p.EarlyWithdrawPenaltyBps = -5 }},
		{"min above max", func(p *Pool) { p.MinStake = decPtr("10"); p.MaxStake = decPtr("5") }},
		{"window reversed", func(p *Pool) {
			p.StartsAt = timePtr(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
			p.EndsAt = timePtr(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPool()
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrValidation)
		})
	}
}

func TestPool_CheckStake(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	p := testPool()
	assert.NoError(t, p.CheckStake(decimal.NewFromInt(1), now))
	assert.NoError(t, p.CheckStake(decimal.NewFromInt(1_000_000), now))

	for _, amt := range []string{"0", "-1", "0.5", "1000000.000000000000000001"} {
		assert.ErrorIs(t, p.CheckStake(decimal.RequireFromString(amt), now), ErrValidation, amt)
	}

	inactive := testPool()
	inactive.IsActive = false
	assert.ErrorIs(t, inactive.CheckStake(decimal.NewFromInt(10), now), ErrValidation)

	notOpen := testPool()
	notOpen.StartsAt = timePtr(now.Add(time.Hour))
	assert.ErrorIs(t, notOpen.CheckStake(decimal.NewFromInt(10), now), ErrValidation)

	closed := testPool()
	closed.EndsAt = timePtr(now)
	assert.ErrorIs(t, closed.CheckStake(decimal.NewFromInt(10), now), ErrValidation)
}

func TestPool_Penalty(t *testing.T) {
	p := testPool()
	assert.True(t, decimal.NewFromInt(50).Equal(p.Penalty(decimal.NewFromInt(1000))))

	// 0.000000000000000019 * 5% truncates to 0.
	assert.True(t, p.Penalty(decimal.RequireFromString("0.000000000000000019")).IsZero())

	p.EarlyWithdrawPenaltyBps = 0
	assert.True(t, p.Penalty(decimal.NewFromInt(1000)).IsZero())
}
