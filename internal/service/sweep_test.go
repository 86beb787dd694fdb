package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

func TestSweeper_AccruesAllActivePositions(t *testing.T) {
	h := newHarness(t, slhPool())
	ctx := context.Background()

	a := h.open(t, "alice", "1000")
	b := h.open(t, "bob", "1000")
	closed := h.open(t, "carol", "1000")
	_, err := h.engine.UnstakeConfirm(ctx, closed.ID, "carol", "u")
	require.NoError(t, err)

	h.clock.Advance(15 * day)
	res, err := h.engine.Sweep(ctx)
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 2, res.RewardsInserted)
	assert.Zero(t, res.Completed)
	requireDec(t, "9.863013698630136986", res.TotalReward)
	assert.Equal(t, t0.Add(15*day), res.Now)

	requireDec(t, "4.931506849315068493", h.position(t, a.ID).TotalRewardAccrued)
	requireDec(t, "4.931506849315068493", h.position(t, b.ID).TotalRewardAccrued)
	assert.True(t, h.position(t, closed.ID).TotalRewardAccrued.IsZero())
}

func TestSweeper_RepeatAtSameInstantIsNoOp(t *testing.T) {
	h := newHarness(t, slhPool())
	ctx := context.Background()
	pos := h.open(t, "alice", "1000")

	h.clock.Advance(day)
	_, err := h.engine.Sweep(ctx)
	require.NoError(t, err)

	res, err := h.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Zero(t, res.Updated)
	assert.True(t, res.TotalReward.IsZero())
	assert.Len(t, h.rewards(t, pos.ID), 1)
}

func TestSweeper_CompletesMaturedPositions(t *testing.T) {
	h := newHarness(t, slhPool())
	ctx := context.Background()
	pos := h.open(t, "alice", "1000")

	h.clock.Advance(31 * day)
	res, err := h.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, domain.PositionCompleted, h.position(t, pos.ID).State)

	// Completed positions are no longer swept.
	res, err = h.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
}

func TestSweeper_SkipsRowsLockedByUsers(t *testing.T) {
	h := newHarness(t, slhPool())
	ctx := context.Background()
	a := h.open(t, "alice", "1000")
	b := h.open(t, "bob", "1000")

	h.clock.Advance(day)
	release := h.store.HoldRowLock(a.ID)
	res, err := h.engine.Sweep(ctx)
	release()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.True(t, h.position(t, a.ID).TotalRewardAccrued.IsZero())
	assert.True(t, h.position(t, b.ID).TotalRewardAccrued.IsPositive())

	// The skipped row catches up on the next run with no gap. Its single
	// window can only differ from b's two windows by truncation.
	h.clock.Advance(day)
	_, err = h.engine.Sweep(ctx)
	require.NoError(t, err)
	accruedA := h.position(t, a.ID).TotalRewardAccrued
	accruedB := h.position(t, b.ID).TotalRewardAccrued
	assert.True(t, accruedA.GreaterThanOrEqual(accruedB))
	assert.True(t, accruedA.Sub(accruedB).LessThanOrEqual(decimalUnits(1)))
}

func TestSweeper_SkippedWhenAdvisoryLockHeld(t *testing.T) {
	h := newHarness(t, slhPool())
	ctx := context.Background()
	pos := h.open(t, "alice", "1000")

	h.clock.Advance(day)
	release := h.store.HoldAdvisoryLock(DefaultSweepLockKey)
	res, err := h.engine.Sweep(ctx)
	release()
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, res.Scanned)
	assert.True(t, h.position(t, pos.ID).TotalRewardAccrued.IsZero())
}

func TestSweeper_SkippedWhenDistributedLockHeld(t *testing.T) {
	h := newHarness(t, slhPool())
	ctx := context.Background()
	h.open(t, "alice", "1000")
	h.clock.Advance(day)

	locks := &stubLocks{held: true}
	sw := NewSweeper(h.store, locks, nil, 0, 0, h.clock.Now, discardLogger())
	res, err := sw.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	locks.held = false
	res, err = sw.Run(ctx)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.RewardsInserted)
}

func TestSweeper_AgreesWithOnDemandAccrual(t *testing.T) {
	ctx := context.Background()

	swept := newHarness(t, slhPool())
	a := swept.open(t, "alice", "1234.5")
	demand := newHarness(t, slhPool())
	b := demand.open(t, "alice", "1234.5")

	for i := 0; i < 5; i++ {
		swept.clock.Advance(2 * day)
		demand.clock.Advance(2 * day)
		_, err := swept.engine.Sweep(ctx)
		require.NoError(t, err)
		_, err = demand.engine.Accrue(ctx, b.ID)
		require.NoError(t, err)
	}

	requireDec(t,
		demand.position(t, b.ID).TotalRewardAccrued.String(),
		swept.position(t, a.ID).TotalRewardAccrued)
}
