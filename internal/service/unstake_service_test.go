package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

func TestUnstakeService_PrepareBeforeMaturity(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "1000")

	h.clock.Advance(15 * day)
	q, err := h.engine.UnstakePrepare(context.Background(), pos.ID, "alice")
	require.NoError(t, err)

	assert.Equal(t, pos.ID, q.PositionID)
	assert.Equal(t, "SLH-30D", q.PoolCode)
	assert.Equal(t, domain.PositionActive, q.State)
	assert.False(t, q.Matured)
	requireDec(t, "1000", q.Principal)
	requireDec(t, "50", q.Penalty)
	requireDec(t, "950", q.NetPrincipal)
	requireDec(t, "4.931506849315068493", q.Claimable)
	require.NotNil(t, q.MaturesAt)

	// The accrual is persisted, nothing else.
	got := h.position(t, pos.ID)
	assert.Equal(t, domain.PositionActive, got.State)
	requireDec(t, "4.931506849315068493", got.TotalRewardAccrued)
	assert.NotContains(t, h.eventTypes(t, pos.ID), domain.EventUnstakeRequested)
}

func TestUnstakeService_PrepareAfterMaturity(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "1000")

	h.clock.Advance(31 * day)
	q, err := h.engine.UnstakePrepare(context.Background(), pos.ID, "alice")
	require.NoError(t, err)
	assert.True(t, q.Matured)
	assert.True(t, q.Penalty.IsZero())
	requireDec(t, "1000", q.NetPrincipal)
	assert.Equal(t, domain.PositionCompleted, q.State)
}

func TestUnstakeService_PrepareWrongOwner(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "1000")

	_, err := h.engine.UnstakePrepare(context.Background(), pos.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestUnstakeService_ConfirmRequiresKey(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "1000")

	_, err := h.engine.UnstakeConfirm(context.Background(), pos.ID, "alice", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, domain.PositionActive, h.position(t, pos.ID).State)
}

func TestUnstakeService_ConfirmEarlyAppliesPenalty(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "1000")
	ctx := context.Background()

	h.clock.Advance(10 * day)
	res, err := h.engine.UnstakeConfirm(ctx, pos.ID, "alice", "unstake-1")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.False(t, res.Matured)
	assert.Equal(t, domain.PositionWithdrawn, res.State)
	requireDec(t, "50", res.Penalty)
	requireDec(t, "950", res.NetPrincipal)

	got := h.position(t, pos.ID)
	assert.Equal(t, domain.PositionWithdrawn, got.State)
	require.NotNil(t, got.ClosedAt)
	assert.Equal(t, t0.Add(10*day), *got.ClosedAt)
	requireDec(t, "3.287671232876712328", got.TotalRewardAccrued)

	types := h.eventTypes(t, pos.ID)
	assert.Contains(t, types, domain.EventUnstakeRequested)
	assert.Equal(t, domain.EventPositionWithdrawn, types[len(types)-1])

	events, err := h.engine.Positions.Events(ctx, pos.ID, domain.ListOpts{})
	require.NoError(t, err)
	withdrawn := events[len(events)-1]
	require.NotNil(t, withdrawn.Amount)
	requireDec(t, "1000", *withdrawn.Amount)
	assert.Equal(t, "50.000000000000000000", withdrawn.Details["penalty"])
	assert.Equal(t, false, withdrawn.Details["matured"])

	assert.Contains(t, h.notifier.events, string(domain.EventPositionWithdrawn))
}

func TestUnstakeService_ConfirmDuplicateReturnsOriginalTerms(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "1000")
	ctx := context.Background()

	h.clock.Advance(10 * day)
	_, err := h.engine.UnstakeConfirm(ctx, pos.ID, "alice", "unstake-1")
	require.NoError(t, err)
	eventsBefore := len(h.eventTypes(t, pos.ID))
	versionBefore := h.position(t, pos.ID).Version

	h.clock.Advance(30 * day)
	res, err := h.engine.UnstakeConfirm(ctx, pos.ID, "alice", "unstake-1")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.False(t, res.Matured)
	requireDec(t, "50", res.Penalty)
	requireDec(t, "950", res.NetPrincipal)
	assert.Equal(t, domain.PositionWithdrawn, res.State)

	assert.Len(t, h.eventTypes(t, pos.ID), eventsBefore)
	assert.Equal(t, versionBefore, h.position(t, pos.ID).Version)
}

func TestUnstakeService_ConfirmAfterMaturity(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "1000")

	h.clock.Advance(45 * day)
	res, err := h.engine.UnstakeConfirm(context.Background(), pos.ID, "alice", "u")
	require.NoError(t, err)
	assert.True(t, res.Matured)
	assert.True(t, res.Penalty.IsZero())
	assert.Equal(t, domain.PositionWithdrawn, res.State)

	got := h.position(t, pos.ID)
	requireDec(t, "9.863013698630136986", got.TotalRewardAccrued)

	types := h.eventTypes(t, pos.ID)
	assert.Contains(t, types, domain.EventPositionCompleted)
	assert.Equal(t, domain.EventPositionWithdrawn, types[len(types)-1])
}

func TestUnstakeService_ConfirmOnClosedPositionRollsBack(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "1000")
	ctx := context.Background()

	_, err := h.engine.UnstakeConfirm(ctx, pos.ID, "alice", "first")
	require.NoError(t, err)
	eventsBefore := len(h.eventTypes(t, pos.ID))

	_, err = h.engine.UnstakeConfirm(ctx, pos.ID, "alice", "second")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	var te *domain.StateTransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.PositionWithdrawn, te.From)

	// The UNSTAKE_REQUESTED row for "second" was rolled back with the rest.
	assert.Len(t, h.eventTypes(t, pos.ID), eventsBefore)
}

func TestUnstakeService_ConfirmWrongOwner(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "1000")

	_, err := h.engine.UnstakeConfirm(context.Background(), pos.ID, "bob", "k")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, domain.PositionActive, h.position(t, pos.ID).State)
}

func TestUnstakeService_ClaimAfterWithdrawalStillPaysAccrued(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "1000")
	ctx := context.Background()

	h.clock.Advance(10 * day)
	_, err := h.engine.UnstakeConfirm(ctx, pos.ID, "alice", "u")
	require.NoError(t, err)

	claimed, err := h.engine.Claim(ctx, pos.ID, "alice", "c")
	require.NoError(t, err)
	requireDec(t, "3.287671232876712328", claimed)
}

func TestUnstakeService_ConfirmRejectsOversizedKey(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "1000")

	_, err := h.engine.UnstakeConfirm(context.Background(), pos.ID, "alice", strings.Repeat("k", domain.MaxIdempotencyKeyLen+1))
	require.ErrorIs(t, err, domain.ErrValidation)

	got := h.position(t, pos.ID)
	assert.Equal(t, domain.PositionActive, got.State)
	assert.NotContains(t, h.eventTypes(t, pos.ID), domain.EventUnstakeRequested)
}

func TestUnstakeService_KeyCommittedConcurrentlyIsDuplicate(t *testing.T) {
	h := newHarness(t, slhPool())
	first := h.open(t, "alice", "1000")
	second := h.open(t, "alice", "1000")
	ctx := context.Background()

	h.clock.Advance(10 * day)
	done, err := h.engine.UnstakeConfirm(ctx, first.ID, "alice", "unstake-1")
	require.NoError(t, err)
	require.False(t, done.Duplicate)

	racing, pub := h.racingEngine()
	res, err := racing.UnstakeConfirm(ctx, second.ID, "alice", "unstake-1")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, second.ID, res.PositionID)
	assert.Equal(t, domain.PositionActive, res.State)

	got := h.position(t, second.ID)
	assert.Equal(t, domain.PositionActive, got.State)
	assert.Nil(t, got.ClosedAt)
	assert.NotContains(t, h.eventTypes(t, second.ID), domain.EventUnstakeRequested)
	assert.Empty(t, pub.types())
}

func TestUnstakeService_KeyCommittedConcurrentlyStillChecksOwner(t *testing.T) {
	h := newHarness(t, slhPool())
	first := h.open(t, "alice", "1000")
	second := h.open(t, "bob", "1000")
	ctx := context.Background()

	_, err := h.engine.UnstakeConfirm(ctx, first.ID, "alice", "unstake-1")
	require.NoError(t, err)

	racing, _ := h.racingEngine()
	_, err = racing.UnstakeConfirm(ctx, second.ID, "alice", "unstake-1")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestUnstakeService_KeyUsedByClaimIsDuplicate(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "1000")
	ctx := context.Background()

	h.clock.Advance(5 * day)
	_, err := h.engine.Claim(ctx, pos.ID, "alice", "req-7")
	require.NoError(t, err)

	res, err := h.engine.UnstakeConfirm(ctx, pos.ID, "alice", "req-7")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, domain.PositionActive, res.State)
	assert.Equal(t, domain.PositionActive, h.position(t, pos.ID).State)
}
