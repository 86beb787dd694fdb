package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

func TestClaimService_ClaimsAccruedReward(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "1000")
	ctx := context.Background()

	h.clock.Advance(15 * day)
	claimed, err := h.engine.Claim(ctx, pos.ID, "alice", "claim-1")
	require.NoError(t, err)
	requireDec(t, "4.931506849315068493", claimed)

	got := h.position(t, pos.ID)
	requireDec(t, "4.931506849315068493", got.TotalRewardAccrued)
	requireDec(t, "4.931506849315068493", got.TotalRewardClaimed)
	assert.True(t, got.Claimable().IsZero())
	// accrual bump + claim bump
	assert.Equal(t, int64(3), got.Version)

	rewards := h.rewards(t, pos.ID)
	require.Len(t, rewards, 2)
	assert.Equal(t, domain.RewardClaim, rewards[1].Type)
	assert.Equal(t, "claim-1", rewards[1].Meta["idempotency_key"])
	assert.Nil(t, rewards[1].PeriodStart)

	events, err := h.engine.Positions.Events(ctx, pos.ID, domain.ListOpts{})
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventRewardClaimed, last.Type)
	assert.Equal(t, "claim-1", last.IdempotencyKey)
	assert.Equal(t, domain.ActorUser, last.ActorType)
	require.NotNil(t, last.Amount)
	requireDec(t, "4.931506849315068493", *last.Amount)

	assert.Contains(t, h.notifier.events, string(domain.EventRewardClaimed))
}

func TestClaimService_DuplicateKeyPaysOnce(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "1000")
	ctx := context.Background()

	h.clock.Advance(15 * day)
	first, err := h.engine.Claim(ctx, pos.ID, "alice", "claim-1")
	require.NoError(t, err)
	require.True(t, first.IsPositive())

	h.clock.Advance(day)
	second, err := h.engine.Claim(ctx, pos.ID, "alice", "claim-1")
	require.NoError(t, err)
	assert.True(t, second.IsZero())

	got := h.position(t, pos.ID)
	assert.True(t, first.Equal(got.TotalRewardClaimed))
	// The retry still persisted the fresh accrual.
	assert.True(t, got.TotalRewardAccrued.GreaterThan(got.TotalRewardClaimed))

	var claims int
	for _, r := range h.rewards(t, pos.ID) {
		if r.Type == domain.RewardClaim {
			claims++
		}
	}
	assert.Equal(t, 1, claims)
}

func TestClaimService_ConcurrentRetriesPayOnce(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "1000")
	h.clock.Advance(15 * day)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total = decimal.Zero
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			amt, err := h.engine.Claim(context.Background(), pos.ID, "alice", "same-key")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			total = total.Add(amt)
			mu.Unlock()
		}()
	}
	wg.Wait()

	requireDec(t, "4.931506849315068493", total)
	requireDec(t, "4.931506849315068493", h.position(t, pos.ID).TotalRewardClaimed)
}

func TestClaimService_NothingClaimable(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "1000")

	claimed, err := h.engine.Claim(context.Background(), pos.ID, "alice", "k")
	require.NoError(t, err)
	assert.True(t, claimed.IsZero())
	assert.Empty(t, h.rewards(t, pos.ID))
	assert.Equal(t, int64(1), h.position(t, pos.ID).Version)
}

func TestClaimService_EmptyKeyIsNotDeduplicated(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "1000")
	ctx := context.Background()

	h.clock.Advance(day)
	first, err := h.engine.Claim(ctx, pos.ID, "alice", "")
	require.NoError(t, err)
	requireDec(t, "0.328767123287671232", first)

	h.clock.Advance(day)
	second, err := h.engine.Claim(ctx, pos.ID, "alice", "")
	require.NoError(t, err)
	requireDec(t, "0.328767123287671232", second)

	events, err := h.engine.Positions.Events(ctx, pos.ID, domain.ListOpts{})
	require.NoError(t, err)
	keys := map[string]bool{}
	for _, e := range events {
		if e.Type == domain.EventRewardClaimed {
			require.NotEmpty(t, e.IdempotencyKey)
			keys[e.IdempotencyKey] = true
		}
	}
	assert.Len(t, keys, 2)
}

func TestClaimService_WrongOwnerChangesNothing(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "1000")

	h.clock.Advance(15 * day)
	_, err := h.engine.Claim(context.Background(), pos.ID, "mallory", "k")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	got := h.position(t, pos.ID)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.TotalRewardAccrued.IsZero())
}

func TestClaimService_LockUnavailable(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "1000")
	h.clock.Advance(day)

	release := h.store.HoldRowLock(pos.ID)
	_, err := h.engine.Claim(context.Background(), pos.ID, "alice", "k")
	assert.ErrorIs(t, err, domain.ErrLockUnavailable)
	release()

	// Retrying with the same key after the lock clears succeeds.
	claimed, err := h.engine.Claim(context.Background(), pos.ID, "alice", "k")
	require.NoError(t, err)
	requireDec(t, "0.328767123287671232", claimed)
}

func TestClaimService_ClaimedNeverExceedsAccrued(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "777.777777777777777777")
	ctx := context.Background()

	for i := 0; i < 40; i++ {
		h.clock.Advance(day)
		if i%3 == 0 {
			_, err := h.engine.Accrue(ctx, pos.ID)
			require.NoError(t, err)
		} else {
			_, err := h.engine.Claim(ctx, pos.ID, "alice", "")
			require.NoError(t, err)
		}
		got := h.position(t, pos.ID)
		require.True(t, got.TotalRewardClaimed.LessThanOrEqual(got.TotalRewardAccrued))
		require.False(t, got.TotalRewardClaimed.IsNegative())
	}
}

func TestClaimService_RejectsOversizedKey(t *testing.T) {
	h := newHarness(t, slhPool())
	pos := h.open(t, "alice", "1000")

	h.clock.Advance(15 * day)
	_, err := h.engine.Claim(context.Background(), pos.ID, "alice", strings.Repeat("k", domain.MaxIdempotencyKeyLen+1))
	require.ErrorIs(t, err, domain.ErrValidation)

	// Rejected before the unit of work: not even the accrual ran.
	got := h.position(t, pos.ID)
	assert.Equal(t, pos.Version, got.Version)
	assert.True(t, got.TotalRewardAccrued.IsZero())
	assert.Empty(t, h.rewards(t, pos.ID))
}

func TestClaimService_KeyCommittedConcurrentlyIsDuplicate(t *testing.T) {
	h := newHarness(t, slhPool())
	first := h.open(t, "alice", "1000")
	second := h.open(t, "alice", "1000")
	ctx := context.Background()

	h.clock.Advance(15 * day)
	paid, err := h.engine.Claim(ctx, first.ID, "alice", "shared-key")
	require.NoError(t, err)
	require.True(t, paid.IsPositive())

	racing, pub := h.racingEngine()
	claimed, err := racing.Claim(ctx, second.ID, "alice", "shared-key")
	require.NoError(t, err)
	assert.True(t, claimed.IsZero())

	// The losing unit of work rolled back entirely and published nothing.
	got := h.position(t, second.ID)
	assert.Equal(t, second.Version, got.Version)
	assert.True(t, got.TotalRewardClaimed.IsZero())
	assert.Empty(t, h.rewards(t, second.ID))
	assert.Empty(t, pub.types())
}
