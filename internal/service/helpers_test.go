package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakingengine/internal/domain"
	"github.com/alanyoungcy/stakingengine/internal/store/memory"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) PublishEvents(_ context.Context, events []domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return p.err
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

type stubLocks struct {
	held bool
}

func (l *stubLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

type harness struct {
	engine    *Engine
	store     *memory.Store
	clock     *fakeClock
	publisher *recordingPublisher
	notifier  *recordingNotifier
	pool      domain.Pool
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func slhPool() domain.Pool {
	return domain.Pool{
		Code:                    "SLH-30D",
		Name:                    "SLH 30 days",
		AssetSymbol:             "SLH",
		RewardAssetSymbol:       "SLH",
		APYBps:                  1200,
		LockSeconds:             int64((30 * day) / time.Second),
		EarlyWithdrawPenaltyBps: 500,
		MinStake:                decPtr("1"),
		MaxStake:                decPtr("1000000"),
		IsActive:                true,
	}
}

func newHarness(t *testing.T, pool domain.Pool) *harness {
	t.Helper()
	h := &harness{
		store:     memory.New(),
		clock:     &fakeClock{now: t0},
		publisher: &recordingPublisher{},
		notifier:  &recordingNotifier{},
	}
	logger := discardLogger()
	fanout := NewFanout(h.publisher, h.notifier, logger)
	h.engine = NewEngine(h.store, nil, nil, fanout, EngineConfig{Clock: h.clock.Now}, logger)

	saved, err := h.engine.Pools.Upsert(context.Background(), pool)
	require.NoError(t, err)
	h.pool = saved
	return h
}

func (h *harness) open(t *testing.T, owner, amount string) domain.Position {
	t.Helper()
	pos, err := h.engine.CreatePosition(context.Background(), owner, h.pool.ID, decimal.RequireFromString(amount))
	require.NoError(t, err)
	return pos
}

func (h *harness) position(t *testing.T, id string) domain.Position {
	t.Helper()
	pos, err := h.engine.Positions.Get(context.Background(), id)
	require.NoError(t, err)
	return pos
}

func (h *harness) rewards(t *testing.T, id string) []domain.Reward {
	t.Helper()
	out, err := h.engine.Positions.Rewards(context.Background(), id, domain.ListOpts{})
	require.NoError(t, err)
	return out
}

func (h *harness) eventTypes(t *testing.T, id string) []domain.EventType {
	t.Helper()
	events, err := h.engine.Positions.Events(context.Background(), id, domain.ListOpts{})
	require.NoError(t, err)
	out := make([]domain.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// decimalUnits is n units of the smallest representable amount.
func decimalUnits(n int64) decimal.Decimal {
	return decimal.New(n, -domain.Scale)
}

// staleKeyStore hides committed idempotency keys from EventByKey, so the
// unique key constraint on insert is the first thing to notice a reuse. This
// is what a request sees when another transaction commits the same key
// between its lookup and its insert.
type staleKeyStore struct {
	domain.StakingStore
}

func (s staleKeyStore) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.StakingTx) error) error {
	return s.StakingStore.InTx(ctx, func(ctx context.Context, tx domain.StakingTx) error {
		return fn(ctx, staleKeyTx{StakingTx: tx})
	})
}

type staleKeyTx struct {
	domain.StakingTx
}

func (staleKeyTx) EventByKey(context.Context, string) (domain.Event, error) {
	return domain.Event{}, domain.ErrNotFound
}

// racingEngine returns an engine over the harness store whose key lookups
// always miss, publishing to its own recorder.
func (h *harness) racingEngine() (*Engine, *recordingPublisher) {
	pub := &recordingPublisher{}
	logger := discardLogger()
	engine := NewEngine(staleKeyStore{StakingStore: h.store}, nil, nil,
		NewFanout(pub, nil, logger), EngineConfig{Clock: h.clock.Now}, logger)
	return engine, pub
}
