// Package memory implements the domain staking store in process memory.
// Transactions are serialized, so it suits tests and single-process tools.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

// Store is an in-memory domain.StakingStore.
type Store struct {
	txMu sync.Mutex

	mu        sync.RWMutex
	pools     map[string]domain.Pool // keyed by ID
	positions map[string]domain.Position
	rewards   []domain.Reward
	events    []domain.Event
	eventKeys map[string]int // idempotency key -> index into events

	heldRows     map[string]bool
	heldAdvisory map[int64]bool
}

var _ domain.StakingStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		pools:        make(map[string]domain.Pool),
		positions:    make(map[string]domain.Position),
		eventKeys:    make(map[string]int),
		heldRows:     make(map[string]bool),
		heldAdvisory: make(map[int64]bool),
	}
}

// HoldRowLock simulates another transaction holding the row lock on a
// position until release is called.
func (s *Store) HoldRowLock(positionID string) (release func()) {
	s.mu.Lock()
	s.heldRows[positionID] = true
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.heldRows, positionID)
		s.mu.Unlock()
	}
}

// HoldAdvisoryLock simulates another session holding the advisory lock key.
func (s *Store) HoldAdvisoryLock(key int64) (release func()) {
	s.mu.Lock()
	s.heldAdvisory[key] = true
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.heldAdvisory, key)
		s.mu.Unlock()
	}
}

// InTx runs fn against staged state and applies it only when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.StakingTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &stakingTx{
		store:     s,
		positions: make(map[string]domain.Position),
		eventKeys: make(map[string]int),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range tx.positions {
		s.positions[id] = p
	}
	s.rewards = append(s.rewards, tx.rewards...)
	for _, e := range tx.events {
		if e.IdempotencyKey != "" {
			s.eventKeys[e.IdempotencyKey] = len(s.events)
		}
		s.events = append(s.events, e)
	}
	return nil
}

// Pools returns the pool registry.
func (s *Store) Pools() domain.PoolStore { return poolStore{s} }

// Positions returns the lock-free position reader.
func (s *Store) Positions() domain.PositionReader { return positionReader{s} }

// Ledger returns the reward and event log reader.
func (s *Store) Ledger() domain.LedgerReader { return ledgerReader{s} }

// stakingTx buffers writes until InTx commits them.
type stakingTx struct {
	store     *Store
	positions map[string]domain.Position
	rewards   []domain.Reward
	events    []domain.Event
	eventKeys map[string]int
}

func (tx *stakingTx) GetPool(_ context.Context, id string) (domain.Pool, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	p, ok := tx.store.pools[id]
	if !ok {
		return domain.Pool{}, domain.ErrNotFound
	}
	return clonePool(p), nil
}

func (tx *stakingTx) position(id string) (domain.Position, bool) {
	if p, ok := tx.positions[id]; ok {
		return p, true
	}
	p, ok := tx.store.positions[id]
	return p, ok
}

func (tx *stakingTx) LockPosition(_ context.Context, id string) (domain.Position, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	p, ok := tx.position(id)
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	if tx.store.heldRows[id] {
		return domain.Position{}, domain.ErrLockUnavailable
	}
	return clonePosition(p), nil
}

func (tx *stakingTx) LockActivePositions(_ context.Context) ([]domain.Position, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	seen := make(map[string]bool)
	var out []domain.Position
	add := func(p domain.Position) {
		if seen[p.ID] {
			return
		}
		seen[p.ID] = true
		if p.State == domain.PositionActive && !tx.store.heldRows[p.ID] {
			out = append(out, clonePosition(p))
		}
	}
	for _, p := range tx.positions {
		add(p)
	}
	for _, p := range tx.store.positions {
		add(p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (tx *stakingTx) TryAdvisoryLock(_ context.Context, key int64) (bool, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return !tx.store.heldAdvisory[key], nil
}

func (tx *stakingTx) InsertPosition(_ context.Context, pos domain.Position) error {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	if _, ok := tx.position(pos.ID); ok {
		return domain.ErrAlreadyExists
	}
	tx.positions[pos.ID] = clonePosition(pos)
	return nil
}

func (tx *stakingTx) UpdatePosition(_ context.Context, pos domain.Position) error {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	if _, ok := tx.position(pos.ID); !ok {
		return domain.ErrNotFound
	}
	tx.positions[pos.ID] = clonePosition(pos)
	return nil
}

func (tx *stakingTx) InsertReward(_ context.Context, r domain.Reward) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Meta = maps.Clone(r.Meta)
	tx.rewards = append(tx.rewards, r)
	return nil
}

func (tx *stakingTx) InsertEvent(_ context.Context, e domain.Event) error {
	if e.IdempotencyKey != "" {
		tx.store.mu.RLock()
		_, committed := tx.store.eventKeys[e.IdempotencyKey]
		tx.store.mu.RUnlock()
		if _, staged := tx.eventKeys[e.IdempotencyKey]; committed || staged {
			return domain.ErrDuplicateKey
		}
		tx.eventKeys[e.IdempotencyKey] = len(tx.events)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	tx.events = append(tx.events, cloneEvent(e))
	return nil
}

func (tx *stakingTx) EventByKey(_ context.Context, key string) (domain.Event, error) {
	if i, ok := tx.eventKeys[key]; ok {
		return cloneEvent(tx.events[i]), nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	if i, ok := tx.store.eventKeys[key]; ok {
		return cloneEvent(tx.store.events[i]), nil
	}
	return domain.Event{}, domain.ErrNotFound
}

func (tx *stakingTx) LatestEvent(_ context.Context, positionID string, types ...domain.EventType) (domain.Event, error) {
	want := make(map[domain.EventType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}

	tx.store.mu.RLock()
	all := append(append([]domain.Event(nil), tx.store.events...), tx.events...)
	tx.store.mu.RUnlock()

	var (
		latest domain.Event
		found  bool
	)
	for _, e := range all {
		if e.PositionID != positionID || (len(want) > 0 && !want[e.Type]) {
			continue
		}
		if !found || !e.OccurredAt.Before(latest.OccurredAt) {
			latest, found = e, true
		}
	}
	if !found {
		return domain.Event{}, domain.ErrNotFound
	}
	return cloneEvent(latest), nil
}

type poolStore struct{ s *Store }

func (p poolStore) Upsert(_ context.Context, pool domain.Pool) (domain.Pool, error) {
	if err := pool.Validate(); err != nil {
		return domain.Pool{}, err
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	now := time.Now().UTC()
	for id, existing := range p.s.pools {
		if existing.Code == pool.Code {
			pool.ID = id
			pool.CreatedAt = existing.CreatedAt
			pool.UpdatedAt = now
			p.s.pools[id] = clonePool(pool)
			return clonePool(pool), nil
		}
	}
	if pool.ID == "" {
		pool.ID = uuid.NewString()
	}
	pool.CreatedAt, pool.UpdatedAt = now, now
	p.s.pools[pool.ID] = clonePool(pool)
	return clonePool(pool), nil
}

func (p poolStore) GetByID(_ context.Context, id string) (domain.Pool, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	pool, ok := p.s.pools[id]
	if !ok {
		return domain.Pool{}, domain.ErrNotFound
	}
	return clonePool(pool), nil
}

func (p poolStore) GetByCode(_ context.Context, code string) (domain.Pool, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	for _, pool := range p.s.pools {
		if pool.Code == code {
			return clonePool(pool), nil
		}
	}
	return domain.Pool{}, domain.ErrNotFound
}

func (p poolStore) ListActive(_ context.Context) ([]domain.Pool, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	var out []domain.Pool
	for _, pool := range p.s.pools {
		if pool.IsActive {
			out = append(out, clonePool(pool))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

type positionReader struct{ s *Store }

func (r positionReader) GetByID(_ context.Context, id string) (domain.Position, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return clonePosition(p), nil
}

func (r positionReader) ListByOwner(_ context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	r.s.mu.RLock()
	var out []domain.Position
	for _, p := range r.s.positions {
		if p.Owner == owner && inWindow(p.CreatedAt, opts) {
			out = append(out, clonePosition(p))
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

type ledgerReader struct{ s *Store }

func (l ledgerReader) ListRewards(_ context.Context, positionID string, opts domain.ListOpts) ([]domain.Reward, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	var out []domain.Reward
	for _, r := range l.s.rewards {
		if r.PositionID == positionID && inWindow(r.CreatedAt, opts) {
			r.Meta = maps.Clone(r.Meta)
			out = append(out, r)
		}
	}
	return paginate(out, opts), nil
}

func (l ledgerReader) ListEvents(_ context.Context, positionID string, opts domain.ListOpts) ([]domain.Event, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	var out []domain.Event
	for _, e := range l.s.events {
		if e.PositionID == positionID && inWindow(e.OccurredAt, opts) {
			out = append(out, cloneEvent(e))
		}
	}
	return paginate(out, opts), nil
}

func (l ledgerReader) RewardsBetween(_ context.Context, since, until time.Time) ([]domain.Reward, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	var out []domain.Reward
	for _, r := range l.s.rewards {
		if !r.CreatedAt.Before(since) && r.CreatedAt.Before(until) {
			r.Meta = maps.Clone(r.Meta)
			out = append(out, r)
		}
	}
	return out, nil
}

func (l ledgerReader) EventsBetween(_ context.Context, since, until time.Time) ([]domain.Event, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	var out []domain.Event
	for _, e := range l.s.events {
		if !e.OccurredAt.Before(since) && e.OccurredAt.Before(until) {
			out = append(out, cloneEvent(e))
		}
	}
	return out, nil
}

func inWindow(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func clonePosition(p domain.Position) domain.Position {
	p.ActivatedAt = cloneTime(p.ActivatedAt)
	p.MaturesAt = cloneTime(p.MaturesAt)
	p.ClosedAt = cloneTime(p.ClosedAt)
	p.LastAccrualAt = cloneTime(p.LastAccrualAt)
	return p
}

func clonePool(p domain.Pool) domain.Pool {
	p.StartsAt = cloneTime(p.StartsAt)
	p.EndsAt = cloneTime(p.EndsAt)
	if p.MinStake != nil {
		v := *p.MinStake
		p.MinStake = &v
	}
	if p.MaxStake != nil {
		v := *p.MaxStake
		p.MaxStake = &v
	}
	return p
}

func cloneEvent(e domain.Event) domain.Event {
	e.Details = maps.Clone(e.Details)
	if e.Amount != nil {
		v := *e.Amount
		e.Amount = &v
	}
	return e
}
