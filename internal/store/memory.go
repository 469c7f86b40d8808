package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/parimutuel/internal/account"
	"github.com/atmx/parimutuel/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  uint64
	markets map[uint64]*model.Market
	pools   map[model.PoolKey]uint64
	bets    map[model.BetKey]uint64
	journal []model.Entry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[uint64]*model.Market),
		pools:   make(map[model.PoolKey]uint64),
		bets:    make(map[model.BetKey]uint64),
	}
}

// Update stages every write in a memTx and applies them only when fn
// succeeds. The write lock is held for the whole call.
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:       s,
		nextID:  s.nextID,
		markets: make(map[uint64]*model.Market),
		pools:   make(map[model.PoolKey]uint64),
		bets:    make(map[model.BetKey]uint64),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.nextID = tx.nextID
	for id, m := range tx.markets {
		s.markets[id] = m
	}
	for k, v := range tx.pools {
		s.pools[k] = v
	}
	for k, v := range tx.bets {
		s.bets[k] = v
	}
	s.journal = append(s.journal, tx.journal...)
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id uint64) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %d: %w", id, ErrNotFound)
	}
	copy := *m
	return &copy, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].ID < markets[j].ID })
	return markets, nil
}

func (s *MemoryStore) GetPools(_ context.Context, marketID uint64) ([model.NumOutcomes]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pools [model.NumOutcomes]uint64
	for o := range pools {
		pools[o] = s.pools[model.PoolKey{MarketID: marketID, Outcome: model.Outcome(o)}]
	}
	return pools, nil
}

func (s *MemoryStore) GetBet(_ context.Context, key model.BetKey) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.bets[key], nil
}

func (s *MemoryStore) ListBetsByOwner(_ context.Context, owner account.Owner) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bet
	for k, amount := range s.bets {
		if k.Owner != owner || amount == 0 {
			continue
		}
		result = append(result, model.Bet{
			MarketID: k.MarketID,
			Owner:    k.Owner,
			Outcome:  k.Outcome,
			Amount:   amount,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].MarketID != result[j].MarketID {
			return result[i].MarketID < result[j].MarketID
		}
		return result[i].Outcome < result[j].Outcome
	})
	return result, nil
}

func (s *MemoryStore) GetEntriesByMarket(_ context.Context, marketID uint64) ([]model.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Entry
	for _, e := range s.journal {
		if e.MarketID == marketID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetEntriesByOwner(_ context.Context, owner account.Owner) ([]model.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Entry
	for _, e := range s.journal {
		if e.Owner == owner {
			result = append(result, e)
		}
	}
	return result, nil
}

// memTx overlays staged writes on the committed maps. Callers hold s.mu.
type memTx struct {
	s       *MemoryStore
	nextID  uint64
	markets map[uint64]*model.Market
	pools   map[model.PoolKey]uint64
	bets    map[model.BetKey]uint64
	journal []model.Entry
}

func (tx *memTx) NextMarketID(_ context.Context) (uint64, error) {
	return tx.nextID, nil
}

func (tx *memTx) SetNextMarketID(_ context.Context, next uint64) error {
	tx.nextID = next
	return nil
}

func (tx *memTx) GetMarket(_ context.Context, id uint64) (*model.Market, error) {
	m, ok := tx.markets[id]
	if !ok {
		m, ok = tx.s.markets[id]
	}
	if !ok {
		return nil, fmt.Errorf("market %d: %w", id, ErrNotFound)
	}
	copy := *m
	return &copy, nil
}

func (tx *memTx) PutMarket(_ context.Context, m *model.Market) error {
	copy := *m
	tx.markets[m.ID] = &copy
	return nil
}

func (tx *memTx) GetPool(_ context.Context, key model.PoolKey) (uint64, error) {
	if v, ok := tx.pools[key]; ok {
		return v, nil
	}
	return tx.s.pools[key], nil
}

func (tx *memTx) PutPool(_ context.Context, key model.PoolKey, amount uint64) error {
	tx.pools[key] = amount
	return nil
}

func (tx *memTx) GetBet(_ context.Context, key model.BetKey) (uint64, error) {
	if v, ok := tx.bets[key]; ok {
		return v, nil
	}
	return tx.s.bets[key], nil
}

func (tx *memTx) PutBet(_ context.Context, key model.BetKey, amount uint64) error {
	tx.bets[key] = amount
	return nil
}

func (tx *memTx) AppendEntry(_ context.Context, e *model.Entry) error {
	tx.journal = append(tx.journal, *e)
	return nil
}
