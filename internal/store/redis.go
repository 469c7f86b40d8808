package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/parimutuel/internal/account"
	"github.com/atmx/parimutuel/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for markets. Writes go to the primary store and invalidate the cache
// once committed; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

// Update delegates to the primary and drops cached copies of every market
// the operation wrote. Invalidation happens only after a successful commit.
func (s *CachedStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	var touched []uint64
	err := s.primary.Update(ctx, func(tx Tx) error {
		touched = touched[:0]
		return fn(&trackingTx{Tx: tx, touched: &touched})
	})
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(touched)*2)
	for _, id := range touched {
		keys = append(keys, marketKey(id), poolsKey(id))
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id uint64) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	// Cache miss: read from primary.
	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(id), data, s.ttl)
	}
	return m, nil
}

func (s *CachedStore) GetPools(ctx context.Context, marketID uint64) ([model.NumOutcomes]uint64, error) {
	data, err := s.rdb.Get(ctx, poolsKey(marketID)).Bytes()
	if err == nil {
		var pools [model.NumOutcomes]uint64
		if json.Unmarshal(data, &pools) == nil {
			return pools, nil
		}
	}

	pools, err := s.primary.GetPools(ctx, marketID)
	if err != nil {
		return pools, err
	}

	if data, err := json.Marshal(pools); err == nil {
		s.rdb.Set(ctx, poolsKey(marketID), data, s.ttl)
	}
	return pools, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) GetBet(ctx context.Context, key model.BetKey) (uint64, error) {
	return s.primary.GetBet(ctx, key)
}

func (s *CachedStore) ListBetsByOwner(ctx context.Context, owner account.Owner) ([]model.Bet, error) {
	return s.primary.ListBetsByOwner(ctx, owner)
}

func (s *CachedStore) GetEntriesByMarket(ctx context.Context, marketID uint64) ([]model.Entry, error) {
	return s.primary.GetEntriesByMarket(ctx, marketID)
}

func (s *CachedStore) GetEntriesByOwner(ctx context.Context, owner account.Owner) ([]model.Entry, error) {
	return s.primary.GetEntriesByOwner(ctx, owner)
}

// trackingTx records which markets an operation wrote.
type trackingTx struct {
	Tx
	touched *[]uint64
}

func (t *trackingTx) PutMarket(ctx context.Context, m *model.Market) error {
	if err := t.Tx.PutMarket(ctx, m); err != nil {
		return err
	}
	*t.touched = append(*t.touched, m.ID)
	return nil
}

func (t *trackingTx) PutPool(ctx context.Context, key model.PoolKey, amount uint64) error {
	if err := t.Tx.PutPool(ctx, key, amount); err != nil {
		return err
	}
	*t.touched = append(*t.touched, key.MarketID)
	return nil
}

// --- Cache helpers ---

func marketKey(id uint64) string { return fmt.Sprintf("market:%d", id) }
func poolsKey(id uint64) string  { return fmt.Sprintf("pools:%d", id) }
