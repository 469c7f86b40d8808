// Package store defines the persistence interface for the ledger.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/parimutuel/internal/account"
	"github.com/atmx/parimutuel/internal/model"
)

// ErrNotFound is returned when a market does not exist.
var ErrNotFound = errors.New("store: not found")

// Tx is the view of the store inside one atomic operation. Writes made
// through a Tx become visible only if the enclosing Update returns nil.
type Tx interface {
	// NextMarketID returns the next identifier to allocate.
	NextMarketID(ctx context.Context) (uint64, error)

	// SetNextMarketID persists the allocation counter.
	SetNextMarketID(ctx context.Context, next uint64) error

	// GetMarket loads a market for modification. Returns ErrNotFound if absent.
	GetMarket(ctx context.Context, id uint64) (*model.Market, error)

	// PutMarket inserts or replaces a market.
	PutMarket(ctx context.Context, m *model.Market) error

	// GetPool returns the accumulated stake on one outcome; 0 if never written.
	GetPool(ctx context.Context, key model.PoolKey) (uint64, error)

	// PutPool stores the accumulated stake on one outcome.
	PutPool(ctx context.Context, key model.PoolKey, amount uint64) error

	// GetBet returns one owner's accumulated stake; 0 if never written.
	GetBet(ctx context.Context, key model.BetKey) (uint64, error)

	// PutBet stores one owner's accumulated stake.
	PutBet(ctx context.Context, key model.BetKey, amount uint64) error

	// AppendEntry appends an immutable journal record.
	AppendEntry(ctx context.Context, e *model.Entry) error
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// Update runs fn as one all-or-nothing unit. If fn returns an error
	// nothing it wrote is kept.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// --- Read-only queries ---

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id uint64) (*model.Market, error)

	// ListMarkets returns all markets ordered by ID.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// GetPools returns the per-outcome pools of a market, indexed by outcome.
	GetPools(ctx context.Context, marketID uint64) ([model.NumOutcomes]uint64, error)

	// GetBet returns one owner's accumulated stake; 0 if never written.
	GetBet(ctx context.Context, key model.BetKey) (uint64, error)

	// ListBetsByOwner returns every non-zero position held by owner.
	ListBetsByOwner(ctx context.Context, owner account.Owner) ([]model.Bet, error)

	// GetEntriesByMarket returns the journal for a market in append order.
	GetEntriesByMarket(ctx context.Context, marketID uint64) ([]model.Entry, error)

	// GetEntriesByOwner returns the journal for an owner in append order.
	GetEntriesByOwner(ctx context.Context, owner account.Owner) ([]model.Entry, error)
}
