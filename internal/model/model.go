// Package model defines the core ledger entities shared across the service.
// All stake amounts are integer base units (uint64); never float64 for money.
package model

import (
	"fmt"
	"time"

	"github.com/atmx/parimutuel/internal/account"
)

// Outcome indexes one of a market's two canonical outcomes.
type Outcome uint64

const (
	OutcomeYes Outcome = 0
	OutcomeNo  Outcome = 1

	// NumOutcomes is the number of outcomes in a binary market.
	NumOutcomes = 2
)

// Valid reports whether o is one of the canonical outcomes.
func (o Outcome) Valid() bool {
	return o < NumOutcomes
}

// Label returns the display label for o.
func (o Outcome) Label() string {
	switch o {
	case OutcomeYes:
		return "Yes"
	case OutcomeNo:
		return "No"
	}
	return fmt.Sprintf("outcome(%d)", uint64(o))
}

// Market is a binary proposition with a deadline and a judge.
// Invariant: TotalPool == Σ pool[ID, o] over both outcomes.
type Market struct {
	ID             uint64        `json:"id"`
	Title          string        `json:"title"`
	Judge          account.Owner `json:"judge"`
	EndTime        uint64        `json:"end_time"` // microseconds since epoch
	TotalPool      uint64        `json:"total_pool"`
	WinningOutcome Outcome       `json:"winning_outcome"` // meaningful only when Resolved
	Resolved       bool          `json:"resolved"`
}

// PoolKey addresses the accumulated stake for one outcome of one market.
type PoolKey struct {
	MarketID uint64
	Outcome  Outcome
}

// BetKey addresses one owner's accumulated stake on one outcome.
type BetKey struct {
	MarketID uint64
	Owner    account.Owner
	Outcome  Outcome
}

// Bet is a non-zero position as reported by queries.
type Bet struct {
	MarketID uint64        `json:"market_id"`
	Owner    account.Owner `json:"owner"`
	Outcome  Outcome       `json:"outcome"`
	Amount   uint64        `json:"amount"`
}

// EntryKind names the operation an Entry records.
type EntryKind string

const (
	EntryCreate  EntryKind = "create"
	EntryBet     EntryKind = "bet"
	EntryResolve EntryKind = "resolve"
	EntryClaim   EntryKind = "claim"
)

// Entry is an immutable journal record of an accepted ledger operation.
// Once created, entries are never modified or deleted.
type Entry struct {
	ID        string        `json:"id"`
	Kind      EntryKind     `json:"kind"`
	MarketID  uint64        `json:"market_id"`
	Owner     account.Owner `json:"owner"`
	Outcome   Outcome       `json:"outcome"`
	Amount    uint64        `json:"amount"` // stake for bets, payout for claims
	Timestamp time.Time     `json:"timestamp"`
}
