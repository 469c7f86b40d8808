// Package odds derives display figures from pari-mutuel pools: the implied
// probability of each outcome and the gross payout multiplier a winning
// stake would earn if the market closed now.
//
// These are read-side views only. Settlement uses integer floor division in
// the ledger; nothing here feeds back into balances.
package odds

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/atmx/parimutuel/internal/model"
)

// Scale is the number of decimal places for displayed figures.
var Scale int32 = 8

// Quote is the current view of one outcome's pool.
type Quote struct {
	Outcome     model.Outcome   `json:"outcome"`
	Label       string          `json:"label"`
	Pool        uint64          `json:"pool"`
	Probability decimal.Decimal `json:"probability"`
	Multiplier  decimal.Decimal `json:"multiplier"`
}

// fromUint64 converts without going through int64, which would truncate
// pools above MaxInt64.
func fromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// Probability returns pool / total. An empty market reports an even split.
func Probability(pool, total uint64) decimal.Decimal {
	if total == 0 {
		return decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(model.NumOutcomes))).Round(Scale)
	}
	return fromUint64(pool).Div(fromUint64(total)).Round(Scale)
}

// Multiplier returns total / pool, the gross return per unit staked on the
// outcome. An outcome nobody has backed has no defined multiplier and
// reports zero.
func Multiplier(pool, total uint64) decimal.Decimal {
	if pool == 0 {
		return decimal.Zero
	}
	return fromUint64(total).Div(fromUint64(pool)).Round(Scale)
}

// Quotes builds one Quote per outcome from the market's pools.
func Quotes(pools [model.NumOutcomes]uint64) []Quote {
	var total uint64
	for _, p := range pools {
		total += p
	}

	quotes := make([]Quote, 0, model.NumOutcomes)
	for i, p := range pools {
		o := model.Outcome(i)
		quotes = append(quotes, Quote{
			Outcome:     o,
			Label:       o.Label(),
			Pool:        p,
			Probability: Probability(p, total),
			Multiplier:  Multiplier(p, total),
		})
	}
	return quotes
}

// EstimatePayout returns what a new stake on outcome would pay if the market
// resolved in its favour with no further bets:
//
//	floor(stake * (total + stake) / (pool + stake))
//
// Later bets move the figure, so it is an estimate, not a promise.
func EstimatePayout(pools [model.NumOutcomes]uint64, outcome model.Outcome, stake uint64) decimal.Decimal {
	if !outcome.Valid() || stake == 0 {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, p := range pools {
		total = total.Add(fromUint64(p))
	}
	s := fromUint64(stake)
	pool := fromUint64(pools[outcome]).Add(s)
	return s.Mul(total.Add(s)).Div(pool).Floor()
}
