package ledger

import (
	"context"
	"log/slog"
	"math/bits"
	"strconv"
	"time"

	"github.com/atmx/parimutuel/internal/metrics"
	"github.com/atmx/parimutuel/internal/model"
	"github.com/atmx/parimutuel/internal/store"
)

// Bet escrows amount on outcome for the caller. The caller's position, the
// outcome pool and the market total all grow by amount in one update, which
// keeps TotalPool equal to the sum of the pools.
func (l *Ledger) Bet(ctx context.Context, marketID uint64, outcome model.Outcome, amount uint64) (err error) {
	defer l.observe("bet", time.Now(), &err)

	const op = "bet"
	owner, ok := caller(ctx)
	if !ok {
		return opError(op, marketID, ErrUnauthenticated, "market=%d", marketID)
	}
	if !outcome.Valid() {
		return opError(op, marketID, ErrInvalidOutcome, "market=%d outcome=%d", marketID, outcome)
	}
	if amount == 0 {
		return opError(op, marketID, ErrZeroAmount, "market=%d outcome=%d", marketID, outcome)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var market *model.Market
	var entry *model.Entry
	err = l.store.Update(ctx, func(tx store.Tx) error {
		m, err := tx.GetMarket(ctx, marketID)
		if err != nil {
			return opError(op, marketID, err, "market=%d", marketID)
		}

		now := l.clock.NowMicros()
		if now >= m.EndTime {
			return opError(op, marketID, ErrMarketClosed, "market=%d end_time=%d now=%d", marketID, m.EndTime, now)
		}
		if m.Resolved {
			return opError(op, marketID, ErrAlreadyResolved, "market=%d", marketID)
		}

		betKey := model.BetKey{MarketID: marketID, Owner: owner, Outcome: outcome}
		poolKey := model.PoolKey{MarketID: marketID, Outcome: outcome}

		bet, err := tx.GetBet(ctx, betKey)
		if err != nil {
			return err
		}
		pool, err := tx.GetPool(ctx, poolKey)
		if err != nil {
			return err
		}

		newBet, c1 := bits.Add64(bet, amount, 0)
		newPool, c2 := bits.Add64(pool, amount, 0)
		newTotal, c3 := bits.Add64(m.TotalPool, amount, 0)
		if c1|c2|c3 != 0 {
			return opError(op, marketID, ErrAmountOverflow, "market=%d outcome=%d amount=%d", marketID, outcome, amount)
		}

		if err := tx.PutBet(ctx, betKey, newBet); err != nil {
			return err
		}
		if err := tx.PutPool(ctx, poolKey, newPool); err != nil {
			return err
		}
		m.TotalPool = newTotal
		if err := tx.PutMarket(ctx, m); err != nil {
			return err
		}

		market = m
		entry = l.newEntry(model.EntryBet, marketID, owner, outcome, amount)
		return tx.AppendEntry(ctx, entry)
	})
	if err != nil {
		return wrap(op, marketID, err)
	}

	label := strconv.FormatUint(uint64(outcome), 10)
	metrics.BetsTotal.WithLabelValues(label).Inc()
	metrics.StakeVolume.WithLabelValues(label).Add(float64(amount))
	slog.Info("bet placed",
		"market_id", marketID,
		"owner", owner.String(),
		"outcome", uint64(outcome),
		"amount", amount,
		"total_pool", market.TotalPool,
	)
	l.notify(entry, market)

	return nil
}
