package ledger

import (
	"context"
	"log/slog"
	"math/bits"
	"time"

	"github.com/atmx/parimutuel/internal/account"
	"github.com/atmx/parimutuel/internal/metrics"
	"github.com/atmx/parimutuel/internal/model"
	"github.com/atmx/parimutuel/internal/store"
)

// Payout computes floor(stake * total / winningPool) with a 128-bit
// intermediate product.
//
// A well-formed pool satisfies 0 < stake <= winningPool <= total, which also
// guarantees the quotient fits in 64 bits. Anything else is reported as
// ErrInvalidPoolState instead of dividing.
func Payout(stake, total, winningPool uint64) (uint64, error) {
	if winningPool == 0 || stake > winningPool || winningPool > total {
		return 0, ErrInvalidPoolState
	}
	hi, lo := bits.Mul64(stake, total)
	if hi >= winningPool {
		// bits.Div64 panics when the quotient overflows.
		return 0, ErrInvalidPoolState
	}
	q, _ := bits.Div64(hi, lo, winningPool)
	return q, nil
}

// Claim converts the caller's winning stake into a payout figure and zeroes
// the position. Stakes on the losing outcome are left in place and are never
// claimable. The payout is returned, not transferred.
func (l *Ledger) Claim(ctx context.Context, marketID uint64) (_ uint64, err error) {
	defer l.observe("claim", time.Now(), &err)

	const op = "claim"
	sender, ok := caller(ctx)
	if !ok {
		return 0, opError(op, marketID, ErrUnauthenticated, "market=%d", marketID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var payout uint64
	var market *model.Market
	var entry *model.Entry
	err = l.store.Update(ctx, func(tx store.Tx) error {
		m, err := tx.GetMarket(ctx, marketID)
		if err != nil {
			return opError(op, marketID, err, "market=%d", marketID)
		}
		if !m.Resolved {
			return opError(op, marketID, ErrNotResolved, "market=%d", marketID)
		}

		betKey := model.BetKey{MarketID: marketID, Owner: sender, Outcome: m.WinningOutcome}
		stake, err := tx.GetBet(ctx, betKey)
		if err != nil {
			return err
		}
		if stake == 0 {
			return opError(op, marketID, ErrNothingToClaim, "market=%d outcome=%d", marketID, m.WinningOutcome)
		}

		winningPool, err := tx.GetPool(ctx, model.PoolKey{MarketID: marketID, Outcome: m.WinningOutcome})
		if err != nil {
			return err
		}
		payout, err = Payout(stake, m.TotalPool, winningPool)
		if err != nil {
			slog.Warn("pool invariant breached at claim",
				"market_id", marketID,
				"stake", stake,
				"total_pool", m.TotalPool,
				"winning_pool", winningPool,
			)
			return opError(op, marketID, err, "market=%d stake=%d total_pool=%d winning_pool=%d",
				marketID, stake, m.TotalPool, winningPool)
		}

		if err := tx.PutBet(ctx, betKey, 0); err != nil {
			return err
		}

		market = m
		entry = l.newEntry(model.EntryClaim, marketID, sender, m.WinningOutcome, payout)
		return tx.AppendEntry(ctx, entry)
	})
	if err != nil {
		return 0, wrap(op, marketID, err)
	}

	metrics.ClaimsTotal.Inc()
	metrics.PayoutVolume.Add(float64(payout))
	slog.Info("payout claimed",
		"market_id", marketID,
		"owner", sender.String(),
		"payout", payout,
	)
	l.notify(entry, market)

	return payout, nil
}

// PreviewClaim computes what owner would receive from Claim right now
// without consuming the position. Returns 0 for unresolved markets and
// losing or empty positions.
func (l *Ledger) PreviewClaim(ctx context.Context, marketID uint64, owner account.Owner) (uint64, error) {
	const op = "preview_claim"

	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.store.GetMarket(ctx, marketID)
	if err != nil {
		return 0, opError(op, marketID, err, "market=%d", marketID)
	}
	if !m.Resolved {
		return 0, nil
	}

	stake, err := l.store.GetBet(ctx, model.BetKey{MarketID: marketID, Owner: owner, Outcome: m.WinningOutcome})
	if err != nil {
		return 0, wrap(op, marketID, err)
	}
	if stake == 0 {
		return 0, nil
	}

	pools, err := l.store.GetPools(ctx, marketID)
	if err != nil {
		return 0, wrap(op, marketID, err)
	}
	payout, err := Payout(stake, m.TotalPool, pools[m.WinningOutcome])
	if err != nil {
		return 0, opError(op, marketID, err, "market=%d", marketID)
	}
	return payout, nil
}
