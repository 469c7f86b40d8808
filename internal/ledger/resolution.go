package ledger

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/atmx/parimutuel/internal/metrics"
	"github.com/atmx/parimutuel/internal/model"
	"github.com/atmx/parimutuel/internal/store"
)

// Resolve records the winning outcome. Only the market's judge may resolve,
// and only once. The deadline is not consulted: a judge may resolve before
// EndTime.
func (l *Ledger) Resolve(ctx context.Context, marketID uint64, winning model.Outcome) (err error) {
	defer l.observe("resolve", time.Now(), &err)

	const op = "resolve"
	sender, ok := caller(ctx)
	if !ok {
		return opError(op, marketID, ErrUnauthenticated, "market=%d", marketID)
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
		if sender != m.Judge {
			return opError(op, marketID, ErrNotAuthorized, "market=%d caller=%s", marketID, sender)
		}
		if m.Resolved {
			return opError(op, marketID, ErrAlreadyResolved, "market=%d winning_outcome=%d", marketID, m.WinningOutcome)
		}
		if !winning.Valid() {
			return opError(op, marketID, ErrInvalidOutcome, "market=%d outcome=%d", marketID, winning)
		}

		m.WinningOutcome = winning
		m.Resolved = true
		if err := tx.PutMarket(ctx, m); err != nil {
			return err
		}

		market = m
		entry = l.newEntry(model.EntryResolve, marketID, sender, winning, 0)
		return tx.AppendEntry(ctx, entry)
	})
	if err != nil {
		return wrap(op, marketID, err)
	}

	metrics.UnresolvedMarkets.Dec()
	metrics.ResolutionsTotal.WithLabelValues(strconv.FormatUint(uint64(winning), 10)).Inc()
	slog.Info("market resolved",
		"market_id", marketID,
		"winning_outcome", uint64(winning),
		"total_pool", market.TotalPool,
	)
	l.notify(entry, market)

	return nil
}
