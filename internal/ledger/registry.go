package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/atmx/parimutuel/internal/metrics"
	"github.com/atmx/parimutuel/internal/model"
	"github.com/atmx/parimutuel/internal/store"
)

// CreateMarket registers a new market judged by the caller. endTime is in
// microseconds and must lie strictly after the current clock reading.
// Identifiers are allocated sequentially from 0.
func (l *Ledger) CreateMarket(ctx context.Context, title string, endTime uint64) (_ *model.Market, err error) {
	defer l.observe("create_market", time.Now(), &err)

	judge, ok := caller(ctx)
	if !ok {
		return nil, opError("create_market", 0, ErrUnauthenticated, "")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.NowMicros()
	if endTime <= now {
		return nil, opError("create_market", 0, ErrInvalidDeadline, "end_time=%d now=%d", endTime, now)
	}

	var market *model.Market
	var entry *model.Entry
	err = l.store.Update(ctx, func(tx store.Tx) error {
		id, err := tx.NextMarketID(ctx)
		if err != nil {
			return err
		}

		market = &model.Market{
			ID:             id,
			Title:          title,
			Judge:          judge,
			EndTime:        endTime,
			TotalPool:      0,
			WinningOutcome: model.OutcomeYes,
			Resolved:       false,
		}
		if err := tx.PutMarket(ctx, market); err != nil {
			return err
		}
		if err := tx.SetNextMarketID(ctx, id+1); err != nil {
			return err
		}

		entry = l.newEntry(model.EntryCreate, id, judge, 0, 0)
		return tx.AppendEntry(ctx, entry)
	})
	if err != nil {
		return nil, opError("create_market", 0, err, "")
	}

	metrics.MarketsCreated.Inc()
	metrics.UnresolvedMarkets.Inc()
	slog.Info("market created",
		"id", market.ID,
		"title", market.Title,
		"judge", judge.String(),
		"end_time", endTime,
	)
	l.notify(entry, market)

	return market, nil
}
