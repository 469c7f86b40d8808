// Package ledger implements the accounting core of a pari-mutuel prediction
// market: market registration, stake escrow, one-time resolution by a judge,
// and proportional payout.
//
// Every operation reads the entities it needs, validates, mutates and writes
// back inside a single store.Update, so a failed precondition leaves no trace.
// Components never call each other; the Market's Resolved flag orders them.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/parimutuel/internal/account"
	"github.com/atmx/parimutuel/internal/clock"
	"github.com/atmx/parimutuel/internal/metrics"
	"github.com/atmx/parimutuel/internal/model"
	"github.com/atmx/parimutuel/internal/store"
)

// Notifier receives every committed operation together with the market
// state it produced.
type Notifier interface {
	Notify(e model.Entry, m model.Market)
}

// Ledger serializes operations against one store. Uses a mutex for
// single-instance ordering; the store transaction provides atomicity.
type Ledger struct {
	store    store.Store
	clock    clock.Clock
	notifier Notifier
	mu       sync.Mutex
}

// New creates a ledger. Pass nil for notifier if no broadcast is needed.
func New(st store.Store, clk clock.Clock, notifier Notifier) *Ledger {
	return &Ledger{
		store:    st,
		clock:    clk,
		notifier: notifier,
	}
}

// caller extracts the authenticated identity placed in ctx by the transport.
func caller(ctx context.Context) (account.Owner, bool) {
	return account.FromContext(ctx)
}

func (l *Ledger) newEntry(kind model.EntryKind, marketID uint64, owner account.Owner, outcome model.Outcome, amount uint64) *model.Entry {
	return &model.Entry{
		ID:        uuid.New().String(),
		Kind:      kind,
		MarketID:  marketID,
		Owner:     owner,
		Outcome:   outcome,
		Amount:    amount,
		Timestamp: time.UnixMicro(int64(l.clock.NowMicros())).UTC(),
	}
}

func (l *Ledger) notify(e *model.Entry, m *model.Market) {
	if l.notifier != nil {
		l.notifier.Notify(*e, *m)
	}
}

// observe records latency and the error kind for one operation. Use with a
// named error result: defer l.observe("bet", time.Now(), &err).
func (l *Ledger) observe(op string, start time.Time, err *error) {
	kind := ""
	if *err != nil {
		kind = Kind(*err)
	}
	metrics.ObserveOp(op, start, kind)
}
