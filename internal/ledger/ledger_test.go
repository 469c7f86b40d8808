package ledger

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/atmx/parimutuel/internal/account"
	"github.com/atmx/parimutuel/internal/clock"
	"github.com/atmx/parimutuel/internal/model"
	"github.com/atmx/parimutuel/internal/store"
)

var (
	judge = account.MustParseOwner("0x9999999999999999999999999999999999999999999999999999999999999999")
	alice = account.MustParseOwner("0x7d0c5e8f1f4a2b6c9e3d1a0b8c7f6e5d4c3b2a1908f7e6d5c4b3a29180f7e6d5")
	bob   = account.MustParseOwner("0x1111111111111111111111111111111111111111111111111111111111111111")
	carol = account.MustParseOwner("0x2222222222222222222222222222222222222222222222222222222222222222")
)

const start = uint64(1_700_000_000_000_000)

func as(o account.Owner) context.Context {
	return account.WithOwner(context.Background(), o)
}

type recorder struct {
	entries []model.Entry
}

func (r *recorder) Notify(e model.Entry, _ model.Market) {
	r.entries = append(r.entries, e)
}

func newTestLedger(t *testing.T) (*Ledger, *store.MemoryStore, *clock.Manual) {
	t.Helper()
	ms := store.NewMemoryStore()
	clk := clock.NewManual(start)
	return New(ms, clk, nil), ms, clk
}

func createMarket(t *testing.T, l *Ledger) *model.Market {
	t.Helper()
	m, err := l.CreateMarket(as(judge), "Will it rain?", start+1000)
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	return m
}

func mustBet(t *testing.T, l *Ledger, o account.Owner, marketID uint64, outcome model.Outcome, amount uint64) {
	t.Helper()
	if err := l.Bet(as(o), marketID, outcome, amount); err != nil {
		t.Fatalf("bet %d on %d: %v", amount, outcome, err)
	}
}

// assertConservation checks total == Σ pools and pool == Σ bets.
func assertConservation(t *testing.T, ms *store.MemoryStore, marketID uint64, owners ...account.Owner) {
	t.Helper()
	ctx := context.Background()
	m, err := ms.GetMarket(ctx, marketID)
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	pools, _ := ms.GetPools(ctx, marketID)
	if pools[0]+pools[1] != m.TotalPool {
		t.Errorf("total_pool %d != pool sum %d+%d", m.TotalPool, pools[0], pools[1])
	}
	for o := model.Outcome(0); o < model.NumOutcomes; o++ {
		var sum uint64
		for _, owner := range owners {
			b, _ := ms.GetBet(ctx, model.BetKey{MarketID: marketID, Owner: owner, Outcome: o})
			sum += b
		}
		if sum != pools[o] {
			t.Errorf("pool[%d]=%d but bets sum to %d", o, pools[o], sum)
		}
	}
}

// --- Scenario ---

func TestScenario_ThirtyTenPaysForty(t *testing.T) {
	l, _, _ := newTestLedger(t)
	m := createMarket(t, l)

	mustBet(t, l, alice, m.ID, model.OutcomeYes, 30)
	mustBet(t, l, bob, m.ID, model.OutcomeNo, 10)

	if err := l.Resolve(as(judge), m.ID, model.OutcomeYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	payout, err := l.Claim(as(alice), m.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if payout != 40 {
		t.Errorf("expected payout 40, got %d", payout)
	}

	if _, err := l.Claim(as(bob), m.ID); !errors.Is(err, ErrNothingToClaim) {
		t.Errorf("expected ErrNothingToClaim for loser, got %v", err)
	}
}

// --- Market Registry ---

func TestCreateMarket_SequentialIDs(t *testing.T) {
	l, _, _ := newTestLedger(t)
	for want := uint64(0); want < 5; want++ {
		m := createMarket(t, l)
		if m.ID != want {
			t.Fatalf("expected id %d, got %d", want, m.ID)
		}
		if m.Resolved || m.TotalPool != 0 || m.WinningOutcome != 0 {
			t.Errorf("fresh market has unexpected state %+v", m)
		}
		if m.Judge != judge {
			t.Errorf("judge should be the creator")
		}
	}
}

func TestCreateMarket_Unauthenticated(t *testing.T) {
	l, ms, _ := newTestLedger(t)
	_, err := l.CreateMarket(context.Background(), "x", start+1000)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if markets, _ := ms.ListMarkets(context.Background()); len(markets) != 0 {
		t.Errorf("no market should be stored, got %d", len(markets))
	}
}

func TestCreateMarket_DeadlineMustBeFuture(t *testing.T) {
	l, _, _ := newTestLedger(t)
	for _, end := range []uint64{0, start - 1, start} {
		if _, err := l.CreateMarket(as(judge), "x", end); !errors.Is(err, ErrInvalidDeadline) {
			t.Errorf("end_time=%d: expected ErrInvalidDeadline, got %v", end, err)
		}
	}

	// Failed creations do not consume identifiers.
	m, err := l.CreateMarket(as(judge), "x", start+1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.ID != 0 {
		t.Errorf("expected first id 0 after failures, got %d", m.ID)
	}
}

// --- Escrow Ledger ---

func TestBet_AccumulatesAndConserves(t *testing.T) {
	l, ms, _ := newTestLedger(t)
	m := createMarket(t, l)

	mustBet(t, l, alice, m.ID, model.OutcomeYes, 10)
	mustBet(t, l, alice, m.ID, model.OutcomeYes, 5)
	mustBet(t, l, alice, m.ID, model.OutcomeNo, 7)
	mustBet(t, l, bob, m.ID, model.OutcomeNo, 3)
	mustBet(t, l, carol, m.ID, model.OutcomeYes, 100)

	ctx := context.Background()
	got, _ := ms.GetBet(ctx, model.BetKey{MarketID: m.ID, Owner: alice, Outcome: model.OutcomeYes})
	if got != 15 {
		t.Errorf("alice yes stake: expected 15, got %d", got)
	}
	got, _ = ms.GetBet(ctx, model.BetKey{MarketID: m.ID, Owner: alice, Outcome: model.OutcomeNo})
	if got != 7 {
		t.Errorf("alice no stake: expected 7, got %d", got)
	}

	stored, _ := ms.GetMarket(ctx, m.ID)
	if stored.TotalPool != 125 {
		t.Errorf("expected total 125, got %d", stored.TotalPool)
	}
	assertConservation(t, ms, m.ID, alice, bob, carol)
}

func TestBet_Validation(t *testing.T) {
	l, ms, clk := newTestLedger(t)
	open := createMarket(t, l)
	closed := createMarket(t, l)
	resolved := createMarket(t, l)
	if err := l.Resolve(as(judge), resolved.ID, model.OutcomeNo); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	tests := []struct {
		name     string
		ctx      context.Context
		marketID uint64
		outcome  model.Outcome
		amount   uint64
		before   func()
		want     error
	}{
		{"unauthenticated", context.Background(), open.ID, 0, 1, nil, ErrUnauthenticated},
		{"outcome two", as(alice), open.ID, 2, 1, nil, ErrInvalidOutcome},
		{"outcome max", as(alice), open.ID, model.Outcome(math.MaxUint64), 1, nil, ErrInvalidOutcome},
		{"zero amount", as(alice), open.ID, 0, 0, nil, ErrZeroAmount},
		{"unknown market", as(alice), 99, 0, 1, nil, ErrNotFound},
		{"resolved market", as(alice), resolved.ID, 0, 1, nil, ErrAlreadyResolved},
		{"at deadline", as(alice), closed.ID, 0, 1, func() { clk.Set(closed.EndTime) }, ErrMarketClosed},
		{"after deadline", as(alice), closed.ID, 1, 1, func() { clk.Set(closed.EndTime + 1) }, ErrMarketClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.before != nil {
				tt.before()
			}
			err := l.Bet(tt.ctx, tt.marketID, tt.outcome, tt.amount)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	for _, id := range []uint64{open.ID, closed.ID, resolved.ID} {
		m, _ := ms.GetMarket(context.Background(), id)
		if m.TotalPool != 0 {
			t.Errorf("market %d: rejected bets must not mutate, total=%d", id, m.TotalPool)
		}
	}
}

func TestBet_JustBeforeDeadline(t *testing.T) {
	l, _, clk := newTestLedger(t)
	m := createMarket(t, l)
	clk.Set(m.EndTime - 1)
	mustBet(t, l, alice, m.ID, model.OutcomeYes, 1)
}

func TestBet_OverflowRejectedAtomically(t *testing.T) {
	l, ms, _ := newTestLedger(t)
	m := createMarket(t, l)

	mustBet(t, l, alice, m.ID, model.OutcomeYes, math.MaxUint64-5)

	err := l.Bet(as(bob), m.ID, model.OutcomeNo, 10)
	if !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}

	ctx := context.Background()
	b, _ := ms.GetBet(ctx, model.BetKey{MarketID: m.ID, Owner: bob, Outcome: model.OutcomeNo})
	if b != 0 {
		t.Errorf("overflowing bet must not be recorded, got %d", b)
	}
	assertConservation(t, ms, m.ID, alice, bob)
}

// --- Resolution Authority ---

func TestResolve_OnlyJudge(t *testing.T) {
	l, ms, _ := newTestLedger(t)
	m := createMarket(t, l)

	err := l.Resolve(as(alice), m.ID, model.OutcomeYes)
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := l.Resolve(context.Background(), m.ID, model.OutcomeYes); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
	stored, _ := ms.GetMarket(context.Background(), m.ID)
	if stored.Resolved {
		t.Error("market must stay open after rejected resolve")
	}
}

func TestResolve_OneTime(t *testing.T) {
	l, ms, _ := newTestLedger(t)
	m := createMarket(t, l)

	if err := l.Resolve(as(judge), m.ID, model.OutcomeNo); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	for _, outcome := range []model.Outcome{0, 1, 7} {
		if err := l.Resolve(as(judge), m.ID, outcome); !errors.Is(err, ErrAlreadyResolved) {
			t.Errorf("second resolve with %d: expected ErrAlreadyResolved, got %v", outcome, err)
		}
	}

	stored, _ := ms.GetMarket(context.Background(), m.ID)
	if stored.WinningOutcome != model.OutcomeNo {
		t.Errorf("winning outcome changed to %d", stored.WinningOutcome)
	}
}

func TestResolve_InvalidOutcomeAndMissingMarket(t *testing.T) {
	l, _, _ := newTestLedger(t)
	m := createMarket(t, l)

	if err := l.Resolve(as(judge), m.ID, 2); !errors.Is(err, ErrInvalidOutcome) {
		t.Errorf("expected ErrInvalidOutcome, got %v", err)
	}
	if err := l.Resolve(as(judge), 42, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	// The rejected resolve left the market open.
	if err := l.Resolve(as(judge), m.ID, model.OutcomeYes); err != nil {
		t.Errorf("valid resolve after rejection failed: %v", err)
	}
}

func TestResolve_BeforeEndTimeAllowed(t *testing.T) {
	l, _, clk := newTestLedger(t)
	m := createMarket(t, l)
	clk.Set(start + 1)

	if err := l.Resolve(as(judge), m.ID, model.OutcomeYes); err != nil {
		t.Fatalf("early resolve should be accepted: %v", err)
	}
}

// --- Payout Engine ---

func TestClaim_NotResolved(t *testing.T) {
	l, _, _ := newTestLedger(t)
	m := createMarket(t, l)
	mustBet(t, l, alice, m.ID, model.OutcomeYes, 10)

	if _, err := l.Claim(as(alice), m.ID); !errors.Is(err, ErrNotResolved) {
		t.Errorf("expected ErrNotResolved, got %v", err)
	}
	if _, err := l.Claim(as(alice), 77); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := l.Claim(context.Background(), m.ID); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestClaim_NoDoubleClaim(t *testing.T) {
	l, ms, _ := newTestLedger(t)
	m := createMarket(t, l)
	mustBet(t, l, alice, m.ID, model.OutcomeYes, 10)
	mustBet(t, l, bob, m.ID, model.OutcomeNo, 10)
	if err := l.Resolve(as(judge), m.ID, model.OutcomeYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if p, err := l.Claim(as(alice), m.ID); err != nil || p != 20 {
		t.Fatalf("first claim: payout=%d err=%v", p, err)
	}
	if _, err := l.Claim(as(alice), m.ID); !errors.Is(err, ErrNothingToClaim) {
		t.Errorf("second claim: expected ErrNothingToClaim, got %v", err)
	}

	// Pools and the losing stake are frozen; only the claimed slot is zeroed.
	ctx := context.Background()
	stored, _ := ms.GetMarket(ctx, m.ID)
	pools, _ := ms.GetPools(ctx, m.ID)
	if stored.TotalPool != 20 || pools[0] != 10 || pools[1] != 10 {
		t.Errorf("pools changed after claim: total=%d pools=%v", stored.TotalPool, pools)
	}
	lost, _ := ms.GetBet(ctx, model.BetKey{MarketID: m.ID, Owner: bob, Outcome: model.OutcomeNo})
	if lost != 10 {
		t.Errorf("losing stake must not be zeroed, got %d", lost)
	}
}

func TestClaim_HedgedBettorClaimsOnlyWinningSide(t *testing.T) {
	l, ms, _ := newTestLedger(t)
	m := createMarket(t, l)
	mustBet(t, l, alice, m.ID, model.OutcomeYes, 10)
	mustBet(t, l, alice, m.ID, model.OutcomeNo, 30)
	if err := l.Resolve(as(judge), m.ID, model.OutcomeNo); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	p, err := l.Claim(as(alice), m.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if p != 40 {
		t.Errorf("expected 40, got %d", p)
	}
	yes, _ := ms.GetBet(context.Background(), model.BetKey{MarketID: m.ID, Owner: alice, Outcome: model.OutcomeYes})
	if yes != 10 {
		t.Errorf("losing side stake should remain 10, got %d", yes)
	}
}

func TestClaim_ProportionalRatio(t *testing.T) {
	l, _, _ := newTestLedger(t)
	m := createMarket(t, l)
	mustBet(t, l, alice, m.ID, model.OutcomeYes, 200)
	mustBet(t, l, bob, m.ID, model.OutcomeYes, 100)
	mustBet(t, l, carol, m.ID, model.OutcomeNo, 77)
	if err := l.Resolve(as(judge), m.ID, model.OutcomeYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	pa, err := l.Claim(as(alice), m.ID)
	if err != nil {
		t.Fatalf("alice claim: %v", err)
	}
	pb, err := l.Claim(as(bob), m.ID)
	if err != nil {
		t.Fatalf("bob claim: %v", err)
	}

	// W=300, T=377: floor(200*377/300)=251, floor(100*377/300)=125.
	if pa != 251 || pb != 125 {
		t.Errorf("expected 251/125, got %d/%d", pa, pb)
	}
	if d := int64(pa) - 2*int64(pb); d < 0 || d > 1 {
		t.Errorf("payouts %d and %d not in 2:1 ratio within truncation", pa, pb)
	}
	if pa+pb > 377 || 377-(pa+pb) > 1 {
		t.Errorf("sum %d should under-distribute total 377 by at most 1", pa+pb)
	}
}

func TestClaim_InvalidPoolStateIsInternal(t *testing.T) {
	l, ms, _ := newTestLedger(t)
	ctx := context.Background()

	// A resolved market with a winning stake but an empty winning pool can
	// only come from a corrupted store.
	err := ms.Update(ctx, func(tx store.Tx) error {
		if err := tx.PutMarket(ctx, &model.Market{ID: 0, Judge: judge, EndTime: start + 1, TotalPool: 10, Resolved: true}); err != nil {
			return err
		}
		return tx.PutBet(ctx, model.BetKey{MarketID: 0, Owner: alice, Outcome: model.OutcomeYes}, 10)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err = l.Claim(as(alice), 0)
	if !errors.Is(err, ErrInvalidPoolState) {
		t.Fatalf("expected ErrInvalidPoolState, got %v", err)
	}
	if !IsInternal(err) {
		t.Error("pool breach should be reported as internal")
	}
	if Kind(err) != "invalid_pool_state" {
		t.Errorf("unexpected kind %q", Kind(err))
	}

	b, _ := ms.GetBet(ctx, model.BetKey{MarketID: 0, Owner: alice, Outcome: model.OutcomeYes})
	if b != 10 {
		t.Errorf("failed claim must not zero the stake, got %d", b)
	}
}

func TestPayout(t *testing.T) {
	tests := []struct {
		name                      string
		stake, total, winningPool uint64
		want                      uint64
		wantErr                   bool
	}{
		{"sole winner takes all", 30, 40, 30, 40, false},
		{"floor division", 1, 10, 3, 3, false},
		{"no losers", 5, 10, 10, 5, false},
		{"wide product", math.MaxUint64 / 2, math.MaxUint64, math.MaxUint64 / 2, math.MaxUint64, false},
		{"wide product split", 1 << 62, math.MaxUint64, 1 << 63, math.MaxUint64 / 2, false},
		{"empty winning pool", 1, 10, 0, 0, true},
		{"stake exceeds pool", 11, 20, 10, 0, true},
		{"pool exceeds total", 5, 10, 11, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Payout(tt.stake, tt.total, tt.winningPool)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPoolState) {
					t.Errorf("expected ErrInvalidPoolState, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestPreviewClaim(t *testing.T) {
	l, _, _ := newTestLedger(t)
	m := createMarket(t, l)
	mustBet(t, l, alice, m.ID, model.OutcomeYes, 30)
	mustBet(t, l, bob, m.ID, model.OutcomeNo, 10)

	ctx := context.Background()
	if p, err := l.PreviewClaim(ctx, m.ID, alice); err != nil || p != 0 {
		t.Errorf("unresolved preview: expected 0, got %d (%v)", p, err)
	}
	if err := l.Resolve(as(judge), m.ID, model.OutcomeYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p, err := l.PreviewClaim(ctx, m.ID, alice); err != nil || p != 40 {
		t.Errorf("winner preview: expected 40, got %d (%v)", p, err)
	}
	if p, _ := l.PreviewClaim(ctx, m.ID, bob); p != 0 {
		t.Errorf("loser preview: expected 0, got %d", p)
	}

	// Preview does not consume the position.
	if p, err := l.Claim(as(alice), m.ID); err != nil || p != 40 {
		t.Errorf("claim after preview: payout=%d err=%v", p, err)
	}
	if _, err := l.PreviewClaim(ctx, 9, alice); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Journal, notifier, errors ---

func TestJournalAndNotifier(t *testing.T) {
	ms := store.NewMemoryStore()
	rec := &recorder{}
	l := New(ms, clock.NewManual(start), rec)

	m, err := l.CreateMarket(as(judge), "q", start+10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	mustBet(t, l, alice, m.ID, model.OutcomeYes, 4)
	_ = l.Bet(as(alice), m.ID, 5, 4) // rejected, not journaled
	if err := l.Resolve(as(judge), m.ID, model.OutcomeYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := l.Claim(as(alice), m.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	want := []model.EntryKind{model.EntryCreate, model.EntryBet, model.EntryResolve, model.EntryClaim}
	entries, _ := ms.GetEntriesByMarket(context.Background(), m.ID)
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, k := range want {
		if entries[i].Kind != k {
			t.Errorf("entry %d: expected %s, got %s", i, k, entries[i].Kind)
		}
		if entries[i].ID == "" {
			t.Errorf("entry %d has no id", i)
		}
	}
	if entries[3].Amount != 4 {
		t.Errorf("claim entry should record payout 4, got %d", entries[3].Amount)
	}
	if len(rec.entries) != len(want) {
		t.Errorf("notifier saw %d entries, want %d", len(rec.entries), len(want))
	}
}

func TestOpError_CarriesInputs(t *testing.T) {
	l, _, _ := newTestLedger(t)
	m := createMarket(t, l)

	err := l.Bet(as(alice), m.ID, 3, 10)
	var oe *OpError
	if !errors.As(err, &oe) {
		t.Fatalf("expected *OpError, got %T", err)
	}
	if oe.Op != "bet" || oe.MarketID != m.ID {
		t.Errorf("unexpected op error %+v", oe)
	}
	if !strings.Contains(err.Error(), "outcome=3") {
		t.Errorf("message should name the outcome: %s", err)
	}
	if Kind(err) != "invalid_outcome" || IsInternal(err) {
		t.Errorf("unexpected classification kind=%s internal=%v", Kind(err), IsInternal(err))
	}
	if Kind(errors.New("disk on fire")) != "internal" {
		t.Error("unknown errors should classify as internal")
	}
}
