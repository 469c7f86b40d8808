// Package api provides the HTTP handlers for creating markets, placing bets,
// resolving and claiming, plus the read-side views over markets, positions
// and the operation journal.
//
// Stakes and payouts are integer base units; odds are shopspring/decimal.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/parimutuel/internal/account"
	"github.com/atmx/parimutuel/internal/ledger"
	"github.com/atmx/parimutuel/internal/model"
	"github.com/atmx/parimutuel/internal/odds"
	"github.com/atmx/parimutuel/internal/store"
)

// Service exposes the ledger over HTTP. Writes go through the ledger; reads
// go straight to the store.
type Service struct {
	ledger *ledger.Ledger
	store  store.Store
}

// NewService creates a new API service.
func NewService(l *ledger.Ledger, st store.Store) *Service {
	return &Service{ledger: l, store: st}
}

// Routes mounts every ledger endpoint on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/markets", s.ListMarkets)
	r.Post("/markets", s.CreateMarket)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Get("/markets/{marketID}/history", s.GetMarketHistory)
	r.Get("/markets/{marketID}/quote", s.GetQuote)
	r.Post("/markets/{marketID}/bets", s.PlaceBet)
	r.Post("/markets/{marketID}/resolve", s.Resolve)
	r.Post("/markets/{marketID}/claim", s.Claim)
	r.Get("/markets/{marketID}/payout/{owner}", s.PreviewPayout)

	r.Get("/accounts/{owner}/bets", s.ListBets)
	r.Get("/accounts/{owner}/history", s.GetAccountHistory)
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Title   string `json:"title"`
	EndTime uint64 `json:"end_time"` // microseconds since the Unix epoch
}

// BetRequest is the JSON body for POST /markets/{marketID}/bets.
type BetRequest struct {
	Outcome model.Outcome `json:"outcome"`
	Amount  uint64        `json:"amount"`
}

// ResolveRequest is the JSON body for POST /markets/{marketID}/resolve.
type ResolveRequest struct {
	WinningOutcome model.Outcome `json:"winning_outcome"`
}

// MarketView is a market together with its per-outcome pools and odds.
type MarketView struct {
	model.Market
	Outcomes []odds.Quote `json:"outcomes"`
}

// BetResponse is returned from a successful bet.
type BetResponse struct {
	MarketID uint64        `json:"market_id"`
	Owner    account.Owner `json:"owner"`
	Outcome  model.Outcome `json:"outcome"`
	Amount   uint64        `json:"amount"`
	Stake    uint64        `json:"stake"` // caller's total stake on the outcome after this bet
	Market   MarketView    `json:"market"`
}

// PayoutResponse is returned from claims and claim previews.
type PayoutResponse struct {
	MarketID uint64        `json:"market_id"`
	Owner    account.Owner `json:"owner"`
	Payout   uint64        `json:"payout"`
}

// QuoteResponse estimates the payout of a hypothetical bet.
type QuoteResponse struct {
	MarketID        uint64          `json:"market_id"`
	Outcome         model.Outcome   `json:"outcome"`
	Amount          uint64          `json:"amount"`
	EstimatedPayout decimal.Decimal `json:"estimated_payout"`
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", "invalid_request", http.StatusBadRequest)
		return
	}

	market, err := s.ledger.CreateMarket(r.Context(), req.Title, req.EndTime)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, MarketView{Market: *market, Outcomes: odds.Quotes([model.NumOutcomes]uint64{})})
}

// ListMarkets handles GET /api/v1/markets
// Returns all markets ordered by id, optionally filtered by ?resolved=true|false.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	markets, err := s.store.ListMarkets(ctx)
	if err != nil {
		slog.Error("list markets failed", "err", err)
		writeError(w, "failed to list markets", "internal", http.StatusInternalServerError)
		return
	}

	var filter *bool
	if v := r.URL.Query().Get("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, "resolved must be true or false", "invalid_request", http.StatusBadRequest)
			return
		}
		filter = &b
	}

	views := []MarketView{}
	for _, m := range markets {
		if filter != nil && m.Resolved != *filter {
			continue
		}
		view, err := s.marketView(r, &m)
		if err != nil {
			slog.Error("load pools failed", "market_id", m.ID, "err", err)
			writeError(w, "failed to load pools", "internal", http.StatusInternalServerError)
			return
		}
		views = append(views, view)
	}

	writeJSON(w, http.StatusOK, views)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	market, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	view, err := s.marketView(r, market)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// GetQuote handles GET /api/v1/markets/{marketID}/quote?outcome=0&amount=100
// Estimates what a bet would pay if placed now and nobody else bet.
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	marketID, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	outcome, err := strconv.ParseUint(q.Get("outcome"), 10, 64)
	if err != nil || !model.Outcome(outcome).Valid() {
		writeError(w, "outcome must be 0 or 1", "invalid_outcome", http.StatusBadRequest)
		return
	}
	amount, err := strconv.ParseUint(q.Get("amount"), 10, 64)
	if err != nil || amount == 0 {
		writeError(w, "amount must be a positive integer", "zero_amount", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		writeStoreError(w, err)
		return
	}
	pools, err := s.store.GetPools(ctx, marketID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, QuoteResponse{
		MarketID:        marketID,
		Outcome:         model.Outcome(outcome),
		Amount:          amount,
		EstimatedPayout: odds.EstimatePayout(pools, model.Outcome(outcome), amount),
	})
}

// PlaceBet handles POST /api/v1/markets/{marketID}/bets
func (s *Service) PlaceBet(w http.ResponseWriter, r *http.Request) {
	marketID, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	var req BetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", "invalid_request", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := s.ledger.Bet(ctx, marketID, req.Outcome, req.Amount); err != nil {
		writeLedgerError(w, err)
		return
	}

	// The bet is committed; a failed read-back only degrades the response.
	owner, _ := account.FromContext(ctx)
	resp := BetResponse{
		MarketID: marketID,
		Owner:    owner,
		Outcome:  req.Outcome,
		Amount:   req.Amount,
	}
	resp.Stake, _ = s.store.GetBet(ctx, model.BetKey{MarketID: marketID, Owner: owner, Outcome: req.Outcome})
	if market, err := s.store.GetMarket(ctx, marketID); err == nil {
		if view, err := s.marketView(r, market); err == nil {
			resp.Market = view
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Resolve handles POST /api/v1/markets/{marketID}/resolve
func (s *Service) Resolve(w http.ResponseWriter, r *http.Request) {
	marketID, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", "invalid_request", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := s.ledger.Resolve(ctx, marketID, req.WinningOutcome); err != nil {
		writeLedgerError(w, err)
		return
	}

	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	view, err := s.marketView(r, market)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Claim handles POST /api/v1/markets/{marketID}/claim
// Returns the payout entitlement; funds are not moved here.
func (s *Service) Claim(w http.ResponseWriter, r *http.Request) {
	marketID, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	payout, err := s.ledger.Claim(ctx, marketID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	owner, _ := account.FromContext(ctx)
	writeJSON(w, http.StatusOK, PayoutResponse{MarketID: marketID, Owner: owner, Payout: payout})
}

// PreviewPayout handles GET /api/v1/markets/{marketID}/payout/{owner}
func (s *Service) PreviewPayout(w http.ResponseWriter, r *http.Request) {
	marketID, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}

	payout, err := s.ledger.PreviewClaim(r.Context(), marketID, owner)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PayoutResponse{MarketID: marketID, Owner: owner, Payout: payout})
}

// GetMarketHistory handles GET /api/v1/markets/{marketID}/history
// Returns the journal entries for one market in commit order.
func (s *Service) GetMarketHistory(w http.ResponseWriter, r *http.Request) {
	marketID, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		writeStoreError(w, err)
		return
	}
	entries, err := s.store.GetEntriesByMarket(ctx, marketID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if entries == nil {
		entries = []model.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListBets handles GET /api/v1/accounts/{owner}/bets
// Returns every non-zero position held by owner.
func (s *Service) ListBets(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}

	bets, err := s.store.ListBetsByOwner(r.Context(), owner)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if bets == nil {
		bets = []model.Bet{}
	}
	writeJSON(w, http.StatusOK, bets)
}

// GetAccountHistory handles GET /api/v1/accounts/{owner}/history
func (s *Service) GetAccountHistory(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}

	entries, err := s.store.GetEntriesByOwner(r.Context(), owner)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if entries == nil {
		entries = []model.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- helpers ---

func (s *Service) marketView(r *http.Request, m *model.Market) (MarketView, error) {
	pools, err := s.store.GetPools(r.Context(), m.ID)
	if err != nil {
		return MarketView{}, err
	}
	return MarketView{Market: *m, Outcomes: odds.Quotes(pools)}, nil
}

func marketIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "marketID"), 10, 64)
	if err != nil {
		writeError(w, "invalid market id", "invalid_request", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func ownerParam(w http.ResponseWriter, r *http.Request) (account.Owner, bool) {
	owner, err := account.ParseOwner(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, err.Error(), "invalid_request", http.StatusBadRequest)
		return account.Owner{}, false
	}
	return owner, true
}

// statusFor maps a ledger error kind to an HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "unauthenticated":
		return http.StatusUnauthorized
	case "not_found":
		return http.StatusNotFound
	case "not_authorized":
		return http.StatusForbidden
	case "invalid_outcome", "zero_amount", "invalid_deadline", "amount_overflow":
		return http.StatusBadRequest
	case "market_closed", "already_resolved", "not_resolved", "nothing_to_claim":
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeLedgerError(w http.ResponseWriter, err error) {
	kind := ledger.Kind(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		slog.Error("ledger operation failed", "kind", kind, "internal", ledger.IsInternal(err), "err", err)
		writeError(w, "internal error", kind, status)
		return
	}
	writeError(w, err.Error(), kind, status)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "market not found", "not_found", http.StatusNotFound)
		return
	}
	slog.Error("store read failed", "err", err)
	writeError(w, "internal error", "internal", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message, kind string, status int) {
	writeJSON(w, status, map[string]string{"error": message, "kind": kind})
}
