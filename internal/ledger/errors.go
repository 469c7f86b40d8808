package ledger

import (
	"errors"
	"fmt"

	"github.com/atmx/parimutuel/internal/store"
)

// Caller-fault validation failures.
var (
	ErrUnauthenticated = errors.New("ledger: caller is not authenticated")
	ErrNotFound        = errors.New("ledger: market not found")
	ErrInvalidOutcome  = errors.New("ledger: outcome must be 0 or 1")
	ErrZeroAmount      = errors.New("ledger: amount must be positive")
	ErrInvalidDeadline = errors.New("ledger: end time must be in the future")
	ErrMarketClosed    = errors.New("ledger: market has ended")
	ErrAlreadyResolved = errors.New("ledger: market already resolved")
	ErrNotAuthorized   = errors.New("ledger: only the judge can resolve")
	ErrNotResolved     = errors.New("ledger: market not resolved")
	ErrNothingToClaim  = errors.New("ledger: no winning stake to claim")
	ErrAmountOverflow  = errors.New("ledger: stake would overflow uint64")
)

// ErrInvalidPoolState signals a broken pool invariant at claim time. It is a
// ledger bug, not a caller error.
var ErrInvalidPoolState = errors.New("ledger: invalid pool state")

// OpError carries the operation and the inputs that triggered a failure.
type OpError struct {
	Op       string
	MarketID uint64
	Err      error
	detail   string
}

func (e *OpError) Error() string {
	if e.detail == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.detail, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opError(op string, marketID uint64, err error, format string, args ...any) *OpError {
	// store.ErrNotFound surfaces as the ledger's own kind.
	if errors.Is(err, store.ErrNotFound) {
		err = ErrNotFound
	}
	return &OpError{
		Op:       op,
		MarketID: marketID,
		Err:      err,
		detail:   fmt.Sprintf(format, args...),
	}
}

// wrap attaches op context to a failure from inside store.Update unless it
// already carries it.
func wrap(op string, marketID uint64, err error) error {
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	return opError(op, marketID, err, "market=%d", marketID)
}

// IsInternal reports whether err is a ledger invariant breach rather than a
// caller mistake.
func IsInternal(err error) bool {
	return errors.Is(err, ErrInvalidPoolState)
}

var kinds = []struct {
	err  error
	kind string
}{
	{ErrUnauthenticated, "unauthenticated"},
	{ErrNotFound, "not_found"},
	{ErrInvalidOutcome, "invalid_outcome"},
	{ErrZeroAmount, "zero_amount"},
	{ErrInvalidDeadline, "invalid_deadline"},
	{ErrMarketClosed, "market_closed"},
	{ErrAlreadyResolved, "already_resolved"},
	{ErrNotAuthorized, "not_authorized"},
	{ErrNotResolved, "not_resolved"},
	{ErrNothingToClaim, "nothing_to_claim"},
	{ErrAmountOverflow, "amount_overflow"},
	{ErrInvalidPoolState, "invalid_pool_state"},
}

// Kind returns a stable machine-readable name for the failure, or
// "internal" for errors outside the taxonomy (storage failures).
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
