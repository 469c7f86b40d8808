// Package account defines the opaque caller identity used as the owner of
// bets and the judge of markets, plus the context plumbing that carries an
// authenticated identity into ledger operations.
package account

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// OwnerSize is the byte length of an owner identity (a 32-byte key hash).
const OwnerSize = 32

// ownerRegex matches an optionally 0x-prefixed 64-digit hex string.
// Example: 0x7d0c5e8f1f4a2b6c9e3d1a0b8c7f6e5d4c3b2a1908f7e6d5c4b3a29180f7e6d5
var ownerRegex = regexp.MustCompile(`^(0x)?([0-9a-f]{64})$`)

var (
	ErrInvalidOwner = errors.New("account: invalid owner format")
	ErrZeroOwner    = errors.New("account: owner must not be all zeros")
)

// Owner is a comparable, hashable identity. The zero value is never a valid
// authenticated identity.
type Owner [OwnerSize]byte

// ParseOwner parses and validates an owner string.
// Format: [0x]{64 lowercase or uppercase hex digits}
func ParseOwner(s string) (Owner, error) {
	var o Owner
	matches := ownerRegex.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if matches == nil {
		return o, fmt.Errorf("%w: %q (expected 0x followed by 64 hex digits)", ErrInvalidOwner, s)
	}
	if _, err := hex.Decode(o[:], []byte(matches[2])); err != nil {
		return o, fmt.Errorf("%w: %v", ErrInvalidOwner, err)
	}
	if o.IsZero() {
		return o, ErrZeroOwner
	}
	return o, nil
}

// MustParseOwner is like ParseOwner but panics on error. Intended for tests
// and static fixtures.
func MustParseOwner(s string) Owner {
	o, err := ParseOwner(s)
	if err != nil {
		panic(err)
	}
	return o
}

// IsZero reports whether o is the zero identity.
func (o Owner) IsZero() bool {
	return o == Owner{}
}

// String returns the canonical 0x-prefixed lowercase hex form.
func (o Owner) String() string {
	return "0x" + hex.EncodeToString(o[:])
}

// MarshalText implements encoding.TextMarshaler so owners appear as hex in JSON.
func (o Owner) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Owner) UnmarshalText(text []byte) error {
	parsed, err := ParseOwner(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

type ctxKey struct{}

// WithOwner returns a context carrying an authenticated owner.
func WithOwner(ctx context.Context, o Owner) context.Context {
	return context.WithValue(ctx, ctxKey{}, o)
}

// FromContext returns the authenticated owner, if any.
func FromContext(ctx context.Context) (Owner, bool) {
	o, ok := ctx.Value(ctxKey{}).(Owner)
	if !ok || o.IsZero() {
		return Owner{}, false
	}
	return o, true
}
