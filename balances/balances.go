// Package balances implements the Unchecked/Checked balances-map state
// machine described by the validator core's data model: Unchecked.Check is
// the constructor that runs the conservation check. Checked's Map field is
// exported and Checked.UnmarshalJSON decodes without checking, so a Checked
// value built by a struct literal or from JSON carries no such guarantee.
package balances

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Map is the raw per-address ledger shared by both state kinds: earner
// amounts (what is owed out) and spender amounts (what has been spent in).
type Map struct {
	Earners  map[common.Address]*uint256.Int `json:"earners"`
	Spenders map[common.Address]*uint256.Int `json:"spenders"`
}

// NewMap returns an empty, non-nil Map.
func NewMap() Map {
	return Map{
		Earners:  make(map[common.Address]*uint256.Int),
		Spenders: make(map[common.Address]*uint256.Int),
	}
}

// Clone deep-copies the map so callers can mutate the copy freely.
func (m Map) Clone() Map {
	out := NewMap()
	for addr, amount := range m.Earners {
		out.Earners[addr] = new(uint256.Int).Set(amount)
	}
	for addr, amount := range m.Spenders {
		out.Spenders[addr] = new(uint256.Int).Set(amount)
	}
	return out
}

func sum(m map[common.Address]*uint256.Int) *uint256.Int {
	total := new(uint256.Int)
	for _, amount := range m {
		total.Add(total, amount)
	}
	return total
}

// Unchecked is balances that may have been received from a peer: its sum
// has not yet been verified against the channel deposit.
type Unchecked struct {
	Map Map
}

// NewUnchecked wraps a raw Map as Unchecked (from the wire or from our own
// not-yet-validated accounting).
func NewUnchecked(m Map) Unchecked {
	return Unchecked{Map: m}
}

// ErrorKind distinguishes the two ways Check can fail, so callers can map
// each to a distinct rejection reason.
type ErrorKind int

const (
	// ErrorUnbalanced means sum(earners) != sum(spenders).
	ErrorUnbalanced ErrorKind = iota
	// ErrorOverDeposit means sum(earners) > deposit.
	ErrorOverDeposit
)

// Error reports a conservation-rule violation: sum(earners) != sum(spenders)
// or sum(earners) > deposit.
type Error struct {
	Kind   ErrorKind
	Reason string
}

func (e *Error) Error() string { return "balances: " + e.Reason }

// Check is the total function Unchecked -> Checked: it either succeeds or
// fails with an Error: sum(earners) == sum(spenders) <= deposit.
func (u Unchecked) Check(deposit *uint256.Int) (Checked, error) {
	earnersSum := sum(u.Map.Earners)
	spendersSum := sum(u.Map.Spenders)

	if !earnersSum.Eq(spendersSum) {
		return Checked{}, &Error{Kind: ErrorUnbalanced, Reason: fmt.Sprintf(
			"sum(earners)=%s != sum(spenders)=%s", earnersSum, spendersSum)}
	}
	if earnersSum.Gt(deposit) {
		return Checked{}, &Error{Kind: ErrorOverDeposit, Reason: fmt.Sprintf(
			"sum(earners)=%s exceeds deposit=%s", earnersSum, deposit)}
	}

	return Checked{Map: u.Map.Clone()}, nil
}

// Checked is balances that have been validated to satisfy
// sum(earners) == sum(spenders) <= deposit. The reverse conversion
// (Checked -> Unchecked) is free, since it only discards a guarantee.
type Checked struct {
	Map Map
}

// Unchecked discards the Checked guarantee; always succeeds.
func (c Checked) Unchecked() Unchecked {
	return Unchecked{Map: c.Map}
}

// MarshalJSON encodes a Checked value as its inner Map directly: the wire
// format carries no marker distinguishing Checked from Unchecked, only the
// Go type system does.
func (c Checked) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Map)
}

// UnmarshalJSON decodes a wire balances object straight into the Checked
// guarantee without running Check — callers reading accounting off the
// wire are trusting their own Sentry, not re-deriving the proof.
func (c *Checked) UnmarshalJSON(data []byte) error {
	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.Map = m
	return nil
}

// Equal reports whether two maps hold identical earner and spender amounts.
func (m Map) Equal(other Map) bool {
	if len(m.Earners) != len(other.Earners) || len(m.Spenders) != len(other.Spenders) {
		return false
	}
	for addr, amount := range m.Earners {
		o, ok := other.Earners[addr]
		if !ok || !amount.Eq(o) {
			return false
		}
	}
	for addr, amount := range m.Spenders {
		o, ok := other.Spenders[addr]
		if !ok || !amount.Eq(o) {
			return false
		}
	}
	return true
}

// NonDecreasingEarners reports whether every earner address in next has an
// amount >= its amount in prior (absent in prior counts as zero). This is
// invariant 3 from the data model: funds flow earners-wards only.
//
// Spender-wards changes are deliberately not checked here: the safe reading
// of the core's one open question is that only earner decreases are a
// monotonicity violation, see DESIGN.md.
func NonDecreasingEarners(prior, next Map) bool {
	for addr, nextAmount := range next.Earners {
		priorAmount, ok := prior.Earners[addr]
		if !ok {
			continue
		}
		if nextAmount.Lt(priorAmount) {
			return false
		}
	}
	return true
}

// AbsDiff returns the non-negative |a-b|.
func AbsDiff(a, b *uint256.Int) *uint256.Int {
	if a.Gt(b) {
		return new(uint256.Int).Sub(a, b)
	}
	return new(uint256.Int).Sub(b, a)
}
