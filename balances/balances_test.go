package balances

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func addr(n byte) common.Address {
	var a common.Address
	a[common.AddressLength-1] = n
	return a
}

func TestCheckAcceptsBalancedUnderDeposit(t *testing.T) {
	m := NewMap()
	m.Earners[addr(1)] = uint256.NewInt(100)
	m.Spenders[addr(2)] = uint256.NewInt(100)

	checked, err := NewUnchecked(m).Check(uint256.NewInt(1000))
	require.NoError(t, err)
	require.True(t, checked.Map.Equal(m))
}

func TestCheckRejectsUnbalancedSums(t *testing.T) {
	m := NewMap()
	m.Earners[addr(1)] = uint256.NewInt(100)
	m.Spenders[addr(2)] = uint256.NewInt(90)

	_, err := NewUnchecked(m).Check(uint256.NewInt(1000))
	require.Error(t, err)

	var balErr *Error
	require.True(t, errors.As(err, &balErr))
	require.Equal(t, ErrorUnbalanced, balErr.Kind)
}

func TestCheckRejectsOverDeposit(t *testing.T) {
	m := NewMap()
	m.Earners[addr(1)] = uint256.NewInt(2000)
	m.Spenders[addr(2)] = uint256.NewInt(2000)

	_, err := NewUnchecked(m).Check(uint256.NewInt(1000))
	require.Error(t, err)

	var balErr *Error
	require.True(t, errors.As(err, &balErr))
	require.Equal(t, ErrorOverDeposit, balErr.Kind)
}

func TestCheckAcceptsSumEqualToDeposit(t *testing.T) {
	m := NewMap()
	m.Earners[addr(1)] = uint256.NewInt(1000)
	m.Spenders[addr(2)] = uint256.NewInt(1000)

	_, err := NewUnchecked(m).Check(uint256.NewInt(1000))
	require.NoError(t, err)
}

func TestCheckedUncheckedRoundTrip(t *testing.T) {
	m := NewMap()
	m.Earners[addr(1)] = uint256.NewInt(50)
	m.Spenders[addr(2)] = uint256.NewInt(50)

	checked, err := NewUnchecked(m).Check(uint256.NewInt(1000))
	require.NoError(t, err)

	unchecked := checked.Unchecked()
	require.True(t, unchecked.Map.Equal(m))
}

func TestCheckedJSONRoundTrip(t *testing.T) {
	m := NewMap()
	m.Earners[addr(1)] = uint256.NewInt(100)
	m.Spenders[addr(2)] = uint256.NewInt(100)
	checked, err := NewUnchecked(m).Check(uint256.NewInt(1000))
	require.NoError(t, err)

	data, err := checked.MarshalJSON()
	require.NoError(t, err)
	require.Contains(t, string(data), "earners")
	require.Contains(t, string(data), "spenders")

	var decoded Checked
	require.NoError(t, decoded.UnmarshalJSON(data))
	require.True(t, decoded.Map.Equal(checked.Map))
}

func TestMapEqualDetectsDivergentAmounts(t *testing.T) {
	a := NewMap()
	a.Earners[addr(1)] = uint256.NewInt(100)
	b := NewMap()
	b.Earners[addr(1)] = uint256.NewInt(101)

	require.False(t, a.Equal(b))
}

func TestMapEqualDetectsMissingAddress(t *testing.T) {
	a := NewMap()
	a.Earners[addr(1)] = uint256.NewInt(100)
	a.Earners[addr(2)] = uint256.NewInt(50)
	b := NewMap()
	b.Earners[addr(1)] = uint256.NewInt(100)

	require.False(t, a.Equal(b))
}

func TestNonDecreasingEarnersAcceptsIncrease(t *testing.T) {
	prior := NewMap()
	prior.Earners[addr(1)] = uint256.NewInt(100)
	next := NewMap()
	next.Earners[addr(1)] = uint256.NewInt(150)

	require.True(t, NonDecreasingEarners(prior, next))
}

func TestNonDecreasingEarnersRejectsDecrease(t *testing.T) {
	prior := NewMap()
	prior.Earners[addr(1)] = uint256.NewInt(100)
	next := NewMap()
	next.Earners[addr(1)] = uint256.NewInt(99)

	require.False(t, NonDecreasingEarners(prior, next))
}

func TestNonDecreasingEarnersIgnoresNewAddresses(t *testing.T) {
	prior := NewMap()
	prior.Earners[addr(1)] = uint256.NewInt(100)
	next := NewMap()
	next.Earners[addr(1)] = uint256.NewInt(100)
	next.Earners[addr(2)] = uint256.NewInt(10)

	require.True(t, NonDecreasingEarners(prior, next))
}

func TestAbsDiff(t *testing.T) {
	require.Equal(t, uint256.NewInt(5), AbsDiff(uint256.NewInt(10), uint256.NewInt(5)))
	require.Equal(t, uint256.NewInt(5), AbsDiff(uint256.NewInt(5), uint256.NewInt(10)))
	require.Equal(t, uint256.NewInt(0), AbsDiff(uint256.NewInt(5), uint256.NewInt(5)))
}

func TestCloneIsIndependent(t *testing.T) {
	m := NewMap()
	m.Earners[addr(1)] = uint256.NewInt(100)

	clone := m.Clone()
	clone.Earners[addr(1)].Add(clone.Earners[addr(1)], uint256.NewInt(1))

	require.True(t, m.Earners[addr(1)].Eq(uint256.NewInt(100)))
	require.True(t, clone.Earners[addr(1)].Eq(uint256.NewInt(101)))
}
