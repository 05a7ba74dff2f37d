// Package merkle computes the state-root commitment over a balances map:
// a deterministic Keccak-256 binary Merkle tree over (address, amount)
// leaves, canonicalised by fixed-width encoding and lexicographic sort.
//
// The empty-tree root is the all-zero digest: an empty structure commits
// to the zero value, not to some derived hash of nothing.
package merkle

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// EmptyRoot is the commitment of an empty balances map.
var EmptyRoot = common.Hash{}

const leafWidth = common.AddressLength + 32 // address || big-endian uint256

// Leaf serialises a single (address, amount) pair as
// address_bytes || big_endian_unsigned(amount), 52 bytes wide.
func Leaf(addr common.Address, amount *uint256.Int) []byte {
	buf := make([]byte, leafWidth)
	copy(buf, addr.Bytes())
	amount.WriteToSlice(buf[common.AddressLength:])
	return buf
}

// Root computes the canonical state root over a set of earner balances.
// Equal inputs always yield a byte-identical root, on any machine: leaves
// are sorted before hashing so map iteration order never leaks in.
func Root(earners map[common.Address]*uint256.Int) common.Hash {
	if len(earners) == 0 {
		return EmptyRoot
	}

	leaves := make([][]byte, 0, len(earners))
	for addr, amount := range earners {
		leaves = append(leaves, Leaf(addr, amount))
	}
	sort.Slice(leaves, func(i, j int) bool { return bytes.Compare(leaves[i], leaves[j]) < 0 })

	level := make([][]byte, len(leaves))
	for i, leaf := range leaves {
		h := crypto.Keccak256(leaf)
		level[i] = h
	}

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, crypto.Keccak256(append(append([]byte{}, level[i]...), level[i+1]...)))
			} else {
				// Odd node at this level is promoted unchanged.
				next = append(next, level[i])
			}
		}
		level = next
	}

	return common.BytesToHash(level[0])
}
