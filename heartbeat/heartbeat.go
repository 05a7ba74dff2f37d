// Package heartbeat builds the liveness beacon each validator emits once
// per tick per channel, independent of whether that tick made any
// progress.
package heartbeat

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/adex-validators/validator-core/merkle"
	"github.com/adex-validators/validator-core/sentrytypes"
)

// Signer signs a 32-byte digest, returning a hex-encoded signature.
type Signer func(digest common.Hash) (string, error)

// Digest returns the value a Heartbeat is signed over: the Keccak-256
// hash of the big-endian millisecond timestamp concatenated with the
// empty Merkle root.
func Digest(timestamp int64) common.Hash {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(timestamp)
		timestamp >>= 8
	}
	return crypto.Keccak256Hash(buf, merkle.EmptyRoot.Bytes())
}

// Build mints a signed Heartbeat for the current instant.
func Build(sign Signer, now time.Time) (sentrytypes.Heartbeat, error) {
	ts := now.UnixMilli()
	digest := Digest(ts)
	sig, err := sign(digest)
	if err != nil {
		return sentrytypes.Heartbeat{}, fmt.Errorf("heartbeat: signing: %w", err)
	}
	return sentrytypes.Heartbeat{
		Signature: sig,
		StateRoot: merkle.EmptyRoot,
		Timestamp: ts,
	}, nil
}

// IsStale reports whether a peer's most recent heartbeat is older than
// maxAge relative to now.
func IsStale(hb *sentrytypes.Heartbeat, now time.Time, maxAge time.Duration) bool {
	if hb == nil {
		return true
	}
	age := now.Sub(time.UnixMilli(hb.Timestamp))
	return age > maxAge
}
