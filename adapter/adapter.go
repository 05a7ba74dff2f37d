// Package adapter implements the capability set every validator node needs
// from its identity: hashing, signing, verifying, session extraction from
// auth tokens, and on-chain channel validity checks. Two variants exist,
// Dummy and Ethereum, behind the same Adapter interface.
package adapter

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/adex-validators/validator-core/channeltypes"
)

// Session is the identity resolved from a verified auth token: either the
// token's signer, or a delegated identity the signer has privileges over.
type Session struct {
	Era int64
	UID common.Address
}

// Adapter is the capability set a validator role needs from an identity and
// chain backend. Every method is
// pure or idempotent except Sign and GetAuth, which require a prior Unlock.
type Adapter interface {
	// Whoami returns this node's validator address. Pure.
	Whoami() common.Address

	// Unlock loads signing credentials. Idempotent; fails with
	// ErrConfiguration if credentials are absent or wrong.
	Unlock(ctx context.Context) error

	// Sign returns a hex-encoded signature over digest. Requires a prior
	// Unlock, else fails with ErrConfiguration.
	Sign(digest common.Hash) (string, error)

	// Verify never fails for malformed input: it returns false instead.
	Verify(signer common.Address, digest common.Hash, signatureHex string) bool

	// SessionFromToken parses a three-part dot-separated auth token,
	// verifies its signature recovers to the claimed address, enforces
	// the audience equals Whoami(), and optionally resolves a delegated
	// identity. Fails with ErrAuthentication when privileges are absent.
	SessionFromToken(ctx context.Context, token string) (Session, error)

	// GetAuth mints a token whose audience is peer and whose issuance
	// epoch is floor(now_ms/60_000).
	GetAuth(peer common.Address) (string, error)

	// ValidateChannel checks channel well-formedness against config and
	// on-chain activeness.
	ValidateChannel(ctx context.Context, channel *channeltypes.Channel) (bool, error)
}
