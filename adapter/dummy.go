package adapter

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/adex-validators/validator-core/channeltypes"
	"github.com/adex-validators/validator-core/validatorerrors"
)

// Dummy is an in-memory Adapter for tests and local development: it holds
// a real ECDSA key (so signatures are real and verifiable) but never makes
// a network call. ValidateChannel only checks that whoami is one of the
// channel's validators.
type Dummy struct {
	address common.Address
	key     *ecdsa.PrivateKey
	unlocked bool
}

// NewDummy constructs a Dummy adapter bound to a deterministic key derived
// from identity's bytes, so repeated runs with the same identity produce
// the same address and signatures. Whoami is the derived key's address
// (not identity itself), so signatures recover to Whoami.
func NewDummy(identity common.Address) (*Dummy, error) {
	key, err := deterministicKey(identity)
	if err != nil {
		return nil, fmt.Errorf("adapter: deriving dummy key: %w", err)
	}
	return &Dummy{address: crypto.PubkeyToAddress(key.PublicKey), key: key}, nil
}

func deterministicKey(seed common.Address) (*ecdsa.PrivateKey, error) {
	// Expand the 20-byte seed into a 32-byte scalar deterministically;
	// this is test/dev tooling only, never used for real funds.
	digest := crypto.Keccak256(seed.Bytes())
	return crypto.ToECDSA(digest)
}

func (d *Dummy) Whoami() common.Address { return d.address }

func (d *Dummy) Unlock(_ context.Context) error {
	d.unlocked = true
	return nil
}

func (d *Dummy) Sign(digest common.Hash) (string, error) {
	if !d.unlocked {
		return "", fmt.Errorf("adapter: unlock the wallet before signing: %w", validatorerrors.ErrConfiguration)
	}
	sig, err := crypto.Sign(digest.Bytes(), d.key)
	if err != nil {
		return "", fmt.Errorf("adapter: signing: %w", err)
	}
	if sig[64] < 2 {
		sig[64] += 27
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

func (d *Dummy) Verify(signer common.Address, digest common.Hash, signatureHex string) bool {
	return verifyPersonalSign(signer, digest, signatureHex)
}

func (d *Dummy) SessionFromToken(_ context.Context, token string) (Session, error) {
	return sessionFromTokenCommon(token, d.address, nil)
}

func (d *Dummy) GetAuth(peer common.Address) (string, error) {
	if !d.unlocked {
		return "", fmt.Errorf("adapter: unlock the wallet before minting tokens: %w", validatorerrors.ErrConfiguration)
	}
	payload := Payload{
		ID:      peer.Hex(),
		Era:     Era(time.Now()),
		Address: d.address.Hex(),
	}
	return EWTSign(d.Sign, payload)
}

func (d *Dummy) ValidateChannel(_ context.Context, channel *channeltypes.Channel) (bool, error) {
	if channel.Spec.Find(d.address) == channeltypes.RoleNone {
		return false, fmt.Errorf("adapter: whoami is not a validator of this channel: %w", validatorerrors.ErrInvalidChannel)
	}
	return true, nil
}
