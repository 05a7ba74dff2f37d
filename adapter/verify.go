package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/adex-validators/validator-core/validatorerrors"
)

// verifyPersonalSign never fails for malformed input: it
// returns false instead of an error.
func verifyPersonalSign(signer common.Address, digest common.Hash, signatureHex string) bool {
	if !strings.HasPrefix(signatureHex, "0x") {
		return false
	}
	sig := common.FromHex(signatureHex)
	if len(sig) != 65 {
		return false
	}
	sig = append([]byte{}, sig...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == signer
}

// privilegeChecker resolves whether `from` has any privileges over
// `identity`, via the Identity Relayer HTTP endpoint. nil means "no
// delegation support" (the Dummy adapter).
type privilegeChecker interface {
	HasPrivileges(ctx context.Context, from, identity common.Address) (bool, error)
}

// sessionFromTokenCommon implements the shared SessionFromToken logic
// (token parsing, audience check, optional delegation) for both adapter
// variants.
func sessionFromTokenCommon(token string, whoami common.Address, relayer privilegeChecker) (Session, error) {
	if len(token) < 16 {
		return Session{}, fmt.Errorf("adapter: invalid token id: %w", validatorerrors.ErrAuthentication)
	}

	verified, err := EWTVerify(token)
	if err != nil {
		return Session{}, fmt.Errorf("adapter: %w: %w", validatorerrors.ErrAuthentication, err)
	}

	if !strings.EqualFold(whoami.Hex(), verified.Payload.ID) {
		return Session{}, fmt.Errorf(
			"adapter: token payload.id != whoami, token was not intended for us: %w", validatorerrors.ErrConfiguration)
	}

	if verified.Payload.Identity == nil {
		return Session{Era: verified.Payload.Era, UID: verified.From}, nil
	}

	identity := *verified.Payload.Identity
	if relayer == nil {
		return Session{}, fmt.Errorf("adapter: delegated identity requires a relayer: %w", validatorerrors.ErrAuthentication)
	}
	ok, err := relayer.HasPrivileges(context.Background(), verified.From, identity)
	if err != nil {
		return Session{}, fmt.Errorf("adapter: checking privileges: %w", err)
	}
	if !ok {
		return Session{}, fmt.Errorf("adapter: insufficient privilege: %w", validatorerrors.ErrAuthentication)
	}

	return Session{Era: verified.Payload.Era, UID: identity}, nil
}
