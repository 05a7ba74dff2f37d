// Ethereum Web Tokens: header.payload.signature, base64url encoded, signed
// over the personal-sign scheme. Construction reuses golang-jwt/jwt/v4's
// Token/Claims machinery (a custom "ETH" SigningMethod) for the header and
// claims JSON/base64url plumbing, so minting a token is one
// token.SignedString(...) call instead of hand-rolled encoding.
//
// Verification cannot go through the same library's Parse/Verify path: EWT
// tokens are verified by *recovering* the signer's address from the
// signature (there is no known public key to verify against ahead of
// time), whereas golang-jwt's SigningMethod.Verify assumes the caller
// already knows the expected key. That half is implemented directly
// against the adapter's ECDSA recovery.
package adapter

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	jwt "github.com/golang-jwt/jwt/v4"
)

// Payload is the EWT claim set. It implements jwt.Claims so it can be
// passed straight to jwt.NewWithClaims.
type Payload struct {
	ID       string          `json:"id"`
	Era      int64           `json:"era"`
	Address  string          `json:"address"`
	Identity *common.Address `json:"identity,omitempty"`
}

// Valid satisfies jwt.Claims. Era freshness is enforced by the caller
// (Ethereum.SessionFromToken), which knows the configured
// TokenValidUntilMinutes window; this type has no access to that config.
// Dummy.SessionFromToken does not check the era.
func (Payload) Valid() error { return nil }

// signingKey is the "key" value handed to Token.SignedString: a closure
// back into the Adapter doing the actual signing.
type signingKey struct {
	sign signFn
}

type signFn func(digest common.Hash) (string, error)

// ethSigningMethod implements jwt.SigningMethod over the channel's
// personal-sign scheme, registered under alg "ETH".
type ethSigningMethod struct{}

func init() {
	jwt.RegisterSigningMethod("ETH", func() jwt.SigningMethod { return ethSigningMethod{} })
}

func (ethSigningMethod) Alg() string { return "ETH" }

func (ethSigningMethod) Sign(signingString string, key any) ([]byte, error) {
	sk, ok := key.(signingKey)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	digest := PersonalSignHash([]byte(signingString))
	sigHex, err := sk.sign(digest)
	if err != nil {
		return nil, err
	}
	return hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
}

// Verify is never used by this package (see package doc); it exists only
// to satisfy jwt.SigningMethod.
func (ethSigningMethod) Verify(_ string, _ []byte, _ any) error {
	return errors.New("adapter: ETH signing method does not support key-based verify, use EWTVerify")
}

// PersonalSignHash hashes message the way Ethereum's personal_sign does:
// keccak256("\x19Ethereum Signed Message:\n" || ascii(len(message)) || message).
func PersonalSignHash(message []byte) common.Hash {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256Hash(append([]byte(prefix), message...))
}

// EWTSign mints a token for payload, signed by sign, via golang-jwt's
// Token construction. The header key is forced to "type" (not the
// library's default "typ") to match the Ethereum Web Token wire format.
func EWTSign(sign signFn, payload Payload) (string, error) {
	token := jwt.NewWithClaims(ethSigningMethod{}, payload)
	token.Header = map[string]any{"type": "JWT", "alg": "ETH"}

	return token.SignedString(signingKey{sign: sign})
}

// VerifyPayload is the result of verifying and decoding a token.
type VerifyPayload struct {
	From    common.Address
	Payload Payload
}

// EWTVerify decodes a token and recovers its signer directly (see package
// doc for why this bypasses jwt.ParseWithClaims).
func EWTVerify(token string) (VerifyPayload, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return VerifyPayload{}, errors.New("adapter: token string is incorrect")
	}
	headerEncoded, payloadEncoded, sigEncoded := parts[0], parts[1], parts[2]

	sigRaw, err := base64.RawURLEncoding.DecodeString(sigEncoded)
	if err != nil {
		return VerifyPayload{}, fmt.Errorf("adapter: decoding signature: %w", err)
	}
	if len(sigRaw) != 65 {
		return VerifyPayload{}, errors.New("adapter: invalid signature length")
	}

	signingString := headerEncoded + "." + payloadEncoded
	digest := PersonalSignHash([]byte(signingString))

	// crypto.SigToPub expects the recovery id in the last byte as 0/1.
	sig := make([]byte, 65)
	copy(sig, sigRaw)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return VerifyPayload{}, fmt.Errorf("adapter: recovering signer: %w", err)
	}
	from := crypto.PubkeyToAddress(*pub)

	payloadJSON, err := base64.RawURLEncoding.DecodeString(payloadEncoded)
	if err != nil {
		return VerifyPayload{}, fmt.Errorf("adapter: decoding payload: %w", err)
	}
	var payload Payload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return VerifyPayload{}, fmt.Errorf("adapter: unmarshalling payload: %w", err)
	}

	return VerifyPayload{From: from, Payload: payload}, nil
}

// Era returns the minute-bucket for t: era = floor(now_ms/60000).
func Era(t time.Time) int64 {
	return t.UnixMilli() / 60000
}
