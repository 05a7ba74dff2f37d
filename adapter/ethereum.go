package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"

	"github.com/adex-validators/validator-core/channeltypes"
	"github.com/adex-validators/validator-core/config"
	"github.com/adex-validators/validator-core/validatorerrors"
)

// ChannelChecker performs the on-chain side of ValidateChannel: checking
// the channel's activeness. Implemented by chainreader.Reader; an
// interface here so adapter doesn't need to import go-ethereum's RPC
// transport types directly.
type ChannelChecker interface {
	IsActive(ctx context.Context, channelID common.Hash) (bool, error)
}

// Ethereum is the production Adapter: a go-ethereum keystore for
// unlock/sign/verify, an on-chain reader for channel activeness, and an
// optional relayer for delegated identities.
type Ethereum struct {
	address     common.Address
	keystoreDir string
	passphrase  string

	ks      *keystore.KeyStore
	account accounts.Account
	unlocked bool

	cfg     config.Config
	chain   ChannelChecker
	relayer *RelayerClient
}

// NewEthereum constructs an Ethereum adapter bound to a single keystore
// file. unlock() must be called before sign()/get_auth().
func NewEthereum(keystoreFile, passphrase string, cfg config.Config, chain ChannelChecker) (*Ethereum, error) {
	ks := keystore.NewKeyStore(keystoreDirOf(keystoreFile), keystore.StandardScryptN, keystore.StandardScryptP)

	keystoreJSON, err := readKeystoreJSON(keystoreFile)
	if err != nil {
		return nil, fmt.Errorf("adapter: %w: %w", validatorerrors.ErrConfiguration, err)
	}

	account, err := ks.Import(keystoreJSON, passphrase, passphrase)
	if err != nil {
		// Already imported (e.g. re-running against the same keystore
		// dir): fall back to finding the existing account by address.
		account, err = findImportedAccount(ks, keystoreFile)
		if err != nil {
			return nil, fmt.Errorf("adapter: loading keystore %s: %w: %w", keystoreFile, validatorerrors.ErrConfiguration, err)
		}
	}

	var relayer *RelayerClient
	if cfg.IdentityRelayerURL != "" {
		relayer = NewRelayerClient(cfg.IdentityRelayerURL)
	}

	return &Ethereum{
		address:     account.Address,
		keystoreDir: keystoreDirOf(keystoreFile),
		passphrase:  passphrase,
		ks:          ks,
		account:     account,
		cfg:         cfg,
		chain:       chain,
		relayer:     relayer,
	}, nil
}

func (e *Ethereum) Whoami() common.Address { return e.address }

// Unlock decrypts the keystore's private key once; idempotent, and the
// decrypted key is then shared read-only by every subsequent Sign call
// across every channel tick.
func (e *Ethereum) Unlock(_ context.Context) error {
	if e.unlocked {
		return nil
	}
	if err := e.ks.Unlock(e.account, e.passphrase); err != nil {
		return fmt.Errorf("adapter: unlocking keystore: %w: %w", validatorerrors.ErrConfiguration, err)
	}
	e.unlocked = true
	return nil
}

func (e *Ethereum) Sign(digest common.Hash) (string, error) {
	if !e.unlocked {
		return "", fmt.Errorf("adapter: unlock the wallet before signing: %w", validatorerrors.ErrConfiguration)
	}
	sig, err := e.ks.SignHash(e.account, digest.Bytes())
	if err != nil {
		return "", fmt.Errorf("adapter: signing: %w", err)
	}
	if sig[64] < 2 {
		sig[64] += 27
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

func (e *Ethereum) Verify(signer common.Address, digest common.Hash, signatureHex string) bool {
	return verifyPersonalSign(signer, digest, signatureHex)
}

func (e *Ethereum) SessionFromToken(_ context.Context, token string) (Session, error) {
	var rc privilegeChecker
	if e.relayer != nil {
		rc = e.relayer
	}
	session, err := sessionFromTokenCommon(token, e.address, rc)
	if err != nil {
		return Session{}, err
	}
	if Era(time.Now())-session.Era > e.cfg.TokenValidUntilMinutes {
		return Session{}, fmt.Errorf("adapter: token era %d is more than %d minutes old: %w",
			session.Era, e.cfg.TokenValidUntilMinutes, validatorerrors.ErrAuthentication)
	}
	return session, nil
}

func (e *Ethereum) GetAuth(peer common.Address) (string, error) {
	if !e.unlocked {
		return "", fmt.Errorf("adapter: unlock the wallet before minting tokens: %w", validatorerrors.ErrConfiguration)
	}
	payload := Payload{
		ID:      peer.Hex(),
		Era:     Era(time.Now()),
		Address: e.address.Hex(),
	}
	return EWTSign(e.Sign, payload)
}

// ValidateChannel checks channel well-formedness (whoami is a validator of
// the channel, deposit is positive, withdraw window is sane) and the
// on-chain activeness check.
func (e *Ethereum) ValidateChannel(ctx context.Context, channel *channeltypes.Channel) (bool, error) {
	if channel.Spec.Find(e.address) == channeltypes.RoleNone {
		return false, fmt.Errorf("adapter: whoami is not a validator of this channel: %w", validatorerrors.ErrInvalidChannel)
	}
	if channel.DepositAmount == nil || channel.DepositAmount.IsZero() {
		return false, fmt.Errorf("adapter: deposit must be positive: %w", validatorerrors.ErrInvalidChannel)
	}
	if channel.Spec.WithdrawPeriodStart.Before(channel.Spec.Created) {
		return false, fmt.Errorf("adapter: withdraw period starts before channel creation: %w", validatorerrors.ErrInvalidChannel)
	}

	if e.chain == nil {
		return true, nil
	}
	active, err := e.chain.IsActive(ctx, channel.ID)
	if err != nil {
		return false, fmt.Errorf("adapter: on-chain activeness check: %w", err)
	}
	if !active {
		return false, fmt.Errorf("adapter: channel is not Active on the ethereum network: %w", validatorerrors.ErrInvalidChannel)
	}
	return true, nil
}
