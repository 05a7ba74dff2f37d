// Package config loads and validates the validator-core driver's
// configuration: a TOML file, in the same style go-ethereum itself uses
// for node config, overlaid on built-in defaults. Load reads no
// environment variables and does not validate the resulting values.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/naoina/toml"

	"github.com/adex-validators/validator-core/accounts"
)

// Config carries every driver tunable: timeouts, health promilles, and
// discovery limits. Load starts from Default() and a TOML file overrides
// only the fields it names; a field the file sets to zero stays zero.
type Config struct {
	// IdentityRelayerURL serves Adapter.SessionFromToken's delegated
	// has_privileges lookups.
	IdentityRelayerURL string `toml:"identityRelayerUrl"`

	// FetchTimeout bounds every single Sentry HTTP request.
	FetchTimeout time.Duration `toml:"fetchTimeout"`
	// PropagationTimeout bounds a single propagate() call to one peer.
	PropagationTimeout time.Duration `toml:"propagationTimeout"`
	// ValidatorTickTimeout bounds one channel's Leader/Follower tick.
	ValidatorTickTimeout time.Duration `toml:"validatorTickTimeout"`
	// WaitTime is the daemon-mode delay between driver iterations.
	WaitTime time.Duration `toml:"waitTime"`

	// TokenValidUntilMinutes is how many minutes in the past an auth token's era
	// may be before it is rejected.
	TokenValidUntilMinutes int64 `toml:"tokenValidUntilMinutes"`

	// HeartbeatTime: a peer whose latest Heartbeat is older than this is
	// considered unresponsive.
	HeartbeatTime time.Duration `toml:"heartbeatTime"`

	// HealthThresholdPromilles / HealthUnsignablePromilles gate the
	// Follower's ternary health assessment, both expressed as
	// per-thousand of the channel deposit.
	HealthThresholdPromilles   uint64 `toml:"healthThresholdPromilles"`
	HealthUnsignablePromilles  uint64 `toml:"healthUnsignablePromilles"`

	// MaxChannels logs a warning (never a hard stop) once channel
	// discovery reaches this many entries in one page set.
	MaxChannels uint64 `toml:"maxChannels"`

	// EthereumCoreAddress is the on-chain AdExCore contract address
	// Adapter.ValidateChannel queries for channel activeness.
	EthereumCoreAddress string `toml:"ethereumCoreAddress"`
	// EthereumNetwork is the JSON-RPC endpoint backing the read-only
	// on-chain client.
	EthereumNetwork string `toml:"ethereumNetwork"`
}

// Default returns conservative development defaults; production deployments
// are expected to override them via a TOML file.
func Default() Config {
	return Config{
		FetchTimeout:              5 * time.Second,
		PropagationTimeout:        8 * time.Second,
		ValidatorTickTimeout:      30 * time.Second,
		WaitTime:                  10 * time.Second,
		TokenValidUntilMinutes:    60,
		HeartbeatTime:             90 * time.Second,
		HealthThresholdPromilles:  10,
		HealthUnsignablePromilles: 50,
		MaxChannels:               512,
	}
}

// Load starts from Default() and, when path is non-empty, overlays a TOML
// file on top of it. The environment argument is not used: every
// environment gets the same defaults.
func Load(environment, path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return cfg, nil
}

// ValidateSentryURL checks a Sentry/relayer base URL is well formed,
// using the scheme://path rules of package accounts.
func ValidateSentryURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("config: empty URL")
	}
	_, err := accounts.ParseURL(raw)
	return err
}
