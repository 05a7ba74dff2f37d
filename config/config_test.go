package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsInternallyConsistent(t *testing.T) {
	cfg := Default()
	require.Greater(t, cfg.HealthUnsignablePromilles, cfg.HealthThresholdPromilles)
	require.Greater(t, cfg.ValidatorTickTimeout, cfg.FetchTimeout)
}

func TestLoadWithNoPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("development", "")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverlaysTOMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
maxChannels = 10
healthThresholdPromilles = 5
ethereumNetwork = "https://example.invalid/rpc"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load("production", path)
	require.NoError(t, err)
	require.Equal(t, uint64(10), cfg.MaxChannels)
	require.Equal(t, uint64(5), cfg.HealthThresholdPromilles)
	require.Equal(t, "https://example.invalid/rpc", cfg.EthereumNetwork)
	// Fields the TOML file didn't mention keep Default()'s values.
	require.Equal(t, Default().FetchTimeout, cfg.FetchTimeout)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load("production", "/nonexistent/path/config.toml")
	require.Error(t, err)
}

func TestValidateSentryURL(t *testing.T) {
	require.NoError(t, ValidateSentryURL("https://sentry.example.com"))
	require.Error(t, ValidateSentryURL(""))
	require.Error(t, ValidateSentryURL("not-a-url"))
}
