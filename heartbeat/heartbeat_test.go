package heartbeat

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/adex-validators/validator-core/sentrytypes"
)

func TestDigestIsDeterministic(t *testing.T) {
	require.Equal(t, Digest(1000), Digest(1000))
	require.NotEqual(t, Digest(1000), Digest(1001))
}

func TestBuildSignsTheDigest(t *testing.T) {
	now := time.UnixMilli(5_000_000)
	var signedDigest common.Hash
	sign := func(digest common.Hash) (string, error) {
		signedDigest = digest
		return "0xsignature", nil
	}

	hb, err := Build(sign, now)
	require.NoError(t, err)
	require.Equal(t, Digest(now.UnixMilli()), signedDigest)
	require.Equal(t, "0xsignature", hb.Signature)
	require.Equal(t, now.UnixMilli(), hb.Timestamp)
}

func TestBuildPropagatesSigningFailure(t *testing.T) {
	boom := errors.New("boom")
	sign := func(common.Hash) (string, error) { return "", boom }

	_, err := Build(sign, time.UnixMilli(0))
	require.ErrorIs(t, err, boom)
}

func TestIsStale(t *testing.T) {
	now := time.UnixMilli(100_000)
	hb := &sentrytypes.Heartbeat{Timestamp: 50_000}

	require.False(t, IsStale(hb, now, 60_000*time.Millisecond))
	require.True(t, IsStale(hb, now, 40_000*time.Millisecond))
}

func TestIsStaleTreatsNilAsStale(t *testing.T) {
	require.True(t, IsStale(nil, time.UnixMilli(0), time.Hour))
}
