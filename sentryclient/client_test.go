package sentryclient

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/adex-validators/validator-core/balances"
	"github.com/adex-validators/validator-core/channeltypes"
	"github.com/adex-validators/validator-core/sentrytest"
	"github.com/adex-validators/validator-core/sentrytypes"
	"github.com/adex-validators/validator-core/validatorerrors"
)

func TestNewRejectsMissingWhoamiEntry(t *testing.T) {
	whoami := common.HexToAddress("0x0000000000000000000000000000000000000001")
	other := common.HexToAddress("0x0000000000000000000000000000000000000002")

	_, err := New(common.HexToHash("0xaa"), whoami, map[common.Address]Validator{
		other: {URL: "http://example.invalid"},
	}, time.Second, time.Second)

	require.ErrorIs(t, err, validatorerrors.ErrConfiguration)
}

func TestGetAccountingRoundTripsChecked(t *testing.T) {
	server := sentrytest.New()
	defer server.Close()

	channelID := common.HexToHash("0xbb")
	whoami := common.HexToAddress("0x0000000000000000000000000000000000000001")
	publisher := common.HexToAddress("0x0000000000000000000000000000000000000099")

	m := balances.NewMap()
	m.Earners[publisher] = uint256.NewInt(42)
	m.Spenders[publisher] = uint256.NewInt(42)
	checked, err := balances.NewUnchecked(m).Check(uint256.NewInt(1000))
	require.NoError(t, err)
	server.SetAccounting(channelID, checked)

	client, err := New(channelID, whoami, map[common.Address]Validator{
		whoami: {URL: server.URL(), Token: "tok"},
	}, time.Second, time.Second)
	require.NoError(t, err)

	resp, err := client.GetAccounting(context.Background())
	require.NoError(t, err)
	require.True(t, resp.Balances.Map.Equal(m))
}

func TestGetAllSpendersConcatenatesPages(t *testing.T) {
	server := sentrytest.New()
	defer server.Close()
	server.SetPageSize(1)

	channelID := common.HexToHash("0xcc")
	whoami := common.HexToAddress("0x0000000000000000000000000000000000000001")
	a1 := common.HexToAddress("0x0000000000000000000000000000000000000010")
	a2 := common.HexToAddress("0x0000000000000000000000000000000000000020")
	a3 := common.HexToAddress("0x0000000000000000000000000000000000000030")

	m := balances.NewMap()
	for _, a := range []common.Address{a1, a2, a3} {
		m.Spenders[a] = uint256.NewInt(1)
	}
	m.Earners[a1] = uint256.NewInt(3)
	checked, err := balances.NewUnchecked(m).Check(uint256.NewInt(10))
	require.NoError(t, err)
	server.SetAccounting(channelID, checked)

	client, err := New(channelID, whoami, map[common.Address]Validator{
		whoami: {URL: server.URL(), Token: "tok"},
	}, time.Second, time.Second)
	require.NoError(t, err)

	spenders, err := client.GetAllSpenders(context.Background())
	require.NoError(t, err)
	require.Len(t, spenders, 3)
	require.Contains(t, spenders, a1)
	require.Contains(t, spenders, a2)
	require.Contains(t, spenders, a3)
}

func TestPropagateOneFailureDoesNotCancelSiblings(t *testing.T) {
	good := sentrytest.New()
	defer good.Close()

	channelID := common.HexToHash("0xdd")
	whoami := common.HexToAddress("0x0000000000000000000000000000000000000001")
	peer := common.HexToAddress("0x0000000000000000000000000000000000000002")

	good.AddChannel(channeltypes.Channel{ID: channelID})

	client, err := New(channelID, whoami, map[common.Address]Validator{
		whoami: {URL: good.URL(), Token: goodBearerToken(whoami)},
		peer:   {URL: "http://127.0.0.1:1", Token: "irrelevant"}, // unroutable: must fail independently
	}, time.Second, 500*time.Millisecond)
	require.NoError(t, err)

	hb := sentrytypes.Heartbeat{Signature: "0xsig", Timestamp: 1}
	results := client.Propagate(context.Background(), []sentrytypes.Message{hb})

	require.Len(t, results, 2)
	var sawSuccess, sawFailure bool
	for _, r := range results {
		if r.ValidatorID == whoami {
			require.NoError(t, r.Err)
			sawSuccess = true
		}
		if r.ValidatorID == peer {
			require.Error(t, r.Err)
			sawFailure = true
		}
	}
	require.True(t, sawSuccess)
	require.True(t, sawFailure)
}

// goodBearerToken builds a token sentrytest's naive EWT-payload decoder can
// parse back into the given address: header.payload.sig where payload is
// {"address": "0x..."} base64url-encoded.
func goodBearerToken(addr common.Address) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"address":"` + addr.Hex() + `"}`))
	return "h." + payload + ".s"
}
