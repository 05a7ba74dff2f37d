package follower

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/adex-validators/validator-core/adapter"
	"github.com/adex-validators/validator-core/balances"
	"github.com/adex-validators/validator-core/merkle"
	"github.com/adex-validators/validator-core/sentryclient"
	"github.com/adex-validators/validator-core/sentrytest"
	"github.com/adex-validators/validator-core/sentrytypes"
)

var publisher = common.HexToAddress("0x0000000000000000000000000000000000000001")

func newIdentity(t *testing.T, seed byte) *adapter.Dummy {
	t.Helper()
	var a common.Address
	a[common.AddressLength-1] = seed
	id, err := adapter.NewDummy(a)
	require.NoError(t, err)
	require.NoError(t, id.Unlock(context.Background()))
	return id
}

func newFollowerClient(t *testing.T, server *sentrytest.Server, channelID common.Hash, whoami common.Address) *sentryclient.Client {
	t.Helper()
	peers := map[common.Address]sentryclient.Validator{
		whoami: {URL: server.URL(), Token: "token-" + whoami.Hex()},
	}
	client, err := sentryclient.New(channelID, whoami, peers, time.Second, time.Second)
	require.NoError(t, err)
	return client
}

func seedNewState(t *testing.T, server *sentrytest.Server, channelID common.Hash, leaderID *adapter.Dummy, m balances.Map) sentrytypes.NewState {
	t.Helper()
	root := merkle.Root(m.Earners)
	sig, err := leaderID.Sign(root)
	require.NoError(t, err)
	ns := sentrytypes.NewState{StateRoot: root, Signature: sig, Balances: m}
	server.Seed(channelID, leaderID.Whoami(), ns)
	return ns
}

func tickWith(ctx context.Context, client *sentryclient.Client, leaderAddr common.Address, followerID *adapter.Dummy, deposit *uint256.Int, ownLedger balances.Map, thresholds HealthThresholds) (Outcome, error) {
	return Tick(ctx, client, leaderAddr, followerID.Verify, followerID.Sign, deposit, ownLedger, thresholds, time.Now())
}

// Scenario 1 (Follower side): no Leader NewState yet -> Heartbeat only.
func TestTickNoLeaderStateEmitsHeartbeatOnly(t *testing.T) {
	server := sentrytest.New()
	defer server.Close()

	channelID := common.HexToHash("0xaa")
	leaderID := newIdentity(t, 1)
	followerID := newIdentity(t, 2)
	client := newFollowerClient(t, server, channelID, followerID.Whoami())

	outcome, err := tickWith(context.Background(), client, leaderID.Whoami(), followerID,
		uint256.NewInt(1000), balances.NewMap(), HealthThresholds{HealthyPromilles: 10, UnsignablePromilles: 50})
	require.NoError(t, err)
	require.False(t, outcome.Approved)
	require.False(t, outcome.Rejected)
}

// Scenario 3: valid approval. Leader's NewState balances {publisher1: 100},
// Follower's own ledger {publisher1: 100}. Emits ApproveState{is_healthy: true}.
func TestTickValidApprovalIsHealthy(t *testing.T) {
	server := sentrytest.New()
	defer server.Close()

	channelID := common.HexToHash("0xbb")
	leaderID := newIdentity(t, 1)
	followerID := newIdentity(t, 2)

	m := balances.NewMap()
	m.Earners[publisher] = uint256.NewInt(100)
	m.Spenders[publisher] = uint256.NewInt(100)
	ns := seedNewState(t, server, channelID, leaderID, m)

	ownLedger := balances.NewMap()
	ownLedger.Earners[publisher] = uint256.NewInt(100)

	client := newFollowerClient(t, server, channelID, followerID.Whoami())

	outcome, err := tickWith(context.Background(), client, leaderID.Whoami(), followerID,
		uint256.NewInt(1000), ownLedger, HealthThresholds{HealthyPromilles: 10, UnsignablePromilles: 50})
	require.NoError(t, err)
	require.True(t, outcome.Approved)
	require.Equal(t, ns.StateRoot, outcome.ApproveMsg.StateRoot)
	require.True(t, outcome.ApproveMsg.IsHealthy)
}

// Scenario 4: unhealthy approval. Follower ledger {publisher1: 80}, deposit
// 1000, health_threshold_promilles = 10 (=> bound 10). Divergence 20 exceeds
// the healthy bound but not the unsignable one. Emits ApproveState{is_healthy: false}.
func TestTickUnhealthyApprovalStillSigns(t *testing.T) {
	server := sentrytest.New()
	defer server.Close()

	channelID := common.HexToHash("0xcc")
	leaderID := newIdentity(t, 1)
	followerID := newIdentity(t, 2)

	m := balances.NewMap()
	m.Earners[publisher] = uint256.NewInt(100)
	m.Spenders[publisher] = uint256.NewInt(100)
	seedNewState(t, server, channelID, leaderID, m)

	ownLedger := balances.NewMap()
	ownLedger.Earners[publisher] = uint256.NewInt(80)

	client := newFollowerClient(t, server, channelID, followerID.Whoami())

	outcome, err := tickWith(context.Background(), client, leaderID.Whoami(), followerID,
		uint256.NewInt(1000), ownLedger, HealthThresholds{HealthyPromilles: 10, UnsignablePromilles: 50})
	require.NoError(t, err)
	require.True(t, outcome.Approved)
	require.False(t, outcome.ApproveMsg.IsHealthy)
}

// Scenario 5: unsignable. Follower ledger {publisher1: 0}, deposit 1000,
// health_unsignable_promilles = 50 (=> bound 50). Divergence 100 exceeds
// the unsignable bound. Emits RejectState{reason: "TooLargeSum"}, no
// ApproveState.
func TestTickUnsignableRejectsTooLargeSum(t *testing.T) {
	server := sentrytest.New()
	defer server.Close()

	channelID := common.HexToHash("0xdd")
	leaderID := newIdentity(t, 1)
	followerID := newIdentity(t, 2)

	m := balances.NewMap()
	m.Earners[publisher] = uint256.NewInt(100)
	m.Spenders[publisher] = uint256.NewInt(100)
	seedNewState(t, server, channelID, leaderID, m)

	ownLedger := balances.NewMap()
	ownLedger.Earners[publisher] = uint256.NewInt(0)

	client := newFollowerClient(t, server, channelID, followerID.Whoami())

	outcome, err := tickWith(context.Background(), client, leaderID.Whoami(), followerID,
		uint256.NewInt(1000), ownLedger, HealthThresholds{HealthyPromilles: 10, UnsignablePromilles: 50})
	require.NoError(t, err)
	require.False(t, outcome.Approved)
	require.True(t, outcome.Rejected)
	require.Equal(t, sentrytypes.ReasonTooLargeSum, outcome.RejectMsg.Reason)
}

// Scenario 6: monotonicity violation. Prior approved {publisher1: 100};
// Leader proposes {publisher1: 90}. Emits RejectState{reason: "InvalidTransition"}.
func TestTickMonotonicityViolationRejectsInvalidTransition(t *testing.T) {
	server := sentrytest.New()
	defer server.Close()

	channelID := common.HexToHash("0xee")
	leaderID := newIdentity(t, 1)
	followerID := newIdentity(t, 2)

	priorMap := balances.NewMap()
	priorMap.Earners[publisher] = uint256.NewInt(100)
	priorMap.Spenders[publisher] = uint256.NewInt(100)
	priorRoot := merkle.Root(priorMap.Earners)
	priorSig, err := leaderID.Sign(priorRoot)
	require.NoError(t, err)
	server.Seed(channelID, leaderID.Whoami(), sentrytypes.NewState{
		StateRoot: priorRoot, Signature: priorSig, Balances: priorMap,
	})
	followerApproveSig, err := followerID.Sign(priorRoot)
	require.NoError(t, err)
	server.Seed(channelID, followerID.Whoami(), sentrytypes.ApproveState{
		StateRoot: priorRoot, Signature: followerApproveSig, IsHealthy: true,
	})

	nextMap := balances.NewMap()
	nextMap.Earners[publisher] = uint256.NewInt(90)
	nextMap.Spenders[publisher] = uint256.NewInt(90)
	seedNewState(t, server, channelID, leaderID, nextMap)

	ownLedger := balances.NewMap()
	ownLedger.Earners[publisher] = uint256.NewInt(100)

	client := newFollowerClient(t, server, channelID, followerID.Whoami())

	outcome, err := tickWith(context.Background(), client, leaderID.Whoami(), followerID,
		uint256.NewInt(1000), ownLedger, HealthThresholds{HealthyPromilles: 10, UnsignablePromilles: 50})
	require.NoError(t, err)
	require.True(t, outcome.Rejected)
	require.Equal(t, sentrytypes.ReasonInvalidTransition, outcome.RejectMsg.Reason)
}

// Already-approved idempotence: if the Follower's last ApproveState matches
// the Leader's current NewState root, the Follower emits only a Heartbeat.
func TestTickAlreadyApprovedIsIdempotent(t *testing.T) {
	server := sentrytest.New()
	defer server.Close()

	channelID := common.HexToHash("0xff")
	leaderID := newIdentity(t, 1)
	followerID := newIdentity(t, 2)

	m := balances.NewMap()
	m.Earners[publisher] = uint256.NewInt(100)
	m.Spenders[publisher] = uint256.NewInt(100)
	ns := seedNewState(t, server, channelID, leaderID, m)

	approveSig, err := followerID.Sign(ns.StateRoot)
	require.NoError(t, err)
	server.Seed(channelID, followerID.Whoami(), sentrytypes.ApproveState{
		StateRoot: ns.StateRoot, Signature: approveSig, IsHealthy: true,
	})

	ownLedger := balances.NewMap()
	ownLedger.Earners[publisher] = uint256.NewInt(100)

	client := newFollowerClient(t, server, channelID, followerID.Whoami())

	outcome, err := tickWith(context.Background(), client, leaderID.Whoami(), followerID,
		uint256.NewInt(1000), ownLedger, HealthThresholds{HealthyPromilles: 10, UnsignablePromilles: 50})
	require.NoError(t, err)
	require.False(t, outcome.Approved)
	require.False(t, outcome.Rejected)
}

// Conservation enforcement: an over-deposit NewState fails Unchecked ->
// Checked conversion and is rejected.
func TestTickOverDepositRejected(t *testing.T) {
	server := sentrytest.New()
	defer server.Close()

	channelID := common.HexToHash("0x11")
	leaderID := newIdentity(t, 1)
	followerID := newIdentity(t, 2)

	m := balances.NewMap()
	m.Earners[publisher] = uint256.NewInt(2000)
	m.Spenders[publisher] = uint256.NewInt(2000)
	seedNewState(t, server, channelID, leaderID, m)

	ownLedger := balances.NewMap()
	ownLedger.Earners[publisher] = uint256.NewInt(2000)

	client := newFollowerClient(t, server, channelID, followerID.Whoami())

	outcome, err := tickWith(context.Background(), client, leaderID.Whoami(), followerID,
		uint256.NewInt(1000), ownLedger, HealthThresholds{HealthyPromilles: 10, UnsignablePromilles: 50})
	require.NoError(t, err)
	require.True(t, outcome.Rejected)
	require.Equal(t, sentrytypes.ReasonOverDeposit, outcome.RejectMsg.Reason)
}

func TestAssessHealthyWithinThreshold(t *testing.T) {
	leaderBalances := map[common.Address]*uint256.Int{publisher: uint256.NewInt(100)}
	ownLedger := map[common.Address]*uint256.Int{publisher: uint256.NewInt(100)}
	health := Assess(leaderBalances, ownLedger, uint256.NewInt(1000), HealthThresholds{HealthyPromilles: 10, UnsignablePromilles: 50})
	require.Equal(t, Healthy, health)
}

func TestAssessUnsignableBeyondBound(t *testing.T) {
	leaderBalances := map[common.Address]*uint256.Int{publisher: uint256.NewInt(100)}
	ownLedger := map[common.Address]*uint256.Int{publisher: uint256.NewInt(0)}
	health := Assess(leaderBalances, ownLedger, uint256.NewInt(1000), HealthThresholds{HealthyPromilles: 10, UnsignablePromilles: 50})
	require.Equal(t, UnhealthyUnsignable, health)
}
