// Package follower implements the Follower's per-channel tick: validate
// the Leader's proposed NewState, approve or reject it, and assess
// co-validator health.
package follower

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/adex-validators/validator-core/balances"
	"github.com/adex-validators/validator-core/heartbeat"
	"github.com/adex-validators/validator-core/merkle"
	"github.com/adex-validators/validator-core/sentryclient"
	"github.com/adex-validators/validator-core/sentrytypes"
	"github.com/adex-validators/validator-core/validatorerrors"
)

// HealthThresholds carries the promilles-of-deposit bounds gating the
// ternary health assessment.
type HealthThresholds struct {
	HealthyPromilles    uint64
	UnsignablePromilles uint64
}

// promilleOfDeposit returns threshold/1000 of deposit.
func promilleOfDeposit(deposit *uint256.Int, promilles uint64) *uint256.Int {
	num := new(uint256.Int).Mul(deposit, uint256.NewInt(promilles))
	return num.Div(num, uint256.NewInt(1000))
}

// Health is the outcome of comparing the Leader's proposed ledger against
// the Follower's own.
type Health int

const (
	Healthy Health = iota
	UnhealthySignable
	UnhealthyUnsignable
)

// Assess implements the ternary health rule: compare every earner's
// proposed amount against the Follower's own ledger for that earner,
// relative to deposit-scaled thresholds.
func Assess(leaderBalances, ownLedger map[common.Address]*uint256.Int, deposit *uint256.Int, t HealthThresholds) Health {
	healthyBound := promilleOfDeposit(deposit, t.HealthyPromilles)
	unsignableBound := promilleOfDeposit(deposit, t.UnsignablePromilles)

	health := Healthy
	for addr, amount := range leaderBalances {
		own, ok := ownLedger[addr]
		if !ok {
			own = new(uint256.Int)
		}
		diff := balances.AbsDiff(amount, own)
		if diff.Gt(unsignableBound) {
			return UnhealthyUnsignable
		}
		if diff.Gt(healthyBound) {
			health = UnhealthySignable
		}
	}
	return health
}

// Outcome summarises what a Follower tick did, for logging and tests.
type Outcome struct {
	Approved    bool
	Rejected    bool
	ApproveMsg  sentrytypes.ApproveState
	RejectMsg   sentrytypes.RejectState
	Propagation []sentryclient.PropagationResult
}

// Tick runs one Follower tick for a single channel.
func Tick(ctx context.Context, sentry *sentryclient.Client, leaderAddr common.Address, verify func(signer common.Address, digest common.Hash, sig string) bool, sign heartbeat.Signer, deposit *uint256.Int, ownLedger balances.Map, thresholds HealthThresholds, now time.Time) (Outcome, error) {
	hb, err := heartbeat.Build(sign, now)
	if err != nil {
		return Outcome{}, fmt.Errorf("follower: building heartbeat: %w", err)
	}
	heartbeatOnly := func() (Outcome, error) {
		results := sentry.Propagate(ctx, []sentrytypes.Message{hb})
		return Outcome{Propagation: results}, nil
	}

	leaderMsg, err := sentry.GetLatestMsg(ctx, leaderAddr, []string{"NewState"})
	if err != nil {
		return Outcome{}, fmt.Errorf("follower: fetching leader's NewState: %w", err)
	}
	newState, ok := leaderMsg.(sentrytypes.NewState)
	if !ok {
		return heartbeatOnly()
	}

	ourLatest, err := sentry.GetOurLatestMsg(ctx, []string{"ApproveState"})
	if err != nil {
		return Outcome{}, fmt.Errorf("follower: fetching our latest ApproveState: %w", err)
	}
	if approved, ok := ourLatest.(sentrytypes.ApproveState); ok && approved.StateRoot == newState.StateRoot {
		return heartbeatOnly()
	}

	priorBalances, err := priorApprovedBalances(ctx, sentry, ourLatest)
	if err != nil {
		return Outcome{}, err
	}

	recomputed := merkle.Root(newState.Balances.Earners)
	if recomputed != newState.StateRoot {
		return reject(ctx, sentry, newState.StateRoot, sentrytypes.ReasonRootHashInvalid, now, nil, hb)
	}

	if !verify(leaderAddr, newState.StateRoot, newState.Signature) {
		return reject(ctx, sentry, newState.StateRoot, sentrytypes.ReasonSignatureInvalid, now, nil, hb)
	}

	checked, err := balances.NewUnchecked(newState.Balances).Check(deposit)
	if err != nil {
		reason := sentrytypes.ReasonInvalidRootHash
		var balErr *balances.Error
		if errors.As(err, &balErr) && balErr.Kind == balances.ErrorOverDeposit {
			reason = sentrytypes.ReasonOverDeposit
		}
		return reject(ctx, sentry, newState.StateRoot, reason, now, &newState.Balances, hb)
	}

	if !balances.NonDecreasingEarners(priorBalances, checked.Map) {
		return reject(ctx, sentry, newState.StateRoot, sentrytypes.ReasonInvalidTransition, now, &newState.Balances, hb)
	}

	health := Assess(checked.Map.Earners, ownLedger.Earners, deposit, thresholds)
	if health == UnhealthyUnsignable {
		return reject(ctx, sentry, newState.StateRoot, sentrytypes.ReasonTooLargeSum, now, &newState.Balances, hb)
	}

	sig, err := sign(newState.StateRoot)
	if err != nil {
		return Outcome{}, fmt.Errorf("follower: signing state root: %w: %w", validatorerrors.ErrSignature, err)
	}

	approveMsg := sentrytypes.ApproveState{
		StateRoot: newState.StateRoot,
		Signature: sig,
		IsHealthy: health == Healthy,
	}
	results := sentry.Propagate(ctx, []sentrytypes.Message{approveMsg, hb})
	return Outcome{Approved: true, ApproveMsg: approveMsg, Propagation: results}, nil
}

func priorApprovedBalances(ctx context.Context, sentry *sentryclient.Client, ourLatestApprove sentrytypes.Message) (balances.Map, error) {
	approved, ok := ourLatestApprove.(sentrytypes.ApproveState)
	if !ok {
		return balances.NewMap(), nil
	}
	last, err := sentry.GetLastApproved(ctx)
	if err != nil {
		return balances.Map{}, fmt.Errorf("follower: fetching last approved NewState: %w", err)
	}
	if last.NewState == nil || last.NewState.StateRoot != approved.StateRoot {
		return balances.NewMap(), nil
	}
	return last.NewState.Balances, nil
}

func reject(ctx context.Context, sentry *sentryclient.Client, stateRoot common.Hash, reason sentrytypes.RejectReason, now time.Time, offending *balances.Map, hb sentrytypes.Heartbeat) (Outcome, error) {
	rejectMsg := sentrytypes.RejectState{
		StateRoot: stateRoot,
		Reason:    reason,
		Timestamp: now.UnixMilli(),
		Balances:  offending,
	}
	results := sentry.Propagate(ctx, []sentrytypes.Message{rejectMsg, hb})
	return Outcome{Rejected: true, RejectMsg: rejectMsg, Propagation: results}, nil
}
