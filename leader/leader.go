// Package leader implements the Leader's per-channel tick: propose the
// successor ledger when accounting has moved past the last proposal.
package leader

import (
	"context"
	"fmt"
	"time"

	"github.com/adex-validators/validator-core/balances"
	"github.com/adex-validators/validator-core/heartbeat"
	"github.com/adex-validators/validator-core/merkle"
	"github.com/adex-validators/validator-core/sentryclient"
	"github.com/adex-validators/validator-core/sentrytypes"
	"github.com/adex-validators/validator-core/validatorerrors"
)

// Outcome summarises what a Leader tick did, for logging and tests.
type Outcome struct {
	EmittedNewState bool
	NewState        sentrytypes.NewState
	Propagation     []sentryclient.PropagationResult
}

// Tick runs one Leader tick for a single channel: fetch our Checked
// accounting, compare it against our last proposed NewState, and either
// no-op (Heartbeat only) or propose a successor.
func Tick(ctx context.Context, sentry *sentryclient.Client, sign heartbeat.Signer, now time.Time) (Outcome, error) {
	accounting, err := sentry.GetAccounting(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("leader: fetching accounting: %w", err)
	}

	priorBalances := balances.NewMap()
	latest, err := sentry.GetOurLatestMsg(ctx, []string{"NewState"})
	if err != nil {
		return Outcome{}, fmt.Errorf("leader: fetching our latest NewState: %w", err)
	}
	if ns, ok := latest.(sentrytypes.NewState); ok {
		priorBalances = ns.Balances
	}

	hb, err := heartbeat.Build(sign, now)
	if err != nil {
		return Outcome{}, fmt.Errorf("leader: building heartbeat: %w", err)
	}

	if accounting.Balances.Map.Equal(priorBalances) {
		results := sentry.Propagate(ctx, []sentrytypes.Message{hb})
		return Outcome{Propagation: results}, nil
	}

	root := merkle.Root(accounting.Balances.Map.Earners)
	sig, err := sign(root)
	if err != nil {
		return Outcome{}, fmt.Errorf("leader: signing state root: %w: %w", validatorerrors.ErrSignature, err)
	}

	newState := sentrytypes.NewState{
		StateRoot: root,
		Signature: sig,
		Balances:  accounting.Balances.Map,
	}

	results := sentry.Propagate(ctx, []sentrytypes.Message{newState, hb})
	return Outcome{EmittedNewState: true, NewState: newState, Propagation: results}, nil
}
