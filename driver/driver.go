// Package driver is the per-channel scheduling loop: discover channels,
// resolve this node's role in each, and run the matching tick concurrently
// with every other channel's.
package driver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/adex-validators/validator-core/adapter"
	"github.com/adex-validators/validator-core/channeltypes"
	"github.com/adex-validators/validator-core/config"
	"github.com/adex-validators/validator-core/follower"
	"github.com/adex-validators/validator-core/leader"
	"github.com/adex-validators/validator-core/sentryclient"
	"github.com/adex-validators/validator-core/validatorerrors"
)

// Driver owns the shared, unlocked Adapter and runs every channel's tick
// once per iteration.
type Driver struct {
	adapter       adapter.Adapter
	cfg           config.Config
	sentryURL     string
	log           log.Logger
	withCampaigns bool
}

// New builds a Driver. The adapter must already be Unlock()'d.
func New(a adapter.Adapter, cfg config.Config, sentryURL string, logger log.Logger) *Driver {
	if logger == nil {
		logger = log.Root()
	}
	return &Driver{adapter: a, cfg: cfg, sentryURL: sentryURL, log: logger}
}

// WithCampaigns enables fetching this node's campaigns alongside its
// channels on every RunOnce. Off by default: the channel tick loop never
// depends on campaign data, this is a second read-only discovery source
// surfaced for callers that want it.
func (d *Driver) WithCampaigns(enabled bool) *Driver {
	d.withCampaigns = enabled
	return d
}

// ChannelOutcome is one channel's result for one iteration, surfaced to
// the caller for exit-code/aggregation purposes.
type ChannelOutcome struct {
	ChannelID common.Hash
	Role      channeltypes.Role
	Err       error
}

// RunOnce discovers every channel this node participates in and runs one
// tick for each, concurrently, returning once every channel's tick has
// either completed, timed out, or (for a goroutine panic) recovered.
func (d *Driver) RunOnce(ctx context.Context) []ChannelOutcome {
	httpClient := &http.Client{Timeout: d.cfg.FetchTimeout}
	channels, err := sentryclient.AllChannels(ctx, httpClient, d.sentryURL, d.adapter.Whoami())
	if err != nil {
		d.log.Error("discovering channels", "error", err)
		return []ChannelOutcome{{Err: fmt.Errorf("driver: %w", err)}}
	}

	if uint64(len(channels)) >= d.cfg.MaxChannels {
		d.log.Warn("channel count reached configured maximum", "count", len(channels), "max", d.cfg.MaxChannels)
	}

	if d.withCampaigns {
		campaigns, err := d.Campaigns(ctx)
		if err != nil {
			d.log.Warn("discovering campaigns", "error", err)
		} else {
			d.log.Info("discovered campaigns", "count", len(campaigns))
		}
	}

	outcomes := make([]ChannelOutcome, len(channels))
	group, gctx := errgroup.WithContext(ctx)
	for i, ch := range channels {
		i, ch := i, ch
		group.Go(func() error {
			var role channeltypes.Role
			var tickErr error
			func() {
				defer func() {
					if r := recover(); r != nil {
						tickErr = fmt.Errorf("driver: panic in channel %s tick: %v", ch.ID, r)
					}
				}()

				tickCtx, cancel := context.WithTimeout(gctx, d.cfg.ValidatorTickTimeout)
				defer cancel()

				role, tickErr = d.runChannel(tickCtx, ch)
			}()

			outcomes[i] = ChannelOutcome{ChannelID: ch.ID, Role: role, Err: tickErr}
			if tickErr != nil {
				d.log.Warn("channel tick failed", "channel", ch.ID, "role", role, "error", tickErr)
			}
			return nil // per-channel failures never cancel siblings
		})
	}
	_ = group.Wait()

	return outcomes
}

// Campaigns fetches every campaign this node's whoami validates as of
// now, via the same paginated Sentry list endpoint family as AllChannels.
// This is never consulted by runChannel: the channel tick loop's role
// resolution depends only on the channel's own Spec.
func (d *Driver) Campaigns(ctx context.Context) ([]channeltypes.Campaign, error) {
	httpClient := &http.Client{Timeout: d.cfg.FetchTimeout}
	return sentryclient.AllCampaigns(ctx, httpClient, d.sentryURL, d.adapter.Whoami(), time.Now())
}

// Run loops RunOnce forever, sleeping cfg.WaitTime between iterations,
// until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	for {
		d.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.cfg.WaitTime):
		}
	}
}

func (d *Driver) runChannel(ctx context.Context, ch channeltypes.Channel) (channeltypes.Role, error) {
	role := ch.Spec.Find(d.adapter.Whoami())
	if role == channeltypes.RoleNone {
		return role, nil
	}

	propagateTo, err := d.propagationTargets(ch)
	if err != nil {
		return role, err
	}

	sentry, err := sentryclient.New(ch.ID, d.adapter.Whoami(), propagateTo, d.cfg.FetchTimeout, d.cfg.PropagationTimeout)
	if err != nil {
		return role, err
	}

	valid, err := d.adapter.ValidateChannel(ctx, &ch)
	if err != nil {
		return role, fmt.Errorf("driver: validating channel: %w", err)
	}
	if !valid {
		return role, fmt.Errorf("driver: channel failed validation: %w", validatorerrors.ErrInvalidChannel)
	}

	now := time.Now()
	switch role {
	case channeltypes.RoleLeader:
		_, err := leader.Tick(ctx, sentry, d.adapter.Sign, now)
		return role, err
	case channeltypes.RoleFollower:
		accounting, err := sentry.GetAccounting(ctx)
		if err != nil {
			return role, fmt.Errorf("driver: fetching own accounting: %w", err)
		}
		thresholds := follower.HealthThresholds{
			HealthyPromilles:    d.cfg.HealthThresholdPromilles,
			UnsignablePromilles: d.cfg.HealthUnsignablePromilles,
		}
		_, err = follower.Tick(ctx, sentry, ch.Spec.Leader.ID, d.adapter.Verify, d.adapter.Sign, ch.DepositAmount, accounting.Balances.Map, thresholds, now)
		return role, err
	default:
		return role, nil
	}
}

// propagationTargets builds the {address -> {url, token}} map a channel's
// Sentry client needs: one entry per validator, with a fresh auth token
// minted for each peer via GetAuth.
func (d *Driver) propagationTargets(ch channeltypes.Channel) (map[common.Address]sentryclient.Validator, error) {
	targets := make(map[common.Address]sentryclient.Validator, 2)
	for _, v := range []channeltypes.ValidatorDesc{ch.Spec.Leader, ch.Spec.Follower} {
		// GetAuth's audience is the peer the token authenticates us to; for
		// our own entry that peer is ourselves.
		token, err := d.adapter.GetAuth(v.ID)
		if err != nil {
			return nil, fmt.Errorf("driver: minting auth token for %s: %w", v.ID, err)
		}
		targets[v.ID] = sentryclient.Validator{URL: v.URL, Token: token}
	}
	return targets, nil
}
