package sentryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/adex-validators/validator-core/channeltypes"
	"github.com/adex-validators/validator-core/sentrytypes"
	"github.com/adex-validators/validator-core/validatorerrors"
)

// Client is bound to one channel: it reads from this node's own Sentry
// ({url, bearer_token} of the whoami entry) and propagates to every
// validator in propagateTo.
type Client struct {
	httpClient *http.Client
	channelID  common.Hash

	// whoami is this node's own {url, token} entry within the channel's
	// propagation list, validated to exist at construction time.
	whoami Validator
	// propagateTo is every validator (including whoami) this node may
	// send messages to or read messages from.
	propagateTo map[common.Address]Validator

	propagationTimeout time.Duration
}

// New builds a Client scoped to channel, failing with ErrConfiguration if
// whoamiAddr has no entry in propagateTo.
func New(channelID common.Hash, whoamiAddr common.Address, propagateTo map[common.Address]Validator, fetchTimeout, propagationTimeout time.Duration) (*Client, error) {
	whoami, ok := propagateTo[whoamiAddr]
	if !ok {
		return nil, fmt.Errorf("sentryclient: missing validator URL & auth token entry for whoami %s in channel %s propagation list: %w",
			whoamiAddr, channelID, validatorerrors.ErrConfiguration)
	}

	return &Client{
		httpClient:         &http.Client{Timeout: fetchTimeout},
		channelID:          channelID,
		whoami:             whoami,
		propagateTo:        propagateTo,
		propagationTimeout: propagationTimeout,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, authenticated bool, out any) error {
	url := strings.TrimRight(c.whoami.URL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("sentryclient: building request: %w: %w", validatorerrors.ErrRequest, err)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+c.whoami.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sentryclient: requesting %s: %w: %w", url, validatorerrors.ErrRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("sentryclient: %s returned status %d: %w", url, resp.StatusCode, validatorerrors.ErrRequest)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sentryclient: decoding %s response: %w: %w", url, validatorerrors.ErrRequest, err)
	}
	return nil
}

// GetLastApproved fetches the channel's last approved NewState/ApproveState
// plus recent heartbeats.
func (c *Client) GetLastApproved(ctx context.Context) (LastApprovedResponse, error) {
	var out LastApprovedResponse
	path := fmt.Sprintf("/v5/channel/%s/last-approved?withHeartbeat=true", c.channelID)
	if err := c.get(ctx, path, true, &out); err != nil {
		return LastApprovedResponse{}, err
	}
	return out, nil
}

// GetLatestMsg fetches the single latest message of any of msgTypes from
// the validator `from`.
func (c *Client) GetLatestMsg(ctx context.Context, from common.Address, msgTypes []string) (sentrytypes.Message, error) {
	typesPath := strings.Join(msgTypes, "+")
	path := fmt.Sprintf("/v5/channel/%s/validator-messages/%s/%s?limit=1", c.channelID, from.Hex(), typesPath)

	var out validatorMessageResponse
	if err := c.get(ctx, path, true, &out); err != nil {
		return nil, err
	}
	if len(out.ValidatorMessages) == 0 {
		return nil, nil
	}
	return sentrytypes.UnmarshalMessage(out.ValidatorMessages[0].Message)
}

// GetOurLatestMsg is a convenience wrapper for GetLatestMsg(whoami, ...).
func (c *Client) GetOurLatestMsg(ctx context.Context, msgTypes []string) (sentrytypes.Message, error) {
	return c.GetLatestMsg(ctx, c.Whoami(), msgTypes)
}

// Whoami returns the validator address this client is authenticated as.
func (c *Client) Whoami() common.Address {
	for addr, v := range c.propagateTo {
		if v.URL == c.whoami.URL && v.Token == c.whoami.Token {
			return addr
		}
	}
	return common.Address{}
}

// GetAccounting fetches our latest Checked accounting snapshot.
func (c *Client) GetAccounting(ctx context.Context) (AccountingResponse, error) {
	var out AccountingResponse
	path := fmt.Sprintf("/v5/channel/%s/accounting", c.channelID)
	if err := c.get(ctx, path, true, &out); err != nil {
		return AccountingResponse{}, err
	}
	return out, nil
}

// GetAllSpenders fetches every spender entry, transparently concatenating
// pages: page 0 is fetched first to learn total_pages, then pages 1..N-1
// are fetched in parallel.
func (c *Client) GetAllSpenders(ctx context.Context) (map[common.Address]Spender, error) {
	fetchPage := func(ctx context.Context, page uint64) (spenderPage, error) {
		var out spenderPage
		path := fmt.Sprintf("/v5/channel/%s/spender/all?page=%d", c.channelID, page)
		if err := c.get(ctx, path, true, &out); err != nil {
			return spenderPage{}, err
		}
		return out, nil
	}

	first, err := fetchPage(ctx, 0)
	if err != nil {
		return nil, err
	}

	result := make(map[common.Address]Spender, len(first.Spenders))
	for addr, s := range first.Spenders {
		result[addr] = s
	}

	if first.Pagination.TotalPages < 2 {
		return result, nil
	}

	pages := make([]spenderPage, first.Pagination.TotalPages)
	pages[0] = first

	group, gctx := errgroup.WithContext(ctx)
	for page := uint64(1); page < first.Pagination.TotalPages; page++ {
		page := page
		group.Go(func() error {
			p, err := fetchPage(gctx, page)
			if err != nil {
				return err
			}
			pages[page] = p
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	for _, p := range pages[1:] {
		for addr, s := range p.Spenders {
			result[addr] = s
		}
	}
	return result, nil
}

// Propagate sends messages to every validator in propagateTo. Each target
// is awaited independently under propagationTimeout; one failure never
// cancels siblings.
func (c *Client) Propagate(ctx context.Context, messages []sentrytypes.Message) []PropagationResult {
	results := make([]PropagationResult, len(c.propagateTo))

	group, gctx := errgroup.WithContext(ctx)
	i := 0
	for validatorID, validator := range c.propagateTo {
		idx := i
		i++
		validatorID, validator := validatorID, validator
		group.Go(func() error {
			tctx, cancel := context.WithTimeout(gctx, c.propagationTimeout)
			defer cancel()
			err := propagateTo(tctx, c.httpClient, validator, c.channelID, messages)
			results[idx] = PropagationResult{ValidatorID: validatorID, Err: err}
			return nil // per-target errors are captured as values, never cancel siblings
		})
	}
	_ = group.Wait()

	return results
}

func propagateTo(ctx context.Context, httpClient *http.Client, validator Validator, channelID common.Hash, messages []sentrytypes.Message) error {
	encoded := make([]json.RawMessage, 0, len(messages))
	for _, m := range messages {
		raw, err := sentrytypes.MarshalMessage(m)
		if err != nil {
			return fmt.Errorf("sentryclient: marshalling message: %w", err)
		}
		encoded = append(encoded, raw)
	}

	body, err := json.Marshal(map[string]any{"messages": encoded})
	if err != nil {
		return fmt.Errorf("sentryclient: marshalling propagate body: %w", err)
	}

	url := strings.TrimRight(validator.URL, "/") + fmt.Sprintf("/v5/channel/%s/validator-messages", channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sentryclient: building propagate request: %w: %w", validatorerrors.ErrRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+validator.Token)
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sentryclient: propagating to %s: %w: %w", url, validatorerrors.ErrRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("sentryclient: propagate to %s returned status %d: %w", url, resp.StatusCode, validatorerrors.ErrRequest)
	}

	var out successResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("sentryclient: decoding propagate response: %w: %w", validatorerrors.ErrRequest, err)
	}
	return nil
}

// AllChannels paginates GET /v5/channel/list, transparently concatenating
// every page (page 0 first to learn total_pages, then 1..N-1 in parallel).
func AllChannels(ctx context.Context, httpClient *http.Client, sentryURL string, whoami common.Address) ([]channeltypes.Channel, error) {
	fetchPage := func(ctx context.Context, page uint64) (channelListResponse, error) {
		var out channelListResponse
		url := fmt.Sprintf("%s/v5/channel/list?page=%d&validator=%s", strings.TrimRight(sentryURL, "/"), page, whoami.Hex())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return channelListResponse{}, fmt.Errorf("sentryclient: building request: %w: %w", validatorerrors.ErrRequest, err)
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return channelListResponse{}, fmt.Errorf("sentryclient: listing channels: %w: %w", validatorerrors.ErrRequest, err)
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return channelListResponse{}, fmt.Errorf("sentryclient: decoding channel list: %w: %w", validatorerrors.ErrRequest, err)
		}
		return out, nil
	}

	first, err := fetchPage(ctx, 0)
	if err != nil {
		return nil, err
	}
	all := append([]channeltypes.Channel{}, first.Channels...)

	if first.Pagination.TotalPages < 2 {
		return all, nil
	}

	pages := make([][]channeltypes.Channel, first.Pagination.TotalPages)
	pages[0] = first.Channels

	group, gctx := errgroup.WithContext(ctx)
	for page := uint64(1); page < first.Pagination.TotalPages; page++ {
		page := page
		group.Go(func() error {
			p, err := fetchPage(gctx, page)
			if err != nil {
				return err
			}
			pages[page] = p.Channels
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	all = all[:0]
	for _, p := range pages {
		all = append(all, p...)
	}
	return all, nil
}
