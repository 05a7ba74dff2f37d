// Package sentryclient is the stateless HTTP client for a channel's
// Sentry instances: reads go to this node's own {url, bearer_token}
// entry, Propagate posts to every validator's entry. All operations fail
// with validatorerrors.ErrRequest on network/JSON error.
package sentryclient

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/adex-validators/validator-core/balances"
	"github.com/adex-validators/validator-core/channeltypes"
	"github.com/adex-validators/validator-core/sentrytypes"
)

// Validator is one propagation target: its Sentry URL and our bearer
// token for it.
type Validator struct {
	URL   string
	Token string
}

// LastApprovedResponse is the GET .../last-approved payload.
type LastApprovedResponse struct {
	NewState     *sentrytypes.NewState     `json:"newState,omitempty"`
	ApproveState *sentrytypes.ApproveState `json:"approveState,omitempty"`
	Heartbeats   []sentrytypes.Heartbeat   `json:"heartbeats,omitempty"`
}

// AccountingResponse is the GET .../accounting payload: balances are
// always Checked.
type AccountingResponse struct {
	Balances balances.Checked `json:"balances"`
}

// Spender is one entry of the GET .../spender/all payload.
type Spender struct {
	TotalDeposited *uint256.Int `json:"totalDeposited"`
}

// spenderPage is one page of the paginated spender/all endpoint.
type spenderPage struct {
	Spenders   map[common.Address]Spender `json:"spenders"`
	Pagination pagination                 `json:"pagination"`
}

type pagination struct {
	TotalPages uint64 `json:"totalPages"`
}

// validatorMessageResponse wraps the /validator-messages/{from}/{types}
// endpoint's envelope list.
type validatorMessageResponse struct {
	ValidatorMessages []sentrytypes.Envelope `json:"validatorMessages"`
}

// channelListResponse wraps GET /v5/channel/list.
type channelListResponse struct {
	Channels   []channeltypes.Channel `json:"channels"`
	Pagination pagination             `json:"pagination"`
}

// successResponse is returned by POST .../validator-messages.
type successResponse struct {
	Success bool `json:"success"`
}

// PropagationResult carries the per-recipient outcome of a propagate()
// call: ValidatorId on success, (ValidatorId, error) on failure. One
// failure never cancels its siblings.
type PropagationResult struct {
	ValidatorID common.Address
	Err         error
}
