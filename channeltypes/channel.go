// Package channeltypes models the on-chain-funded, off-chain-governed
// payment channel and its validator spec.
package channeltypes

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Role is a validator's position with respect to a given channel.
type Role int

const (
	// RoleNone means whoami is not a validator of this channel: the
	// channel is skipped, not an error.
	RoleNone Role = iota
	RoleLeader
	RoleFollower
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "leader"
	case RoleFollower:
		return "follower"
	default:
		return "none"
	}
}

// ValidatorDesc describes one validator entry in a channel's spec.
type ValidatorDesc struct {
	ID      common.Address `json:"id"`
	URL     string         `json:"url"`
	Fee     *uint256.Int   `json:"fee"`
	FeeAddr *common.Address `json:"feeAddr,omitempty"`
}

// Spec carries the channel's validator set, fee schedule, and timing
// windows checked by Adapter.ValidateChannel.
type Spec struct {
	Leader             ValidatorDesc `json:"leader"`
	Follower           ValidatorDesc `json:"follower"`
	WithdrawPeriodStart time.Time    `json:"withdrawPeriodStart"`
	Created            time.Time    `json:"created"`
}

// Find returns the Role of validatorID within this spec.
func (s Spec) Find(validatorID common.Address) Role {
	switch validatorID {
	case s.Leader.ID:
		return RoleLeader
	case s.Follower.ID:
		return RoleFollower
	default:
		return RoleNone
	}
}

// Channel is the on-chain-funded, off-chain-governed payment relationship
// between one advertiser and one publisher set.
type Channel struct {
	// ID = hash{leader, follower, guardian, token, nonce}, immutable once
	// created.
	ID            common.Hash    `json:"id"`
	Guardian      common.Address `json:"guardian"`
	Token         common.Address `json:"token"`
	Nonce         *uint256.Int   `json:"nonce"`
	DepositAmount *uint256.Int   `json:"depositAmount"`
	Spec          Spec           `json:"spec"`
}

// Campaign is an advertiser's budget allocation against one underlying
// Channel: many campaigns can share a channel's deposit over its life.
type Campaign struct {
	ID       common.Hash    `json:"id"`
	Channel  Channel        `json:"channel"`
	Creator  common.Address `json:"creator"`
	Budget   *uint256.Int   `json:"budget"`
	ActiveFrom time.Time    `json:"activeFrom"`
	ActiveTo   time.Time    `json:"activeTo"`
}
