// Package sentrytypes defines the closed set of message kinds that make up
// the append-only validator message log served by Sentry.
package sentrytypes

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/adex-validators/validator-core/balances"
)

// Message is implemented by exactly the five message kinds below. The
// unexported marker method seals the variant set: no package outside this
// one can add a sixth kind.
type Message interface {
	messageType() string
}

// NewState is the Leader's proposal for the next accepted ledger.
type NewState struct {
	StateRoot common.Hash         `json:"stateRoot"`
	Signature string              `json:"signature"`
	Balances  balances.Map        `json:"balances"` // Unchecked on the wire
}

func (NewState) messageType() string { return "NewState" }

// ApproveState is the Follower's co-signature over a NewState's root.
type ApproveState struct {
	StateRoot common.Hash `json:"stateRoot"`
	Signature string      `json:"signature"`
	IsHealthy bool        `json:"isHealthy"`
}

func (ApproveState) messageType() string { return "ApproveState" }

// RejectReason enumerates the reasons a Follower refuses a NewState.
type RejectReason string

const (
	ReasonRootHashInvalid RejectReason = "RootHashInvalid"
	ReasonSignatureInvalid RejectReason = "SignatureInvalid"
	ReasonInvalidRootHash  RejectReason = "InvalidRootHash"
	ReasonOverDeposit      RejectReason = "OverDeposit"
	ReasonInvalidTransition RejectReason = "InvalidTransition"
	ReasonTooLargeSum      RejectReason = "TooLargeSum"
)

// RejectState is the Follower's refusal of a proposed NewState.
type RejectState struct {
	StateRoot common.Hash  `json:"stateRoot"`
	Reason    RejectReason `json:"reason"`
	Timestamp int64        `json:"timestamp"` // unix millis
	Balances  *balances.Map `json:"balances,omitempty"`
}

func (RejectState) messageType() string { return "RejectState" }

// Heartbeat is a periodic liveness beacon signed over
// {timestamp, empty-merkle-root}.
type Heartbeat struct {
	Signature string      `json:"signature"`
	StateRoot common.Hash `json:"stateRoot"`
	Timestamp int64       `json:"timestamp"`
}

func (Heartbeat) messageType() string { return "Heartbeat" }

// Accounting is an authoritative per-validator ledger snapshot; its
// balances are always Checked.
type Accounting struct {
	Balances balances.Checked `json:"balances"`
}

func (Accounting) messageType() string { return "Accounting" }

// TypeName returns the wire type name of a Message, used to build the
// "/validator-messages/{from}/{type1+type2+...}" query path.
func TypeName(m Message) string {
	switch v := m.(type) {
	case NewState, *NewState:
		_ = v
		return "NewState"
	case ApproveState, *ApproveState:
		return "ApproveState"
	case RejectState, *RejectState:
		return "RejectState"
	case Heartbeat, *Heartbeat:
		return "Heartbeat"
	case Accounting, *Accounting:
		return "Accounting"
	default:
		return ""
	}
}

// Envelope is the JSON shape a Sentry wraps every message in:
// {"from": "...", "received": "...", "msg": {"type": "...", ...fields}}.
type Envelope struct {
	From    common.Address  `json:"from"`
	Message json.RawMessage `json:"msg"`
}

// wireMessage is the discriminated-union wire shape used both to encode
// outgoing messages and to decode the "msg" field of an Envelope.
type wireMessage struct {
	Type      string           `json:"type"`
	StateRoot *common.Hash     `json:"stateRoot,omitempty"`
	Signature string           `json:"signature,omitempty"`
	IsHealthy *bool            `json:"isHealthy,omitempty"`
	Reason    RejectReason     `json:"reason,omitempty"`
	Timestamp int64            `json:"timestamp,omitempty"`
	Balances  *balances.Map    `json:"balances,omitempty"`
}

// MarshalMessage encodes any of the five kinds into the wire envelope shape
// Sentry expects under POST /v5/channel/{id}/validator-messages.
func MarshalMessage(m Message) (json.RawMessage, error) {
	w := wireMessage{Type: TypeName(m)}
	switch v := m.(type) {
	case NewState:
		w.StateRoot = &v.StateRoot
		w.Signature = v.Signature
		bm := v.Balances
		w.Balances = &bm
	case ApproveState:
		w.StateRoot = &v.StateRoot
		w.Signature = v.Signature
		w.IsHealthy = &v.IsHealthy
	case RejectState:
		w.StateRoot = &v.StateRoot
		w.Reason = v.Reason
		w.Timestamp = v.Timestamp
		w.Balances = v.Balances
	case Heartbeat:
		w.Signature = v.Signature
		w.StateRoot = &v.StateRoot
		w.Timestamp = v.Timestamp
	case Accounting:
		bm := v.Balances.Map
		w.Balances = &bm
	default:
		return nil, fmt.Errorf("sentrytypes: unknown message kind %T", m)
	}
	return json.Marshal(w)
}

// UnmarshalMessage decodes a wire "msg" object into its concrete kind.
func UnmarshalMessage(raw json.RawMessage) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	switch w.Type {
	case "NewState":
		bm := balances.NewMap()
		if w.Balances != nil {
			bm = *w.Balances
		}
		return NewState{StateRoot: derefHash(w.StateRoot), Signature: w.Signature, Balances: bm}, nil
	case "ApproveState":
		healthy := w.IsHealthy != nil && *w.IsHealthy
		return ApproveState{StateRoot: derefHash(w.StateRoot), Signature: w.Signature, IsHealthy: healthy}, nil
	case "RejectState":
		return RejectState{StateRoot: derefHash(w.StateRoot), Reason: w.Reason, Timestamp: w.Timestamp, Balances: w.Balances}, nil
	case "Heartbeat":
		return Heartbeat{Signature: w.Signature, StateRoot: derefHash(w.StateRoot), Timestamp: w.Timestamp}, nil
	case "Accounting":
		bm := balances.NewMap()
		if w.Balances != nil {
			bm = *w.Balances
		}
		return Accounting{Balances: balances.Checked{Map: bm}}, nil
	default:
		return nil, fmt.Errorf("sentrytypes: unknown wire message type %q", w.Type)
	}
}

func derefHash(h *common.Hash) common.Hash {
	if h == nil {
		return common.Hash{}
	}
	return *h
}
