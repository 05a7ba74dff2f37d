// Package chainreader wraps a read-only go-ethereum JSON-RPC client down
// to exactly the surface Adapter.ValidateChannel needs: the AdExCore
// contract's channel-state query. Writes are never issued by the
// validator.
package chainreader

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ChannelStateActive is the AdExCore `states(bytes32)` value meaning the
// channel is open and accepting off-chain progress.
var ChannelStateActive = big.NewInt(1)

// adExCoreABI is the minimal fragment of AdExCore's ABI this reader needs:
// the read-only `states` accessor.
const adExCoreABI = `[{"constant":true,"inputs":[{"name":"","type":"bytes32"}],"name":"states","outputs":[{"name":"","type":"uint8"}],"payable":false,"stateMutability":"view","type":"function"}]`

// Reader performs read-only calls against the AdExCore contract.
type Reader struct {
	caller      ethereum.ContractCaller
	coreAddress common.Address
	abi         abi.ABI
}

// Dial connects a Reader to rpcURL, a plain JSON-RPC endpoint (never a
// write-capable signer-backed client).
func Dial(ctx context.Context, rpcURL string, coreAddress common.Address) (*Reader, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chainreader: dialing %s: %w", rpcURL, err)
	}
	return New(client, coreAddress)
}

// New wraps an existing ContractCaller (a real *ethclient.Client, or a
// fake in tests).
func New(caller ethereum.ContractCaller, coreAddress common.Address) (*Reader, error) {
	parsed, err := abi.JSON(strings.NewReader(adExCoreABI))
	if err != nil {
		return nil, fmt.Errorf("chainreader: parsing AdExCore ABI: %w", err)
	}
	return &Reader{caller: caller, coreAddress: coreAddress, abi: parsed}, nil
}

// ChannelState queries the AdExCore contract's `states(bytes32)` for
// channelID and returns the raw state value (see IsActive for the Active
// comparison).
func (r *Reader) ChannelState(ctx context.Context, channelID common.Hash) (*big.Int, error) {
	calldata, err := r.abi.Pack("states", channelID)
	if err != nil {
		return nil, fmt.Errorf("chainreader: packing states() call: %w", err)
	}

	result, err := r.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &r.coreAddress,
		Data: calldata,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("chainreader: calling states(): %w", err)
	}

	outputs, err := r.abi.Unpack("states", result)
	if err != nil {
		return nil, fmt.Errorf("chainreader: unpacking states() result: %w", err)
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("chainreader: unexpected states() result shape")
	}
	state, ok := outputs[0].(uint8)
	if !ok {
		return nil, fmt.Errorf("chainreader: unexpected states() result type %T", outputs[0])
	}
	return big.NewInt(int64(state)), nil
}

// IsActive reports whether channelID's on-chain status equals
// ChannelStateActive.
func (r *Reader) IsActive(ctx context.Context, channelID common.Hash) (bool, error) {
	state, err := r.ChannelState(ctx, channelID)
	if err != nil {
		return false, err
	}
	return state.Cmp(ChannelStateActive) == 0, nil
}
