package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RelayerClient talks to the external Identity Relayer, used by
// SessionFromToken to resolve delegated identities: whether `from` has any
// privileges (> 0) over `identity`.
type RelayerClient struct {
	baseURL string
	client  *http.Client
}

// NewRelayerClient builds a client bound to the relayer's base URL.
func NewRelayerClient(baseURL string) *RelayerClient {
	return &RelayerClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// HasPrivileges checks whether `identity` appears in from's owned
// identities with a privilege level greater than zero.
func (r *RelayerClient) HasPrivileges(ctx context.Context, from, identity common.Address) (bool, error) {
	url := fmt.Sprintf("%s/identity/by-owner/%s", r.baseURL, from.Hex())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("adapter: building relayer request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("adapter: fetching privileges: %w", err)
	}
	defer resp.Body.Close()

	var owned map[common.Address]uint8
	if err := json.NewDecoder(resp.Body).Decode(&owned); err != nil {
		return false, fmt.Errorf("adapter: decoding privileges: %w", err)
	}

	return owned[identity] > 0, nil
}
