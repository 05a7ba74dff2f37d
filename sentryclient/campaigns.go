package sentryclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/adex-validators/validator-core/channeltypes"
	"github.com/adex-validators/validator-core/validatorerrors"
)

// campaignListResponse wraps GET /v5/campaign/list.
type campaignListResponse struct {
	Campaigns  []channeltypes.Campaign `json:"campaigns"`
	Pagination pagination              `json:"pagination"`
}

// AllCampaigns paginates GET /v5/campaign/list for whoami, active as of
// now, the same way AllChannels paginates channel/list: page 0 first to
// learn total_pages, then 1..N-1 fetched in parallel.
func AllCampaigns(ctx context.Context, httpClient *http.Client, sentryURL string, whoami common.Address, now time.Time) ([]channeltypes.Campaign, error) {
	fetchPage := func(ctx context.Context, page uint64) (campaignListResponse, error) {
		var out campaignListResponse
		url := fmt.Sprintf("%s/v5/campaign/list?page=%d&activeToGe=%s&validator=%s",
			strings.TrimRight(sentryURL, "/"), page, now.UTC().Format(time.RFC3339), whoami.Hex())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return campaignListResponse{}, fmt.Errorf("sentryclient: building request: %w: %w", validatorerrors.ErrRequest, err)
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return campaignListResponse{}, fmt.Errorf("sentryclient: listing campaigns: %w: %w", validatorerrors.ErrRequest, err)
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return campaignListResponse{}, fmt.Errorf("sentryclient: decoding campaign list: %w: %w", validatorerrors.ErrRequest, err)
		}
		return out, nil
	}

	first, err := fetchPage(ctx, 0)
	if err != nil {
		return nil, err
	}
	all := append([]channeltypes.Campaign{}, first.Campaigns...)

	if first.Pagination.TotalPages < 2 {
		return all, nil
	}

	pages := make([][]channeltypes.Campaign, first.Pagination.TotalPages)
	pages[0] = first.Campaigns

	group, gctx := errgroup.WithContext(ctx)
	for page := uint64(1); page < first.Pagination.TotalPages; page++ {
		page := page
		group.Go(func() error {
			p, err := fetchPage(gctx, page)
			if err != nil {
				return err
			}
			pages[page] = p.Campaigns
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
