package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/datahubsync/datahubsync/pkg/clientlib/retry"
	"github.com/datahubsync/datahubsync/pkg/hublib"
)

// HubClient talks to one hub's HTTP surface (spec.md §6.1).
type HubClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHubClient constructs a HubClient against baseURL (no trailing slash
// required).
func NewHubClient(baseURL string, httpClient *http.Client) *HubClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HubClient{baseURL: baseURL, httpClient: httpClient}
}

// FetchListing retrieves the hub's current dataset listing.
func (h *HubClient) FetchListing(ctx context.Context) (*hublib.ListingResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/api/datasets", nil)
	if err != nil {
		return nil, fmt.Errorf("sync: build listing request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync: fetch listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &retry.HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var listing hublib.ListingResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("sync: decode listing: %w", err)
	}
	return &listing, nil
}

// FindDataset returns the listing entry with the given name.
func FindDataset(listing *hublib.ListingResponse, name string) (hublib.Listing, bool) {
	for _, d := range listing.Datasets {
		if d.Name == name {
			return d, true
		}
	}
	return hublib.Listing{}, false
}

// OpenArchiveRange opens an HTTP response body for dataset name's
// archive starting at byte offset, using a Range request when offset >
// 0 (spec.md §4.6's resumable download). The caller must close the
// returned body. length is the number of bytes the response will
// yield from offset onward, or -1 if the server did not report one.
func (h *HubClient) OpenArchiveRange(ctx context.Context, name string, offset int64) (body io.ReadCloser, length int64, err error) {
	url := fmt.Sprintf("%s/package/%s.zip", h.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("sync: build archive request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("sync: fetch archive: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		return resp.Body, resp.ContentLength, nil
	default:
		resp.Body.Close()
		return nil, 0, &retry.HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
}
