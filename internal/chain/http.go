package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient adapts the parsing sidecar's HTTP surface to Client. The
// sidecar resolves the raw RPC transaction into parsed transfer info;
// this process never speaks the chain protocol itself.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) FetchConfirmedTransfer(ctx context.Context, signature string) (*Tx, error) {
	u := c.baseURL + "/v1/transfers/" + url.PathEscape(signature)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var tx Tx
		if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
			return nil, err
		}
		return &tx, nil
	case http.StatusNotFound:
		// Not visible on chain yet.
		return nil, nil
	default:
		return nil, fmt.Errorf("chain sidecar: unexpected status %d", resp.StatusCode)
	}
}

var _ Client = (*HTTPClient)(nil)
