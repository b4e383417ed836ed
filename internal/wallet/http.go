package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPCustodial adapts the signer sidecar's HTTP surface to Custodial.
// Signing and broadcast happen in the sidecar; this process only sees
// the sendFunds contract.
type HTTPCustodial struct {
	baseURL string
	client  *http.Client
	locked  atomic.Bool
}

func NewHTTPCustodial(baseURL string) *HTTPCustodial {
	return &HTTPCustodial{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPCustodial) Balance(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/balance", nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("custodial sidecar: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, err
	}
	return body.Balance, nil
}

func (c *HTTPCustodial) SendFunds(ctx context.Context, recipient string, amount decimal.Decimal) (SendResult, error) {
	if c.locked.Load() {
		return SendResult{}, ErrLocked
	}
	payload, err := json.Marshal(map[string]any{
		"recipient": recipient,
		"amount":    amount,
	})
	if err != nil {
		return SendResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/send", bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return SendResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusLocked {
		c.locked.Store(true)
		return SendResult{}, ErrLocked
	}
	if resp.StatusCode != http.StatusOK {
		return SendResult{}, fmt.Errorf("custodial sidecar: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		Success bool   `json:"success"`
		TxID    string `json:"tx_id"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return SendResult{}, err
	}
	if !body.Success {
		return SendResult{}, fmt.Errorf("custodial send failed: %s", body.Error)
	}
	return SendResult{TxID: body.TxID}, nil
}

func (c *HTTPCustodial) Ready() bool {
	return !c.locked.Load()
}

func (c *HTTPCustodial) Unlock(ctx context.Context, passphrase string) error {
	payload, err := json.Marshal(map[string]string{"passphrase": passphrase})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/unlock", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("custodial sidecar: unlock failed with status %d", resp.StatusCode)
	}
	c.locked.Store(false)
	return nil
}

var _ Custodial = (*HTTPCustodial)(nil)
