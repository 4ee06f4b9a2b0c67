package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTP client for the external credit service (BEZ-Coin ledger). Implements
// gatekeeper.CreditService.
type CreditClient struct {
	baseURL string
	client  *http.Client
}

func NewCreditClient(baseURL string, timeout time.Duration) *CreditClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &CreditClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *CreditClient) Balance(ctx context.Context, userID string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/balance/"+userID, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("credit service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("credit service returned status %d", resp.StatusCode)
	}

	var body struct {
		Balance int `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("invalid credit service response: %w", err)
	}

	return body.Balance, nil
}

func (c *CreditClient) Debit(ctx context.Context, userID string, amount int, reason string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"userId": userID,
		"amount": amount,
		"reason": reason,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/charge", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("credit service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("credit charge failed with status %d", resp.StatusCode)
	}

	return nil
}
