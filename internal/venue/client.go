// Package venue talks to the order-submission sidecar and to the venue's
// real-time market data feed. The sidecar owns order signing; this process
// only ever sends it authenticated REST requests.
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stuartoffabean/sentinel/internal/crypto"
	"github.com/stuartoffabean/sentinel/internal/domain"
)

// Client is the REST client for the order-submission sidecar.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
}

// NewClient creates a sidecar client. baseURL is the sidecar root, e.g.
// "http://127.0.0.1:8811".
func NewClient(baseURL string, auth *crypto.HMACAuth) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		auth: auth,
	}
}

// Orderbook returns the top-of-book quote for one asset.
func (c *Client) Orderbook(ctx context.Context, assetID string) (domain.Orderbook, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/book/"+assetID, nil)
	if err != nil {
		return domain.Orderbook{}, fmt.Errorf("venue: orderbook %s: %w", assetID, err)
	}
	var book domain.Orderbook
	if err := json.Unmarshal(respBody, &book); err != nil {
		return domain.Orderbook{}, fmt.Errorf("venue: decode orderbook: %w", err)
	}
	book.AssetID = assetID
	return book, nil
}

// Positions returns the venue's view of current holdings.
func (c *Client) Positions(ctx context.Context) ([]domain.VenuePosition, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/positions", nil)
	if err != nil {
		return nil, fmt.Errorf("venue: positions: %w", err)
	}
	var positions []domain.VenuePosition
	if err := json.Unmarshal(respBody, &positions); err != nil {
		return nil, fmt.Errorf("venue: decode positions: %w", err)
	}
	return positions, nil
}

// CashBalance returns the free cash balance at the venue.
func (c *Client) CashBalance(ctx context.Context) (float64, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/balance", nil)
	if err != nil {
		return 0, fmt.Errorf("venue: cash balance: %w", err)
	}
	var resp struct {
		Cash float64 `json:"cash"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, fmt.Errorf("venue: decode balance: %w", err)
	}
	return resp.Cash, nil
}

// PlaceOrder submits a single immediate-or-cancel order.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	respBody, err := c.do(ctx, http.MethodPost, "/orders", req)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("venue: place order %s: %w", req.AssetID, err)
	}
	var result domain.OrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return domain.OrderResult{}, fmt.Errorf("venue: decode order result: %w", err)
	}
	return result, nil
}

// MarketSell liquidates size shares of an asset at whatever the book offers.
// The sidecar bypasses its pre-trade price check for this endpoint, so it is
// reserved for emergency liquidation.
func (c *Client) MarketSell(ctx context.Context, assetID string, size float64) (domain.OrderResult, error) {
	body := map[string]any{"asset_id": assetID, "size": size}
	respBody, err := c.do(ctx, http.MethodPost, "/orders/market-sell", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("venue: market sell %s: %w", assetID, err)
	}
	var result domain.OrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return domain.OrderResult{}, fmt.Errorf("venue: decode market sell result: %w", err)
	}
	return result, nil
}

// CancelAll cancels every resting order for the account. Called when the
// price feed goes dark so stale orders cannot fill blind.
func (c *Client) CancelAll(ctx context.Context) error {
	respBody, err := c.do(ctx, http.MethodDelete, "/orders", nil)
	if err != nil {
		return fmt.Errorf("venue: cancel all: %w", err)
	}
	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"error_msg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("venue: decode cancel-all response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("venue: cancel-all failed: %s", result.ErrorMsg)
	}
	return nil
}

// do builds, signs, sends, and reads an HTTP request against the sidecar.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps sidecar status codes to domain errors.
func checkHTTPStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("HTTP 429: %w", domain.ErrRateLimited)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("HTTP %d: %w", status, domain.ErrUnauthorized)
	case status == http.StatusNotFound:
		return fmt.Errorf("HTTP 404: %w", domain.ErrNotFound)
	default:
		return fmt.Errorf("HTTP %d: %s", status, string(body))
	}
}
