package binance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

type RESTClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *RESTClient) HTTPClient() *http.Client {
	return c.httpClient
}

// GetDepthSnapshot fetches the current order book for a symbol.
// limit is the number of levels per side (exchange accepts 5..5000).
func (c *RESTClient) GetDepthSnapshot(ctx context.Context, symbol string, limit int) (*DepthSnapshot, error) {
	endpoint := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=%d", c.baseURL, symbol, limit)

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var snap DepthSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode depth snapshot: %w", err)
	}
	return &snap, nil
}

// GetKlines fetches up to limit most recent bars for a symbol/interval.
// Bars come back oldest first with Closed=true; the REST endpoint has no
// open/closed flag, the trailing bar may still be in progress.
func (c *RESTClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]KlinePayload, error) {
	endpoint := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		c.baseURL, symbol, interval, limit)

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	// Rows are heterogenous arrays: [openTime, "o", "h", "l", "c", "v", closeTime, ...]
	var rows [][]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	return ParseKlineRows(interval, rows), nil
}

// GetRecentTrades fetches up to limit most recent trades, oldest first.
func (c *RESTClient) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]RESTTrade, error) {
	endpoint := fmt.Sprintf("%s/api/v3/trades?symbol=%s&limit=%d", c.baseURL, symbol, limit)

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var trades []RESTTrade
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	return trades, nil
}

func (c *RESTClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance error (%d): %s", resp.StatusCode, body)
	}

	return body, nil
}
