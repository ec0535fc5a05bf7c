package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/romanzzaa/crypto-price-alerts/internal/domain"
)

const (
	MainnetBaseURL = "https://api.bybit.com"
	TestnetBaseURL = "https://api-testnet.bybit.com"

	// Котируемая валюта, от которой отрезаем символ: BTCUSDT -> BTC
	QuoteCoin = "USDT"
)

var _ domain.PriceFetcher = (*Client)(nil)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient принимает timeout явно
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = MainnetBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchTop возвращает limit самых торгуемых spot пар к USDT.
// Ранжирование по turnover24h, ключ - базовая монета.
func (c *Client) FetchTop(ctx context.Context, limit int) (map[string]decimal.Decimal, error) {
	params := url.Values{}
	params.Set("category", "spot")

	var resp BaseResponse[TickerResponse]
	if err := c.sendPublicRequest(ctx, http.MethodGet, "/v5/market/tickers", params, &resp); err != nil {
		return nil, err
	}

	tickers := make([]SpotTicker, 0, len(resp.Result.List))
	for _, t := range resp.Result.List {
		if !strings.HasSuffix(t.Symbol, QuoteCoin) || t.Symbol == QuoteCoin {
			continue
		}
		tickers = append(tickers, t)
	}

	sort.SliceStable(tickers, func(i, j int) bool {
		return tickers[i].Turnover24h.GreaterThan(tickers[j].Turnover24h)
	})

	if limit > 0 && len(tickers) > limit {
		tickers = tickers[:limit]
	}

	prices := make(map[string]decimal.Decimal, len(tickers))
	for _, t := range tickers {
		prices[strings.TrimSuffix(t.Symbol, QuoteCoin)] = t.LastPrice
	}
	return prices, nil
}

// --- Private Helpers ---

func (c *Client) sendPublicRequest(ctx context.Context, method, endpoint string, params url.Values, result interface{}) error {
	fullURL := c.baseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bybit http error: %s", resp.Status)
	}

	return c.decodeResponse(resp.Body, result)
}

func (c *Client) decodeResponse(body io.Reader, result interface{}) error {
	respBytes, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	var base BaseResponse[json.RawMessage]
	if err := json.Unmarshal(respBytes, &base); err != nil {
		return fmt.Errorf("failed to parse response: %v | Body: %s", err, string(respBytes))
	}

	if base.RetCode != 0 {
		return fmt.Errorf("bybit api error: [%d] %s", base.RetCode, base.RetMsg)
	}

	return json.Unmarshal(respBytes, result)
}
