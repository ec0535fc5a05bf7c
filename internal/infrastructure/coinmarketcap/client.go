// Package coinmarketcap - источник цен топ монет из CoinMarketCap Pro API.
package coinmarketcap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/romanzzaa/crypto-price-alerts/internal/domain"
)

const (
	DefaultBaseURL = "https://pro-api.coinmarketcap.com"

	listingsEndpoint = "/v1/cryptocurrency/listings/latest"
	convertCurrency  = "USD"
)

var _ domain.PriceFetcher = (*Client)(nil)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type status struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type listingsResponse struct {
	Status status `json:"status"`
	Data   []struct {
		Symbol string `json:"symbol"`
		Quote  map[string]struct {
			Price decimal.NullDecimal `json:"price"`
		} `json:"quote"`
	} `json:"data"`
}

// FetchTop возвращает цены в USD для limit монет по капитализации.
// Монеты без цены пропускаются. При дублях символа побеждает первая (более крупная).
func (c *Client) FetchTop(ctx context.Context, limit int) (map[string]decimal.Decimal, error) {
	params := url.Values{}
	params.Set("start", "1")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("convert", convertCurrency)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+listingsEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-CMC_PRO_API_KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body listingsResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && body.Status.ErrorMessage != "" {
			return nil, fmt.Errorf("coinmarketcap http %d: %s", resp.StatusCode, body.Status.ErrorMessage)
		}
		return nil, fmt.Errorf("coinmarketcap http error: %s", resp.Status)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to parse response: %w", decodeErr)
	}
	if body.Status.ErrorCode != 0 {
		return nil, fmt.Errorf("coinmarketcap api error: [%d] %s", body.Status.ErrorCode, body.Status.ErrorMessage)
	}

	prices := make(map[string]decimal.Decimal, len(body.Data))
	for _, item := range body.Data {
		q, ok := item.Quote[convertCurrency]
		if !ok || !q.Price.Valid {
			continue
		}
		if _, dup := prices[item.Symbol]; dup {
			continue
		}
		prices[item.Symbol] = q.Price.Decimal
	}
	return prices, nil
}
