package bybit

import "github.com/shopspring/decimal"

// BaseResponse - стандартная обертка ответа Bybit
type BaseResponse[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
}

// SpotTicker - элемент /v5/market/tickers?category=spot
type SpotTicker struct {
	Symbol      string          `json:"symbol"`
	LastPrice   decimal.Decimal `json:"lastPrice"`
	Turnover24h decimal.Decimal `json:"turnover24h"`
}

type TickerResponse struct {
	Category string       `json:"category"`
	List     []SpotTicker `json:"list"`
}

// WsTickerEvent - сообщение spot стрима. В spot категории data - объект, не массив.
type WsTickerEvent struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Ts    int64  `json:"ts"`
	Data  struct {
		Symbol    string          `json:"symbol"`
		LastPrice decimal.Decimal `json:"lastPrice"`
	} `json:"data"`
}

// WsOpResponse - ответ на subscribe/ping
type WsOpResponse struct {
	Op      string `json:"op"`
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg"`
}
