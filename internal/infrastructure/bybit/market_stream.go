package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/romanzzaa/crypto-price-alerts/internal/domain"
)

const (
	MainnetSpotStream = "wss://stream.bybit.com/v5/public/spot"
	TestnetSpotStream = "wss://stream-testnet.bybit.com/v5/public/spot"

	reconnectDelay = 5 * time.Second
	pingInterval   = 20 * time.Second

	// Bybit spot принимает не больше 10 топиков в одном subscribe
	maxArgsPerRequest = 10
)

var errNoQuotes = errors.New("no fresh quotes received from stream")

var _ domain.PriceFetcher = (*MarketStream)(nil)

type quote struct {
	price decimal.Decimal
	at    time.Time
}

// MarketStream держит WebSocket подписку на tickers.<SYM>USDT и отдает последние цены
type MarketStream struct {
	url        string
	logger     *slog.Logger
	staleAfter time.Duration

	conn   *websocket.Conn
	connMu sync.Mutex

	symbols []string

	quotesMu sync.RWMutex
	quotes   map[string]quote
}

// NewMarketStream. symbols - базовые монеты (BTC, ETH...).
func NewMarketStream(url string, symbols []string, staleAfter time.Duration, logger *slog.Logger) *MarketStream {
	if url == "" {
		url = MainnetSpotStream
	}
	if staleAfter <= 0 {
		staleAfter = 2 * pingInterval
	}
	return &MarketStream{
		url:        url,
		logger:     logger.With(slog.String("component", "market_stream")),
		staleAfter: staleAfter,
		symbols:    symbols,
		quotes:     make(map[string]quote),
	}
}

// Run держит соединение до отмены ctx, переподключаясь после обрыва
func (s *MarketStream) Run(ctx context.Context) error {
	for {
		if err := s.connectAndListen(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("connection lost or failed", slog.String("err", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
			s.logger.Info("reconnecting")
		}
	}
}

// FetchTop отдает свежие котировки (не старше staleAfter), не больше limit штук
func (s *MarketStream) FetchTop(ctx context.Context, limit int) (map[string]decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-s.staleAfter)

	s.quotesMu.RLock()
	fresh := make([]string, 0, len(s.quotes))
	for sym, q := range s.quotes {
		if q.at.After(cutoff) {
			fresh = append(fresh, sym)
		}
	}
	sort.Strings(fresh)
	if limit > 0 && len(fresh) > limit {
		fresh = fresh[:limit]
	}
	prices := make(map[string]decimal.Decimal, len(fresh))
	for _, sym := range fresh {
		prices[sym] = s.quotes[sym].price
	}
	s.quotesMu.RUnlock()

	if len(prices) == 0 {
		return nil, errNoQuotes
	}
	return prices, nil
}

func (s *MarketStream) connectAndListen(ctx context.Context) error {
	s.logger.Info("connecting to bybit spot stream", slog.String("url", s.url))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	connCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.connMu.Lock()
		s.conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	// Закрываем соединение при отмене, чтобы разблокировать ReadMessage
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	if err := s.sendSubscribe(s.symbols); err != nil {
		return err
	}

	go s.heartbeat(connCtx)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}
		s.handleMessage(message)
	}
}

func (s *MarketStream) handleMessage(message []byte) {
	var op WsOpResponse
	if err := json.Unmarshal(message, &op); err == nil && op.Op != "" {
		if op.Op == "subscribe" && !op.Success {
			s.logger.Warn("subscription rejected", slog.String("msg", op.RetMsg))
		}
		return
	}

	var event WsTickerEvent
	if err := json.Unmarshal(message, &event); err != nil {
		return
	}
	if !strings.HasPrefix(event.Topic, "tickers.") || event.Data.Symbol == "" {
		return
	}
	if event.Data.LastPrice.IsNegative() {
		return
	}

	sym := strings.TrimSuffix(event.Data.Symbol, QuoteCoin)

	s.quotesMu.Lock()
	s.quotes[sym] = quote{price: event.Data.LastPrice, at: time.Now()}
	s.quotesMu.Unlock()
}

func (s *MarketStream) sendSubscribe(symbols []string) error {
	for start := 0; start < len(symbols); start += maxArgsPerRequest {
		end := start + maxArgsPerRequest
		if end > len(symbols) {
			end = len(symbols)
		}

		args := make([]string, 0, end-start)
		for _, sym := range symbols[start:end] {
			args = append(args, "tickers."+sym+QuoteCoin)
		}

		s.logger.Info("sending subscription request", slog.Any("topics", args))
		if err := s.writeJSON(map[string]interface{}{"op": "subscribe", "args": args}); err != nil {
			return err
		}
	}
	return nil
}

func (s *MarketStream) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeJSON(map[string]string{"op": "ping"}); err != nil {
				s.logger.Error("ping failed", slog.String("err", err.Error()))
			}
		}
	}
}

// writeJSON - gorilla допускает только одного писателя за раз
func (s *MarketStream) writeJSON(v interface{}) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return errors.New("stream is not connected")
	}
	return s.conn.WriteJSON(v)
}
