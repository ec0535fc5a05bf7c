package testutils

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/romanzzaa/crypto-price-alerts/internal/domain"
)

// NopLogger - логгер, который ничего не пишет
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Prices собирает map[string]decimal из пар "BTC", "100.0", ...
func Prices(kv ...string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = decimal.RequireFromString(kv[i+1])
	}
	return out
}

// MockFetcher отдает заранее заданные цены или ошибку
type MockFetcher struct {
	Mu     sync.Mutex
	prices map[string]decimal.Decimal
	err    error
	Calls  int
	Limits []int
}

func NewMockFetcher(prices map[string]decimal.Decimal) *MockFetcher {
	return &MockFetcher{prices: prices}
}

func (f *MockFetcher) SetPrices(prices map[string]decimal.Decimal) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.prices = prices
	f.err = nil
}

func (f *MockFetcher) SetPrice(symbol, price string) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	if f.prices == nil {
		f.prices = make(map[string]decimal.Decimal)
	}
	f.prices[symbol] = decimal.RequireFromString(price)
	f.err = nil
}

func (f *MockFetcher) Fail(err error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.err = err
}

func (f *MockFetcher) FetchTop(ctx context.Context, limit int) (map[string]decimal.Decimal, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.Calls++
	f.Limits = append(f.Limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]decimal.Decimal, len(f.prices))
	for sym, p := range f.prices {
		out[sym] = p
	}
	return out, nil
}

// ErrInjected - ошибка, которую возвращают сломанные моки
var ErrInjected = errors.New("injected failure")

// FlakyStorage оборачивает domain.Storage и умеет ломать отдельные операции
type FlakyStorage struct {
	domain.Storage

	Mu              sync.Mutex
	FailUpsert      bool
	FailSetBaseline bool
	FailAdd         bool
	FailRemove      bool
}

func (s *FlakyStorage) UpsertPrices(ctx context.Context, prices map[string]decimal.Decimal) error {
	s.Mu.Lock()
	fail := s.FailUpsert
	s.Mu.Unlock()
	if fail {
		return ErrInjected
	}
	return s.Storage.UpsertPrices(ctx, prices)
}

func (s *FlakyStorage) SetBaseline(ctx context.Context, b domain.Baseline) error {
	s.Mu.Lock()
	fail := s.FailSetBaseline
	s.Mu.Unlock()
	if fail {
		return ErrInjected
	}
	return s.Storage.SetBaseline(ctx, b)
}

func (s *FlakyStorage) AddSubscription(ctx context.Context, sub domain.Subscription) (bool, error) {
	s.Mu.Lock()
	fail := s.FailAdd
	s.Mu.Unlock()
	if fail {
		return false, ErrInjected
	}
	return s.Storage.AddSubscription(ctx, sub)
}

func (s *FlakyStorage) RemoveSubscription(ctx context.Context, subscriberID int64, symbol string) (bool, error) {
	s.Mu.Lock()
	fail := s.FailRemove
	s.Mu.Unlock()
	if fail {
		return false, ErrInjected
	}
	return s.Storage.RemoveSubscription(ctx, subscriberID, symbol)
}

// RecordingNotifier запоминает все доставленные события
type RecordingNotifier struct {
	Mu     sync.Mutex
	Events []domain.NotificationEvent
	Err    error
}

func (n *RecordingNotifier) Notify(_ context.Context, event domain.NotificationEvent) error {
	n.Mu.Lock()
	defer n.Mu.Unlock()
	n.Events = append(n.Events, event)
	return n.Err
}

func (n *RecordingNotifier) Count() int {
	n.Mu.Lock()
	defer n.Mu.Unlock()
	return len(n.Events)
}

// MockKafkaWriter копит сообщения вместо отправки в брокер
type MockKafkaWriter struct {
	Messages   []kafka.Message
	Mu         sync.Mutex
	ShouldFail bool
	Closed     bool
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("kafka error")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockKafkaWriter) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	return nil
}
