// Package memory - хранилище в памяти процесса (локальный запуск и тесты).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/romanzzaa/crypto-price-alerts/internal/domain"
)

var _ domain.Storage = (*Storage)(nil)

type pairKey struct {
	subscriberID int64
	symbol       string
}

type Storage struct {
	mu            sync.RWMutex
	prices        map[string]decimal.Decimal
	subscriptions map[pairKey]time.Time
	baselines     map[pairKey]domain.Baseline
}

func NewStorage() *Storage {
	return &Storage{
		prices:        make(map[string]decimal.Decimal),
		subscriptions: make(map[pairKey]time.Time),
		baselines:     make(map[pairKey]domain.Baseline),
	}
}

func (s *Storage) UpsertPrices(_ context.Context, prices map[string]decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sym, p := range prices {
		s.prices[sym] = p
	}
	return nil
}

func (s *Storage) GetPrices(_ context.Context) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(s.prices))
	for sym, p := range s.prices {
		out[sym] = p
	}
	return out, nil
}

func (s *Storage) AddSubscription(_ context.Context, sub domain.Subscription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{sub.SubscriberID, sub.Symbol}
	if _, ok := s.subscriptions[key]; ok {
		return false, nil
	}
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	s.subscriptions[key] = createdAt
	return true, nil
}

func (s *Storage) RemoveSubscription(_ context.Context, subscriberID int64, symbol string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{subscriberID, symbol}
	if _, ok := s.subscriptions[key]; !ok {
		return false, nil
	}
	delete(s.subscriptions, key)
	delete(s.baselines, key)
	return true, nil
}

func (s *Storage) ListSubscriptions(_ context.Context) ([]domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := make([]domain.Subscription, 0, len(s.subscriptions))
	for key, createdAt := range s.subscriptions {
		subs = append(subs, domain.Subscription{SubscriberID: key.subscriberID, Symbol: key.symbol, CreatedAt: createdAt})
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].SubscriberID != subs[j].SubscriberID {
			return subs[i].SubscriberID < subs[j].SubscriberID
		}
		return subs[i].Symbol < subs[j].Symbol
	})
	return subs, nil
}

func (s *Storage) SetBaseline(_ context.Context, b domain.Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now()
	}
	s.baselines[pairKey{b.SubscriberID, b.Symbol}] = b
	return nil
}

func (s *Storage) DeleteBaseline(_ context.Context, subscriberID int64, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.baselines, pairKey{subscriberID, symbol})
	return nil
}

func (s *Storage) ListBaselines(_ context.Context) ([]domain.Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Baseline, 0, len(s.baselines))
	for _, b := range s.baselines {
		out = append(out, b)
	}
	return out, nil
}

func (s *Storage) Close() error { return nil }
