package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/romanzzaa/crypto-price-alerts/internal/domain"
)

type pairKey struct {
	subscriberID int64
	symbol       string
}

// BaselineStore - цена последнего уведомления по паре (подписчик, символ).
// Запись сначала сохраняется в репозиторий и только потом становится видимой.
type BaselineStore struct {
	repo domain.BaselineRepository

	mu     sync.RWMutex
	prices map[pairKey]decimal.Decimal
}

func NewBaselineStore(repo domain.BaselineRepository) *BaselineStore {
	return &BaselineStore{
		repo:   repo,
		prices: make(map[pairKey]decimal.Decimal),
	}
}

// Load поднимает baselines из хранилища. Записи без живой подписки
// отбрасываются в Registry.Load.
func (s *BaselineStore) Load(ctx context.Context) error {
	baselines, err := s.repo.ListBaselines(ctx)
	if err != nil {
		return fmt.Errorf("failed to load baselines: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices = make(map[pairKey]decimal.Decimal, len(baselines))
	for _, b := range baselines {
		s.prices[pairKey{b.SubscriberID, b.Symbol}] = b.Price
	}
	return nil
}

func (s *BaselineStore) Has(subscriberID int64, symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.prices[pairKey{subscriberID, symbol}]
	return ok
}

func (s *BaselineStore) Get(subscriberID int64, symbol string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[pairKey{subscriberID, symbol}]
	if !ok {
		return decimal.Zero, fmt.Errorf("baseline %d/%s: %w", subscriberID, symbol, domain.ErrNotFound)
	}
	return p, nil
}

// Set - upsert. Используется и при инициализации, и при отправке уведомления.
func (s *BaselineStore) Set(ctx context.Context, subscriberID int64, symbol string, price decimal.Decimal) error {
	err := s.repo.SetBaseline(ctx, domain.Baseline{
		SubscriberID: subscriberID,
		Symbol:       symbol,
		Price:        price,
		UpdatedAt:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save baseline %d/%s: %w", subscriberID, symbol, err)
	}

	s.mu.Lock()
	s.prices[pairKey{subscriberID, symbol}] = price
	s.mu.Unlock()
	return nil
}

func (s *BaselineStore) Clear(ctx context.Context, subscriberID int64, symbol string) error {
	if err := s.repo.DeleteBaseline(ctx, subscriberID, symbol); err != nil {
		return fmt.Errorf("failed to delete baseline %d/%s: %w", subscriberID, symbol, err)
	}
	s.evict(subscriberID, symbol)
	return nil
}

// evict убирает запись только из памяти: репозиторий уже удалил её
// вместе с подпиской.
func (s *BaselineStore) evict(subscriberID int64, symbol string) {
	s.mu.Lock()
	delete(s.prices, pairKey{subscriberID, symbol})
	s.mu.Unlock()
}

// retain оставляет только записи, для которых keep возвращает true
func (s *BaselineStore) retain(keep func(subscriberID int64, symbol string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for key := range s.prices {
		if !keep(key.subscriberID, key.symbol) {
			delete(s.prices, key)
			dropped++
		}
	}
	return dropped
}
