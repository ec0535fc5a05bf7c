// Package subscription - реестр подписок и хранилище baseline-цен.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/romanzzaa/crypto-price-alerts/internal/domain"
)

// InstrumentLookup - проверка, что символ известен кэшу цен
type InstrumentLookup interface {
	Exists(symbol string) bool
}

// Registry - двусторонний индекс подписчик <-> символы.
// Источник истины для множества валидных пар; baselines подчинены ему.
type Registry struct {
	repo        domain.SubscriptionRepository
	instruments InstrumentLookup
	baselines   *BaselineStore
	logger      *slog.Logger

	mu           sync.RWMutex
	bySubscriber map[int64]map[string]struct{}
	bySymbol     map[string]map[int64]struct{}
	count        int
}

func NewRegistry(repo domain.SubscriptionRepository, instruments InstrumentLookup, baselines *BaselineStore, logger *slog.Logger) *Registry {
	return &Registry{
		repo:         repo,
		instruments:  instruments,
		baselines:    baselines,
		logger:       logger.With(slog.String("component", "subscription_registry")),
		bySubscriber: make(map[int64]map[string]struct{}),
		bySymbol:     make(map[string]map[int64]struct{}),
	}
}

// Load перестраивает индекс из хранилища и выкидывает baselines без подписки
func (r *Registry) Load(ctx context.Context) error {
	subs, err := r.repo.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}

	live := make(map[pairKey]struct{}, len(subs))
	r.mu.Lock()
	r.bySubscriber = make(map[int64]map[string]struct{})
	r.bySymbol = make(map[string]map[int64]struct{})
	r.count = 0
	for _, s := range subs {
		r.insertLocked(s.SubscriberID, s.Symbol)
		live[pairKey{s.SubscriberID, s.Symbol}] = struct{}{}
	}
	r.mu.Unlock()

	dropped := r.baselines.retain(func(subscriberID int64, symbol string) bool {
		_, ok := live[pairKey{subscriberID, symbol}]
		return ok
	})
	if dropped > 0 {
		r.logger.Warn("Ignoring stale baselines without subscription", slog.Int("count", dropped))
	}

	r.logger.Info("Subscriptions loaded", slog.Int("count", len(subs)))
	return nil
}

// Subscribe не создает baseline: это отдельный явный шаг вызывающего кода.
func (r *Registry) Subscribe(ctx context.Context, subscriberID int64, symbol string) (domain.SubscribeResult, error) {
	if !r.instruments.Exists(symbol) {
		return domain.SubscribeNoSuchInstrument, nil
	}
	if r.IsSubscribed(subscriberID, symbol) {
		return domain.SubscribeAlreadySubscribed, nil
	}

	added, err := r.repo.AddSubscription(ctx, domain.Subscription{
		SubscriberID: subscriberID,
		Symbol:       symbol,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to subscribe %d to %s: %w", subscriberID, symbol, err)
	}

	r.mu.Lock()
	r.insertLocked(subscriberID, symbol)
	r.mu.Unlock()

	if !added {
		// Хранилище уже знало пару, а индекс нет (другой процесс?)
		return domain.SubscribeAlreadySubscribed, nil
	}

	r.logger.Info("Subscribed", slog.Int64("subscriber_id", subscriberID), slog.String("symbol", symbol))
	return domain.SubscribeOK, nil
}

// Unsubscribe удаляет подписку и baseline. Хранилище делает это одной
// операцией, в памяти - под одним захватом замка реестра.
func (r *Registry) Unsubscribe(ctx context.Context, subscriberID int64, symbol string) (domain.UnsubscribeResult, error) {
	if !r.IsSubscribed(subscriberID, symbol) {
		return domain.UnsubscribeNotSubscribed, nil
	}

	removed, err := r.repo.RemoveSubscription(ctx, subscriberID, symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to unsubscribe %d from %s: %w", subscriberID, symbol, err)
	}

	r.mu.Lock()
	r.removeLocked(subscriberID, symbol)
	r.baselines.evict(subscriberID, symbol)
	r.mu.Unlock()

	if !removed {
		return domain.UnsubscribeNotSubscribed, nil
	}

	r.logger.Info("Unsubscribed", slog.Int64("subscriber_id", subscriberID), slog.String("symbol", symbol))
	return domain.UnsubscribeOK, nil
}

func (r *Registry) IsSubscribed(subscriberID int64, symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bySubscriber[subscriberID][symbol]
	return ok
}

// SubscribersOf - подписчики символа по возрастанию id
func (r *Registry) SubscribersOf(symbol string) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.bySymbol[symbol]))
	for id := range r.bySymbol[symbol] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SubscriptionsOf - символы подписчика по алфавиту
func (r *Registry) SubscriptionsOf(subscriberID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	symbols := make([]string, 0, len(r.bySubscriber[subscriberID]))
	for sym := range r.bySubscriber[subscriberID] {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

func (r *Registry) insertLocked(subscriberID int64, symbol string) {
	if _, ok := r.bySubscriber[subscriberID][symbol]; ok {
		return
	}
	if r.bySubscriber[subscriberID] == nil {
		r.bySubscriber[subscriberID] = make(map[string]struct{})
	}
	if r.bySymbol[symbol] == nil {
		r.bySymbol[symbol] = make(map[int64]struct{})
	}
	r.bySubscriber[subscriberID][symbol] = struct{}{}
	r.bySymbol[symbol][subscriberID] = struct{}{}
	r.count++
}

func (r *Registry) removeLocked(subscriberID int64, symbol string) {
	if _, ok := r.bySubscriber[subscriberID][symbol]; !ok {
		return
	}
	delete(r.bySubscriber[subscriberID], symbol)
	if len(r.bySubscriber[subscriberID]) == 0 {
		delete(r.bySubscriber, subscriberID)
	}
	delete(r.bySymbol[symbol], subscriberID)
	if len(r.bySymbol[symbol]) == 0 {
		delete(r.bySymbol, symbol)
	}
	r.count--
}
