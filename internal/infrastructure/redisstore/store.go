// Package redisstore - хранилище подписок, baselines и цен в Redis.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/romanzzaa/crypto-price-alerts/internal/domain"
)

const (
	keyPrices        = "alerts:prices"
	keyBaselines     = "alerts:baselines"
	keyUserPrefix    = "alerts:subs:user:"
	keySymbolPrefix  = "alerts:subs:symbol:"
	baselineFieldSep = "|"
)

// Compile-time check
var _ domain.Storage = (*Store)(nil)

type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func userKey(subscriberID int64) string {
	return keyUserPrefix + strconv.FormatInt(subscriberID, 10)
}

func symbolKey(symbol string) string {
	return keySymbolPrefix + symbol
}

func baselineField(subscriberID int64, symbol string) string {
	return strconv.FormatInt(subscriberID, 10) + baselineFieldSep + symbol
}

// --- PriceRepository ---

func (s *Store) UpsertPrices(ctx context.Context, prices map[string]decimal.Decimal) error {
	if len(prices) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(prices))
	for sym, p := range prices {
		values[sym] = p.String()
	}
	if err := s.client.HSet(ctx, keyPrices, values).Err(); err != nil {
		return fmt.Errorf("failed to upsert prices: %w", err)
	}
	return nil
}

func (s *Store) GetPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	raw, err := s.client.HGetAll(ctx, keyPrices).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get prices: %w", err)
	}
	prices := make(map[string]decimal.Decimal, len(raw))
	for sym, v := range raw {
		p, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid price for %s: %w", sym, err)
		}
		prices[sym] = p
	}
	return prices, nil
}

// --- SubscriptionRepository ---

func (s *Store) AddSubscription(ctx context.Context, sub domain.Subscription) (bool, error) {
	var added *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, userKey(sub.SubscriberID), sub.Symbol)
		pipe.SAdd(ctx, symbolKey(sub.Symbol), sub.SubscriberID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to add subscription: %w", err)
	}
	return added.Val() == 1, nil
}

// RemoveSubscription - MULTI/EXEC: подписка и baseline исчезают атомарно
func (s *Store) RemoveSubscription(ctx context.Context, subscriberID int64, symbol string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, userKey(subscriberID), symbol)
		pipe.SRem(ctx, symbolKey(symbol), subscriberID)
		pipe.HDel(ctx, keyBaselines, baselineField(subscriberID, symbol))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to remove subscription: %w", err)
	}
	return removed.Val() == 1, nil
}

func (s *Store) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	var subs []domain.Subscription

	iter := s.client.Scan(ctx, 0, keyUserPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		subscriberID, err := strconv.ParseInt(strings.TrimPrefix(key, keyUserPrefix), 10, 64)
		if err != nil {
			continue
		}
		symbols, err := s.client.SMembers(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		for _, sym := range symbols {
			subs = append(subs, domain.Subscription{SubscriberID: subscriberID, Symbol: sym})
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan subscriptions: %w", err)
	}
	return subs, nil
}

// --- BaselineRepository ---

func (s *Store) SetBaseline(ctx context.Context, b domain.Baseline) error {
	err := s.client.HSet(ctx, keyBaselines, baselineField(b.SubscriberID, b.Symbol), b.Price.String()).Err()
	if err != nil {
		return fmt.Errorf("failed to set baseline: %w", err)
	}
	return nil
}

func (s *Store) DeleteBaseline(ctx context.Context, subscriberID int64, symbol string) error {
	if err := s.client.HDel(ctx, keyBaselines, baselineField(subscriberID, symbol)).Err(); err != nil {
		return fmt.Errorf("failed to delete baseline: %w", err)
	}
	return nil
}

func (s *Store) ListBaselines(ctx context.Context) ([]domain.Baseline, error) {
	raw, err := s.client.HGetAll(ctx, keyBaselines).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get baselines: %w", err)
	}

	now := time.Now()
	baselines := make([]domain.Baseline, 0, len(raw))
	for field, v := range raw {
		idPart, symbol, ok := strings.Cut(field, baselineFieldSep)
		if !ok {
			continue
		}
		subscriberID, err := strconv.ParseInt(idPart, 10, 64)
		if err != nil {
			continue
		}
		price, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid baseline %s: %w", field, err)
		}
		baselines = append(baselines, domain.Baseline{
			SubscriberID: subscriberID,
			Symbol:       symbol,
			Price:        price,
			UpdatedAt:    now,
		})
	}
	return baselines, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
