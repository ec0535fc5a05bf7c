package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceFetcher - внешний источник цен (CoinMarketCap, Bybit)
type PriceFetcher interface {
	// FetchTop возвращает цены первых limit инструментов в ранжировании источника.
	FetchTop(ctx context.Context, limit int) (map[string]decimal.Decimal, error)
}

// PriceRepository - долговременное хранение последних цен
type PriceRepository interface {
	UpsertPrices(ctx context.Context, prices map[string]decimal.Decimal) error
	GetPrices(ctx context.Context) (map[string]decimal.Decimal, error)
}

// SubscriptionRepository - хранение подписок
type SubscriptionRepository interface {
	// AddSubscription возвращает false, если пара уже существует.
	AddSubscription(ctx context.Context, sub Subscription) (bool, error)

	// RemoveSubscription удаляет подписку и её baseline одной операцией.
	// Возвращает false, если подписки не было.
	RemoveSubscription(ctx context.Context, subscriberID int64, symbol string) (bool, error)

	// ListSubscriptions возвращает все подписки (для прогрева индекса при старте)
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
}

// BaselineRepository - хранение цен последнего уведомления
type BaselineRepository interface {
	SetBaseline(ctx context.Context, b Baseline) error
	DeleteBaseline(ctx context.Context, subscriberID int64, symbol string) error
	ListBaselines(ctx context.Context) ([]Baseline, error)
}

// Storage - полный набор репозиториев одного бэкенда
type Storage interface {
	PriceRepository
	SubscriptionRepository
	BaselineRepository
	Close() error
}

// Notifier - доставка уведомлений (Telegram, Kafka)
type Notifier interface {
	Notify(ctx context.Context, event NotificationEvent) error
}
