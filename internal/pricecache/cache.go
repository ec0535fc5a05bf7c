// Package pricecache хранит последние известные цены инструментов.
package pricecache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/romanzzaa/crypto-price-alerts/internal/domain"
)

type Config struct {
	Limit        int           // сколько инструментов запрашивать у источника
	FetchTimeout time.Duration // верхняя граница одного запроса
}

// Cache - цены по символам + счетчик поколений.
// Поколение растет ровно на 1 за каждый успешный Refresh.
type Cache struct {
	fetcher domain.PriceFetcher
	repo    domain.PriceRepository // может быть nil
	cfg     Config
	logger  *slog.Logger

	mu         sync.RWMutex
	prices     map[string]decimal.Decimal
	generation uint64
	snapshot   *Snapshot
}

func New(fetcher domain.PriceFetcher, repo domain.PriceRepository, cfg Config, logger *slog.Logger) *Cache {
	if cfg.Limit <= 0 {
		cfg.Limit = 200
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	prices := make(map[string]decimal.Decimal)
	return &Cache{
		fetcher:  fetcher,
		repo:     repo,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "price_cache")),
		prices:   prices,
		snapshot: newSnapshot(0, prices),
	}
}

// Load прогревает кэш из хранилища при старте
func (c *Cache) Load(ctx context.Context) error {
	if c.repo == nil {
		return nil
	}
	stored, err := c.repo.GetPrices(ctx)
	if err != nil {
		return fmt.Errorf("failed to load prices: %w", err)
	}
	if len(stored) == 0 {
		return nil
	}

	c.apply(stored)
	c.logger.Info("Prices loaded from storage", slog.Int("count", len(stored)))
	return nil
}

// Refresh запрашивает источник один раз. Любая ошибка оставляет кэш и поколение
// без изменений: неудачный Refresh - это no-op, а не частичное обновление.
func (c *Cache) Refresh(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	fetched, err := c.fetcher.FetchTop(fetchCtx, c.cfg.Limit)
	if err != nil {
		c.logger.Warn("Price fetch failed, keeping previous snapshot", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", domain.ErrTransientFetch, err)
	}

	valid := make(map[string]decimal.Decimal, len(fetched))
	for sym, p := range fetched {
		if sym == "" || p.IsNegative() {
			c.logger.Warn("Dropping invalid quote", slog.String("symbol", sym), slog.String("price", p.String()))
			continue
		}
		valid[sym] = p
	}

	// Write-through: в память попадает только то, что удалось сохранить
	if c.repo != nil && len(valid) > 0 {
		if err := c.repo.UpsertPrices(ctx, valid); err != nil {
			c.logger.Warn("Price persist failed, keeping previous snapshot", slog.String("error", err.Error()))
			return fmt.Errorf("%w: persist prices: %v", domain.ErrTransientFetch, err)
		}
	}

	gen := c.apply(valid)
	c.logger.Debug("Prices refreshed", slog.Int("count", len(valid)), slog.Uint64("generation", gen))
	return nil
}

func (c *Cache) apply(prices map[string]decimal.Decimal) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	for sym, p := range prices {
		c.prices[sym] = p
	}
	c.generation++
	c.snapshot = newSnapshot(c.generation, c.prices)
	return c.generation
}

// Snapshot возвращает текущий снимок. Пока поколение не изменилось,
// возвращается тот же объект без перестроения.
func (c *Cache) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

func (c *Cache) Exists(symbol string) bool {
	_, ok := c.Snapshot().Price(symbol)
	return ok
}

// Price - последняя известная цена или domain.ErrNotFound
func (c *Cache) Price(symbol string) (decimal.Decimal, error) {
	p, ok := c.Snapshot().Price(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("price for %s: %w", symbol, domain.ErrNotFound)
	}
	return p, nil
}
