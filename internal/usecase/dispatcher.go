package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/romanzzaa/crypto-price-alerts/internal/domain"
	"github.com/romanzzaa/crypto-price-alerts/internal/metrics"
	"github.com/romanzzaa/crypto-price-alerts/internal/pricecache"
	"github.com/romanzzaa/crypto-price-alerts/internal/subscription"
)

var hundred = decimal.NewFromInt(100)

// DispatcherState - Idle -> Refreshing -> Evaluating -> Idle
type DispatcherState int32

const (
	StateIdle DispatcherState = iota
	StateRefreshing
	StateEvaluating
)

func (s DispatcherState) String() string {
	switch s {
	case StateRefreshing:
		return "REFRESHING"
	case StateEvaluating:
		return "EVALUATING"
	default:
		return "IDLE"
	}
}

// Dispatcher - движок рассылки и фасад для фронтенда (бота).
type Dispatcher struct {
	prices    *pricecache.Cache
	registry  *subscription.Registry
	baselines *subscription.BaselineStore
	metrics   *metrics.Metrics
	logger    *slog.Logger

	minPercentChange decimal.Decimal

	// cycleMu: циклы не пересекаются, второй вызов ждет первый.
	cycleMu sync.Mutex
	// mu: один замок на реестр + baselines на время прохода оценки
	// и на все мутации подписок.
	mu sync.Mutex

	stateMu sync.RWMutex
	state   DispatcherState
}

func NewDispatcher(
	prices *pricecache.Cache,
	registry *subscription.Registry,
	baselines *subscription.BaselineStore,
	minPercentChange decimal.Decimal,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		prices:           prices,
		registry:         registry,
		baselines:        baselines,
		metrics:          m,
		logger:           logger.With(slog.String("component", "dispatcher")),
		minPercentChange: minPercentChange.Abs(),
	}
}

// --- Front-end API ---

func (d *Dispatcher) Subscribe(ctx context.Context, subscriberID int64, symbol string) (domain.SubscribeResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.registry.Subscribe(ctx, subscriberID, symbol)
	d.metrics.SetSubscriptions(d.registry.Count())
	return res, err
}

// InitBaseline фиксирует текущую цену как точку отсчета.
// Фронтенд вызывает его сразу после успешного Subscribe.
func (d *Dispatcher) InitBaseline(ctx context.Context, subscriberID int64, symbol string) (decimal.Decimal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.registry.IsSubscribed(subscriberID, symbol) {
		return decimal.Zero, fmt.Errorf("init baseline %d/%s: %w", subscriberID, symbol, domain.ErrNotSubscribed)
	}

	price, err := d.prices.Price(symbol)
	if err != nil {
		return decimal.Zero, err
	}

	if err := d.baselines.Set(ctx, subscriberID, symbol, price); err != nil {
		return decimal.Zero, err
	}
	return price, nil
}

func (d *Dispatcher) Unsubscribe(ctx context.Context, subscriberID int64, symbol string) (domain.UnsubscribeResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.registry.Unsubscribe(ctx, subscriberID, symbol)
	d.metrics.SetSubscriptions(d.registry.Count())
	return res, err
}

func (d *Dispatcher) ListSubscriptions(subscriberID int64) []string {
	return d.registry.SubscriptionsOf(subscriberID)
}

// Price - последняя известная цена символа (для команды /price)
func (d *Dispatcher) Price(symbol string) (decimal.Decimal, error) {
	return d.prices.Price(symbol)
}

func (d *Dispatcher) State() DispatcherState {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.state
}

func (d *Dispatcher) setState(s DispatcherState) {
	d.stateMu.Lock()
	d.state = s
	d.stateMu.Unlock()
}

// DispatcherStats - сводка для админской команды
type DispatcherStats struct {
	State         DispatcherState
	Subscriptions int
	Instruments   int
	Generation    uint64
}

func (d *Dispatcher) Stats() DispatcherStats {
	snap := d.prices.Snapshot()
	return DispatcherStats{
		State:         d.State(),
		Subscriptions: d.registry.Count(),
		Instruments:   snap.Len(),
		Generation:    snap.Generation(),
	}
}

// --- Dispatch cycle ---

// RunDispatchCycle выполняет один проход refresh -> evaluate -> emit.
// Никогда не падает: возвращает все события, которые удалось корректно вычислить.
func (d *Dispatcher) RunDispatchCycle(ctx context.Context) []domain.NotificationEvent {
	d.cycleMu.Lock()
	defer d.cycleMu.Unlock()

	start := time.Now()
	defer d.setState(StateIdle)

	// 1. Обновляем цены вне замка реестра: сеть не должна блокировать подписки.
	// Ошибка - не повод прерывать цикл, работаем на прошлом снимке.
	d.setState(StateRefreshing)
	if err := d.prices.Refresh(ctx); err != nil {
		d.metrics.FetchFailed()
		d.logger.Warn("Refresh failed, evaluating stale snapshot", slog.String("error", err.Error()))
	}

	// 2. Снимок неизменяемый, torn reads исключены
	snap := d.prices.Snapshot()
	d.metrics.SetGeneration(snap.Generation())

	d.setState(StateEvaluating)
	d.mu.Lock()
	events := d.evaluate(ctx, snap)
	d.mu.Unlock()

	d.metrics.ObserveCycle(time.Since(start), len(events))
	d.logger.Debug("Dispatch cycle finished",
		slog.Uint64("generation", snap.Generation()),
		slog.Int("events", len(events)),
		slog.Duration("took", time.Since(start)))
	return events
}

// evaluate вызывается под d.mu
func (d *Dispatcher) evaluate(ctx context.Context, snap *pricecache.Snapshot) []domain.NotificationEvent {
	var events []domain.NotificationEvent

	for _, symbol := range snap.Symbols() {
		cur, _ := snap.Price(symbol)

		for _, subscriberID := range d.registry.SubscribersOf(symbol) {
			log := d.logger.With(
				slog.Int64("subscriber_id", subscriberID),
				slog.String("symbol", symbol),
			)

			if !d.baselines.Has(subscriberID, symbol) {
				d.metrics.IntegrityViolation()
				log.Error("Subscription without baseline, skipping pair",
					slog.String("error", domain.ErrDataIntegrity.Error()))
				continue
			}

			base, err := d.baselines.Get(subscriberID, symbol)
			if err != nil {
				d.metrics.IntegrityViolation()
				log.Error("Baseline vanished during evaluation", slog.String("error", err.Error()))
				continue
			}

			if base.IsZero() {
				d.metrics.IntegrityViolation()
				log.Error("Zero baseline, percent change undefined, skipping pair",
					slog.String("error", domain.ErrDataIntegrity.Error()),
					slog.String("current_price", cur.String()))
				continue
			}

			pct := PercentChange(base, cur)
			if pct.Abs().LessThan(d.minPercentChange) {
				continue
			}

			// Baseline сдвигается на отправленную цену: следующий порог считается от неё.
			// Если запись не удалась, событие не отправляем, пара останется на старом baseline.
			if err := d.baselines.Set(ctx, subscriberID, symbol, cur); err != nil {
				log.Error("Failed to advance baseline, event suppressed", slog.String("error", err.Error()))
				continue
			}

			events = append(events, domain.NotificationEvent{
				SubscriberID:  subscriberID,
				Symbol:        symbol,
				LastSentPrice: base,
				CurPrice:      cur,
				PctChange:     pct,
			})
			log.Info("Price move detected",
				slog.String("from", base.String()),
				slog.String("to", cur.String()),
				slog.String("pct", pct.String()))
		}
	}

	return events
}

// PercentChange = (cur - base) / base * 100. base не должен быть нулем.
func PercentChange(base, cur decimal.Decimal) decimal.Decimal {
	return cur.Sub(base).Div(base).Mul(hundred)
}
