package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/romanzzaa/crypto-price-alerts/internal/domain"
	"github.com/romanzzaa/crypto-price-alerts/internal/infrastructure/memory"
	"github.com/romanzzaa/crypto-price-alerts/internal/metrics"
	"github.com/romanzzaa/crypto-price-alerts/internal/pricecache"
	"github.com/romanzzaa/crypto-price-alerts/internal/subscription"
	"github.com/romanzzaa/crypto-price-alerts/internal/testutils"
	"github.com/romanzzaa/crypto-price-alerts/internal/usecase"
)

type fixture struct {
	dispatcher *usecase.Dispatcher
	fetcher    *testutils.MockFetcher
	storage    *testutils.FlakyStorage
	baselines  *subscription.BaselineStore
	metrics    *metrics.Metrics
}

func setup(t *testing.T, threshold string, prices map[string]decimal.Decimal) *fixture {
	t.Helper()
	logger := testutils.NopLogger()
	storage := &testutils.FlakyStorage{Storage: memory.NewStorage()}
	fetcher := testutils.NewMockFetcher(prices)
	cache := pricecache.New(fetcher, storage, pricecache.Config{Limit: 200, FetchTimeout: time.Second}, logger)
	baselines := subscription.NewBaselineStore(storage)
	registry := subscription.NewRegistry(storage, cache, baselines, logger)
	m := metrics.New()

	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}

	return &fixture{
		dispatcher: usecase.NewDispatcher(cache, registry, baselines, decimal.RequireFromString(threshold), m, logger),
		fetcher:    fetcher,
		storage:    storage,
		baselines:  baselines,
		metrics:    m,
	}
}

func (f *fixture) track(t *testing.T, subscriberID int64, symbol string) decimal.Decimal {
	t.Helper()
	ctx := context.Background()
	res, err := f.dispatcher.Subscribe(ctx, subscriberID, symbol)
	if err != nil || res != domain.SubscribeOK {
		t.Fatalf("subscribe %d/%s: %v %v", subscriberID, symbol, res, err)
	}
	price, err := f.dispatcher.InitBaseline(ctx, subscriberID, symbol)
	if err != nil {
		t.Fatalf("init baseline %d/%s: %v", subscriberID, symbol, err)
	}
	return price
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDispatcher_BTCScenario(t *testing.T) {
	f := setup(t, "0.01", testutils.Prices("BTC", "100.0"))
	ctx := context.Background()

	if base := f.track(t, 42, "BTC"); !base.Equal(dec("100")) {
		t.Fatalf("baseline must be seeded with current price, got %s", base)
	}

	// 0.005% - ниже порога
	f.fetcher.SetPrice("BTC", "100.005")
	if events := f.dispatcher.RunDispatchCycle(ctx); len(events) != 0 {
		t.Fatalf("expected no events at 0.005%%, got %v", events)
	}

	// 0.02% - одно событие
	f.fetcher.SetPrice("BTC", "100.02")
	events := f.dispatcher.RunDispatchCycle(ctx)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.SubscriberID != 42 || ev.Symbol != "BTC" {
		t.Errorf("unexpected event target: %+v", ev)
	}
	if !ev.LastSentPrice.Equal(dec("100")) || !ev.CurPrice.Equal(dec("100.02")) || !ev.PctChange.Equal(dec("0.02")) {
		t.Errorf("unexpected event values: last=%s cur=%s pct=%s", ev.LastSentPrice, ev.CurPrice, ev.PctChange)
	}
	if base, _ := f.baselines.Get(42, "BTC"); !base.Equal(dec("100.02")) {
		t.Errorf("baseline must advance to 100.02, got %s", base)
	}

	// 0.005% от нового baseline - тишина
	f.fetcher.SetPrice("BTC", "100.025")
	if events := f.dispatcher.RunDispatchCycle(ctx); len(events) != 0 {
		t.Fatalf("expected no events after rolling baseline, got %v", events)
	}
}

func TestDispatcher_NoMovementNoEvents(t *testing.T) {
	f := setup(t, "0.01", testutils.Prices("BTC", "100", "ETH", "10"))
	f.track(t, 1, "BTC")
	f.track(t, 1, "ETH")

	if events := f.dispatcher.RunDispatchCycle(context.Background()); len(events) != 0 {
		t.Errorf("expected no events without price movement, got %v", events)
	}
}

func TestDispatcher_ThresholdBoundaryIsInclusive(t *testing.T) {
	f := setup(t, "5", testutils.Prices("BTC", "100"))
	f.track(t, 1, "BTC")

	f.fetcher.SetPrice("BTC", "95")
	events := f.dispatcher.RunDispatchCycle(context.Background())

	if len(events) != 1 || !events[0].PctChange.Equal(dec("-5")) {
		t.Fatalf("expected one -5%% event, got %v", events)
	}
	if events[0].IsRise() {
		t.Errorf("a drop must not be reported as a rise")
	}
}

func TestDispatcher_Idempotence(t *testing.T) {
	f := setup(t, "1", testutils.Prices("BTC", "100"))
	f.track(t, 1, "BTC")
	f.track(t, 2, "BTC")
	ctx := context.Background()

	f.fetcher.SetPrice("BTC", "110")
	if events := f.dispatcher.RunDispatchCycle(ctx); len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events := f.dispatcher.RunDispatchCycle(ctx); len(events) != 0 {
		t.Errorf("second cycle without changes must be empty, got %v", events)
	}
}

func TestDispatcher_RollingBaselineNotOriginalPrice(t *testing.T) {
	f := setup(t, "5", testutils.Prices("ETH", "100"))
	f.track(t, 7, "ETH")
	ctx := context.Background()

	f.fetcher.SetPrice("ETH", "106")
	if events := f.dispatcher.RunDispatchCycle(ctx); len(events) != 1 {
		t.Fatalf("expected first event, got %d", len(events))
	}

	// +9% от цены подписки, но только +2.8% от последнего уведомления
	f.fetcher.SetPrice("ETH", "109")
	if events := f.dispatcher.RunDispatchCycle(ctx); len(events) != 0 {
		t.Errorf("threshold must be relative to the last notified price, got %v", events)
	}
}

func TestDispatcher_DeterministicOrder(t *testing.T) {
	f := setup(t, "1", testutils.Prices("SOL", "10", "BTC", "100", "ETH", "50"))
	for _, id := range []int64{3, 1, 2} {
		for _, sym := range []string{"SOL", "ETH", "BTC"} {
			f.track(t, id, sym)
		}
	}

	f.fetcher.SetPrices(testutils.Prices("SOL", "20", "BTC", "200", "ETH", "100"))
	events := f.dispatcher.RunDispatchCycle(context.Background())

	if len(events) != 9 {
		t.Fatalf("expected 9 events, got %d", len(events))
	}
	wantSymbols := []string{"BTC", "BTC", "BTC", "ETH", "ETH", "ETH", "SOL", "SOL", "SOL"}
	wantIDs := []int64{1, 2, 3, 1, 2, 3, 1, 2, 3}
	for i, ev := range events {
		if ev.Symbol != wantSymbols[i] || ev.SubscriberID != wantIDs[i] {
			t.Errorf("event %d: got %d/%s, want %d/%s", i, ev.SubscriberID, ev.Symbol, wantIDs[i], wantSymbols[i])
		}
	}
}

func TestDispatcher_UnsubscribeRemovesFromCycles(t *testing.T) {
	f := setup(t, "1", testutils.Prices("BTC", "100"))
	f.track(t, 42, "BTC")
	ctx := context.Background()

	res, err := f.dispatcher.Unsubscribe(ctx, 42, "BTC")
	if err != nil || res != domain.UnsubscribeOK {
		t.Fatalf("unsubscribe: %v %v", res, err)
	}

	f.fetcher.SetPrice("BTC", "200")
	if events := f.dispatcher.RunDispatchCycle(ctx); len(events) != 0 {
		t.Errorf("unsubscribed pair must not be evaluated, got %v", events)
	}
}

func TestDispatcher_ResubscribeCreatesFreshBaseline(t *testing.T) {
	f := setup(t, "1", testutils.Prices("BTC", "100"))
	f.track(t, 42, "BTC")
	ctx := context.Background()

	f.dispatcher.Unsubscribe(ctx, 42, "BTC")
	f.fetcher.SetPrice("BTC", "150")
	f.dispatcher.RunDispatchCycle(ctx)

	if base := f.track(t, 42, "BTC"); !base.Equal(dec("150")) {
		t.Fatalf("re-subscribe must seed a fresh baseline, got %s", base)
	}
	if events := f.dispatcher.RunDispatchCycle(ctx); len(events) != 0 {
		t.Errorf("old baseline must not be resurrected, got %v", events)
	}
}

func TestDispatcher_DoubleSubscribeAndUnsubscribe(t *testing.T) {
	f := setup(t, "1", testutils.Prices("BTC", "100"))
	ctx := context.Background()
	f.track(t, 1, "BTC")

	if res, _ := f.dispatcher.Subscribe(ctx, 1, "BTC"); res != domain.SubscribeAlreadySubscribed {
		t.Errorf("expected AlreadySubscribed, got %v", res)
	}
	if res, _ := f.dispatcher.Subscribe(ctx, 1, "XRP"); res != domain.SubscribeNoSuchInstrument {
		t.Errorf("expected NoSuchInstrument, got %v", res)
	}
	if res, _ := f.dispatcher.Unsubscribe(ctx, 1, "BTC"); res != domain.UnsubscribeOK {
		t.Errorf("expected OK, got %v", res)
	}
	if res, _ := f.dispatcher.Unsubscribe(ctx, 1, "BTC"); res != domain.UnsubscribeNotSubscribed {
		t.Errorf("expected NotSubscribed, got %v", res)
	}
}

func TestDispatcher_FetchFailureUsesPriorSnapshot(t *testing.T) {
	f := setup(t, "1", testutils.Prices("BTC", "100"))
	f.track(t, 1, "BTC")
	ctx := context.Background()

	f.fetcher.Fail(errors.New("503 Service Unavailable"))
	if events := f.dispatcher.RunDispatchCycle(ctx); len(events) != 0 {
		t.Errorf("fetch failure alone must not produce events, got %v", events)
	}
	if got := testutil.ToFloat64(f.metrics.FetchFailuresTotal); got != 1 {
		t.Errorf("expected fetch failure to be counted, got %v", got)
	}
	if f.dispatcher.State() != usecase.StateIdle {
		t.Errorf("dispatcher must return to idle, got %s", f.dispatcher.State())
	}

	f.fetcher.SetPrice("BTC", "120")
	if events := f.dispatcher.RunDispatchCycle(ctx); len(events) != 1 {
		t.Errorf("expected event after recovery, got %d", len(events))
	}
}

func TestDispatcher_MissingBaselineIsSkipped(t *testing.T) {
	f := setup(t, "1", testutils.Prices("BTC", "100", "ETH", "10"))
	ctx := context.Background()
	// Подписка без InitBaseline - нарушение целостности
	f.dispatcher.Subscribe(ctx, 1, "BTC")
	f.track(t, 2, "ETH")

	f.fetcher.SetPrices(testutils.Prices("BTC", "200", "ETH", "20"))
	events := f.dispatcher.RunDispatchCycle(ctx)

	if len(events) != 1 || events[0].Symbol != "ETH" {
		t.Fatalf("cycle must skip the broken pair and continue, got %v", events)
	}
	if got := testutil.ToFloat64(f.metrics.IntegrityViolations); got != 1 {
		t.Errorf("expected 1 integrity violation, got %v", got)
	}
}

func TestDispatcher_ZeroBaselineIsSkipped(t *testing.T) {
	f := setup(t, "1", testutils.Prices("DEAD", "0", "BTC", "100"))
	f.track(t, 1, "DEAD")
	f.track(t, 1, "BTC")

	f.fetcher.SetPrices(testutils.Prices("DEAD", "5", "BTC", "200"))
	events := f.dispatcher.RunDispatchCycle(context.Background())

	if len(events) != 1 || events[0].Symbol != "BTC" {
		t.Fatalf("zero baseline must be skipped without aborting the cycle, got %v", events)
	}
	if got := testutil.ToFloat64(f.metrics.IntegrityViolations); got != 1 {
		t.Errorf("expected 1 integrity violation, got %v", got)
	}
}

func TestDispatcher_BaselinePersistFailureSuppressesEvent(t *testing.T) {
	f := setup(t, "1", testutils.Prices("BTC", "100"))
	f.track(t, 1, "BTC")
	ctx := context.Background()

	f.storage.FailSetBaseline = true
	f.fetcher.SetPrice("BTC", "150")
	if events := f.dispatcher.RunDispatchCycle(ctx); len(events) != 0 {
		t.Fatalf("event must not be emitted when baseline cannot advance, got %v", events)
	}

	f.storage.FailSetBaseline = false
	events := f.dispatcher.RunDispatchCycle(ctx)
	if len(events) != 1 || !events[0].LastSentPrice.Equal(dec("100")) {
		t.Errorf("pair must be retried from its old baseline, got %v", events)
	}
}

func TestDispatcher_InitBaselineRequiresSubscription(t *testing.T) {
	f := setup(t, "1", testutils.Prices("BTC", "100"))

	_, err := f.dispatcher.InitBaseline(context.Background(), 1, "BTC")
	if !errors.Is(err, domain.ErrNotSubscribed) {
		t.Errorf("expected ErrNotSubscribed, got %v", err)
	}
}

func TestDispatcher_ListSubscriptions(t *testing.T) {
	f := setup(t, "1", testutils.Prices("BTC", "100", "ETH", "10"))
	f.track(t, 1, "ETH")
	f.track(t, 1, "BTC")

	got := f.dispatcher.ListSubscriptions(1)
	if len(got) != 2 || got[0] != "BTC" || got[1] != "ETH" {
		t.Errorf("unexpected subscriptions: %v", got)
	}
	if len(f.dispatcher.ListSubscriptions(2)) != 0 {
		t.Errorf("unknown subscriber must have no subscriptions")
	}
	if got := testutil.ToFloat64(f.metrics.Subscriptions); got != 2 {
		t.Errorf("subscriptions gauge: got %v", got)
	}
}

func TestDispatcher_Stats(t *testing.T) {
	f := setup(t, "1", testutils.Prices("BTC", "100", "ETH", "10"))
	f.track(t, 1, "BTC")

	stats := f.dispatcher.Stats()
	if stats.State != usecase.StateIdle {
		t.Errorf("expected idle state, got %s", stats.State)
	}
	if stats.Subscriptions != 1 || stats.Instruments != 2 || stats.Generation != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestDispatcher_ConcurrentCyclesAndSubscriptions(t *testing.T) {
	f := setup(t, "1", testutils.Prices("BTC", "100", "ETH", "10"))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := int64(0); i < 20; i++ {
		wg.Add(2)
		go func(id int64) {
			defer wg.Done()
			if res, err := f.dispatcher.Subscribe(ctx, id, "BTC"); err == nil && res == domain.SubscribeOK {
				f.dispatcher.InitBaseline(ctx, id, "BTC")
			}
			f.dispatcher.Unsubscribe(ctx, id, "BTC")
		}(i)
		go func() {
			defer wg.Done()
			f.dispatcher.RunDispatchCycle(ctx)
		}()
	}
	wg.Wait()

	if n := len(f.dispatcher.ListSubscriptions(0)); n != 0 {
		t.Errorf("expected all subscriptions removed, got %d", n)
	}
}

func TestPercentChange(t *testing.T) {
	cases := []struct {
		base, cur, want string
	}{
		{"100", "100.02", "0.02"},
		{"100", "90", "-10"},
		{"0.5", "1", "100"},
	}
	for _, c := range cases {
		if got := usecase.PercentChange(dec(c.base), dec(c.cur)); !got.Equal(dec(c.want)) {
			t.Errorf("PercentChange(%s, %s) = %s, want %s", c.base, c.cur, got, c.want)
		}
	}
}
