package bot_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/romanzzaa/crypto-price-alerts/internal/bot"
	"github.com/romanzzaa/crypto-price-alerts/internal/domain"
	"github.com/romanzzaa/crypto-price-alerts/internal/infrastructure/memory"
	"github.com/romanzzaa/crypto-price-alerts/internal/pricecache"
	"github.com/romanzzaa/crypto-price-alerts/internal/subscription"
	"github.com/romanzzaa/crypto-price-alerts/internal/testutils"
	"github.com/romanzzaa/crypto-price-alerts/internal/usecase"
)

const adminID = 999

type fakeBot struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	err     error
	updates chan tgbotapi.Update
	stopped bool
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, msg)
	}
	return tgbotapi.Message{}, b.err
}

func (b *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return b.updates
}

func (b *fakeBot) StopReceivingUpdates() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
}

func (b *fakeBot) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sent) == 0 {
		t.Fatal("nothing was sent")
	}
	return b.sent[len(b.sent)-1]
}

type fixture struct {
	handler    *bot.Handler
	bot        *fakeBot
	dispatcher *usecase.Dispatcher
	storage    *testutils.FlakyStorage
	fetcher    *testutils.MockFetcher
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := testutils.NopLogger()
	storage := &testutils.FlakyStorage{Storage: memory.NewStorage()}
	fetcher := testutils.NewMockFetcher(testutils.Prices("BTC", "100", "ETH", "10", "sUSD", "1"))
	cache := pricecache.New(fetcher, storage, pricecache.Config{Limit: 200, FetchTimeout: time.Second}, logger)
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	baselines := subscription.NewBaselineStore(storage)
	registry := subscription.NewRegistry(storage, cache, baselines, logger)
	dispatcher := usecase.NewDispatcher(cache, registry, baselines, decimal.NewFromInt(1), nil, logger)

	fb := &fakeBot{updates: make(chan tgbotapi.Update)}
	return &fixture{
		handler:    bot.NewHandler(fb, dispatcher, adminID, logger),
		bot:        fb,
		dispatcher: dispatcher,
		storage:    storage,
		fetcher:    fetcher,
	}
}

func text(chatID int64, s string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: chatID},
		From: &tgbotapi.User{ID: chatID, FirstName: "Test"},
		Text: s,
	}}
}

func command(chatID int64, s string) tgbotapi.Update {
	upd := text(chatID, s)
	name := strings.Fields(s)[0]
	upd.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}}
	return upd
}

func (f *fixture) handle(upd tgbotapi.Update) {
	f.handler.HandleUpdate(context.Background(), upd)
}

func TestHandler_Start(t *testing.T) {
	f := setup(t)
	f.handle(command(1, "/start"))

	msg := f.bot.last(t)
	if msg.ChatID != 1 || !strings.Contains(msg.Text, "Привет, Test") {
		t.Errorf("unexpected greeting: %+v", msg)
	}
	if _, ok := msg.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup); !ok {
		t.Errorf("greeting must carry the main keyboard")
	}
}

func TestHandler_SubscribeCommand(t *testing.T) {
	f := setup(t)
	f.handle(command(1, "/subscribe BTC"))

	if !strings.Contains(f.bot.last(t).Text, "Вы подписаны на BTC") {
		t.Errorf("unexpected reply: %q", f.bot.last(t).Text)
	}
	if got := f.dispatcher.ListSubscriptions(1); len(got) != 1 || got[0] != "BTC" {
		t.Errorf("unexpected subscriptions: %v", got)
	}

	f.handle(command(1, "/subscribe BTC"))
	if !strings.Contains(f.bot.last(t).Text, "уже подписаны") {
		t.Errorf("duplicate subscribe reply: %q", f.bot.last(t).Text)
	}
}

func TestHandler_SubscribeUnknownSymbol(t *testing.T) {
	f := setup(t)
	f.handle(command(1, "/subscribe NOPE"))

	if !strings.Contains(f.bot.last(t).Text, "не найдена") {
		t.Errorf("unexpected reply: %q", f.bot.last(t).Text)
	}
	if len(f.dispatcher.ListSubscriptions(1)) != 0 {
		t.Errorf("unknown symbol must not be subscribed")
	}
}

func TestHandler_SymbolResolution(t *testing.T) {
	f := setup(t)

	// btc -> BTC, sUSD остается как есть
	f.handle(command(1, "/subscribe btc"))
	f.handle(command(1, "/subscribe sUSD"))

	got := f.dispatcher.ListSubscriptions(1)
	if len(got) != 2 || got[0] != "BTC" || got[1] != "sUSD" {
		t.Errorf("unexpected subscriptions: %v", got)
	}
}

func TestHandler_ButtonFlow(t *testing.T) {
	f := setup(t)

	f.handle(text(1, bot.BtnSubscribe))
	if !strings.Contains(f.bot.last(t).Text, "Напишите символ") {
		t.Errorf("expected symbol prompt, got %q", f.bot.last(t).Text)
	}
	f.handle(text(1, "ETH"))
	if got := f.dispatcher.ListSubscriptions(1); len(got) != 1 || got[0] != "ETH" {
		t.Fatalf("unexpected subscriptions: %v", got)
	}

	f.handle(text(1, bot.BtnSubscriptions))
	if !strings.Contains(f.bot.last(t).Text, "ETH: 10") {
		t.Errorf("subscriptions list must show price, got %q", f.bot.last(t).Text)
	}

	f.handle(text(1, bot.BtnUnsubscribe))
	f.handle(text(1, "eth"))
	if !strings.Contains(f.bot.last(t).Text, "отписались от ETH") {
		t.Errorf("unexpected reply: %q", f.bot.last(t).Text)
	}
	if len(f.dispatcher.ListSubscriptions(1)) != 0 {
		t.Errorf("subscription must be removed")
	}
}

func TestHandler_FreeTextKnownSymbolSubscribes(t *testing.T) {
	f := setup(t)
	f.handle(text(1, "BTC"))

	if len(f.dispatcher.ListSubscriptions(1)) != 1 {
		t.Errorf("known symbol in free text must subscribe")
	}

	f.handle(text(1, "hello"))
	if !strings.Contains(f.bot.last(t).Text, "меню") {
		t.Errorf("unknown text must point to the menu, got %q", f.bot.last(t).Text)
	}
}

func TestHandler_UnsubscribeNotSubscribed(t *testing.T) {
	f := setup(t)
	f.handle(command(1, "/unsubscribe BTC"))

	if !strings.Contains(f.bot.last(t).Text, "не подписаны на BTC") {
		t.Errorf("unexpected reply: %q", f.bot.last(t).Text)
	}
}

func TestHandler_InitBaselineFailureRollsBack(t *testing.T) {
	f := setup(t)
	f.storage.FailSetBaseline = true

	f.handle(command(1, "/subscribe BTC"))

	if len(f.dispatcher.ListSubscriptions(1)) != 0 {
		t.Errorf("subscription must be rolled back when baseline cannot be stored")
	}
	if !strings.Contains(f.bot.last(t).Text, "Не удалось") {
		t.Errorf("unexpected reply: %q", f.bot.last(t).Text)
	}
}

func TestHandler_Price(t *testing.T) {
	f := setup(t)
	f.handle(command(1, "/price ETH"))

	if f.bot.last(t).Text != "💰 ETH: 10" {
		t.Errorf("unexpected reply: %q", f.bot.last(t).Text)
	}
}

func TestHandler_StatsOnlyForAdmin(t *testing.T) {
	f := setup(t)

	f.handle(command(1, "/stats"))
	if len(f.bot.sent) != 0 {
		t.Fatalf("non-admin must get no reply, got %q", f.bot.last(t).Text)
	}

	f.handle(command(adminID, "/stats"))
	if !strings.Contains(f.bot.last(t).Text, "Монет: 3") {
		t.Errorf("unexpected stats: %q", f.bot.last(t).Text)
	}
}

func TestHandler_Notify(t *testing.T) {
	f := setup(t)
	ev := domain.NotificationEvent{
		SubscriberID:  42,
		Symbol:        "BTC",
		LastSentPrice: decimal.RequireFromString("100"),
		CurPrice:      decimal.RequireFromString("100.02"),
		PctChange:     decimal.RequireFromString("0.02"),
	}

	if err := f.handler.Notify(context.Background(), ev); err != nil {
		t.Fatalf("notify: %v", err)
	}

	msg := f.bot.last(t)
	if msg.ChatID != 42 {
		t.Errorf("expected chat 42, got %d", msg.ChatID)
	}
	want := "📈 BTC: 100.02 (+0.02%)\nПредыдущее уведомление: 100"
	if msg.Text != want {
		t.Errorf("got %q, want %q", msg.Text, want)
	}
}

func TestHandler_NotifySendError(t *testing.T) {
	f := setup(t)
	f.bot.err = testutils.ErrInjected

	err := f.handler.Notify(context.Background(), domain.NotificationEvent{SubscriberID: 1, Symbol: "BTC"})
	if err == nil {
		t.Fatal("expected send error")
	}
}

func TestRenderEvent_Fall(t *testing.T) {
	got := bot.RenderEvent(domain.NotificationEvent{
		Symbol:        "ETH",
		LastSentPrice: decimal.RequireFromString("10"),
		CurPrice:      decimal.RequireFromString("9"),
		PctChange:     decimal.RequireFromString("-10"),
	})
	if !strings.HasPrefix(got, "📉 ETH: 9 (-10%)") {
		t.Errorf("unexpected render: %q", got)
	}
}

func TestHandler_StartStopsOnCancel(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.handler.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}

	f.bot.mu.Lock()
	defer f.bot.mu.Unlock()
	if !f.bot.stopped {
		t.Error("updates polling must be stopped")
	}
}
