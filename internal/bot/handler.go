package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/romanzzaa/crypto-price-alerts/internal/domain"
	"github.com/romanzzaa/crypto-price-alerts/internal/usecase"
)

// Текстовые константы для кнопок (чтобы не опечататься)
const (
	BtnSubscriptions = "📋 Мои подписки"
	BtnSubscribe     = "➕ Подписаться"
	BtnUnsubscribe   = "➖ Отписаться"
)

const (
	stepAwaitingSubscribe   = "awaiting_subscribe"
	stepAwaitingUnsubscribe = "awaiting_unsubscribe"
)

// BotAPI - подмножество *tgbotapi.BotAPI, которое нужно хендлеру
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// AlertService - фасад движка рассылки (usecase.Dispatcher)
type AlertService interface {
	Subscribe(ctx context.Context, subscriberID int64, symbol string) (domain.SubscribeResult, error)
	InitBaseline(ctx context.Context, subscriberID int64, symbol string) (decimal.Decimal, error)
	Unsubscribe(ctx context.Context, subscriberID int64, symbol string) (domain.UnsubscribeResult, error)
	ListSubscriptions(subscriberID int64) []string
	Price(symbol string) (decimal.Decimal, error)
	Stats() usecase.DispatcherStats
}

var _ domain.Notifier = (*Handler)(nil)

type Handler struct {
	bot     BotAPI
	alerts  AlertService
	adminID int64
	logger  *slog.Logger

	states map[int64]*UserState
	mu     sync.RWMutex
}

type UserState struct {
	Step string // awaiting_subscribe, awaiting_unsubscribe
}

func NewHandler(bot BotAPI, alerts AlertService, adminID int64, logger *slog.Logger) *Handler {
	return &Handler{
		bot:     bot,
		alerts:  alerts,
		adminID: adminID,
		logger:  logger.With(slog.String("component", "telegram_bot")),
		states:  make(map[int64]*UserState),
	}
}

// Start читает апдейты long polling'ом до отмены ctx
func (h *Handler) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := h.bot.GetUpdatesChan(u)
	h.logger.Info("Telegram bot started")

	for {
		select {
		case <-ctx.Done():
			h.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go h.HandleUpdate(ctx, update)
		}
	}
}

func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message != nil {
		h.handleMessage(ctx, update.Message)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	// Обработка команд
	if msg.IsCommand() {
		h.clearState(chatID)
		args := strings.TrimSpace(msg.CommandArguments())

		switch msg.Command() {
		case "start":
			h.cmdStart(msg)
		case "subscribe":
			if args == "" {
				h.askForSymbol(chatID, stepAwaitingSubscribe)
				return
			}
			h.subscribe(ctx, chatID, args)
		case "unsubscribe":
			if args == "" {
				h.askForUnsubscribe(chatID)
				return
			}
			h.unsubscribe(ctx, chatID, args)
		case "subscriptions":
			h.cmdSubscriptions(chatID)
		case "price":
			h.cmdPrice(chatID, args)
		case "stats":
			if msg.From != nil && h.adminID != 0 && msg.From.ID == h.adminID {
				h.cmdStats(chatID)
			}
		default:
			h.send(chatID, "Неизвестная команда. Используйте меню.")
		}
		return
	}

	text := strings.TrimSpace(msg.Text)

	// Обработка кнопок меню (текстовые сообщения)
	switch text {
	case BtnSubscriptions:
		h.clearState(chatID)
		h.cmdSubscriptions(chatID)
		return
	case BtnSubscribe:
		h.askForSymbol(chatID, stepAwaitingSubscribe)
		return
	case BtnUnsubscribe:
		h.askForUnsubscribe(chatID)
		return
	}

	// Обработка состояний
	h.mu.RLock()
	state := h.states[chatID]
	h.mu.RUnlock()

	if state != nil {
		h.clearState(chatID)
		switch state.Step {
		case stepAwaitingSubscribe:
			h.subscribe(ctx, chatID, text)
		case stepAwaitingUnsubscribe:
			h.unsubscribe(ctx, chatID, text)
		}
		return
	}

	// Свободный текст с известным символом - подписка
	if _, ok := h.resolveSymbol(text); ok {
		h.subscribe(ctx, chatID, text)
		return
	}

	h.send(chatID, "Используйте меню для навигации.")
}

// --- Commands ---

func (h *Handler) cmdStart(msg *tgbotapi.Message) {
	name := "друг"
	if msg.From != nil && msg.From.FirstName != "" {
		name = msg.From.FirstName
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf(
		"👋 Привет, %s!\nЯ пришлю уведомление, когда цена монеты изменится.\n\nЧтобы подписаться, нажмите '%s' или напишите символ монеты (например, BTC).",
		name, BtnSubscribe))
	reply.ReplyMarkup = mainMenu()
	h.sendMessage(reply)
}

func (h *Handler) cmdSubscriptions(chatID int64) {
	symbols := h.alerts.ListSubscriptions(chatID)
	if len(symbols) == 0 {
		h.send(chatID, "📭 Вы пока не подписаны ни на одну монету.")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 Ваши подписки (%d):\n\n", len(symbols)))
	for _, sym := range symbols {
		if price, err := h.alerts.Price(sym); err == nil {
			sb.WriteString(fmt.Sprintf("• %s: %s\n", sym, price.String()))
		} else {
			sb.WriteString(fmt.Sprintf("• %s\n", sym))
		}
	}
	h.send(chatID, sb.String())
}

func (h *Handler) cmdPrice(chatID int64, input string) {
	if input == "" {
		h.send(chatID, "Использование: /price <SYMBOL>")
		return
	}
	symbol, ok := h.resolveSymbol(input)
	if !ok {
		h.send(chatID, fmt.Sprintf("❌ Монета %s не найдена.", input))
		return
	}
	price, _ := h.alerts.Price(symbol)
	h.send(chatID, fmt.Sprintf("💰 %s: %s", symbol, price.String()))
}

func (h *Handler) cmdStats(chatID int64) {
	stats := h.alerts.Stats()
	h.send(chatID, fmt.Sprintf(
		"⚙️ Состояние: %s\n├ Подписок: %d\n├ Монет: %d\n└ Поколение цен: %d",
		stats.State, stats.Subscriptions, stats.Instruments, stats.Generation))
}

// --- Subscribe / Unsubscribe ---

func (h *Handler) askForSymbol(chatID int64, step string) {
	h.setState(chatID, step)
	h.send(chatID, "✍️ Напишите символ монеты, на которую хотите подписаться (например, BTC):")
}

func (h *Handler) askForUnsubscribe(chatID int64) {
	symbols := h.alerts.ListSubscriptions(chatID)
	if len(symbols) == 0 {
		h.clearState(chatID)
		h.send(chatID, "📭 Вы пока не подписаны ни на одну монету.")
		return
	}
	h.setState(chatID, stepAwaitingUnsubscribe)
	h.send(chatID, fmt.Sprintf("✍️ От какой монеты отписаться? Ваши подписки: %s", strings.Join(symbols, ", ")))
}

func (h *Handler) subscribe(ctx context.Context, chatID int64, input string) {
	symbol, ok := h.resolveSymbol(input)
	if !ok {
		symbol = input
	}

	res, err := h.alerts.Subscribe(ctx, chatID, symbol)
	if err != nil {
		h.logger.Error("Subscribe failed", slog.Int64("chat_id", chatID), slog.String("symbol", symbol), slog.String("err", err.Error()))
		h.send(chatID, "⚠️ Не удалось оформить подписку, попробуйте позже.")
		return
	}

	switch res {
	case domain.SubscribeNoSuchInstrument:
		h.send(chatID, fmt.Sprintf("❌ Монета %s не найдена. Проверьте правильность написания символа.", input))
		return
	case domain.SubscribeAlreadySubscribed:
		h.send(chatID, fmt.Sprintf("Вы уже подписаны на %s.", symbol))
		return
	}

	price, err := h.alerts.InitBaseline(ctx, chatID, symbol)
	if err != nil {
		h.logger.Error("Init baseline failed, rolling back subscription",
			slog.Int64("chat_id", chatID), slog.String("symbol", symbol), slog.String("err", err.Error()))
		if _, rbErr := h.alerts.Unsubscribe(ctx, chatID, symbol); rbErr != nil {
			h.logger.Error("Rollback failed", slog.Int64("chat_id", chatID), slog.String("symbol", symbol), slog.String("err", rbErr.Error()))
		}
		if errors.Is(err, domain.ErrNotFound) {
			h.send(chatID, fmt.Sprintf("❌ Цена %s пока неизвестна, попробуйте позже.", symbol))
			return
		}
		h.send(chatID, "⚠️ Не удалось оформить подписку, попробуйте позже.")
		return
	}

	h.send(chatID, fmt.Sprintf("✅ Вы подписаны на %s. Текущая цена: %s", symbol, price.String()))
}

func (h *Handler) unsubscribe(ctx context.Context, chatID int64, input string) {
	symbol := h.matchSubscription(chatID, input)

	res, err := h.alerts.Unsubscribe(ctx, chatID, symbol)
	if err != nil {
		h.logger.Error("Unsubscribe failed", slog.Int64("chat_id", chatID), slog.String("symbol", symbol), slog.String("err", err.Error()))
		h.send(chatID, "⚠️ Не удалось отписаться, попробуйте позже.")
		return
	}

	if res == domain.UnsubscribeNotSubscribed {
		h.send(chatID, fmt.Sprintf("Вы не подписаны на %s.", input))
		return
	}
	h.send(chatID, fmt.Sprintf("✅ Вы отписались от %s.", symbol))
}

// --- Notifier ---

// Notify отправляет событие в чат подписчика (id подписчика = chat id)
func (h *Handler) Notify(ctx context.Context, event domain.NotificationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := h.bot.Send(tgbotapi.NewMessage(event.SubscriberID, RenderEvent(event))); err != nil {
		return fmt.Errorf("send notification to %d: %w", event.SubscriberID, err)
	}
	return nil
}

// RenderEvent - текст уведомления
func RenderEvent(event domain.NotificationEvent) string {
	icon := "📉"
	sign := ""
	if event.IsRise() {
		icon = "📈"
		sign = "+"
	}
	return fmt.Sprintf("%s %s: %s (%s%s%%)\nПредыдущее уведомление: %s",
		icon,
		event.Symbol,
		event.CurPrice.String(),
		sign,
		event.PctChange.Round(4).String(),
		event.LastSentPrice.String(),
	)
}

// --- Helpers ---

// resolveSymbol: сначала как есть (символы регистрозависимы), затем в верхнем регистре
func (h *Handler) resolveSymbol(input string) (string, bool) {
	if input == "" {
		return "", false
	}
	if _, err := h.alerts.Price(input); err == nil {
		return input, true
	}
	upper := strings.ToUpper(input)
	if upper == input {
		return "", false
	}
	if _, err := h.alerts.Price(upper); err != nil {
		return "", false
	}
	return upper, true
}

// matchSubscription ищет подписку без учета регистра, иначе возвращает ввод как есть
func (h *Handler) matchSubscription(chatID int64, input string) string {
	for _, sym := range h.alerts.ListSubscriptions(chatID) {
		if sym == input {
			return sym
		}
	}
	for _, sym := range h.alerts.ListSubscriptions(chatID) {
		if strings.EqualFold(sym, input) {
			return sym
		}
	}
	return input
}

func (h *Handler) setState(chatID int64, step string) {
	h.mu.Lock()
	h.states[chatID] = &UserState{Step: step}
	h.mu.Unlock()
}

func (h *Handler) clearState(chatID int64) {
	h.mu.Lock()
	delete(h.states, chatID)
	h.mu.Unlock()
}

func mainMenu() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(BtnSubscriptions),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(BtnSubscribe),
			tgbotapi.NewKeyboardButton(BtnUnsubscribe),
		),
	)
}

func (h *Handler) send(chatID int64, text string) {
	h.sendMessage(tgbotapi.NewMessage(chatID, text))
}

func (h *Handler) sendMessage(msg tgbotapi.MessageConfig) {
	if _, err := h.bot.Send(msg); err != nil {
		h.logger.Error("Send failed", slog.Int64("chat_id", msg.ChatID), slog.String("err", err.Error()))
	}
}
