package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// --- Enums & Constants ---

// SubscribeResult - ожидаемый исход подписки (не ошибка)
type SubscribeResult int

const (
	SubscribeOK SubscribeResult = iota + 1
	SubscribeNoSuchInstrument
	SubscribeAlreadySubscribed
)

func (r SubscribeResult) String() string {
	switch r {
	case SubscribeOK:
		return "OK"
	case SubscribeNoSuchInstrument:
		return "NO_SUCH_INSTRUMENT"
	case SubscribeAlreadySubscribed:
		return "ALREADY_SUBSCRIBED"
	default:
		return "UNKNOWN"
	}
}

// UnsubscribeResult - ожидаемый исход отписки
type UnsubscribeResult int

const (
	UnsubscribeOK UnsubscribeResult = iota + 1
	UnsubscribeNotSubscribed
)

func (r UnsubscribeResult) String() string {
	switch r {
	case UnsubscribeOK:
		return "OK"
	case UnsubscribeNotSubscribed:
		return "NOT_SUBSCRIBED"
	default:
		return "UNKNOWN"
	}
}

// --- Entities ---

// Instrument - торгуемый символ и его последняя известная цена
type Instrument struct {
	Symbol    string
	Price     decimal.Decimal
	UpdatedAt time.Time
}

// Subscription - связь (подписчик, символ). Не более одной на пару.
type Subscription struct {
	SubscriberID int64
	Symbol       string
	CreatedAt    time.Time
}

// Baseline - цена, о которой подписчику сообщили последней
type Baseline struct {
	SubscriberID int64
	Symbol       string
	Price        decimal.Decimal
	UpdatedAt    time.Time
}
