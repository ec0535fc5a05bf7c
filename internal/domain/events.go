package domain

import "github.com/shopspring/decimal"

// NotificationEvent - результат цикла рассылки для одной пары (подписчик, символ)
type NotificationEvent struct {
	SubscriberID  int64           `json:"subscriber_id"`
	Symbol        string          `json:"symbol"`
	LastSentPrice decimal.Decimal `json:"last_sent_price"`
	CurPrice      decimal.Decimal `json:"cur_price"`
	PctChange     decimal.Decimal `json:"pct_change"`
}

// IsRise - цена выросла относительно последнего уведомления
func (e NotificationEvent) IsRise() bool {
	return e.PctChange.IsPositive()
}
