package domain

import "errors"

var (
	// ErrNotFound - запись (цена, baseline) отсутствует
	ErrNotFound = errors.New("not found")

	// ErrNotSubscribed - операция требует активной подписки на пару
	ErrNotSubscribed = errors.New("not subscribed")

	// ErrTransientFetch - сеть, таймаут, битый ответ источника цен.
	// Цикл продолжает работу на старом снимке.
	ErrTransientFetch = errors.New("transient fetch error")

	// ErrDataIntegrity - подписка без baseline или нулевой baseline.
	// Пара пропускается, цикл не прерывается.
	ErrDataIntegrity = errors.New("data integrity violation")
)
