package pricecache

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Snapshot - неизменяемый срез цен на момент конкретного поколения кэша.
// Строится один раз на успешный Refresh, поэтому его можно отдавать без копирования.
type Snapshot struct {
	generation uint64
	prices     map[string]decimal.Decimal
	symbols    []string // отсортированы, задают детерминированный порядок обхода
}

func newSnapshot(generation uint64, prices map[string]decimal.Decimal) *Snapshot {
	cp := make(map[string]decimal.Decimal, len(prices))
	symbols := make([]string, 0, len(prices))
	for sym, p := range prices {
		cp[sym] = p
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	return &Snapshot{generation: generation, prices: cp, symbols: symbols}
}

func (s *Snapshot) Generation() uint64 { return s.generation }

func (s *Snapshot) Len() int { return len(s.symbols) }

// Symbols возвращает копию отсортированного списка символов
func (s *Snapshot) Symbols() []string {
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

func (s *Snapshot) Price(symbol string) (decimal.Decimal, bool) {
	p, ok := s.prices[symbol]
	return p, ok
}

// Prices возвращает копию всего отображения symbol -> price
func (s *Snapshot) Prices() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(s.prices))
	for sym, p := range s.prices {
		out[sym] = p
	}
	return out
}

// Equal сравнивает снимки по значению (поколение не учитывается)
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.prices) != len(other.prices) {
		return false
	}
	for sym, p := range s.prices {
		q, ok := other.prices[sym]
		if !ok || !p.Equal(q) {
			return false
		}
	}
	return true
}
