package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteRecord is one intraday OHLCV observation of a symbol.
// ObservedAt is always UTC and truncated to the hour.
type QuoteRecord struct {
	Symbol     string
	ObservedAt time.Time
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     int64
}

type QuoteKey struct {
	Symbol     string
	ObservedAt time.Time
}

func (q QuoteRecord) Key() QuoteKey {
	return QuoteKey{Symbol: q.Symbol, ObservedAt: q.ObservedAt}
}

// HourOf returns t in UTC with minutes and below discarded.
func HourOf(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

func (q QuoteRecord) String() string {
	return q.Symbol + "@" + q.ObservedAt.Format(time.RFC3339)
}
