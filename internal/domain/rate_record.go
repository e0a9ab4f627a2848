package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateRecord is one daily exchange rate snapshot, Rate units of Quote per unit of Base.
type RateRecord struct {
	Base         string
	Quote        string
	Rate         decimal.Decimal
	ObservedDate time.Time
}

type RateKey struct {
	Base         string
	Quote        string
	ObservedDate time.Time
}

func (r RateRecord) Key() RateKey {
	return RateKey{Base: r.Base, Quote: r.Quote, ObservedDate: r.ObservedDate}
}

// DateOf returns midnight UTC of the calendar day t falls on in UTC.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func (r RateRecord) String() string {
	return r.Base + "/" + r.Quote + "@" + r.ObservedDate.Format(time.DateOnly)
}
