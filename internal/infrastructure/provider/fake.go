package provider

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"time"

	"marketdata-etl/internal/application"

	"github.com/shopspring/decimal"
)

// FakeQuotes serves deterministic stockdata.org payloads for local runs.
// Prices depend only on the symbol and the hour.
type FakeQuotes struct {
	Symbols []string
	// Location is the exchange zone trade times are written in. Nil means UTC.
	Location *time.Location
	Now      func() time.Time
}

var _ application.Source = (*FakeQuotes)(nil)

func (f *FakeQuotes) Name() string       { return StockdataName }
func (f *FakeQuotes) SecretName() string { return "" }

func (f *FakeQuotes) Fetch(context.Context, string) ([]byte, error) {
	now := nowOr(f.Now)
	hour := now.Truncate(time.Hour)
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	data := make([]map[string]any, 0, len(f.Symbols))
	for _, sym := range f.Symbols {
		seed := seedOf(sym, hour.Unix())
		price := decimal.New(int64(5000+seed%45000), -2)
		spread := decimal.New(int64(50+seed%400), -2)
		data = append(data, map[string]any{
			"ticker":          sym,
			"price":           price.String(),
			"day_open":        price.Sub(spread.Div(decimal.NewFromInt(2))).String(),
			"day_high":        price.Add(spread).String(),
			"day_low":         price.Sub(spread).String(),
			"volume":          1000 + seed%100000,
			"last_trade_time": hour.Add(59 * time.Minute).In(loc).Format("2006-01-02T15:04:05.000000"),
		})
	}
	return json.Marshal(map[string]any{
		"meta": map[string]int{"requested": len(f.Symbols), "returned": len(data)},
		"data": data,
	})
}

// FakeRates serves deterministic openexchangerates.org payloads.
type FakeRates struct {
	Base       string
	Currencies []string
	Now        func() time.Time
}

var _ application.Source = (*FakeRates)(nil)

func (f *FakeRates) Name() string       { return OERName }
func (f *FakeRates) SecretName() string { return "" }

func (f *FakeRates) Fetch(context.Context, string) ([]byte, error) {
	now := nowOr(f.Now)
	day := now.UTC().Truncate(24 * time.Hour)
	rates := make(map[string]string, len(f.Currencies))
	for _, c := range f.Currencies {
		seed := seedOf(f.Base+c, day.Unix())
		rates[c] = decimal.New(int64(1+seed%2_600_000_000), -4).String()
	}
	return json.Marshal(map[string]any{
		"disclaimer": "fake",
		"timestamp":  now.Unix(),
		"base":       f.Base,
		"rates":      rates,
	})
}

func seedOf(key string, at int64) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64() ^ uint64(at)
}

func nowOr(now func() time.Time) time.Time {
	if now == nil {
		return time.Now().UTC()
	}
	return now().UTC()
}
