package normalize

import (
	"encoding/json"
	"fmt"
	"math"

	"marketdata-etl/internal/domain"

	"github.com/shopspring/decimal"
)

type stockdataEnvelope struct {
	Data  []json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Quotes parses a stockdata.org quote payload. Entries need a ticker, a
// price and the day range; day_open, volume and last_trade_time are optional.
func Quotes(raw []byte, opts Options) ([]domain.QuoteRecord, *domain.NormalizationWarning, error) {
	var env stockdataEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: stockdata: %v", domain.ErrInvalidPayload, err)
	}
	if env.Error != nil {
		return nil, nil, fmt.Errorf("%w: stockdata: %s: %s", domain.ErrInvalidPayload, env.Error.Code, env.Error.Message)
	}
	if env.Data == nil {
		return nil, nil, fmt.Errorf("%w: stockdata: no data field", domain.ErrInvalidPayload)
	}

	skips := &skipLog{domain: DomainQuote}
	out := make([]domain.QuoteRecord, 0, len(env.Data))
	index := make(map[domain.QuoteKey]int, len(env.Data))
	seen := make(map[string]bool, len(env.Data))
	for i, entry := range env.Data {
		q, err := quoteFromEntry(entry, opts)
		if err != nil {
			skips.add("entry %d: %v", i, err)
			seen[tickerOf(entry)] = true
			continue
		}
		seen[q.Symbol] = true
		// a repeated key within one payload keeps the later entry
		if at, dup := index[q.Key()]; dup {
			out[at] = q
			continue
		}
		index[q.Key()] = len(out)
		out = append(out, q)
	}
	for _, sym := range opts.Symbols {
		if sym = domain.NormalizeCode(sym); !seen[sym] {
			skips.add("%s: missing from payload", sym)
		}
	}
	return out, skips.warning(), nil
}

// tickerOf is the normalized ticker of an entry, or "" when it has none.
func tickerOf(entry json.RawMessage) string {
	var e struct {
		Ticker string `json:"ticker"`
	}
	if json.Unmarshal(entry, &e) != nil {
		return ""
	}
	return domain.NormalizeCode(e.Ticker)
}

func quoteFromEntry(entry json.RawMessage, opts Options) (domain.QuoteRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(entry, &fields); err != nil {
		return domain.QuoteRecord{}, fmt.Errorf("not an object")
	}

	ticker, err := rawString(fields, "ticker")
	if err != nil {
		return domain.QuoteRecord{}, fmt.Errorf("ticker: %w", err)
	}
	symbol := domain.NormalizeCode(ticker)
	if !domain.ValidSymbol(symbol) {
		return domain.QuoteRecord{}, fmt.Errorf("ticker %q invalid", ticker)
	}

	price, err := positive(fields, "price")
	if err != nil {
		return domain.QuoteRecord{}, fmt.Errorf("%s: price: %w", symbol, err)
	}
	high, err := positive(fields, "day_high")
	if err != nil {
		return domain.QuoteRecord{}, fmt.Errorf("%s: day_high: %w", symbol, err)
	}
	low, err := positive(fields, "day_low")
	if err != nil {
		return domain.QuoteRecord{}, fmt.Errorf("%s: day_low: %w", symbol, err)
	}
	if low.GreaterThan(high) {
		return domain.QuoteRecord{}, fmt.Errorf("%s: day_low %s above day_high %s", symbol, low, high)
	}
	open := price
	if _, ok := fields["day_open"]; ok && !isNull(fields["day_open"]) {
		if open, err = positive(fields, "day_open"); err != nil {
			return domain.QuoteRecord{}, fmt.Errorf("%s: day_open: %w", symbol, err)
		}
	}

	var volume int64
	if raw, ok := fields["volume"]; ok && !isNull(raw) {
		v, err := parseDecimal(raw)
		if err != nil || !v.IsInteger() || v.IsNegative() || v.GreaterThan(maxVolume) {
			return domain.QuoteRecord{}, fmt.Errorf("%s: volume %s not a non-negative integer", symbol, string(raw))
		}
		volume = v.IntPart()
	}

	observed := opts.FetchedAt
	ts, err := rawString(fields, "last_trade_time")
	switch {
	case err == nil:
		if observed, err = parseTimestamp(ts, opts.Location); err != nil {
			return domain.QuoteRecord{}, fmt.Errorf("%s: last_trade_time: %w", symbol, err)
		}
	case err != errMissing:
		return domain.QuoteRecord{}, fmt.Errorf("%s: last_trade_time: %w", symbol, err)
	}
	if observed.IsZero() {
		return domain.QuoteRecord{}, fmt.Errorf("%s: no observation time", symbol)
	}

	return domain.QuoteRecord{
		Symbol:     symbol,
		ObservedAt: domain.HourOf(observed),
		Open:       open,
		High:       high,
		Low:        low,
		Close:      price,
		Volume:     volume,
	}, nil
}

var maxVolume = decimal.NewFromInt(math.MaxInt64)

func positive(fields map[string]json.RawMessage, key string) (decimal.Decimal, error) {
	d, err := decimalField(fields, key)
	if err != nil {
		return d, err
	}
	if !d.IsPositive() {
		return d, fmt.Errorf("%s not positive", d)
	}
	return d, nil
}
