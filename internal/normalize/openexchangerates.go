package normalize

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"marketdata-etl/internal/domain"
)

type oerEnvelope struct {
	Error       bool                       `json:"error"`
	Status      int                        `json:"status"`
	Message     string                     `json:"message"`
	Description string                     `json:"description"`
	Timestamp   *int64                     `json:"timestamp"`
	Base        string                     `json:"base"`
	Rates       map[string]json.RawMessage `json:"rates"`
}

// Rates parses an openexchangerates.org latest.json payload.
func Rates(raw []byte, opts Options) ([]domain.RateRecord, *domain.NormalizationWarning, error) {
	var env oerEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: oer: %v", domain.ErrInvalidPayload, err)
	}
	if env.Error {
		return nil, nil, fmt.Errorf("%w: oer: %d %s: %s", domain.ErrInvalidPayload, env.Status, env.Message, env.Description)
	}
	base := domain.NormalizeCode(env.Base)
	if !domain.ValidCurrency(base) {
		return nil, nil, fmt.Errorf("%w: oer: base %q", domain.ErrInvalidPayload, env.Base)
	}
	if env.Rates == nil {
		return nil, nil, fmt.Errorf("%w: oer: no rates field", domain.ErrInvalidPayload)
	}

	observed := opts.FetchedAt
	if env.Timestamp != nil && *env.Timestamp > 0 {
		observed = time.Unix(*env.Timestamp, 0)
	}
	if observed.IsZero() {
		return nil, nil, fmt.Errorf("%w: oer: no observation time", domain.ErrInvalidPayload)
	}
	date := domain.DateOf(observed)

	skips := &skipLog{domain: DomainRate}
	codes := make([]string, 0, len(env.Rates))
	if len(opts.Currencies) > 0 {
		for _, c := range opts.Currencies {
			if _, ok := env.Rates[c]; ok {
				codes = append(codes, c)
			} else if domain.NormalizeCode(c) != base {
				skips.add("%s: missing from payload", c)
			}
		}
	} else {
		for c := range env.Rates {
			codes = append(codes, c)
		}
		sort.Strings(codes)
	}

	out := make([]domain.RateRecord, 0, len(codes))
	for _, code := range codes {
		quote := domain.NormalizeCode(code)
		if !domain.ValidCurrency(quote) {
			skips.add("%q: invalid currency code", code)
			continue
		}
		if quote == base {
			continue
		}
		rate, err := parseDecimal(env.Rates[code])
		if err != nil {
			skips.add("%s: %v", quote, err)
			continue
		}
		if !rate.IsPositive() {
			skips.add("%s: rate %s not positive", quote, rate)
			continue
		}
		out = append(out, domain.RateRecord{Base: base, Quote: quote, Rate: rate, ObservedDate: date})
	}
	return out, skips.warning(), nil
}
