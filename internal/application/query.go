package application

import (
	"context"
	"fmt"

	"marketdata-etl/internal/domain"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// QueryService is the read side used by the ops API. It never writes.
type QueryService struct {
	quotes     QuoteReader
	rates      RateReader
	cycles     CycleJournal
	watermarks WatermarkRepo
}

func NewQueryService(quotes QuoteReader, rates RateReader, cycles CycleJournal, watermarks WatermarkRepo) *QueryService {
	return &QueryService{quotes: quotes, rates: rates, cycles: cycles, watermarks: watermarks}
}

func (s *QueryService) Quotes(ctx context.Context, f QuoteFilter) ([]domain.QuoteRecord, error) {
	if f.Symbol != "" {
		f.Symbol = domain.NormalizeCode(f.Symbol)
		if !domain.ValidSymbol(f.Symbol) {
			return nil, fmt.Errorf("%w: symbol %q", ErrBadRequest, f.Symbol)
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, fmt.Errorf("%w: to before from", ErrBadRequest)
	}
	f.Limit = clampLimit(f.Limit)
	return s.quotes.ListQuotes(ctx, f)
}

func (s *QueryService) Rates(ctx context.Context, f RateFilter) ([]domain.RateRecord, error) {
	for _, code := range []*string{&f.Base, &f.Quote} {
		if *code == "" {
			continue
		}
		*code = domain.NormalizeCode(*code)
		if !domain.ValidCurrency(*code) {
			return nil, fmt.Errorf("%w: currency %q", ErrBadRequest, *code)
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, fmt.Errorf("%w: to before from", ErrBadRequest)
	}
	f.Limit = clampLimit(f.Limit)
	return s.rates.ListRates(ctx, f)
}

// Cycles lists journal entries newest first. An empty cadence lists both.
func (s *QueryService) Cycles(ctx context.Context, c domain.Cadence, limit int) ([]domain.CycleRun, error) {
	if c != "" && !c.Valid() {
		return nil, fmt.Errorf("%w: cadence %q", ErrBadRequest, c)
	}
	return s.cycles.ListCycles(ctx, c, clampLimit(limit))
}

func (s *QueryService) Watermarks(ctx context.Context) ([]domain.Watermark, error) {
	return s.watermarks.ListWatermarks(ctx)
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultListLimit
	case n > maxListLimit:
		return maxListLimit
	default:
		return n
	}
}
