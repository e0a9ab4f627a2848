package application

import (
	"context"
	"errors"
	"fmt"

	"marketdata-etl/internal/domain"
	"marketdata-etl/internal/normalize"

	"go.uber.org/zap"
)

// Loader writes a normalized batch in a single transaction.
type Loader struct {
	uow    UnitOfWork
	quotes QuoteStore
	rates  RateStore

	// Log reports rejected records. Nil discards them.
	Log LogScope
}

func NewLoader(uow UnitOfWork, quotes QuoteStore, rates RateStore) *Loader {
	return &Loader{uow: uow, quotes: quotes, rates: rates}
}

// Load upserts every record of b. Records refused by a storage constraint
// are counted as skipped; any other failure, including ctx expiring, rolls
// back the whole batch.
func (l *Loader) Load(ctx context.Context, b normalize.Batch) (domain.LoadResult, error) {
	if b.Len() == 0 {
		return domain.LoadResult{}, nil
	}
	scope := l.Log
	if scope == nil {
		scope = nopScope{}
	}
	var res domain.LoadResult
	err := l.uow.Do(ctx, func(ctx context.Context) error {
		res = domain.LoadResult{}
		if len(b.Quotes) > 0 {
			if err := upsertAll(ctx, scope, b.Quotes, l.quotes.UpsertQuote, &res); err != nil {
				return err
			}
		}
		if len(b.Rates) > 0 {
			return upsertAll(ctx, scope, b.Rates, l.rates.UpsertRate, &res)
		}
		return nil
	})
	if err != nil {
		return domain.LoadResult{}, err
	}
	return res, nil
}

func (l *Loader) LoadQuotes(ctx context.Context, qs []domain.QuoteRecord) (domain.LoadResult, error) {
	return l.Load(ctx, normalize.Batch{Quotes: qs})
}

func (l *Loader) LoadRates(ctx context.Context, rs []domain.RateRecord) (domain.LoadResult, error) {
	return l.Load(ctx, normalize.Batch{Rates: rs})
}

func upsertAll[T interface{ String() string }](
	ctx context.Context,
	scope LogScope,
	records []T,
	upsert func(context.Context, T) (domain.UpsertOutcome, error),
	res *domain.LoadResult,
) error {
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("load aborted after %d records: %w", res.Total(), err)
		}
		outcome, err := upsert(ctx, r)
		if errors.Is(err, domain.ErrRecordRejected) {
			scope.Logger(ctx).Warn("load.record_rejected", zap.String("record", r.String()), zap.Error(err))
			res.Reject()
			continue
		}
		if err != nil {
			return err
		}
		res.Record(outcome)
	}
	return nil
}
