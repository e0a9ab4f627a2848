package application

import (
	"context"
	"time"

	"marketdata-etl/internal/domain"

	"go.uber.org/zap"
)

// LogScope attaches log fields to a context so that adapters further down
// the call chain log with them, and yields the logger carrying them.
type LogScope interface {
	With(ctx context.Context, fields ...zap.Field) context.Context
	Logger(ctx context.Context) *zap.Logger
}

type nopScope struct{}

func (nopScope) With(ctx context.Context, _ ...zap.Field) context.Context { return ctx }
func (nopScope) Logger(context.Context) *zap.Logger                     { return zap.NewNop() }

// Source fetches one raw payload from an upstream provider.
type Source interface {
	Name() string
	// SecretName is the credential the source needs, empty if none.
	SecretName() string
	Fetch(ctx context.Context, secret string) ([]byte, error)
}

// QuoteStore and RateStore write one record inside the unit of work carried
// by ctx. A record refused by a storage constraint yields ErrRecordRejected
// and leaves the rest of the transaction usable.
type QuoteStore interface {
	UpsertQuote(ctx context.Context, q domain.QuoteRecord) (domain.UpsertOutcome, error)
}

type RateStore interface {
	UpsertRate(ctx context.Context, r domain.RateRecord) (domain.UpsertOutcome, error)
}

type QuoteFilter struct {
	Symbol   string
	From, To time.Time
	Limit    int
}

type RateFilter struct {
	Base, Quote string
	From, To    time.Time
	Limit       int
}

type QuoteReader interface {
	ListQuotes(ctx context.Context, f QuoteFilter) ([]domain.QuoteRecord, error)
}

type RateReader interface {
	ListRates(ctx context.Context, f RateFilter) ([]domain.RateRecord, error)
}

// CycleJournal records cycles outside of the batch transaction.
type CycleJournal interface {
	StartCycle(ctx context.Context, run domain.CycleRun) error
	FinishCycle(ctx context.Context, run domain.CycleRun) error
	ListCycles(ctx context.Context, cadence domain.Cadence, limit int) ([]domain.CycleRun, error)
}

type WatermarkRepo interface {
	// GetWatermark returns a zero LastSuccessAt for a cadence that never succeeded.
	GetWatermark(ctx context.Context, c domain.Cadence) (domain.Watermark, error)
	// AdvanceWatermark never moves a watermark backwards.
	AdvanceWatermark(ctx context.Context, c domain.Cadence, at time.Time) error
	ListWatermarks(ctx context.Context) ([]domain.Watermark, error)
}

type Clock interface {
	Now() time.Time
}

type IDGen interface {
	NewID() string
}
