package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"marketdata-etl/internal/domain"
	"marketdata-etl/internal/normalize"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var t0 = time.Date(2025, 3, 10, 14, 0, 2, 0, time.UTC)

const stockdataOK = `{"data":[
	{"ticker":"AAPL","price":"227.48","day_high":"228.10","day_low":"225.02","volume":41230},
	{"ticker":"TSLA","price":"262.67","day_high":"266.30","day_low":"259.60","volume":98011},
	{"ticker":"MSFT","price":"388.49","day_high":"390.00","day_low":"386.12","volume":20110}
]}`

type harness struct {
	svc     *IngestionService
	db      *memDB
	journal *fakeJournal
	wm      *fakeWatermarks
	clock   *fakeClock
	secrets *MockSecretProvider
	quotes  *fakeSource
	rates   *fakeSource
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	h := &harness{
		db:      newMemDB(),
		journal: &fakeJournal{},
		wm:      &fakeWatermarks{},
		clock:   &fakeClock{t: t0},
		secrets: NewMockSecretProvider(ctrl),
		quotes:  &fakeSource{name: "stockdata", secret: "stockdata-api-token", payload: []byte(stockdataOK)},
		rates:   &fakeSource{name: "openexchangerates", secret: "oer-appid", payload: []byte(`{"timestamp":1741582800,"base":"USD","rates":{"VND":25480.5}}`)},
	}
	pipelines := []Pipeline{
		{Cadence: domain.CadenceQuotes, Source: h.quotes, Domain: normalize.DomainQuote},
		{Cadence: domain.CadenceRates, Source: h.rates, Domain: normalize.DomainRate, Options: normalize.Options{Currencies: []string{"VND"}}},
	}
	opts = append([]Option{WithClock(h.clock), WithIDGen(&seqIDGen{})}, opts...)
	h.svc = NewIngestionService(h.secrets, NewLoader(h.db, h.db, h.db), h.journal, h.wm, pipelines, opts...)
	return h
}

func TestRunQuoteCycle_Done(t *testing.T) {
	h := newHarness(t)
	h.secrets.EXPECT().Get(gomock.Any(), "stockdata-api-token").Return("tok", nil)

	run, err := h.svc.RunQuoteCycle(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	require.Equal(t, domain.CycleStatusDone, run.Status)
	require.Equal(t, 3, run.Fetched)
	require.Equal(t, domain.LoadResult{Inserted: 3}, run.Result)
	require.Equal(t, "tok", h.quotes.gotKey)

	stored := h.journal.get(run.ID)
	require.Equal(t, domain.CycleStatusDone, stored.Status)
	require.NotNil(t, stored.FinishedAt)

	wm, err := h.svc.Watermark(context.Background(), domain.CadenceQuotes)
	require.NoError(t, err)
	require.Equal(t, t0, wm.LastSuccessAt)
}

func TestRunQuoteCycle_RerunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.secrets.EXPECT().Get(gomock.Any(), gomock.Any()).Return("tok", nil).Times(2)

	_, err := h.svc.RunQuoteCycle(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	run, err := h.svc.RunQuoteCycle(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Equal(t, domain.LoadResult{Skipped: 3}, run.Result)
	require.Len(t, h.db.quotes, 3)
}

func TestRunQuoteCycle_RevisionOverwrites(t *testing.T) {
	h := newHarness(t)
	h.secrets.EXPECT().Get(gomock.Any(), gomock.Any()).Return("tok", nil).Times(2)

	_, err := h.svc.RunQuoteCycle(context.Background(), TriggerSchedule)
	require.NoError(t, err)

	h.quotes.payload = []byte(strings.Replace(stockdataOK, `"227.48"`, `"227.50"`, 1))
	h.clock.Advance(20 * time.Minute)
	run, err := h.svc.RunQuoteCycle(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Equal(t, domain.LoadResult{Updated: 1, Skipped: 2}, run.Result)

	for _, q := range h.db.quotes {
		if q.Symbol == "AAPL" {
			require.Equal(t, "227.5", q.Close.String())
		}
	}
}

func TestRunQuoteCycle_PartialOnMalformedEntry(t *testing.T) {
	h := newHarness(t)
	h.secrets.EXPECT().Get(gomock.Any(), gomock.Any()).Return("tok", nil)
	h.quotes.payload = []byte(strings.Replace(stockdataOK, `"262.67"`, `"n/a"`, 1))

	run, err := h.svc.RunQuoteCycle(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	require.Equal(t, domain.CycleStatusPartial, run.Status)
	require.Equal(t, 3, run.Fetched)
	require.Equal(t, 2, run.Result.Inserted)
	require.NotNil(t, run.Error)
	require.Contains(t, *run.Error, "TSLA")

	wm, _ := h.svc.Watermark(context.Background(), domain.CadenceQuotes)
	require.Equal(t, t0, wm.LastSuccessAt)
}

func TestRunQuoteCycle_RejectedRecordIsPartial(t *testing.T) {
	h := newHarness(t)
	h.secrets.EXPECT().Get(gomock.Any(), gomock.Any()).Return("tok", nil)
	h.db.reject = "MSFT"

	run, err := h.svc.RunQuoteCycle(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	require.Equal(t, domain.CycleStatusPartial, run.Status)
	require.Equal(t, domain.LoadResult{Inserted: 2, Skipped: 1, Rejected: 1}, run.Result)
	require.Len(t, h.db.quotes, 2)
}

func TestRunRateCycle_MissingSecretIsFatal(t *testing.T) {
	h := newHarness(t)
	h.secrets.EXPECT().Get(gomock.Any(), "oer-appid").Return("", fmt.Errorf("%w: oer-appid", domain.ErrSecretNotFound))

	run, err := h.svc.RunRateCycle(context.Background(), TriggerSchedule)
	require.ErrorIs(t, err, domain.ErrSecretNotFound)
	require.True(t, domain.IsFatal(err))
	require.Equal(t, domain.CycleStatusFailed, run.Status)
	require.Zero(t, h.rates.calls)
	require.Equal(t, domain.CycleStatusFailed, h.journal.get(run.ID).Status)

	wm, _ := h.svc.Watermark(context.Background(), domain.CadenceRates)
	require.True(t, wm.LastSuccessAt.IsZero())
}

func TestRunRateCycle_TransientFetchFailure(t *testing.T) {
	h := newHarness(t)
	h.secrets.EXPECT().Get(gomock.Any(), gomock.Any()).Return("app", nil)
	h.rates.err = &domain.FetchError{Provider: "openexchangerates", Kind: domain.ErrTransientFetch, StatusCode: 503, Attempts: 3}

	run, err := h.svc.RunRateCycle(context.Background(), TriggerSchedule)
	require.ErrorIs(t, err, domain.ErrTransientFetch)
	require.False(t, domain.IsFatal(err))
	require.Equal(t, domain.CycleStatusFailed, run.Status)
	require.Empty(t, h.db.rates)
}

func TestRunRateCycle_Done(t *testing.T) {
	h := newHarness(t)
	h.secrets.EXPECT().Get(gomock.Any(), "oer-appid").Return("app", nil)

	run, err := h.svc.RunRateCycle(context.Background(), TriggerCatchUp)
	require.NoError(t, err)
	require.Equal(t, domain.CycleStatusDone, run.Status)
	require.Equal(t, 1, run.Result.Inserted)
	r := h.db.rates[domain.RateKey{Base: "USD", Quote: "VND", ObservedDate: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)}]
	require.Equal(t, "25480.5", r.Rate.String())
}

func TestRunQuoteCycle_TimeoutRollsBackBatch(t *testing.T) {
	h := newHarness(t, WithCycleTimeout(30*time.Millisecond))
	h.secrets.EXPECT().Get(gomock.Any(), gomock.Any()).Return("tok", nil)
	h.db.delay = 20 * time.Millisecond

	run, err := h.svc.RunQuoteCycle(context.Background(), TriggerSchedule)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.False(t, domain.IsFatal(err))
	require.Equal(t, domain.CycleStatusFailed, run.Status)
	require.Empty(t, h.db.quotes, "no partial batch is visible")
	require.Equal(t, domain.CycleStatusFailed, h.journal.get(run.ID).Status, "journal written after the deadline")
}

func TestRunCycle_UnknownCadence(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.RunCycle(context.Background(), domain.Cadence("weekly"), TriggerManual)
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestQueryService(t *testing.T) {
	db := newMemDB()
	j := &fakeJournal{}
	q := NewQueryService(db, db, j, &fakeWatermarks{})
	ctx := context.Background()

	_, err := q.Quotes(ctx, QuoteFilter{Symbol: "not a symbol"})
	require.ErrorIs(t, err, ErrBadRequest)
	_, err = q.Rates(ctx, RateFilter{Base: "US"})
	require.ErrorIs(t, err, ErrBadRequest)
	_, err = q.Quotes(ctx, QuoteFilter{From: t0, To: t0.Add(-time.Hour)})
	require.ErrorIs(t, err, ErrBadRequest)
	_, err = q.Cycles(ctx, domain.Cadence("weekly"), 0)
	require.ErrorIs(t, err, ErrBadRequest)

	wms, err := q.Watermarks(ctx)
	require.NoError(t, err)
	require.Len(t, wms, 2)

	require.Equal(t, defaultListLimit, clampLimit(0))
	require.Equal(t, maxListLimit, clampLimit(5000))
	require.Equal(t, 7, clampLimit(7))
}

type fieldsKey struct{}

type observedScope struct{ base *zap.Logger }

func (o observedScope) With(ctx context.Context, fields ...zap.Field) context.Context {
	prev, _ := ctx.Value(fieldsKey{}).([]zap.Field)
	return context.WithValue(ctx, fieldsKey{}, append(append([]zap.Field{}, prev...), fields...))
}

func (o observedScope) Logger(ctx context.Context) *zap.Logger {
	fields, _ := ctx.Value(fieldsKey{}).([]zap.Field)
	return o.base.With(fields...)
}

func TestRunQuoteCycle_LogsThroughScope(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	scope := observedScope{base: zap.New(core)}
	h := newHarness(t, WithLogScope(scope))
	h.svc.loader.Log = scope
	h.secrets.EXPECT().Get(gomock.Any(), gomock.Any()).Return("tok", nil)
	h.db.reject = "MSFT"

	run, err := h.svc.RunQuoteCycle(context.Background(), TriggerSchedule)
	require.NoError(t, err)

	rejected := logs.FilterMessage("load.record_rejected").All()
	require.Len(t, rejected, 1)
	require.Equal(t, run.ID, rejected[0].ContextMap()["cycle_id"])

	finished := logs.FilterMessage("cycle.finished").All()
	require.Len(t, finished, 1)
	require.Equal(t, "partial", finished[0].ContextMap()["status"])
	require.Equal(t, "quotes", finished[0].ContextMap()["cadence"])
}
