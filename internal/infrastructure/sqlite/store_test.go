package sqlitestore_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"marketdata-etl/internal/application"
	"marketdata-etl/internal/domain"
	sqlitestore "marketdata-etl/internal/infrastructure/sqlite"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var hour = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func newDB(t *testing.T) *sqlitestore.DB {
	t.Helper()
	ctx := context.Background()
	db, err := sqlitestore.Open(ctx, filepath.Join(t.TempDir(), "etl.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, sqlitestore.RunMigrations(ctx, db))
	return db
}

func quote(sym, px string) domain.QuoteRecord {
	d := decimal.RequireFromString(px)
	return domain.QuoteRecord{Symbol: sym, ObservedAt: hour, Open: d, High: d, Low: d, Close: d, Volume: 100}
}

func newLoader(db *sqlitestore.DB) (*application.Loader, *sqlitestore.QuoteRepo, *sqlitestore.RateRepo) {
	quotes, rates := sqlitestore.NewQuoteRepo(db), sqlitestore.NewRateRepo(db)
	return application.NewLoader(&sqlitestore.UnitOfWork{DB: db.SQL}, quotes, rates), quotes, rates
}

func TestOpen_RejectsMemory(t *testing.T) {
	_, err := sqlitestore.Open(context.Background(), ":memory:")
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestMigrations_Rerun(t *testing.T) {
	db := newDB(t)
	require.NoError(t, sqlitestore.RunMigrations(context.Background(), db))
}

func TestLoader_ReplayIsIdempotent(t *testing.T) {
	db := newDB(t)
	loader, quotes, _ := newLoader(db)
	ctx := context.Background()
	batch := []domain.QuoteRecord{quote("AAPL", "227.48"), quote("TSLA", "262.67"), quote("MSFT", "388.49")}

	res, err := loader.LoadQuotes(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, domain.LoadResult{Inserted: 3}, res)

	for i := 0; i < 3; i++ {
		res, err = loader.LoadQuotes(ctx, batch)
		require.NoError(t, err)
		require.Equal(t, domain.LoadResult{Skipped: 3}, res)
	}
	got, err := quotes.ListQuotes(ctx, application.QuoteFilter{Limit: 100})
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestLoader_LastWriteWins(t *testing.T) {
	db := newDB(t)
	loader, quotes, _ := newLoader(db)
	ctx := context.Background()

	_, err := loader.LoadQuotes(ctx, []domain.QuoteRecord{quote("AAPL", "227.48")})
	require.NoError(t, err)

	revised := quote("AAPL", "227.50")
	revised.Volume = 200
	res, err := loader.LoadQuotes(ctx, []domain.QuoteRecord{revised})
	require.NoError(t, err)
	require.Equal(t, domain.LoadResult{Updated: 1}, res)

	// same value, different scale
	res, err = loader.LoadQuotes(ctx, []domain.QuoteRecord{quote("AAPL", "227.500")})
	require.NoError(t, err)
	require.Equal(t, 1, res.Updated, "volume differs from the revision")

	got, err := quotes.ListQuotes(ctx, application.QuoteFilter{Symbol: "AAPL", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "227.5", got[0].Close.String())
	require.Equal(t, int64(100), got[0].Volume)
	require.Equal(t, hour, got[0].ObservedAt)
}

func TestLoader_ConstraintRejectsOneRecord(t *testing.T) {
	db := newDB(t)
	loader, quotes, _ := newLoader(db)
	ctx := context.Background()

	bad := quote("TSLA", "262.67")
	bad.Low = decimal.RequireFromString("300")
	res, err := loader.LoadQuotes(ctx, []domain.QuoteRecord{quote("AAPL", "227.48"), bad, quote("MSFT", "388.49")})
	require.NoError(t, err)
	require.Equal(t, domain.LoadResult{Inserted: 2, Skipped: 1, Rejected: 1}, res)

	got, err := quotes.ListQuotes(ctx, application.QuoteFilter{Limit: 100})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

// cancelAfter cancels the batch context after n successful writes.
type cancelAfter struct {
	next   application.QuoteStore
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) UpsertQuote(ctx context.Context, q domain.QuoteRecord) (domain.UpsertOutcome, error) {
	o, err := c.next.UpsertQuote(ctx, q)
	c.n--
	if c.n == 0 {
		c.cancel()
	}
	return o, err
}

func TestLoader_CancelMidBatchRollsBack(t *testing.T) {
	db := newDB(t)
	quotes := sqlitestore.NewQuoteRepo(db)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &cancelAfter{next: quotes, n: 2, cancel: cancel}
	loader := application.NewLoader(&sqlitestore.UnitOfWork{DB: db.SQL}, store, nil)

	batch := make([]domain.QuoteRecord, 0, 5)
	for i := 0; i < 5; i++ {
		batch = append(batch, quote(fmt.Sprintf("S%d", i), "10"))
	}
	_, err := loader.LoadQuotes(ctx, batch)
	require.ErrorIs(t, err, context.Canceled)

	got, err := quotes.ListQuotes(context.Background(), application.QuoteFilter{Limit: 100})
	require.NoError(t, err)
	require.Empty(t, got, "zero records visible after abort")
}

func TestRates_UpsertAndFilter(t *testing.T) {
	db := newDB(t)
	loader, _, rates := newLoader(db)
	ctx := context.Background()
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	rec := func(q, v string, d time.Time) domain.RateRecord {
		return domain.RateRecord{Base: "USD", Quote: q, Rate: decimal.RequireFromString(v), ObservedDate: d}
	}

	res, err := loader.LoadRates(ctx, []domain.RateRecord{
		rec("VND", "25480.5", day), rec("EUR", "0.9231", day), rec("VND", "25490", day.AddDate(0, 0, 1)),
	})
	require.NoError(t, err)
	require.Equal(t, domain.LoadResult{Inserted: 3}, res)

	res, err = loader.LoadRates(ctx, []domain.RateRecord{rec("VND", "25480.50", day), rec("EUR", "0.93", day)})
	require.NoError(t, err)
	require.Equal(t, domain.LoadResult{Updated: 1, Skipped: 1}, res)

	got, err := rates.ListRates(ctx, application.RateFilter{Quote: "VND", Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, day.AddDate(0, 0, 1), got[0].ObservedDate)

	got, err = rates.ListRates(ctx, application.RateFilter{Base: "USD", From: day, To: day, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestJournalAndWatermarks(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	journal := sqlitestore.NewCycleRepo(db)

	for i, status := range []domain.CycleStatus{domain.CycleStatusDone, domain.CycleStatusFailed} {
		run := domain.CycleRun{
			ID:        fmt.Sprintf("c-%d", i),
			Cadence:   domain.CadenceQuotes,
			Trigger:   application.TriggerSchedule,
			Status:    domain.CycleStatusRunning,
			StartedAt: hour.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, journal.StartCycle(ctx, run))
		end := run.StartedAt.Add(2 * time.Second)
		run.Status, run.FinishedAt = status, &end
		if status == domain.CycleStatusFailed {
			msg := "stockdata: transient fetch error"
			run.Error = &msg
		}
		require.NoError(t, journal.FinishCycle(ctx, run))
	}
	require.ErrorIs(t, journal.FinishCycle(ctx, domain.CycleRun{ID: "missing"}), application.ErrNotFound)

	runs, err := journal.ListCycles(ctx, domain.CadenceQuotes, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "c-1", runs[0].ID)
	require.Equal(t, domain.CycleStatusFailed, runs[0].Status)
	require.NotNil(t, runs[0].Error)
	require.Nil(t, runs[1].Error)

	runs, err = journal.ListCycles(ctx, domain.CadenceRates, 10)
	require.NoError(t, err)
	require.Empty(t, runs)

	wms := sqlitestore.NewWatermarkRepo(db)
	wm, err := wms.GetWatermark(ctx, domain.CadenceQuotes)
	require.NoError(t, err)
	require.True(t, wm.LastSuccessAt.IsZero())

	require.NoError(t, wms.AdvanceWatermark(ctx, domain.CadenceQuotes, hour))
	require.NoError(t, wms.AdvanceWatermark(ctx, domain.CadenceQuotes, hour.Add(-2*time.Hour)))
	all, err := wms.ListWatermarks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, hour, all[0].LastSuccessAt)
	require.True(t, all[1].LastSuccessAt.IsZero())
}

func TestUpdatedAtUsesClock(t *testing.T) {
	db := newDB(t)
	stamp := time.Date(2025, 3, 10, 15, 4, 5, 0, time.UTC)
	db.Now = func() time.Time { return stamp }
	loader, _, _ := newLoader(db)
	ctx := context.Background()

	_, err := loader.LoadQuotes(ctx, []domain.QuoteRecord{quote("AAPL", "227.48")})
	require.NoError(t, err)
	_, err = loader.LoadRates(ctx, []domain.RateRecord{{
		Base: "USD", Quote: "VND", Rate: decimal.RequireFromString("25480.5"), ObservedDate: hour.Truncate(24 * time.Hour),
	}})
	require.NoError(t, err)
	require.NoError(t, sqlitestore.NewWatermarkRepo(db).AdvanceWatermark(ctx, domain.CadenceQuotes, hour))

	for _, table := range []string{"quotes", "rates", "ingest_watermarks"} {
		var got string
		require.NoError(t, db.SQL.QueryRowContext(ctx, "SELECT updated_at FROM "+table).Scan(&got), table)
		require.Equal(t, "2025-03-10T15:04:05Z", got, table)
	}
}
