package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"marketdata-etl/internal/application"
	"marketdata-etl/internal/config"
	"marketdata-etl/internal/domain"
	"marketdata-etl/internal/infrastructure/pg"
	sqlitestore "marketdata-etl/internal/infrastructure/sqlite"

	"go.uber.org/zap"
)

var ErrMissingDBURL = fmt.Errorf("%w: DATABASE_URL is required for STORAGE=pg", domain.ErrInvalidConfig)

// Storage is one backend's stores seen through the application ports.
type Storage struct {
	UoW         application.UnitOfWork
	QuoteStore  application.QuoteStore
	RateStore   application.RateStore
	QuoteReader application.QuoteReader
	RateReader  application.RateReader
	Journal     application.CycleJournal
	Watermarks  application.WatermarkRepo
	Ping        func(ctx context.Context) error
}

// BuildStorage opens the backend chosen by cfg.Storage and applies its
// migrations.
func BuildStorage(ctx context.Context, log *zap.Logger, cfg config.Config) (Storage, func(), error) {
	switch cfg.Storage {
	case "pg":
		if cfg.DatabaseURL == "" {
			return Storage{}, func() {}, ErrMissingDBURL
		}
		db, err := pg.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return Storage{}, func() {}, err
		}
		if err := pg.RunMigrations(ctx, db); err != nil {
			db.Close()
			return Storage{}, func() {}, err
		}
		quotes, rates := pg.NewQuoteRepo(db), pg.NewRateRepo(db)
		cleanup := func() {
			log.Info("closing pg")
			db.Close()
		}
		return Storage{
			UoW:         &pg.UnitOfWork{Pool: db.Pool},
			QuoteStore:  quotes,
			RateStore:   rates,
			QuoteReader: quotes,
			RateReader:  rates,
			Journal:     pg.NewCycleRepo(db),
			Watermarks:  pg.NewWatermarkRepo(db),
			Ping:        db.Ping,
		}, cleanup, nil
	case "sqlite":
		db, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return Storage{}, func() {}, err
		}
		if err := sqlitestore.RunMigrations(ctx, db); err != nil {
			db.Close()
			return Storage{}, func() {}, err
		}
		quotes, rates := sqlitestore.NewQuoteRepo(db), sqlitestore.NewRateRepo(db)
		cleanup := func() {
			log.Info("closing sqlite", zap.String("path", db.Path))
			db.Close()
		}
		return Storage{
			UoW:         &sqlitestore.UnitOfWork{DB: db.SQL},
			QuoteStore:  quotes,
			RateStore:   rates,
			QuoteReader: quotes,
			RateReader:  rates,
			Journal:     sqlitestore.NewCycleRepo(db),
			Watermarks:  sqlitestore.NewWatermarkRepo(db),
			Ping:        db.Ping,
		}, cleanup, nil
	default:
		return Storage{}, func() {}, fmt.Errorf("%w: unknown STORAGE %q", domain.ErrInvalidConfig, cfg.Storage)
	}
}

func codes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, domain.NormalizeCode(s))
	}
	return out
}

// RequiredSecrets lists the credentials the configured sources need, in
// pipeline order and without duplicates.
func RequiredSecrets(pipelines []application.Pipeline) []string {
	var names []string
	seen := map[string]bool{}
	for _, p := range pipelines {
		n := p.Source.SecretName()
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	return names
}

func describe(cfg config.Config) []zap.Field {
	return []zap.Field{
		zap.String("env", cfg.Env),
		zap.String("storage", cfg.Storage),
		zap.String("provider", cfg.Provider),
		zap.String("budget_backend", cfg.BudgetBackend),
		zap.String("symbols", strings.Join(cfg.Symbols, ",")),
		zap.String("quote_cron", cfg.QuoteCron),
		zap.String("rate_cron", cfg.RateCron),
	}
}
