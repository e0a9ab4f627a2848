package sqlitestore

import (
	"context"
	"time"

	"marketdata-etl/internal/application"
	"marketdata-etl/internal/domain"
	"marketdata-etl/internal/infrastructure/logx"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type RateRepo struct{ db *DB }

func NewRateRepo(db *DB) *RateRepo { return &RateRepo{db: db} }

var (
	_ application.RateStore  = (*RateRepo)(nil)
	_ application.RateReader = (*RateRepo)(nil)
)

const upsertRate = `
        INSERT INTO rates(base_currency, quote_currency, observed_date, rate, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (base_currency, quote_currency, observed_date) DO UPDATE
          SET rate=excluded.rate, updated_at=excluded.updated_at
          WHERE rates.rate IS NOT excluded.rate`

func (r *RateRepo) UpsertRate(ctx context.Context, rec domain.RateRecord) (domain.UpsertOutcome, error) {
	date := rec.ObservedDate.UTC().Format(dateLayout)
	var outcome domain.UpsertOutcome
	err := r.db.savepoint(ctx, func(db querier) error {
		var exists int
		err := db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM rates WHERE base_currency=? AND quote_currency=? AND observed_date=?`,
			rec.Base, rec.Quote, date).Scan(&exists)
		if err != nil {
			return err
		}
		res, err := db.ExecContext(ctx, upsertRate, rec.Base, rec.Quote, date, rec.Rate.String(), formatTime(r.db.now()))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		outcome = outcomeOf(exists > 0, n)
		return nil
	})
	if err != nil {
		logx.WithFields(ctx).Debug("sql.exec_failed",
			zap.String("repo", "rates"), zap.String("key", rec.String()), zap.Error(err))
		return 0, classify("upsert rate "+rec.String(), err)
	}
	return outcome, nil
}

func (r *RateRepo) ListRates(ctx context.Context, f application.RateFilter) ([]domain.RateRecord, error) {
	const q = `
        SELECT base_currency, quote_currency, observed_date, rate
        FROM rates
        WHERE (?1 = '' OR base_currency = ?1)
          AND (?2 = '' OR quote_currency = ?2)
          AND (?3 IS NULL OR observed_date >= ?3)
          AND (?4 IS NULL OR observed_date <= ?4)
        ORDER BY observed_date DESC, base_currency, quote_currency
        LIMIT ?5`
	rows, err := r.db.conn(ctx).QueryContext(ctx, q, f.Base, f.Quote,
		nullTime(f.From, dateLayout), nullTime(f.To, dateLayout), f.Limit)
	if err != nil {
		logx.WithFields(ctx).Error("sql.query_failed", zap.String("repo", "rates"), zap.Error(err))
		return nil, domain.StorageError("list rates", err)
	}
	defer rows.Close()

	out := []domain.RateRecord{}
	for rows.Next() {
		var (
			rec        domain.RateRecord
			date, rate string
		)
		if err := rows.Scan(&rec.Base, &rec.Quote, &date, &rate); err != nil {
			return nil, domain.StorageError("scan rate", err)
		}
		if rec.ObservedDate, err = time.Parse(dateLayout, date); err != nil {
			return nil, domain.StorageError("scan rate", err)
		}
		if rec.Rate, err = decimal.NewFromString(rate); err != nil {
			return nil, domain.StorageError("scan rate", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("list rates", err)
	}
	return out, nil
}
