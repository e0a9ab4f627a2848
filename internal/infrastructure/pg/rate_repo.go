package pg

import (
	"context"
	"errors"

	"marketdata-etl/internal/application"
	"marketdata-etl/internal/domain"
	"marketdata-etl/internal/infrastructure/logx"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type RateRepo struct{ db *DB }

func NewRateRepo(db *DB) *RateRepo { return &RateRepo{db: db} }

var (
	_ application.RateStore  = (*RateRepo)(nil)
	_ application.RateReader = (*RateRepo)(nil)
)

const upsertRate = `
        INSERT INTO rates(base_currency, quote_currency, observed_date, rate)
        VALUES ($1, $2, $3, $4::text::numeric)
        ON CONFLICT (base_currency, quote_currency, observed_date) DO UPDATE
          SET rate=EXCLUDED.rate, updated_at=NOW()
          WHERE rates.rate IS DISTINCT FROM EXCLUDED.rate
        RETURNING (xmax = 0) AS inserted`

func (r *RateRepo) UpsertRate(ctx context.Context, rec domain.RateRecord) (domain.UpsertOutcome, error) {
	var outcome domain.UpsertOutcome
	err := r.db.savepoint(ctx, func(db querier) error {
		var inserted bool
		err := db.QueryRow(ctx, upsertRate, rec.Base, rec.Quote, rec.ObservedDate, rec.Rate.String()).Scan(&inserted)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			outcome = domain.OutcomeUnchanged
			return nil
		case err != nil:
			return err
		case inserted:
			outcome = domain.OutcomeInserted
		default:
			outcome = domain.OutcomeUpdated
		}
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
        SELECT base_currency, quote_currency, observed_date, rate::text
        FROM rates
        WHERE ($1::text = '' OR base_currency = $1)
          AND ($2::text = '' OR quote_currency = $2)
          AND ($3::date IS NULL OR observed_date >= $3)
          AND ($4::date IS NULL OR observed_date <= $4)
        ORDER BY observed_date DESC, base_currency, quote_currency
        LIMIT $5`
	log := logx.WithFields(ctx).With(
		zap.String("repo", "rates"),
		zap.String("operation", "ListRates"),
	)
	log.Debug("sql.query_start")
	rows, err := r.db.conn(ctx).Query(ctx, q, f.Base, f.Quote, nullTime(f.From), nullTime(f.To), f.Limit)
	if err != nil {
		log.Error("sql.query_failed", zap.Error(err))
		return nil, domain.StorageError("list rates", err)
	}
	defer rows.Close()

	out := []domain.RateRecord{}
	for rows.Next() {
		var (
			rec  domain.RateRecord
			rate string
		)
		if err := rows.Scan(&rec.Base, &rec.Quote, &rec.ObservedDate, &rate); err != nil {
			return nil, domain.StorageError("scan rate", err)
		}
		if err := parseDecimals([]string{rate}, &rec.Rate); err != nil {
			return nil, domain.StorageError("scan rate", err)
		}
		rec.ObservedDate = domain.DateOf(rec.ObservedDate)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("list rates", err)
	}
	log.Debug("sql.query_success", zap.Int("rows", len(out)))
	return out, nil
}
