package pg

import (
	"context"
	"errors"
	"fmt"

	"marketdata-etl/internal/application"
	"marketdata-etl/internal/domain"
	"marketdata-etl/internal/infrastructure/logx"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type QuoteRepo struct{ db *DB }

func NewQuoteRepo(db *DB) *QuoteRepo { return &QuoteRepo{db: db} }

var (
	_ application.QuoteStore  = (*QuoteRepo)(nil)
	_ application.QuoteReader = (*QuoteRepo)(nil)
)

// The update only fires when a value differs, so an identical replay
// returns no row. xmax is zero only on a freshly inserted tuple.
const upsertQuote = `
        INSERT INTO quotes(symbol, observed_at, open, high, low, close, volume)
        VALUES ($1, $2, $3::text::numeric, $4::text::numeric, $5::text::numeric, $6::text::numeric, $7)
        ON CONFLICT (symbol, observed_at) DO UPDATE
          SET open=EXCLUDED.open, high=EXCLUDED.high, low=EXCLUDED.low,
              close=EXCLUDED.close, volume=EXCLUDED.volume, updated_at=NOW()
          WHERE (quotes.open, quotes.high, quotes.low, quotes.close, quotes.volume)
                IS DISTINCT FROM
                (EXCLUDED.open, EXCLUDED.high, EXCLUDED.low, EXCLUDED.close, EXCLUDED.volume)
        RETURNING (xmax = 0) AS inserted`

func (r *QuoteRepo) UpsertQuote(ctx context.Context, q domain.QuoteRecord) (domain.UpsertOutcome, error) {
	var outcome domain.UpsertOutcome
	err := r.db.savepoint(ctx, func(db querier) error {
		var inserted bool
		err := db.QueryRow(ctx, upsertQuote,
			q.Symbol, q.ObservedAt.UTC(),
			q.Open.String(), q.High.String(), q.Low.String(), q.Close.String(),
			q.Volume,
		).Scan(&inserted)
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
			zap.String("repo", "quotes"), zap.String("key", q.String()), zap.Error(err))
		return 0, classify("upsert quote "+q.String(), err)
	}
	return outcome, nil
}

func (r *QuoteRepo) ListQuotes(ctx context.Context, f application.QuoteFilter) ([]domain.QuoteRecord, error) {
	const q = `
        SELECT symbol, observed_at, open::text, high::text, low::text, close::text, volume
        FROM quotes
        WHERE ($1::text = '' OR symbol = $1)
          AND ($2::timestamptz IS NULL OR observed_at >= $2)
          AND ($3::timestamptz IS NULL OR observed_at <= $3)
        ORDER BY observed_at DESC, symbol
        LIMIT $4`
	log := logx.WithFields(ctx).With(
		zap.String("repo", "quotes"),
		zap.String("operation", "ListQuotes"),
		zap.String("symbol", f.Symbol),
	)
	log.Debug("sql.query_start")
	rows, err := r.db.conn(ctx).Query(ctx, q, f.Symbol, nullTime(f.From), nullTime(f.To), f.Limit)
	if err != nil {
		log.Error("sql.query_failed", zap.Error(err))
		return nil, domain.StorageError("list quotes", err)
	}
	defer rows.Close()

	out := []domain.QuoteRecord{}
	for rows.Next() {
		var (
			rec        domain.QuoteRecord
			o, h, l, c string
		)
		if err := rows.Scan(&rec.Symbol, &rec.ObservedAt, &o, &h, &l, &c, &rec.Volume); err != nil {
			return nil, domain.StorageError("scan quote", err)
		}
		if err := parseDecimals([]string{o, h, l, c}, &rec.Open, &rec.High, &rec.Low, &rec.Close); err != nil {
			return nil, domain.StorageError("scan quote", err)
		}
		rec.ObservedAt = rec.ObservedAt.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("list quotes", err)
	}
	log.Debug("sql.query_success", zap.Int("rows", len(out)))
	return out, nil
}

func parseDecimals(src []string, dst ...*decimal.Decimal) error {
	if len(src) != len(dst) {
		return fmt.Errorf("parse decimals: %d values for %d targets", len(src), len(dst))
	}
	for i, s := range src {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return err
		}
		*dst[i] = d
	}
	return nil
}
