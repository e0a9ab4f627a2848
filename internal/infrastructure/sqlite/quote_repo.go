package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"

	"marketdata-etl/internal/application"
	"marketdata-etl/internal/domain"
	"marketdata-etl/internal/infrastructure/logx"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type QuoteRepo struct{ db *DB }

func NewQuoteRepo(db *DB) *QuoteRepo { return &QuoteRepo{db: db} }

var (
	_ application.QuoteStore  = (*QuoteRepo)(nil)
	_ application.QuoteReader = (*QuoteRepo)(nil)
)

const upsertQuote = `
        INSERT INTO quotes(symbol, observed_at, open, high, low, close, volume, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (symbol, observed_at) DO UPDATE
          SET open=excluded.open, high=excluded.high, low=excluded.low,
              close=excluded.close, volume=excluded.volume, updated_at=excluded.updated_at
          WHERE quotes.open IS NOT excluded.open
             OR quotes.high IS NOT excluded.high
             OR quotes.low IS NOT excluded.low
             OR quotes.close IS NOT excluded.close
             OR quotes.volume IS NOT excluded.volume`

func (r *QuoteRepo) UpsertQuote(ctx context.Context, q domain.QuoteRecord) (domain.UpsertOutcome, error) {
	observed := formatTime(q.ObservedAt)
	var outcome domain.UpsertOutcome
	err := r.db.savepoint(ctx, func(db querier) error {
		var exists int
		err := db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM quotes WHERE symbol=? AND observed_at=?`, q.Symbol, observed).Scan(&exists)
		if err != nil {
			return err
		}
		res, err := db.ExecContext(ctx, upsertQuote,
			q.Symbol, observed,
			q.Open.String(), q.High.String(), q.Low.String(), q.Close.String(),
			q.Volume, formatTime(r.db.now()),
		)
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
			zap.String("repo", "quotes"), zap.String("key", q.String()), zap.Error(err))
		return 0, classify("upsert quote "+q.String(), err)
	}
	return outcome, nil
}

func outcomeOf(existed bool, affected int64) domain.UpsertOutcome {
	switch {
	case !existed:
		return domain.OutcomeInserted
	case affected > 0:
		return domain.OutcomeUpdated
	default:
		return domain.OutcomeUnchanged
	}
}

func (r *QuoteRepo) ListQuotes(ctx context.Context, f application.QuoteFilter) ([]domain.QuoteRecord, error) {
	const q = `
        SELECT symbol, observed_at, open, high, low, close, volume
        FROM quotes
        WHERE (?1 = '' OR symbol = ?1)
          AND (?2 IS NULL OR observed_at >= ?2)
          AND (?3 IS NULL OR observed_at <= ?3)
        ORDER BY observed_at DESC, symbol
        LIMIT ?4`
	log := logx.WithFields(ctx).With(
		zap.String("repo", "quotes"),
		zap.String("operation", "ListQuotes"),
		zap.String("symbol", f.Symbol),
	)
	log.Debug("sql.query_start")
	rows, err := r.db.conn(ctx).QueryContext(ctx, q, f.Symbol, nullTime(f.From, timeLayout), nullTime(f.To, timeLayout), f.Limit)
	if err != nil {
		log.Error("sql.query_failed", zap.Error(err))
		return nil, domain.StorageError("list quotes", err)
	}
	defer rows.Close()

	out := []domain.QuoteRecord{}
	for rows.Next() {
		rec, err := scanQuote(rows)
		if err != nil {
			return nil, domain.StorageError("scan quote", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("list quotes", err)
	}
	log.Debug("sql.query_success", zap.Int("rows", len(out)))
	return out, nil
}

func scanQuote(rows *sql.Rows) (domain.QuoteRecord, error) {
	var (
		rec        domain.QuoteRecord
		observed   string
		o, h, l, c string
	)
	if err := rows.Scan(&rec.Symbol, &observed, &o, &h, &l, &c, &rec.Volume); err != nil {
		return rec, err
	}
	t, err := parseTime(observed)
	if err != nil {
		return rec, err
	}
	rec.ObservedAt = t
	for _, p := range []struct {
		src string
		dst *decimal.Decimal
	}{{o, &rec.Open}, {h, &rec.High}, {l, &rec.Low}, {c, &rec.Close}} {
		d, err := decimal.NewFromString(p.src)
		if err != nil {
			return rec, fmt.Errorf("corrupt decimal %q: %w", p.src, err)
		}
		*p.dst = d
	}
	return rec, nil
}
