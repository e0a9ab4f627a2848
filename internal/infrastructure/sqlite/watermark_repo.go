package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"marketdata-etl/internal/application"
	"marketdata-etl/internal/domain"
)

type WatermarkRepo struct{ db *DB }

func NewWatermarkRepo(db *DB) *WatermarkRepo { return &WatermarkRepo{db: db} }

var _ application.WatermarkRepo = (*WatermarkRepo)(nil)

func (r *WatermarkRepo) GetWatermark(ctx context.Context, c domain.Cadence) (domain.Watermark, error) {
	wm := domain.Watermark{Cadence: c}
	var last string
	err := r.db.SQL.QueryRowContext(ctx,
		`SELECT last_success_at FROM ingest_watermarks WHERE cadence=?`, string(c)).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return wm, nil
	}
	if err != nil {
		return wm, domain.StorageError("get watermark", err)
	}
	if wm.LastSuccessAt, err = parseTime(last); err != nil {
		return wm, domain.StorageError("get watermark", err)
	}
	return wm, nil
}

func (r *WatermarkRepo) AdvanceWatermark(ctx context.Context, c domain.Cadence, at time.Time) error {
	const up = `
        INSERT INTO ingest_watermarks(cadence, last_success_at, updated_at)
        VALUES (?, ?, ?)
        ON CONFLICT (cadence) DO UPDATE
          SET last_success_at = MAX(ingest_watermarks.last_success_at, excluded.last_success_at),
              updated_at = excluded.updated_at`
	if _, err := r.db.SQL.ExecContext(ctx, up, string(c), formatTime(at), formatTime(r.db.now())); err != nil {
		return domain.StorageError("advance watermark", err)
	}
	return nil
}

func (r *WatermarkRepo) ListWatermarks(ctx context.Context) ([]domain.Watermark, error) {
	out := make([]domain.Watermark, 0, len(domain.Cadences))
	for _, c := range domain.Cadences {
		wm, err := r.GetWatermark(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, wm)
	}
	return out, nil
}
