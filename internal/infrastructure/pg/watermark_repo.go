package pg

import (
	"context"
	"errors"
	"time"

	"marketdata-etl/internal/application"
	"marketdata-etl/internal/domain"

	"github.com/jackc/pgx/v5"
)

type WatermarkRepo struct{ db *DB }

func NewWatermarkRepo(db *DB) *WatermarkRepo { return &WatermarkRepo{db: db} }

var _ application.WatermarkRepo = (*WatermarkRepo)(nil)

func (r *WatermarkRepo) GetWatermark(ctx context.Context, c domain.Cadence) (domain.Watermark, error) {
	const q = `SELECT last_success_at FROM ingest_watermarks WHERE cadence=$1`
	wm := domain.Watermark{Cadence: c}
	err := r.db.Pool.QueryRow(ctx, q, string(c)).Scan(&wm.LastSuccessAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return wm, nil
	}
	if err != nil {
		return wm, domain.StorageError("get watermark", err)
	}
	wm.LastSuccessAt = wm.LastSuccessAt.UTC()
	return wm, nil
}

func (r *WatermarkRepo) AdvanceWatermark(ctx context.Context, c domain.Cadence, at time.Time) error {
	const up = `
        INSERT INTO ingest_watermarks(cadence, last_success_at)
        VALUES ($1, $2)
        ON CONFLICT (cadence) DO UPDATE
          SET last_success_at = GREATEST(ingest_watermarks.last_success_at, EXCLUDED.last_success_at),
              updated_at = NOW()`
	if _, err := r.db.Pool.Exec(ctx, up, string(c), at.UTC()); err != nil {
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
