package pg

import (
	"context"

	"marketdata-etl/internal/application"
	"marketdata-etl/internal/domain"
	"marketdata-etl/internal/infrastructure/logx"

	"go.uber.org/zap"
)

// CycleRepo is the ingest cycle journal. It always writes through the pool
// so entries survive a rolled back batch.
type CycleRepo struct{ db *DB }

func NewCycleRepo(db *DB) *CycleRepo { return &CycleRepo{db: db} }

var _ application.CycleJournal = (*CycleRepo)(nil)

func (r *CycleRepo) StartCycle(ctx context.Context, run domain.CycleRun) error {
	const ins = `
        INSERT INTO ingest_cycles(id, cadence, trigger, status, started_at)
        VALUES ($1, $2, $3, $4, $5)`
	log := logx.WithFields(ctx).With(
		zap.String("repo", "ingest_cycles"),
		zap.String("operation", "StartCycle"),
	)
	log.Debug("sql.exec_start")
	tag, err := r.db.Pool.Exec(ctx, ins, run.ID, string(run.Cadence), run.Trigger, string(run.Status), run.StartedAt)
	if err != nil {
		log.Error("sql.exec_failed", zap.Error(err))
		return domain.StorageError("start cycle", err)
	}
	log.Debug("sql.exec_success", zap.Int64("rows_affected", tag.RowsAffected()))
	return nil
}

func (r *CycleRepo) FinishCycle(ctx context.Context, run domain.CycleRun) error {
	const up = `
        UPDATE ingest_cycles
        SET status=$2, finished_at=$3, fetched=$4, inserted=$5, updated=$6,
            skipped=$7, rejected=$8, error=$9
        WHERE id=$1`
	log := logx.WithFields(ctx).With(
		zap.String("repo", "ingest_cycles"),
		zap.String("operation", "FinishCycle"),
		zap.String("status", string(run.Status)),
	)
	log.Debug("sql.exec_start")
	tag, err := r.db.Pool.Exec(ctx, up, run.ID, string(run.Status), run.FinishedAt,
		run.Fetched, run.Result.Inserted, run.Result.Updated, run.Result.Skipped, run.Result.Rejected, run.Error)
	if err != nil {
		log.Error("sql.exec_failed", zap.Error(err))
		return domain.StorageError("finish cycle", err)
	}
	if tag.RowsAffected() == 0 {
		log.Warn("sql.exec_no_rows")
		return application.ErrNotFound
	}
	log.Debug("sql.exec_success", zap.Int64("rows_affected", tag.RowsAffected()))
	return nil
}

func (r *CycleRepo) ListCycles(ctx context.Context, c domain.Cadence, limit int) ([]domain.CycleRun, error) {
	const q = `
        SELECT id::text, cadence, trigger, status, started_at, finished_at,
               fetched, inserted, updated, skipped, rejected, error
        FROM ingest_cycles
        WHERE ($1::text = '' OR cadence = $1)
        ORDER BY started_at DESC
        LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, string(c), limit)
	if err != nil {
		logx.WithFields(ctx).Error("sql.query_failed", zap.String("repo", "ingest_cycles"), zap.Error(err))
		return nil, domain.StorageError("list cycles", err)
	}
	defer rows.Close()

	out := []domain.CycleRun{}
	for rows.Next() {
		var (
			run             domain.CycleRun
			cadence, status string
		)
		if err := rows.Scan(&run.ID, &cadence, &run.Trigger, &status, &run.StartedAt, &run.FinishedAt,
			&run.Fetched, &run.Result.Inserted, &run.Result.Updated, &run.Result.Skipped, &run.Result.Rejected,
			&run.Error); err != nil {
			return nil, domain.StorageError("scan cycle", err)
		}
		run.Cadence = domain.Cadence(cadence)
		run.Status = domain.ParseCycleStatus(status)
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("list cycles", err)
	}
	return out, nil
}
