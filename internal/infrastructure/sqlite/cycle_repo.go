package sqlitestore

import (
	"context"
	"database/sql"

	"marketdata-etl/internal/application"
	"marketdata-etl/internal/domain"
	"marketdata-etl/internal/infrastructure/logx"

	"go.uber.org/zap"
)

// CycleRepo journals cycles through the pool, outside any batch transaction.
type CycleRepo struct{ db *DB }

func NewCycleRepo(db *DB) *CycleRepo { return &CycleRepo{db: db} }

var _ application.CycleJournal = (*CycleRepo)(nil)

func (r *CycleRepo) StartCycle(ctx context.Context, run domain.CycleRun) error {
	const ins = `
        INSERT INTO ingest_cycles(id, cadence, trigger, status, started_at)
        VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.SQL.ExecContext(ctx, ins, run.ID, string(run.Cadence), run.Trigger, string(run.Status), formatTime(run.StartedAt)); err != nil {
		logx.WithFields(ctx).Error("sql.exec_failed", zap.String("repo", "ingest_cycles"), zap.Error(err))
		return domain.StorageError("start cycle", err)
	}
	return nil
}

func (r *CycleRepo) FinishCycle(ctx context.Context, run domain.CycleRun) error {
	const up = `
        UPDATE ingest_cycles
        SET status=?, finished_at=?, fetched=?, inserted=?, updated=?, skipped=?, rejected=?, error=?
        WHERE id=?`
	var finished any
	if run.FinishedAt != nil {
		finished = formatTime(*run.FinishedAt)
	}
	res, err := r.db.SQL.ExecContext(ctx, up, string(run.Status), finished, run.Fetched,
		run.Result.Inserted, run.Result.Updated, run.Result.Skipped, run.Result.Rejected, run.Error, run.ID)
	if err != nil {
		logx.WithFields(ctx).Error("sql.exec_failed", zap.String("repo", "ingest_cycles"), zap.Error(err))
		return domain.StorageError("finish cycle", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		logx.WithFields(ctx).Warn("sql.exec_no_rows", zap.String("repo", "ingest_cycles"))
		return application.ErrNotFound
	}
	return nil
}

func (r *CycleRepo) ListCycles(ctx context.Context, c domain.Cadence, limit int) ([]domain.CycleRun, error) {
	const q = `
        SELECT id, cadence, trigger, status, started_at, finished_at,
               fetched, inserted, updated, skipped, rejected, error
        FROM ingest_cycles
        WHERE (?1 = '' OR cadence = ?1)
        ORDER BY started_at DESC, rowid DESC
        LIMIT ?2`
	rows, err := r.db.SQL.QueryContext(ctx, q, string(c), limit)
	if err != nil {
		return nil, domain.StorageError("list cycles", err)
	}
	defer rows.Close()

	out := []domain.CycleRun{}
	for rows.Next() {
		var (
			run                      domain.CycleRun
			cadence, status, started string
			finished, errMsg         sql.NullString
		)
		if err := rows.Scan(&run.ID, &cadence, &run.Trigger, &status, &started, &finished,
			&run.Fetched, &run.Result.Inserted, &run.Result.Updated, &run.Result.Skipped, &run.Result.Rejected,
			&errMsg); err != nil {
			return nil, domain.StorageError("scan cycle", err)
		}
		run.Cadence = domain.Cadence(cadence)
		run.Status = domain.ParseCycleStatus(status)
		if run.StartedAt, err = parseTime(started); err != nil {
			return nil, domain.StorageError("scan cycle", err)
		}
		if finished.Valid {
			t, err := parseTime(finished.String)
			if err != nil {
				return nil, domain.StorageError("scan cycle", err)
			}
			run.FinishedAt = &t
		}
		if errMsg.Valid {
			run.Error = &errMsg.String
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("list cycles", err)
	}
	return out, nil
}
