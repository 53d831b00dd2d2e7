// Package postgres is the shared-database storage backend, for deployments
// where several reporting processes read the same facts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dp-cuteam/yclients-heatmap/internal/logging"
	"github.com/dp-cuteam/yclients-heatmap/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS raw_records (
    branch_id   BIGINT NOT NULL,
    record_id   BIGINT NOT NULL,
    staff_id    BIGINT NOT NULL,
    start_at    TIMESTAMPTZ NOT NULL,
    end_at      TIMESTAMPTZ NOT NULL,
    attendance  INT NOT NULL,
    updated_at  TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (branch_id, record_id)
);

CREATE TABLE IF NOT EXISTS staff_hours (
    branch_id    BIGINT NOT NULL,
    staff_id     BIGINT NOT NULL,
    date         DATE NOT NULL,
    hour         INT NOT NULL,
    busy         BOOLEAN NOT NULL,
    in_benchmark BOOLEAN NOT NULL,
    in_gray      BOOLEAN NOT NULL,
    PRIMARY KEY (branch_id, staff_id, date, hour)
);
CREATE INDEX IF NOT EXISTS idx_staff_hours_range ON staff_hours (branch_id, date);

CREATE TABLE IF NOT EXISTS group_hour_load (
    branch_id    BIGINT NOT NULL,
    group_id     TEXT NOT NULL,
    date         DATE NOT NULL,
    dow          INT NOT NULL,
    hour         INT NOT NULL,
    busy_count   INT NOT NULL,
    staff_total  INT NOT NULL,
    load_pct     DOUBLE PRECISION NOT NULL,
    in_benchmark BOOLEAN NOT NULL,
    PRIMARY KEY (branch_id, group_id, date, hour)
);
CREATE INDEX IF NOT EXISTS idx_group_load_range ON group_hour_load (branch_id, date);

CREATE TABLE IF NOT EXISTS etl_runs (
    run_id      TEXT PRIMARY KEY,
    run_type    TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    status      TEXT NOT NULL,
    progress    TEXT NOT NULL DEFAULT '',
    error_log   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS manual_sheet_daily (
    branch_code TEXT NOT NULL,
    metric_code TEXT NOT NULL,
    date        DATE NOT NULL,
    value       NUMERIC NOT NULL,
    source      TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (branch_code, metric_code, date)
);

CREATE TABLE IF NOT EXISTS plans_monthly (
    branch_code TEXT NOT NULL,
    metric_code TEXT NOT NULL,
    month_start DATE NOT NULL,
    value       NUMERIC NOT NULL,
    PRIMARY KEY (branch_code, metric_code, month_start)
);

CREATE TABLE IF NOT EXISTS branches (
    code        TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    yclients_id BIGINT NOT NULL
);
`

// Store is the PostgreSQL-backed repository.
type Store struct {
	pool *pgxpool.Pool
}

// Connect establishes the connection pool and verifies it with a ping.
func Connect(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second

	logging.Debug().
		Str("host", config.ConnConfig.Host).
		Uint16("port", config.ConnConfig.Port).
		Str("database", config.ConnConfig.Database).
		Msg("Connecting to database")

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logging.Info().
		Str("host", config.ConnConfig.Host).
		Str("database", config.ConnConfig.Database).
		Msg("Connected to database")
	return &Store{pool: pool}, nil
}

func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) UpsertRawRecords(ctx context.Context, recs []store.VisitInterval) error {
	if len(recs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range recs {
		batch.Queue(`INSERT INTO raw_records
			(branch_id, record_id, staff_id, start_at, end_at, attendance, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (branch_id, record_id) DO UPDATE SET
				staff_id = EXCLUDED.staff_id,
				start_at = EXCLUDED.start_at,
				end_at = EXCLUDED.end_at,
				attendance = EXCLUDED.attendance,
				updated_at = EXCLUDED.updated_at`,
			r.BranchID, r.RecordID, r.StaffID, r.Start, r.End, r.Attendance, r.UpdatedAt)
	}
	return s.sendBatch(ctx, batch)
}

func (s *Store) ReplaceStaffHours(ctx context.Context, branchID int64, from, to string, facts []store.StaffHourFact) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`DELETE FROM staff_hours WHERE branch_id = $1 AND date >= $2 AND date <= $3`,
		branchID, from, to)
	if err != nil {
		return fmt.Errorf("delete staff hours: %w", err)
	}

	for _, f := range facts {
		_, err := tx.Exec(ctx, `INSERT INTO staff_hours
			(branch_id, staff_id, date, hour, busy, in_benchmark, in_gray)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (branch_id, staff_id, date, hour) DO UPDATE SET
				busy = EXCLUDED.busy,
				in_benchmark = EXCLUDED.in_benchmark,
				in_gray = EXCLUDED.in_gray`,
			f.BranchID, f.StaffID, f.Date, f.Hour, f.Busy, f.InBenchmark, f.InGray)
		if err != nil {
			return fmt.Errorf("insert staff hour: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) BusyStaffHours(ctx context.Context, branchID int64, from, to string) ([]store.StaffHourFact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT branch_id, staff_id, to_char(date, 'YYYY-MM-DD'), hour, busy, in_benchmark, in_gray
		 FROM staff_hours
		 WHERE branch_id = $1 AND date >= $2 AND date <= $3 AND busy
		 ORDER BY date, hour, staff_id`,
		branchID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.StaffHourFact
	for rows.Next() {
		var f store.StaffHourFact
		err := rows.Scan(&f.BranchID, &f.StaffID, &f.Date, &f.Hour, &f.Busy, &f.InBenchmark, &f.InGray)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceGroupLoads(ctx context.Context, branchID int64, from, to string, loads []store.GroupHourLoad) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`DELETE FROM group_hour_load WHERE branch_id = $1 AND date >= $2 AND date <= $3`,
		branchID, from, to)
	if err != nil {
		return fmt.Errorf("delete group loads: %w", err)
	}

	for _, l := range loads {
		_, err := tx.Exec(ctx, `INSERT INTO group_hour_load
			(branch_id, group_id, date, dow, hour, busy_count, staff_total, load_pct, in_benchmark)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (branch_id, group_id, date, hour) DO UPDATE SET
				dow = EXCLUDED.dow,
				busy_count = EXCLUDED.busy_count,
				staff_total = EXCLUDED.staff_total,
				load_pct = EXCLUDED.load_pct,
				in_benchmark = EXCLUDED.in_benchmark`,
			l.BranchID, l.GroupID, l.Date, l.DOW, l.Hour,
			l.BusyCount, l.StaffTotal, l.LoadPct, l.InBenchmark)
		if err != nil {
			return fmt.Errorf("insert group load: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) GroupLoads(ctx context.Context, branchID int64, groupIDs []string, from, to string) ([]store.GroupHourLoad, error) {
	query := `SELECT branch_id, group_id, to_char(date, 'YYYY-MM-DD'), dow, hour, busy_count, staff_total, load_pct, in_benchmark
		 FROM group_hour_load
		 WHERE branch_id = $1 AND date >= $2 AND date <= $3`
	args := []any{branchID, from, to}
	if len(groupIDs) > 0 {
		query += ` AND group_id = ANY($4)`
		args = append(args, groupIDs)
	}
	query += ` ORDER BY date, group_id, hour`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.GroupHourLoad
	for rows.Next() {
		var l store.GroupHourLoad
		err := rows.Scan(&l.BranchID, &l.GroupID, &l.Date, &l.DOW, &l.Hour,
			&l.BusyCount, &l.StaffTotal, &l.LoadPct, &l.InBenchmark)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) CreateRun(ctx context.Context, run store.EtlRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO etl_runs (run_id, run_type, started_at, status, progress, error_log)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.RunID, run.RunType, run.StartedAt, string(run.Status), run.Progress, run.ErrorLog)
	return err
}

func (s *Store) SetRunProgress(ctx context.Context, runID, progress string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE etl_runs SET progress = $1 WHERE run_id = $2 AND status = $3`,
		progress, runID, string(store.RunRunning))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.runMissingOrFinished(ctx, runID)
	}
	return nil
}

func (s *Store) AppendRunError(ctx context.Context, runID, text string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE etl_runs SET error_log = error_log || chr(10) || $1 WHERE run_id = $2`,
		text, runID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRunNotFound
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, runID string, status store.RunStatus, finishedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE etl_runs SET status = $1, finished_at = $2 WHERE run_id = $3 AND status = $4`,
		string(status), finishedAt, runID, string(store.RunRunning))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.runMissingOrFinished(ctx, runID)
	}
	return nil
}

func (s *Store) runMissingOrFinished(ctx context.Context, runID string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM etl_runs WHERE run_id = $1`, runID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrRunNotFound
	}
	if err != nil {
		return err
	}
	return store.ErrRunFinished
}

func (s *Store) GetRun(ctx context.Context, runID string) (store.EtlRun, error) {
	var run store.EtlRun
	var status string
	var finished *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT run_id, run_type, started_at, finished_at, status, progress, error_log
		 FROM etl_runs WHERE run_id = $1`, runID).
		Scan(&run.RunID, &run.RunType, &run.StartedAt, &finished, &status, &run.Progress, &run.ErrorLog)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.EtlRun{}, store.ErrRunNotFound
	}
	if err != nil {
		return store.EtlRun{}, err
	}
	run.Status = store.RunStatus(status)
	run.FinishedAt = finished
	return run, nil
}

func (s *Store) UpsertDailyMetrics(ctx context.Context, facts []store.DailyMetricFact) error {
	if len(facts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, f := range facts {
		batch.Queue(`INSERT INTO manual_sheet_daily (branch_code, metric_code, date, value, source)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (branch_code, metric_code, date) DO UPDATE SET
				value = EXCLUDED.value,
				source = EXCLUDED.source`,
			f.BranchCode, f.MetricCode, f.Date, f.Value, f.Source)
	}
	return s.sendBatch(ctx, batch)
}

func (s *Store) DailyMetrics(ctx context.Context, branchCode, from, to string, codes []string) ([]store.DailyMetricFact, error) {
	query := `SELECT branch_code, metric_code, to_char(date, 'YYYY-MM-DD'), value::text, source
		 FROM manual_sheet_daily
		 WHERE branch_code = $1 AND date >= $2 AND date <= $3`
	args := []any{branchCode, from, to}
	if len(codes) > 0 {
		query += ` AND metric_code = ANY($4)`
		args = append(args, codes)
	}
	query += ` ORDER BY metric_code, date`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.DailyMetricFact
	for rows.Next() {
		var f store.DailyMetricFact
		var value string
		if err := rows.Scan(&f.BranchCode, &f.MetricCode, &f.Date, &value, &f.Source); err != nil {
			return nil, err
		}
		if f.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("metric %s/%s: %w", f.MetricCode, f.Date, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) UpsertPlan(ctx context.Context, plan store.MonthlyPlan) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO plans_monthly (branch_code, metric_code, month_start, value)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (branch_code, metric_code, month_start) DO UPDATE SET value = EXCLUDED.value`,
		plan.BranchCode, plan.MetricCode, plan.MonthStart, plan.Value)
	return err
}

func (s *Store) Plans(ctx context.Context, branchCode, monthStart string) ([]store.MonthlyPlan, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT branch_code, metric_code, to_char(month_start, 'YYYY-MM-DD'), value::text
		 FROM plans_monthly
		 WHERE branch_code = $1 AND month_start = $2
		 ORDER BY metric_code`,
		branchCode, monthStart)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.MonthlyPlan
	for rows.Next() {
		var p store.MonthlyPlan
		var value string
		if err := rows.Scan(&p.BranchCode, &p.MetricCode, &p.MonthStart, &value); err != nil {
			return nil, err
		}
		if p.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("plan %s: %w", p.MetricCode, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpsertBranch(ctx context.Context, b store.Branch) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO branches (code, name, yclients_id) VALUES ($1, $2, $3)
		 ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			yclients_id = EXCLUDED.yclients_id`,
		b.Code, b.Name, b.YClientsID)
	return err
}

func (s *Store) Branches(ctx context.Context) ([]store.Branch, error) {
	rows, err := s.pool.Query(ctx, `SELECT code, name, yclients_id FROM branches ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Branch
	for rows.Next() {
		var b store.Branch
		if err := rows.Scan(&b.Code, &b.Name, &b.YClientsID); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

var _ store.Store = (*Store)(nil)
