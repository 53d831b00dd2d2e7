// Package sqlite is the embedded storage backend. It keeps the full
// repository in a single database file with WAL enabled, which is enough
// for one reporting process per file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/dp-cuteam/yclients-heatmap/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS raw_records (
    branch_id   INTEGER NOT NULL,
    record_id   INTEGER NOT NULL,
    staff_id    INTEGER NOT NULL,
    start_at    TEXT    NOT NULL,
    end_at      TEXT    NOT NULL,
    attendance  INTEGER NOT NULL,
    updated_at  TEXT    NOT NULL DEFAULT '',
    PRIMARY KEY (branch_id, record_id)
);

CREATE TABLE IF NOT EXISTS staff_hours (
    branch_id    INTEGER NOT NULL,
    staff_id     INTEGER NOT NULL,
    date         TEXT    NOT NULL,
    hour         INTEGER NOT NULL,
    busy         INTEGER NOT NULL,
    in_benchmark INTEGER NOT NULL,
    in_gray      INTEGER NOT NULL,
    PRIMARY KEY (branch_id, staff_id, date, hour)
);
CREATE INDEX IF NOT EXISTS idx_staff_hours_range ON staff_hours (branch_id, date);

CREATE TABLE IF NOT EXISTS group_hour_load (
    branch_id    INTEGER NOT NULL,
    group_id     TEXT    NOT NULL,
    date         TEXT    NOT NULL,
    dow          INTEGER NOT NULL,
    hour         INTEGER NOT NULL,
    busy_count   INTEGER NOT NULL,
    staff_total  INTEGER NOT NULL,
    load_pct     REAL    NOT NULL,
    in_benchmark INTEGER NOT NULL,
    PRIMARY KEY (branch_id, group_id, date, hour)
);
CREATE INDEX IF NOT EXISTS idx_group_load_range ON group_hour_load (branch_id, date);

CREATE TABLE IF NOT EXISTS etl_runs (
    run_id      TEXT PRIMARY KEY,
    run_type    TEXT NOT NULL,
    started_at  TEXT NOT NULL,
    finished_at TEXT,
    status      TEXT NOT NULL,
    progress    TEXT NOT NULL DEFAULT '',
    error_log   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS manual_sheet_daily (
    branch_code TEXT NOT NULL,
    metric_code TEXT NOT NULL,
    date        TEXT NOT NULL,
    value       TEXT NOT NULL,
    source      TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (branch_code, metric_code, date)
);

CREATE TABLE IF NOT EXISTS plans_monthly (
    branch_code TEXT NOT NULL,
    metric_code TEXT NOT NULL,
    month_start TEXT NOT NULL,
    value       TEXT NOT NULL,
    PRIMARY KEY (branch_code, metric_code, month_start)
);

CREATE TABLE IF NOT EXISTS branches (
    code        TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    yclients_id INTEGER NOT NULL
);
`

// Store is the sqlite-backed repository.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database file and applies the connection
// pragmas. sqlite allows a single writer, so the pool is capped at one
// connection to avoid SQLITE_BUSY under concurrent rebuild and reads going
// through the same handle.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// InitSchema creates the tables when missing.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) UpsertRawRecords(ctx context.Context, recs []store.VisitInterval) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO raw_records
		(branch_id, record_id, staff_id, start_at, end_at, attendance, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		_, err := stmt.ExecContext(ctx,
			r.BranchID, r.RecordID, r.StaffID,
			r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339),
			r.Attendance, r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert raw record %d: %w", r.RecordID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ReplaceStaffHours(ctx context.Context, branchID int64, from, to string, facts []store.StaffHourFact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM staff_hours WHERE branch_id = ? AND date >= ? AND date <= ?`,
		branchID, from, to)
	if err != nil {
		return fmt.Errorf("delete staff hours: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO staff_hours
		(branch_id, staff_id, date, hour, busy, in_benchmark, in_gray)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range facts {
		_, err := stmt.ExecContext(ctx,
			f.BranchID, f.StaffID, f.Date, f.Hour,
			boolInt(f.Busy), boolInt(f.InBenchmark), boolInt(f.InGray))
		if err != nil {
			return fmt.Errorf("insert staff hour: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) BusyStaffHours(ctx context.Context, branchID int64, from, to string) ([]store.StaffHourFact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT branch_id, staff_id, date, hour, busy, in_benchmark, in_gray
		 FROM staff_hours
		 WHERE branch_id = ? AND date >= ? AND date <= ? AND busy = 1
		 ORDER BY date, hour, staff_id`,
		branchID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.StaffHourFact
	for rows.Next() {
		var f store.StaffHourFact
		var busy, bench, gray int
		if err := rows.Scan(&f.BranchID, &f.StaffID, &f.Date, &f.Hour, &busy, &bench, &gray); err != nil {
			return nil, err
		}
		f.Busy = busy != 0
		f.InBenchmark = bench != 0
		f.InGray = gray != 0
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceGroupLoads(ctx context.Context, branchID int64, from, to string, loads []store.GroupHourLoad) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM group_hour_load WHERE branch_id = ? AND date >= ? AND date <= ?`,
		branchID, from, to)
	if err != nil {
		return fmt.Errorf("delete group loads: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO group_hour_load
		(branch_id, group_id, date, dow, hour, busy_count, staff_total, load_pct, in_benchmark)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, l := range loads {
		_, err := stmt.ExecContext(ctx,
			l.BranchID, l.GroupID, l.Date, l.DOW, l.Hour,
			l.BusyCount, l.StaffTotal, l.LoadPct, boolInt(l.InBenchmark))
		if err != nil {
			return fmt.Errorf("insert group load: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) GroupLoads(ctx context.Context, branchID int64, groupIDs []string, from, to string) ([]store.GroupHourLoad, error) {
	query := `SELECT branch_id, group_id, date, dow, hour, busy_count, staff_total, load_pct, in_benchmark
		 FROM group_hour_load
		 WHERE branch_id = ? AND date >= ? AND date <= ?`
	args := []any{branchID, from, to}
	if len(groupIDs) > 0 {
		query += ` AND group_id IN (` + placeholders(len(groupIDs)) + `)`
		for _, id := range groupIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY date, group_id, hour`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.GroupHourLoad
	for rows.Next() {
		var l store.GroupHourLoad
		var bench int
		err := rows.Scan(&l.BranchID, &l.GroupID, &l.Date, &l.DOW, &l.Hour,
			&l.BusyCount, &l.StaffTotal, &l.LoadPct, &bench)
		if err != nil {
			return nil, err
		}
		l.InBenchmark = bench != 0
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) CreateRun(ctx context.Context, run store.EtlRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO etl_runs (run_id, run_type, started_at, status, progress, error_log)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.RunType, run.StartedAt.Format(time.RFC3339),
		string(run.Status), run.Progress, run.ErrorLog)
	return err
}

func (s *Store) SetRunProgress(ctx context.Context, runID, progress string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE etl_runs SET progress = ? WHERE run_id = ? AND status = ?`,
		progress, runID, string(store.RunRunning))
	if err != nil {
		return err
	}
	return s.checkRunTouched(ctx, res, runID)
}

func (s *Store) AppendRunError(ctx context.Context, runID, text string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE etl_runs SET error_log = error_log || char(10) || ? WHERE run_id = ?`,
		text, runID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrRunNotFound
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, runID string, status store.RunStatus, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE etl_runs SET status = ?, finished_at = ? WHERE run_id = ? AND status = ?`,
		string(status), finishedAt.Format(time.RFC3339), runID, string(store.RunRunning))
	if err != nil {
		return err
	}
	return s.checkRunTouched(ctx, res, runID)
}

// checkRunTouched distinguishes a missing run from one that already reached
// a terminal status when a guarded update hit no rows.
func (s *Store) checkRunTouched(ctx context.Context, res sql.Result, runID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM etl_runs WHERE run_id = ?`, runID).Scan(&status)
	if err == sql.ErrNoRows {
		return store.ErrRunNotFound
	}
	if err != nil {
		return err
	}
	return store.ErrRunFinished
}

func (s *Store) GetRun(ctx context.Context, runID string) (store.EtlRun, error) {
	var run store.EtlRun
	var status, started string
	var finished sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, run_type, started_at, finished_at, status, progress, error_log
		 FROM etl_runs WHERE run_id = ?`, runID).
		Scan(&run.RunID, &run.RunType, &started, &finished, &status, &run.Progress, &run.ErrorLog)
	if err == sql.ErrNoRows {
		return store.EtlRun{}, store.ErrRunNotFound
	}
	if err != nil {
		return store.EtlRun{}, err
	}
	run.Status = store.RunStatus(status)
	if run.StartedAt, err = time.Parse(time.RFC3339, started); err != nil {
		return store.EtlRun{}, fmt.Errorf("parse started_at: %w", err)
	}
	if finished.Valid {
		t, err := time.Parse(time.RFC3339, finished.String)
		if err != nil {
			return store.EtlRun{}, fmt.Errorf("parse finished_at: %w", err)
		}
		run.FinishedAt = &t
	}
	return run, nil
}

func (s *Store) UpsertDailyMetrics(ctx context.Context, facts []store.DailyMetricFact) error {
	if len(facts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO manual_sheet_daily
		(branch_code, metric_code, date, value, source)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range facts {
		_, err := stmt.ExecContext(ctx, f.BranchCode, f.MetricCode, f.Date, f.Value.String(), f.Source)
		if err != nil {
			return fmt.Errorf("upsert metric %s/%s: %w", f.MetricCode, f.Date, err)
		}
	}
	return tx.Commit()
}

func (s *Store) DailyMetrics(ctx context.Context, branchCode, from, to string, codes []string) ([]store.DailyMetricFact, error) {
	query := `SELECT branch_code, metric_code, date, value, source
		 FROM manual_sheet_daily
		 WHERE branch_code = ? AND date >= ? AND date <= ?`
	args := []any{branchCode, from, to}
	if len(codes) > 0 {
		query += ` AND metric_code IN (` + placeholders(len(codes)) + `)`
		for _, code := range codes {
			args = append(args, code)
		}
	}
	query += ` ORDER BY metric_code, date`

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO plans_monthly (branch_code, metric_code, month_start, value)
		 VALUES (?, ?, ?, ?)`,
		plan.BranchCode, plan.MetricCode, plan.MonthStart, plan.Value.String())
	return err
}

func (s *Store) Plans(ctx context.Context, branchCode, monthStart string) ([]store.MonthlyPlan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT branch_code, metric_code, month_start, value
		 FROM plans_monthly
		 WHERE branch_code = ? AND month_start = ?
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
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO branches (code, name, yclients_id) VALUES (?, ?, ?)`,
		b.Code, b.Name, b.YClientsID)
	return err
}

func (s *Store) Branches(ctx context.Context) ([]store.Branch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, name, yclients_id FROM branches ORDER BY code`)
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

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

var _ store.Store = (*Store)(nil)
