// Package store defines the persisted entities of the reporting backend and
// the repository interface implemented once per backend (sqlite, postgres,
// memory). All writes are upserts keyed by natural composite keys; the
// occupancy tables are additionally replaced wholesale per branch and date
// range so that pipeline reruns leave no residue.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical on-disk date format (ISO, date only).
const DateLayout = "2006-01-02"

var (
	// ErrRunNotFound is returned when an ETL run id does not exist.
	ErrRunNotFound = errors.New("etl run not found")

	// ErrRunFinished is returned when mutating a run that already reached a
	// terminal status.
	ErrRunFinished = errors.New("etl run already finished")
)

// VisitInterval is a normalized booking: a staff member occupied from Start
// (inclusive) to End (exclusive). Only attended visits survive
// normalization.
type VisitInterval struct {
	BranchID   int64
	StaffID    int64
	RecordID   int64
	Start      time.Time
	End        time.Time
	Attendance int
	UpdatedAt  string
}

// StaffHourFact marks one staff member busy for one clock hour.
// Keyed by (branch, staff, date, hour); rebuilt wholesale per run.
type StaffHourFact struct {
	BranchID    int64
	StaffID     int64
	Date        string // DateLayout
	Hour        int    // 0-23
	Busy        bool
	InBenchmark bool
	InGray      bool
}

// GroupHourLoad is the per-resource-group occupancy for one hour of one day.
// LoadPct is rounded to two decimals at aggregation time and never
// re-rounded downstream.
type GroupHourLoad struct {
	BranchID    int64
	GroupID     string
	Date        string // DateLayout
	DOW         int    // ISO day of week, Monday=1
	Hour        int    // 0-23
	BusyCount   int
	StaffTotal  int
	LoadPct     float64
	InBenchmark bool
}

// RunStatus is the lifecycle state of an ETL run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFailed
}

// EtlRun records the lifecycle of one normalization+aggregation batch.
type EtlRun struct {
	RunID      string
	RunType    string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Progress   string
	ErrorLog   string
}

// DailyMetricFact is one manually reported financial figure, unique per
// (branch, metric, day).
type DailyMetricFact struct {
	BranchCode string
	MetricCode string
	Date       string // DateLayout
	Value      decimal.Decimal
	Source     string
}

// MonthlyPlan is a target figure for one branch, metric and calendar month.
type MonthlyPlan struct {
	BranchCode string
	MetricCode string
	MonthStart string // DateLayout, first of month
	Value      decimal.Decimal
}

// Branch is a known location, identified by its reporting code.
type Branch struct {
	Code       string
	Name       string
	YClientsID int64
}

// OccupancyStore persists the occupancy side of the pipeline.
type OccupancyStore interface {
	// UpsertRawRecords writes normalized intervals keyed by
	// (branch, record), last write wins.
	UpsertRawRecords(ctx context.Context, recs []VisitInterval) error

	// ReplaceStaffHours deletes every staff-hour fact for the branch and
	// inclusive date range, then inserts the given facts.
	ReplaceStaffHours(ctx context.Context, branchID int64, from, to string, facts []StaffHourFact) error

	// BusyStaffHours returns busy facts for the branch and range.
	BusyStaffHours(ctx context.Context, branchID int64, from, to string) ([]StaffHourFact, error)

	// ReplaceGroupLoads deletes every group-load row for the branch and
	// inclusive date range, then inserts the given rows.
	ReplaceGroupLoads(ctx context.Context, branchID int64, from, to string, rows []GroupHourLoad) error

	// GroupLoads returns load rows for the branch, groups and range.
	// An empty groupIDs slice matches all groups.
	GroupLoads(ctx context.Context, branchID int64, groupIDs []string, from, to string) ([]GroupHourLoad, error)
}

// RunStore persists ETL run lifecycle rows.
type RunStore interface {
	CreateRun(ctx context.Context, run EtlRun) error

	// SetRunProgress overwrites the free-text progress of a running run.
	SetRunProgress(ctx context.Context, runID, progress string) error

	// AppendRunError appends text to the run's error log with a leading
	// newline; earlier entries are never overwritten.
	AppendRunError(ctx context.Context, runID, text string) error

	// FinishRun transitions a running run to a terminal status and stamps
	// finished_at exactly once.
	FinishRun(ctx context.Context, runID string, status RunStatus, finishedAt time.Time) error

	GetRun(ctx context.Context, runID string) (EtlRun, error)
}

// MetricStore persists the financial side.
type MetricStore interface {
	UpsertDailyMetrics(ctx context.Context, facts []DailyMetricFact) error

	// DailyMetrics returns facts for the branch and inclusive date range.
	// An empty codes slice matches all metric codes.
	DailyMetrics(ctx context.Context, branchCode, from, to string, codes []string) ([]DailyMetricFact, error)

	UpsertPlan(ctx context.Context, plan MonthlyPlan) error
	Plans(ctx context.Context, branchCode, monthStart string) ([]MonthlyPlan, error)

	UpsertBranch(ctx context.Context, b Branch) error
	Branches(ctx context.Context) ([]Branch, error)
}

// Store is the full repository contract shared by all backends.
type Store interface {
	OccupancyStore
	RunStore
	MetricStore

	// InitSchema creates tables when missing. Safe to call repeatedly.
	InitSchema(ctx context.Context) error

	Close() error
}
