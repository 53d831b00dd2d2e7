package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryReplaceStaffHoursIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	facts := []StaffHourFact{
		{BranchID: 1, StaffID: 7, Date: "2026-08-01", Hour: 10, Busy: true},
		{BranchID: 1, StaffID: 7, Date: "2026-08-01", Hour: 11, Busy: true},
	}
	require.NoError(t, m.ReplaceStaffHours(ctx, 1, "2026-08-01", "2026-08-01", facts))
	require.NoError(t, m.ReplaceStaffHours(ctx, 1, "2026-08-01", "2026-08-01", facts))

	busy, err := m.BusyStaffHours(ctx, 1, "2026-08-01", "2026-08-01")
	require.NoError(t, err)
	assert.Len(t, busy, 2)
}

func TestMemoryReplaceDeletesStaleRows(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.ReplaceStaffHours(ctx, 1, "2026-08-01", "2026-08-01", []StaffHourFact{
		{BranchID: 1, StaffID: 7, Date: "2026-08-01", Hour: 10, Busy: true},
	}))
	// Rerun with a different shape: the old hour must be gone.
	require.NoError(t, m.ReplaceStaffHours(ctx, 1, "2026-08-01", "2026-08-01", []StaffHourFact{
		{BranchID: 1, StaffID: 7, Date: "2026-08-01", Hour: 14, Busy: true},
	}))

	busy, err := m.BusyStaffHours(ctx, 1, "2026-08-01", "2026-08-01")
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.Equal(t, 14, busy[0].Hour)
}

func TestMemoryReplaceIsScopedToBranchAndRange(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.ReplaceStaffHours(ctx, 1, "2026-08-01", "2026-08-01", []StaffHourFact{
		{BranchID: 1, StaffID: 7, Date: "2026-08-01", Hour: 10, Busy: true},
	}))
	require.NoError(t, m.ReplaceStaffHours(ctx, 2, "2026-08-01", "2026-08-01", []StaffHourFact{
		{BranchID: 2, StaffID: 8, Date: "2026-08-01", Hour: 10, Busy: true},
	}))
	// Replacing branch 1 again leaves branch 2 untouched.
	require.NoError(t, m.ReplaceStaffHours(ctx, 1, "2026-08-01", "2026-08-01", nil))

	busy, err := m.BusyStaffHours(ctx, 2, "2026-08-01", "2026-08-01")
	require.NoError(t, err)
	assert.Len(t, busy, 1)
}

func TestMemoryGroupLoadsFiltering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	rows := []GroupHourLoad{
		{BranchID: 1, GroupID: "a", Date: "2026-08-01", Hour: 10, LoadPct: 50},
		{BranchID: 1, GroupID: "b", Date: "2026-08-01", Hour: 10, LoadPct: 25},
		{BranchID: 1, GroupID: "a", Date: "2026-08-02", Hour: 10, LoadPct: 75},
	}
	require.NoError(t, m.ReplaceGroupLoads(ctx, 1, "2026-08-01", "2026-08-02", rows))

	got, err := m.GroupLoads(ctx, 1, []string{"a"}, "2026-08-01", "2026-08-01")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 50.0, got[0].LoadPct)

	// Empty group filter matches all groups.
	got, err = m.GroupLoads(ctx, 1, nil, "2026-08-01", "2026-08-02")
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestMemoryRunLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	started := time.Date(2026, time.August, 28, 12, 0, 0, 0, time.UTC)

	require.NoError(t, m.CreateRun(ctx, EtlRun{RunID: "r1", RunType: "full", StartedAt: started, Status: RunRunning}))
	require.NoError(t, m.SetRunProgress(ctx, "r1", "50%"))
	require.NoError(t, m.AppendRunError(ctx, "r1", "branch 5: boom"))

	finished := started.Add(time.Minute)
	require.NoError(t, m.FinishRun(ctx, "r1", RunSuccess, finished))

	run, err := m.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, RunSuccess, run.Status)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, finished, *run.FinishedAt)
	assert.Equal(t, "50%", run.Progress)
	assert.Contains(t, run.ErrorLog, "branch 5: boom")

	// Terminal runs reject further transitions and progress updates.
	assert.ErrorIs(t, m.FinishRun(ctx, "r1", RunFailed, finished), ErrRunFinished)
	assert.ErrorIs(t, m.SetRunProgress(ctx, "r1", "60%"), ErrRunFinished)
}

func TestMemoryRunNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, m.SetRunProgress(ctx, "missing", "x"), ErrRunNotFound)
	assert.ErrorIs(t, m.FinishRun(ctx, "missing", RunSuccess, time.Now()), ErrRunNotFound)
}

func TestMemoryAppendRunErrorAccumulates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateRun(ctx, EtlRun{RunID: "r1", RunType: "daily", StartedAt: time.Now(), Status: RunRunning}))

	require.NoError(t, m.AppendRunError(ctx, "r1", "first"))
	require.NoError(t, m.AppendRunError(ctx, "r1", "second"))

	run, err := m.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Contains(t, run.ErrorLog, "first")
	assert.Contains(t, run.ErrorLog, "second")
}

func TestMemoryDailyMetricsUpsertAndFilter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	facts := []DailyMetricFact{
		{BranchCode: "msk", MetricCode: "revenue_total", Date: "2026-08-01", Value: decimal.NewFromInt(100)},
		{BranchCode: "msk", MetricCode: "revenue_total", Date: "2026-08-02", Value: decimal.NewFromInt(200)},
		{BranchCode: "msk", MetricCode: "coffee_checks", Date: "2026-08-01", Value: decimal.NewFromInt(40)},
		{BranchCode: "spb", MetricCode: "revenue_total", Date: "2026-08-01", Value: decimal.NewFromInt(999)},
	}
	require.NoError(t, m.UpsertDailyMetrics(ctx, facts))

	// Upsert overwrites by (branch, metric, day).
	require.NoError(t, m.UpsertDailyMetrics(ctx, []DailyMetricFact{
		{BranchCode: "msk", MetricCode: "revenue_total", Date: "2026-08-01", Value: decimal.NewFromInt(150)},
	}))

	got, err := m.DailyMetrics(ctx, "msk", "2026-08-01", "2026-08-02", []string{"revenue_total"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Value.Equal(decimal.NewFromInt(150)))

	// Empty codes filter matches every metric.
	got, err = m.DailyMetrics(ctx, "msk", "2026-08-01", "2026-08-02", nil)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestMemoryPlansAndBranches(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.UpsertPlan(ctx, MonthlyPlan{
		BranchCode: "msk", MetricCode: "revenue_total", MonthStart: "2026-08-01", Value: decimal.NewFromInt(1000000),
	}))
	require.NoError(t, m.UpsertPlan(ctx, MonthlyPlan{
		BranchCode: "msk", MetricCode: "revenue_total", MonthStart: "2026-08-01", Value: decimal.NewFromInt(1200000),
	}))

	plans, err := m.Plans(ctx, "msk", "2026-08-01")
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.True(t, plans[0].Value.Equal(decimal.NewFromInt(1200000)))

	require.NoError(t, m.UpsertBranch(ctx, Branch{Code: "msk", Name: "Moscow", YClientsID: 100}))
	require.NoError(t, m.UpsertBranch(ctx, Branch{Code: "msk", Name: "Moscow Central", YClientsID: 100}))
	branches, err := m.Branches(ctx)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, "Moscow Central", branches[0].Name)
}
