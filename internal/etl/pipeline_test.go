package etl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dp-cuteam/yclients-heatmap/internal/schedule"
	"github.com/dp-cuteam/yclients-heatmap/internal/store"
	"github.com/dp-cuteam/yclients-heatmap/internal/yclients"
)

type fakeSource struct {
	records map[int64][]yclients.Record
	err     error
	calls   int
}

func (f *fakeSource) GetRecords(ctx context.Context, companyID int64, startDate, endDate string, page, count int) (yclients.RecordsPage, error) {
	f.calls++
	if f.err != nil {
		return yclients.RecordsPage{}, f.err
	}
	recs := f.records[companyID]
	if page > 1 {
		return yclients.RecordsPage{TotalCount: len(recs)}, nil
	}
	return yclients.RecordsPage{Records: recs, TotalCount: len(recs)}, nil
}

type fakeDirectory struct {
	staff map[int64][]schedule.StaffMember
}

func (f *fakeDirectory) Staff(ctx context.Context, branchID int64) ([]schedule.StaffMember, error) {
	return f.staff[branchID], nil
}

func (f *fakeDirectory) CompanyNames(ctx context.Context) (map[int64]string, error) {
	return nil, nil
}

func attendance(code int) *int { return &code }

func record(id, staffID int64, datetime string, seconds int) yclients.Record {
	return yclients.Record{
		ID:           id,
		StaffID:      staffID,
		Attendance:   attendance(1),
		Datetime:     datetime,
		SeanceLength: json.Number(fmt.Sprintf("%d", seconds)),
	}
}

func testPipeline(t *testing.T, st store.Store, source RecordSource) *Pipeline {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "groups.json")
	cfg := schedule.GroupConfig{Branches: []schedule.BranchGroups{{
		BranchID: 100,
		Groups: []schedule.Group{{
			ID:         "chairs",
			Name:       "Chairs",
			StaffNames: []string{"Anna", "Boris"},
		}},
	}}}
	require.NoError(t, schedule.SaveGroupConfig(configPath, cfg))

	return NewPipeline(Options{
		Store:  st,
		Source: source,
		Directory: &fakeDirectory{staff: map[int64][]schedule.StaffMember{100: {
			{ID: 1, Name: "Anna"},
			{ID: 2, Name: "Boris"},
		}}},
		Location:     time.UTC,
		PageSize:     50,
		ConfigPath:   configPath,
		ResolvedPath: filepath.Join(dir, "resolved.json"),
	})
}

func TestRunFullBuildsAggregates(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	source := &fakeSource{records: map[int64][]yclients.Record{100: {
		record(1, 1, "2026-08-28 10:00:00", 5400),
		record(2, 2, "2026-08-28 10:30:00", 3600),
	}}}
	p := testPipeline(t, st, source)

	from := time.Date(2026, time.August, 28, 0, 0, 0, 0, time.UTC)
	job := NewJob()
	runID, err := p.RunFull(ctx, job, from, from)
	require.NoError(t, err)
	assert.Equal(t, JobSuccess, job.Status())

	run, err := st.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSuccess, run.Status)
	assert.Equal(t, "100%", run.Progress)
	require.NotNil(t, run.FinishedAt)

	// Both staff busy 10-11, one of them through 11-12.
	loads, err := st.GroupLoads(ctx, 100, []string{"chairs"}, "2026-08-28", "2026-08-28")
	require.NoError(t, err)
	require.Len(t, loads, 24)
	byHour := make(map[int]store.GroupHourLoad)
	for _, l := range loads {
		byHour[l.Hour] = l
	}
	assert.Equal(t, 100.0, byHour[10].LoadPct)
	assert.Equal(t, 50.0, byHour[11].LoadPct)
	assert.Equal(t, 0.0, byHour[12].LoadPct)
}

func TestRunFullIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	source := &fakeSource{records: map[int64][]yclients.Record{100: {
		record(1, 1, "2026-08-28 10:00:00", 3600),
	}}}
	p := testPipeline(t, st, source)
	from := time.Date(2026, time.August, 28, 0, 0, 0, 0, time.UTC)

	_, err := p.RunFull(ctx, NewJob(), from, from)
	require.NoError(t, err)
	_, err = p.RunFull(ctx, NewJob(), from, from)
	require.NoError(t, err)

	loads, err := st.GroupLoads(ctx, 100, nil, "2026-08-28", "2026-08-28")
	require.NoError(t, err)
	assert.Len(t, loads, 24)
}

func TestRunFullRecordsFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	source := &fakeSource{err: errors.New("upstream down")}
	p := testPipeline(t, st, source)
	from := time.Date(2026, time.August, 28, 0, 0, 0, 0, time.UTC)

	job := NewJob()
	runID, err := p.RunFull(ctx, job, from, from)
	require.Error(t, err)
	assert.Equal(t, JobFailed, job.Status())
	require.Error(t, job.Err())

	run, err := st.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, run.Status)
	assert.Contains(t, run.ErrorLog, "upstream down")
}

func TestRunFullCancellation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	source := &fakeSource{}
	p := testPipeline(t, st, source)
	from := time.Date(2026, time.August, 28, 0, 0, 0, 0, time.UTC)

	job := NewJob()
	job.Cancel()
	runID, err := p.RunFull(ctx, job, from, from)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, JobFailed, job.Status())
	assert.Zero(t, source.calls)

	run, err := st.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, run.Status)
}

func TestRunDailyDefaultsToYesterday(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	source := &fakeSource{}
	p := testPipeline(t, st, source)
	p.now = func() time.Time {
		return time.Date(2026, time.August, 29, 8, 0, 0, 0, time.UTC)
	}

	_, err := p.RunDaily(ctx, NewJob(), time.Time{})
	require.NoError(t, err)

	loads, err := st.GroupLoads(ctx, 100, nil, "2026-08-28", "2026-08-28")
	require.NoError(t, err)
	assert.Len(t, loads, 24)
}

func TestRunWritesResolvedConfig(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	p := testPipeline(t, st, &fakeSource{})
	from := time.Date(2026, time.August, 28, 0, 0, 0, 0, time.UTC)

	_, err := p.RunFull(ctx, NewJob(), from, from)
	require.NoError(t, err)

	resolved, err := schedule.LoadGroupConfig(p.resolvedPath)
	require.NoError(t, err)
	require.Len(t, resolved.Branches, 1)
	assert.Equal(t, []int64{1, 2}, resolved.Branches[0].Groups[0].StaffIDs)
}

func TestStartDateFloor(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	source := &fakeSource{}
	p := testPipeline(t, st, source)
	p.startDate = "2026-08-15"

	// Range entirely before the floor is skipped without touching upstream.
	from := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, time.August, 10, 0, 0, 0, 0, time.UTC)
	_, err := p.RunFull(ctx, NewJob(), from, to)
	require.NoError(t, err)
	assert.Zero(t, source.calls)

	// Overlapping ranges are trimmed to the floor.
	to = time.Date(2026, time.August, 20, 0, 0, 0, 0, time.UTC)
	_, err = p.RunFull(ctx, NewJob(), from, to)
	require.NoError(t, err)
	assert.Positive(t, source.calls)

	loads, err := st.GroupLoads(ctx, 100, nil, "2026-08-01", "2026-08-14")
	require.NoError(t, err)
	assert.Empty(t, loads)
}

func TestTrackerLifecycle(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	tracker := NewTracker(st)

	runID, err := tracker.Start(ctx, RunTypeFull)
	require.NoError(t, err)

	run, err := st.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunRunning, run.Status)
	assert.Equal(t, "0%", run.Progress)

	tracker.Progress(ctx, runID, "branch %d", 5)
	require.NoError(t, tracker.Succeed(ctx, runID))

	run, err = st.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSuccess, run.Status)
	assert.Equal(t, "100%", run.Progress)

	// A second terminal transition is rejected.
	assert.Error(t, tracker.Fail(ctx, runID, errors.New("late")))
}
