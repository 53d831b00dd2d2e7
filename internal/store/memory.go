package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Store used by tests and as a reference
// implementation of the replace/upsert semantics.
type Memory struct {
	mu sync.RWMutex

	raw     map[rawKey]VisitInterval
	hours   map[hourKey]StaffHourFact
	loads   map[loadKey]GroupHourLoad
	runs    map[string]EtlRun
	metrics map[metricKey]DailyMetricFact
	plans   map[planKey]MonthlyPlan
	branch  map[string]Branch
}

type rawKey struct {
	branchID int64
	recordID int64
}

type hourKey struct {
	branchID int64
	staffID  int64
	date     string
	hour     int
}

type loadKey struct {
	branchID int64
	groupID  string
	date     string
	hour     int
}

type metricKey struct {
	branchCode string
	metricCode string
	date       string
}

type planKey struct {
	branchCode string
	metricCode string
	monthStart string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		raw:     make(map[rawKey]VisitInterval),
		hours:   make(map[hourKey]StaffHourFact),
		loads:   make(map[loadKey]GroupHourLoad),
		runs:    make(map[string]EtlRun),
		metrics: make(map[metricKey]DailyMetricFact),
		plans:   make(map[planKey]MonthlyPlan),
		branch:  make(map[string]Branch),
	}
}

func (m *Memory) InitSchema(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) UpsertRawRecords(ctx context.Context, recs []VisitInterval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		m.raw[rawKey{rec.BranchID, rec.RecordID}] = rec
	}
	return nil
}

func (m *Memory) ReplaceStaffHours(ctx context.Context, branchID int64, from, to string, facts []StaffHourFact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.hours {
		if k.branchID == branchID && k.date >= from && k.date <= to {
			delete(m.hours, k)
		}
	}
	for _, f := range facts {
		m.hours[hourKey{f.BranchID, f.StaffID, f.Date, f.Hour}] = f
	}
	return nil
}

func (m *Memory) BusyStaffHours(ctx context.Context, branchID int64, from, to string) ([]StaffHourFact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []StaffHourFact
	for k, f := range m.hours {
		if k.branchID == branchID && k.date >= from && k.date <= to && f.Busy {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Hour != b.Hour {
			return a.Hour < b.Hour
		}
		return a.StaffID < b.StaffID
	})
	return out, nil
}

func (m *Memory) ReplaceGroupLoads(ctx context.Context, branchID int64, from, to string, rows []GroupHourLoad) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.loads {
		if k.branchID == branchID && k.date >= from && k.date <= to {
			delete(m.loads, k)
		}
	}
	for _, r := range rows {
		m.loads[loadKey{r.BranchID, r.GroupID, r.Date, r.Hour}] = r
	}
	return nil
}

func (m *Memory) GroupLoads(ctx context.Context, branchID int64, groupIDs []string, from, to string) ([]GroupHourLoad, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := make(map[string]bool, len(groupIDs))
	for _, id := range groupIDs {
		wanted[id] = true
	}
	var out []GroupHourLoad
	for k, r := range m.loads {
		if k.branchID != branchID || k.date < from || k.date > to {
			continue
		}
		if len(wanted) > 0 && !wanted[k.groupID] {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.GroupID != b.GroupID {
			return a.GroupID < b.GroupID
		}
		return a.Hour < b.Hour
	})
	return out, nil
}

func (m *Memory) CreateRun(ctx context.Context, run EtlRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.RunID] = run
	return nil
}

func (m *Memory) SetRunProgress(ctx context.Context, runID, progress string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if run.Status.Terminal() {
		return ErrRunFinished
	}
	run.Progress = progress
	m.runs[runID] = run
	return nil
}

func (m *Memory) AppendRunError(ctx context.Context, runID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	run.ErrorLog += "\n" + text
	m.runs[runID] = run
	return nil
}

func (m *Memory) FinishRun(ctx context.Context, runID string, status RunStatus, finishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if run.Status.Terminal() {
		return ErrRunFinished
	}
	run.Status = status
	run.FinishedAt = &finishedAt
	m.runs[runID] = run
	return nil
}

func (m *Memory) GetRun(ctx context.Context, runID string) (EtlRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return EtlRun{}, ErrRunNotFound
	}
	return run, nil
}

func (m *Memory) UpsertDailyMetrics(ctx context.Context, facts []DailyMetricFact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range facts {
		m.metrics[metricKey{f.BranchCode, f.MetricCode, f.Date}] = f
	}
	return nil
}

func (m *Memory) DailyMetrics(ctx context.Context, branchCode, from, to string, codes []string) ([]DailyMetricFact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := make(map[string]bool, len(codes))
	for _, c := range codes {
		wanted[c] = true
	}
	var out []DailyMetricFact
	for k, f := range m.metrics {
		if k.branchCode != branchCode || k.date < from || k.date > to {
			continue
		}
		if len(wanted) > 0 && !wanted[k.metricCode] {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MetricCode != b.MetricCode {
			return a.MetricCode < b.MetricCode
		}
		return a.Date < b.Date
	})
	return out, nil
}

func (m *Memory) UpsertPlan(ctx context.Context, plan MonthlyPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[planKey{plan.BranchCode, plan.MetricCode, plan.MonthStart}] = plan
	return nil
}

func (m *Memory) Plans(ctx context.Context, branchCode, monthStart string) ([]MonthlyPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []MonthlyPlan
	for k, p := range m.plans {
		if k.branchCode == branchCode && k.monthStart == monthStart {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetricCode < out[j].MetricCode })
	return out, nil
}

func (m *Memory) UpsertBranch(ctx context.Context, b Branch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.branch[b.Code] = b
	return nil
}

func (m *Memory) Branches(ctx context.Context) ([]Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Branch, 0, len(m.branch))
	for _, b := range m.branch {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

var _ Store = (*Memory)(nil)
