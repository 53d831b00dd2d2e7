// Package report builds the read-side views: occupancy heatmap grids,
// month reports with plan deltas, and the month overview with anomaly
// signals. Everything here is a pure read over committed state.
package report

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dp-cuteam/yclients-heatmap/internal/fin"
	"github.com/dp-cuteam/yclients-heatmap/internal/schedule"
	"github.com/dp-cuteam/yclients-heatmap/internal/store"
)

// HeatmapCell is one hour of one day for a group.
type HeatmapCell struct {
	LoadPct     float64 `json:"load_pct"`
	BusyCount   int     `json:"busy_count"`
	StaffTotal  int     `json:"staff_total"`
	InBenchmark bool    `json:"in_benchmark"`
}

// HeatmapDay is a full day of 24 hour cells.
type HeatmapDay struct {
	Date  string          `json:"date"`
	DOW   int             `json:"dow"`
	Hours [24]HeatmapCell `json:"hours"`
}

// Heatmap is the dense hours × days occupancy grid for one group.
// Cells without data are zero-filled.
type Heatmap struct {
	BranchID int64        `json:"branch_id"`
	GroupID  string       `json:"group_id"`
	From     string       `json:"from"`
	To       string       `json:"to"`
	Days     []HeatmapDay `json:"days"`
}

// Service reads aggregates for callers. All methods are stateless and
// side-effect free; they may run concurrently with each other and with an
// in-flight rebuild.
type Service struct {
	store store.Store
	load  LoadSource
}

// NewService builds a report service. load may be nil when no occupancy
// data feeds the financial views.
func NewService(st store.Store, load LoadSource) *Service {
	return &Service{store: st, load: load}
}

// Heatmap returns the dense grid for a branch, group and inclusive date
// range.
func (s *Service) Heatmap(ctx context.Context, branchID int64, groupID string, from, to time.Time) (Heatmap, error) {
	fromStr := from.Format(store.DateLayout)
	toStr := to.Format(store.DateLayout)
	rows, err := s.store.GroupLoads(ctx, branchID, []string{groupID}, fromStr, toStr)
	if err != nil {
		return Heatmap{}, fmt.Errorf("load group rows: %w", err)
	}

	byDate := make(map[string][]store.GroupHourLoad)
	for _, row := range rows {
		byDate[row.Date] = append(byDate[row.Date], row)
	}

	out := Heatmap{BranchID: branchID, GroupID: groupID, From: fromStr, To: toStr}
	for _, day := range fin.DateRange(from, to) {
		dateStr := day.Format(store.DateLayout)
		hd := HeatmapDay{Date: dateStr, DOW: isoWeekday(day)}
		for hour := 0; hour < 24; hour++ {
			hd.Hours[hour].InBenchmark = schedule.InBenchmark(hour)
		}
		for _, row := range byDate[dateStr] {
			if row.Hour < 0 || row.Hour > 23 {
				continue
			}
			hd.Hours[row.Hour] = HeatmapCell{
				LoadPct:     row.LoadPct,
				BusyCount:   row.BusyCount,
				StaffTotal:  row.StaffTotal,
				InBenchmark: row.InBenchmark,
			}
		}
		out.Days = append(out.Days, hd)
	}
	return out, nil
}

// LoadSource supplies the per-day occupancy percentage that feeds the
// financial views as the load_percent metric.
type LoadSource interface {
	DailyLoad(ctx context.Context, branchCode string, from, to time.Time) (fin.Series, error)
}

// GroupLoadSource derives the daily load series from group-hour rows: the
// mean benchmark-hour load across the branch's target groups, rounded to
// two decimals per day. Days without any rows are absent, not zero.
type GroupLoadSource struct {
	store     store.Store
	groups    schedule.GroupConfig
	groupName string
}

// NewGroupLoadSource builds a source over the groups whose name matches
// groupName per branch.
func NewGroupLoadSource(st store.Store, groups schedule.GroupConfig, groupName string) *GroupLoadSource {
	return &GroupLoadSource{store: st, groups: groups, groupName: groupName}
}

func (s *GroupLoadSource) DailyLoad(ctx context.Context, branchCode string, from, to time.Time) (fin.Series, error) {
	branchID, err := s.branchID(ctx, branchCode)
	if err != nil || branchID == 0 {
		return nil, err
	}
	groupIDs := schedule.GroupIDsByName(s.groups, branchID, s.groupName)
	if len(groupIDs) == 0 {
		return nil, nil
	}

	rows, err := s.store.GroupLoads(ctx, branchID, groupIDs, from.Format(store.DateLayout), to.Format(store.DateLayout))
	if err != nil {
		return nil, err
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, row := range rows {
		if !row.InBenchmark {
			continue
		}
		sums[row.Date] += row.LoadPct
		counts[row.Date]++
	}

	series := make(fin.Series, len(sums))
	for date, total := range sums {
		avg := math.Round(total/float64(counts[date])*100) / 100
		series[date] = decimal.NewFromFloat(avg)
	}
	return series, nil
}

func (s *GroupLoadSource) branchID(ctx context.Context, branchCode string) (int64, error) {
	branches, err := s.store.Branches(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range branches {
		if b.Code == branchCode {
			return b.YClientsID, nil
		}
	}
	return 0, nil
}

func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
