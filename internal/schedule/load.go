package schedule

import (
	"math"
	"time"

	"github.com/dp-cuteam/yclients-heatmap/internal/store"
)

// BuildGroupLoads folds busy staff-hour facts into per-group hourly load
// rows: one row per group, day in [from, to] and hour 0-23. Group
// membership is fixed for the whole call. A group with no staff always
// yields load 0.
func BuildGroupLoads(branchID int64, groups []Group, busy []store.StaffHourFact, from, to time.Time) []store.GroupHourLoad {
	busyByDayHour := make(map[dayHour]map[int64]bool)
	for _, f := range busy {
		k := dayHour{f.Date, f.Hour}
		set := busyByDayHour[k]
		if set == nil {
			set = make(map[int64]bool)
			busyByDayHour[k] = set
		}
		set[f.StaffID] = true
	}

	var rows []store.GroupHourLoad
	for day := dateOnly(from); !day.After(dateOnly(to)); day = day.AddDate(0, 0, 1) {
		dayStr := day.Format(store.DateLayout)
		dow := isoWeekday(day)
		for hour := 0; hour < 24; hour++ {
			busySet := busyByDayHour[dayHour{dayStr, hour}]
			for _, g := range groups {
				busyCount := 0
				loadPct := 0.0
				if len(g.StaffIDs) > 0 {
					for _, staffID := range g.StaffIDs {
						if busySet[staffID] {
							busyCount++
						}
					}
					loadPct = round2(float64(busyCount) / float64(len(g.StaffIDs)) * 100)
				}
				rows = append(rows, store.GroupHourLoad{
					BranchID:    branchID,
					GroupID:     g.ID,
					Date:        dayStr,
					DOW:         dow,
					Hour:        hour,
					BusyCount:   busyCount,
					StaffTotal:  len(g.StaffIDs),
					LoadPct:     loadPct,
					InBenchmark: InBenchmark(hour),
				})
			}
		}
	}
	return rows
}

type dayHour struct {
	date string
	hour int
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// isoWeekday returns the ISO day of week, Monday=1 .. Sunday=7.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
