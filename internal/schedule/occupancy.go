package schedule

import (
	"sort"
	"time"

	"github.com/dp-cuteam/yclients-heatmap/internal/store"
)

// Benchmark hours are the operating hours counted toward official
// utilization reporting; gray hours are tracked separately. This boundary
// is the single canonical policy for all computed rows.
const (
	BenchmarkStartHour = 10
	BenchmarkEndHour   = 21 // inclusive
)

// InBenchmark reports whether the hour counts toward benchmark load.
func InBenchmark(hour int) bool {
	return hour >= BenchmarkStartHour && hour <= BenchmarkEndHour
}

// InGray reports whether the hour falls outside the benchmark window.
func InGray(hour int) bool {
	return hour < BenchmarkStartHour || hour > BenchmarkEndHour
}

// BuildStaffHours expands visit intervals into per-staff per-hour busy
// facts. Each interval [start, end) marks every clock hour from the
// truncated start up to but excluding the end instant. Overlapping
// intervals for the same staff and hour collapse into a single fact.
func BuildStaffHours(intervals []store.VisitInterval) []store.StaffHourFact {
	type key struct {
		staffID int64
		date    string
		hour    int
	}
	facts := make(map[key]store.StaffHourFact)
	for _, iv := range intervals {
		for hourStart := truncateHour(iv.Start); hourStart.Before(iv.End); hourStart = hourStart.Add(time.Hour) {
			hour := hourStart.Hour()
			k := key{iv.StaffID, hourStart.Format(store.DateLayout), hour}
			facts[k] = store.StaffHourFact{
				BranchID:    iv.BranchID,
				StaffID:     iv.StaffID,
				Date:        k.date,
				Hour:        hour,
				Busy:        true,
				InBenchmark: InBenchmark(hour),
				InGray:      InGray(hour),
			}
		}
	}

	out := make([]store.StaffHourFact, 0, len(facts))
	for _, f := range facts {
		out = append(out, f)
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
	return out
}

// truncateHour floors t to the top of its wall-clock hour.
func truncateHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}
