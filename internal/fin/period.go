package fin

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// WeekChunk is a contiguous slice of a day list forming one reporting week.
// Indexes are inclusive positions into the day list the chunk was built
// from.
type WeekChunk struct {
	StartIdx int
	EndIdx   int
	Start    time.Time
	End      time.Time
}

// Week is an absolute Monday-start calendar week.
type Week struct {
	Start time.Time
	End   time.Time
}

// ParseMonth parses a "YYYY-MM" value into the first day of that month.
func ParseMonth(value string) (time.Time, error) {
	t, err := time.Parse("2006-01", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("month must be in YYYY-MM format: %w", err)
	}
	return t, nil
}

// MonthEnd returns the last day of the month containing monthStart.
func MonthEnd(monthStart time.Time) time.Time {
	return monthStart.AddDate(0, 1, 0).AddDate(0, 0, -1)
}

// PrevMonthStart returns the first day of the preceding month.
func PrevMonthStart(monthStart time.Time) time.Time {
	return monthStart.AddDate(0, -1, 0)
}

// MonthDays lists every day of the month containing monthStart.
func MonthDays(monthStart time.Time) []time.Time {
	return DateRange(monthStart, MonthEnd(monthStart))
}

// DateRange lists every day from start to end inclusive.
func DateRange(start, end time.Time) []time.Time {
	var days []time.Time
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		days = append(days, day)
	}
	return days
}

// WeekChunks partitions a day list into Monday-start weeks: a chunk closes
// on every Sunday and at the end of the list. The chunks are contiguous,
// non-overlapping, and cover every day exactly once.
func WeekChunks(days []time.Time) []WeekChunk {
	var chunks []WeekChunk
	startIdx := 0
	for idx, day := range days {
		if day.Weekday() == time.Sunday || idx == len(days)-1 {
			chunks = append(chunks, WeekChunk{
				StartIdx: startIdx,
				EndIdx:   idx,
				Start:    days[startIdx],
				End:      days[idx],
			})
			startIdx = idx + 1
		}
	}
	return chunks
}

// WeekStart returns the Monday of the week containing t.
func WeekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

// LastNWeeks returns the n calendar weeks ending with the week containing
// end, oldest first.
func LastNWeeks(end time.Time, n int) []Week {
	endStart := WeekStart(end)
	weeks := make([]Week, 0, n)
	for offset := n - 1; offset >= 0; offset-- {
		start := endStart.AddDate(0, 0, -7*offset)
		weeks = append(weeks, Week{Start: start, End: start.AddDate(0, 0, 6)})
	}
	return weeks
}

// DateKeys formats days with the canonical date layout.
func DateKeys(days []time.Time) []string {
	keys := make([]string, len(days))
	for i, day := range days {
		keys[i] = day.Format(dateLayout)
	}
	return keys
}
