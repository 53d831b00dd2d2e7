package fin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseMonth(t *testing.T) {
	got, err := ParseMonth("2026-08")
	require.NoError(t, err)
	assert.Equal(t, day(2026, time.August, 1), got)

	_, err = ParseMonth("2026-8")
	assert.Error(t, err)
	_, err = ParseMonth("august")
	assert.Error(t, err)
}

func TestMonthEnd(t *testing.T) {
	assert.Equal(t, day(2026, time.February, 28), MonthEnd(day(2026, time.February, 1)))
	assert.Equal(t, day(2024, time.February, 29), MonthEnd(day(2024, time.February, 1)))
	assert.Equal(t, day(2026, time.August, 31), MonthEnd(day(2026, time.August, 1)))
}

func TestWeekChunksPartition(t *testing.T) {
	// August 2026 starts on a Saturday, so the first chunk is the
	// Sat+Sun stub and the last is a partial Mon-Mon week.
	days := MonthDays(day(2026, time.August, 1))
	require.Len(t, days, 31)

	chunks := WeekChunks(days)
	require.NotEmpty(t, chunks)

	// Contiguous, non-overlapping, covering every day exactly once.
	assert.Equal(t, 0, chunks[0].StartIdx)
	assert.Equal(t, len(days)-1, chunks[len(chunks)-1].EndIdx)
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].EndIdx+1, chunks[i].StartIdx)
	}

	// Every chunk but the last closes on a Sunday.
	for _, c := range chunks[:len(chunks)-1] {
		assert.Equal(t, time.Sunday, c.End.Weekday())
	}

	assert.Equal(t, day(2026, time.August, 2), chunks[0].End)
}

func TestWeekStartIsMonday(t *testing.T) {
	for offset := 0; offset < 7; offset++ {
		d := day(2026, time.August, 24).AddDate(0, 0, offset) // Mon..Sun
		assert.Equal(t, day(2026, time.August, 24), WeekStart(d), d.String())
	}
}

func TestLastNWeeksOldestFirst(t *testing.T) {
	weeks := LastNWeeks(day(2026, time.August, 26), 8)
	require.Len(t, weeks, 8)

	assert.Equal(t, day(2026, time.August, 24), weeks[7].Start)
	assert.Equal(t, day(2026, time.August, 30), weeks[7].End)
	assert.Equal(t, day(2026, time.July, 6), weeks[0].Start)
	for _, w := range weeks {
		assert.Equal(t, time.Monday, w.Start.Weekday())
		assert.Equal(t, time.Sunday, w.End.Weekday())
	}
}

func TestDateRangeInclusive(t *testing.T) {
	days := DateRange(day(2026, time.August, 30), day(2026, time.September, 2))
	require.Len(t, days, 4)
	assert.Equal(t, day(2026, time.September, 2), days[3])
}
