// Package schedule turns raw booking payloads into hourly occupancy facts:
// normalization into visit intervals, interval-to-hour expansion and
// per-group load aggregation. Raw upstream shapes never escape this
// boundary.
package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dp-cuteam/yclients-heatmap/internal/logging"
	"github.com/dp-cuteam/yclients-heatmap/internal/store"
	"github.com/dp-cuteam/yclients-heatmap/internal/yclients"
)

// Attendance codes that count as an attended ("fact") visit.
const (
	AttendanceConfirmed = 1
	AttendanceArrived   = 2
)

func factAttendance(code int) bool {
	return code == AttendanceConfirmed || code == AttendanceArrived
}

// Normalizer shapes raw bookings into canonical visit intervals.
type Normalizer struct {
	loc *time.Location
	now func() time.Time
}

// NewNormalizer builds a Normalizer interpreting offset-less timestamps in
// the given location.
func NewNormalizer(loc *time.Location) *Normalizer {
	return &Normalizer{loc: loc, now: time.Now}
}

// Normalize filters and shapes raw records into visit intervals. Records
// with a non-fact attendance code, or missing staff id, record id or start
// timestamp, are dropped silently. The result is deduplicated by record id,
// last write wins, and sorted by record id.
func (n *Normalizer) Normalize(branchID int64, recs []yclients.Record) []store.VisitInterval {
	byRecord := make(map[int64]store.VisitInterval, len(recs))
	for _, rec := range recs {
		iv, ok := n.normalizeOne(branchID, rec)
		if !ok {
			continue
		}
		byRecord[iv.RecordID] = iv
	}

	out := make([]store.VisitInterval, 0, len(byRecord))
	for _, iv := range byRecord {
		out = append(out, iv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out
}

func (n *Normalizer) normalizeOne(branchID int64, rec yclients.Record) (store.VisitInterval, bool) {
	attendance := rec.Attendance
	if attendance == nil {
		attendance = rec.VisitAttendance
	}
	if attendance == nil || !factAttendance(*attendance) {
		return store.VisitInterval{}, false
	}
	if rec.StaffID == 0 || rec.ID == 0 {
		return store.VisitInterval{}, false
	}

	startRaw := rec.Datetime
	if startRaw == "" {
		startRaw = rec.Date
	}
	if startRaw == "" {
		return store.VisitInterval{}, false
	}
	start, err := ParseLocal(startRaw, n.loc)
	if err != nil {
		logging.Debug().
			Int64("record_id", rec.ID).
			Str("value", startRaw).
			Msg("skipping record with unparseable start")
		return store.VisitInterval{}, false
	}

	seconds := durationSeconds(rec)
	end := start.Add(time.Duration(seconds) * time.Second)

	updatedAt := rec.LastChangeDate
	if updatedAt == "" {
		updatedAt = rec.CreateDate
	}
	if updatedAt == "" {
		updatedAt = n.now().UTC().Format(time.RFC3339)
	}

	return store.VisitInterval{
		BranchID:   branchID,
		StaffID:    rec.StaffID,
		RecordID:   rec.ID,
		Start:      start,
		End:        end,
		Attendance: *attendance,
		UpdatedAt:  updatedAt,
	}, true
}

// durationSeconds reads the visit length from the primary field, falling
// back to the alternate, defaulting to 0 when neither parses.
func durationSeconds(rec yclients.Record) int64 {
	if v, err := rec.SeanceLength.Int64(); err == nil && v > 0 {
		return v
	}
	if v, err := rec.Length.Int64(); err == nil && v > 0 {
		return v
	}
	return 0
}

// ParseLocal parses a booking timestamp. Values with an explicit offset are
// converted into loc; offset-less values are interpreted as wall time in
// loc. Both "2006-01-02T15:04:05" and "2006-01-02 15:04:05" forms occur in
// the upstream payloads.
func ParseLocal(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty datetime value")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
	} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported datetime value %q", value)
}
