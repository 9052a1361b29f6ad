package attendance

import (
	"time"

	"github.com/volatiletech/null/v8"
)

// Recognition upsert and aggregation rules, independent of any storage
// engine. Repositories run these inside their own atomic section so that
// concurrent arrivals never lose a LastSeenAt update and never flip-flop
// the once-decided lateness fields.

// DelayMinutes is the whole number of minutes between session start and a
// sighting. Clock skew that makes a sighting appear to precede session
// start is clamped to zero, never treated as an error.
func DelayMinutes(sessionStart, seenAt time.Time) int {
	delay := int(seenAt.Sub(sessionStart) / time.Minute)
	if delay < 0 {
		return 0
	}
	return delay
}

// HourIndex is the zero-based one-hour slice of the session a sighting
// falls into.
func HourIndex(delayMinutes int) int {
	return delayMinutes / 60
}

// TotalHours computes the session duration in minutes (floored at 1) and
// the number of hour buckets (ceil of hours, floored at 1, capped at
// maxHours to bound worst-case work for pathologically long sessions).
func TotalHours(startedAt, endedAt time.Time, maxHours int) (durationMinutes, totalHours int) {
	durationMinutes = int(endedAt.Sub(startedAt) / time.Minute)
	if durationMinutes < 1 {
		durationMinutes = 1
	}
	totalHours = (durationMinutes + 59) / 60
	if totalHours < 1 {
		totalHours = 1
	}
	if maxHours > 0 && totalHours > maxHours {
		totalHours = maxHours
	}
	return durationMinutes, totalHours
}

// FoldRecognition returns the attendance record as it must be stored
// after observing one sighting. With no existing record, lateness and
// arrival delay are decided now and fixed forever; with an existing one,
// only the seen-at bounds and the presence flag may change.
func FoldRecognition(existing *AttendanceRecord, sessionID string, studentID int, sessionStart, seenAt time.Time, graceMinutes int) AttendanceRecord {
	if existing == nil {
		delay := DelayMinutes(sessionStart, seenAt)
		return AttendanceRecord{
			SessionID:           sessionID,
			StudentID:           studentID,
			FirstSeenAt:         null.TimeFrom(seenAt),
			LastSeenAt:          null.TimeFrom(seenAt),
			IsPresent:           true,
			IsLate:              delay > graceMinutes,
			ArrivalDelayMinutes: null.IntFrom(delay),
		}
	}

	rec := *existing
	if !rec.FirstSeenAt.Valid || seenAt.Before(rec.FirstSeenAt.Time) {
		rec.FirstSeenAt = null.TimeFrom(seenAt)
	}
	if !rec.LastSeenAt.Valid || seenAt.After(rec.LastSeenAt.Time) {
		rec.LastSeenAt = null.TimeFrom(seenAt)
	}
	rec.IsPresent = true
	return rec
}
