package attendance

import (
	"testing"
	"time"
)

var sessionStart = time.Date(2021, 3, 1, 9, 0, 0, 0, time.UTC)

func TestDelayMinutes(t *testing.T) {
	tests := []struct {
		name   string
		seenAt time.Time
		want   int
	}{
		{name: "on time", seenAt: sessionStart, want: 0},
		{name: "sub-minute delay floors to zero", seenAt: sessionStart.Add(59 * time.Second), want: 0},
		{name: "twelve minutes in", seenAt: sessionStart.Add(12 * time.Minute), want: 12},
		{name: "clock skew before start clamps to zero", seenAt: sessionStart.Add(-5 * time.Minute), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DelayMinutes(sessionStart, tt.seenAt); got != tt.want {
				t.Errorf("DelayMinutes() = %d; want %d", got, tt.want)
			}
		})
	}
}

func TestHourIndex(t *testing.T) {
	tests := []struct {
		delay int
		want  int
	}{
		{delay: 0, want: 0},
		{delay: 59, want: 0},
		{delay: 60, want: 1},
		{delay: 125, want: 2},
	}
	for _, tt := range tests {
		if got := HourIndex(tt.delay); got != tt.want {
			t.Errorf("HourIndex(%d) = %d; want %d", tt.delay, got, tt.want)
		}
	}
}

func TestTotalHours(t *testing.T) {
	tests := []struct {
		name      string
		endedAt   time.Time
		maxHours  int
		wantMin   int
		wantHours int
	}{
		{name: "125 minutes ceil to 3 hours", endedAt: sessionStart.Add(125 * time.Minute), maxHours: 512, wantMin: 125, wantHours: 3},
		{name: "exact hours do not round up", endedAt: sessionStart.Add(2 * time.Hour), maxHours: 512, wantMin: 120, wantHours: 2},
		{name: "instant session floors to 1 minute and 1 hour", endedAt: sessionStart, maxHours: 512, wantMin: 1, wantHours: 1},
		{name: "end before start floors too", endedAt: sessionStart.Add(-time.Hour), maxHours: 512, wantMin: 1, wantHours: 1},
		{name: "pathological duration capped", endedAt: sessionStart.AddDate(1, 0, 0), maxHours: 512, wantMin: 525600, wantHours: 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotMin, gotHours := TotalHours(sessionStart, tt.endedAt, tt.maxHours)
			if gotMin != tt.wantMin || gotHours != tt.wantHours {
				t.Errorf("TotalHours() = (%d, %d); want (%d, %d)", gotMin, gotHours, tt.wantMin, tt.wantHours)
			}
		})
	}
}

func TestFoldRecognitionFirstSighting(t *testing.T) {
	seenAt := sessionStart.Add(12 * time.Minute)

	rec := FoldRecognition(nil, "sess-1", 7, sessionStart, seenAt, 10)

	if !rec.IsPresent {
		t.Error("first sighting must mark the student present")
	}
	if !rec.IsLate {
		t.Error("12min delay with a 10min grace must be late")
	}
	if rec.ArrivalDelayMinutes.Int != 12 {
		t.Errorf("ArrivalDelayMinutes = %d; want 12", rec.ArrivalDelayMinutes.Int)
	}
	if !rec.FirstSeenAt.Time.Equal(seenAt) || !rec.LastSeenAt.Time.Equal(seenAt) {
		t.Error("first sighting must set both seen-at bounds")
	}
}

func TestFoldRecognitionWithinGrace(t *testing.T) {
	rec := FoldRecognition(nil, "sess-1", 7, sessionStart, sessionStart.Add(10*time.Minute), 10)
	if rec.IsLate {
		t.Error("arrival exactly at the grace boundary must not be late")
	}
}

func TestFoldRecognitionLatenessDecidedOnce(t *testing.T) {
	first := sessionStart.Add(12 * time.Minute)
	rec := FoldRecognition(nil, "sess-1", 7, sessionStart, first, 10)

	// later sightings, in and out of order
	for _, offset := range []time.Duration{40 * time.Minute, 5 * time.Minute, 90 * time.Minute} {
		rec = FoldRecognition(&rec, "sess-1", 7, sessionStart, sessionStart.Add(offset), 10)
	}

	if !rec.IsLate {
		t.Error("lateness must survive later sightings")
	}
	if rec.ArrivalDelayMinutes.Int != 12 {
		t.Errorf("ArrivalDelayMinutes = %d; want the original 12", rec.ArrivalDelayMinutes.Int)
	}
	if want := sessionStart.Add(5 * time.Minute); !rec.FirstSeenAt.Time.Equal(want) {
		t.Errorf("FirstSeenAt = %v; want the earliest sighting %v", rec.FirstSeenAt.Time, want)
	}
	if want := sessionStart.Add(90 * time.Minute); !rec.LastSeenAt.Time.Equal(want) {
		t.Errorf("LastSeenAt = %v; want the latest sighting %v", rec.LastSeenAt.Time, want)
	}
	if rec.FirstSeenAt.Time.After(rec.LastSeenAt.Time) {
		t.Error("FirstSeenAt must never exceed LastSeenAt")
	}
}

func TestFoldRecognitionRevivesManualAbsent(t *testing.T) {
	manual := AttendanceRecord{SessionID: "sess-1", StudentID: 7, IsPresent: false}

	rec := FoldRecognition(&manual, "sess-1", 7, sessionStart, sessionStart.Add(30*time.Minute), 10)

	if !rec.IsPresent {
		t.Error("a sighting must flip an absent record to present")
	}
	if rec.IsLate {
		t.Error("lateness of an existing record must stay untouched")
	}
	if !rec.FirstSeenAt.Valid || !rec.LastSeenAt.Valid {
		t.Error("seen-at bounds must be filled from the sighting")
	}
}
