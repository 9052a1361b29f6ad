package attendance

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
)

// Session statuses. A session transitions active -> finalized exactly
// once; a finalized session can never regress to active.
const (
	StatusActive    = "active"
	StatusFinalized = "finalized"
)

// HourAttendance sources: hour buckets marked by recognition events take
// precedence over system-seeded absence defaults.
const (
	SourceEvent  = "event"
	SourceSystem = "system"
)

// Email dispatch log statuses.
const (
	EmailStatusDryRun = "DRY_RUN"
	EmailStatusQueued = "QUEUED"
	EmailStatusFailed = "FAILED"
)

// Session identifies one meeting instance of a course.
type Session struct {
	ID        string    `json:"session_id" db:"id"` // uuid
	CourseID  int       `json:"course_id" db:"course_id"`
	StartedAt time.Time `json:"started_at" db:"started_at"` // UTC
	EndedAt   null.Time `json:"ended_at" db:"ended_at"`     // UTC
	Status    string    `json:"status" db:"status"`
}

func (s Session) IsActive() bool    { return s.Status == StatusActive }
func (s Session) IsFinalized() bool { return s.Status == StatusFinalized }

// RecognitionEvent is an append-only log entry for one inbound detection.
// A null StudentID means the detection was unmatched. Events are never
// mutated or deleted.
type RecognitionEvent struct {
	ID           int64        `json:"id" db:"id"`
	SessionID    string       `json:"session_id" db:"session_id"`
	StudentID    null.Int     `json:"student_id" db:"student_id"`
	RecognizedAt time.Time    `json:"recognized_at" db:"recognized_at"` // UTC
	Confidence   null.Float64 `json:"confidence" db:"confidence"`
	EngineMode   string       `json:"engine_mode" db:"engine_mode"`
	Notes        null.String  `json:"notes" db:"notes"`
}

// AttendanceRecord holds one student's presence state for one session.
// Lateness and arrival delay are decided once, at first sighting, and
// never revised by later events.
type AttendanceRecord struct {
	SessionID           string    `json:"session_id" db:"session_id"`
	StudentID           int       `json:"student_id" db:"student_id"`
	FirstSeenAt         null.Time `json:"first_seen_at" db:"first_seen_at"` // UTC
	LastSeenAt          null.Time `json:"last_seen_at" db:"last_seen_at"`   // UTC
	IsPresent           bool      `json:"is_present" db:"is_present"`
	IsLate              bool      `json:"is_late" db:"is_late"`
	ArrivalDelayMinutes null.Int  `json:"arrival_delay_minutes" db:"arrival_delay_minutes"`
}

// HourAttendance records presence for one zero-based one-hour slice of a
// session, per student.
type HourAttendance struct {
	SessionID string `json:"session_id" db:"session_id"`
	StudentID int    `json:"student_id" db:"student_id"`
	HourIndex int    `json:"hour_index" db:"hour_index"`
	IsPresent bool   `json:"is_present" db:"is_present"`
	Source    string `json:"source" db:"source"`
}

// SessionSummary is the FinalizeSession result. Aggregated is false when
// the session had already been finalized and no new aggregation ran.
type SessionSummary struct {
	SessionID       string    `json:"session_id"`
	CourseID        int       `json:"course_id"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationMinutes int       `json:"duration_minutes"`
	TotalHours      int       `json:"total_hours"`
	Aggregated      bool      `json:"aggregated"`
}

// StudentAttendance is one row of the per-session attendance listing;
// students without a record appear absent with zero values.
type StudentAttendance struct {
	StudentID           int       `json:"student_id" db:"student_id"`
	StudentCode         string    `json:"student_code" db:"student_code"`
	FullName            string    `json:"full_name" db:"full_name"`
	FirstSeenAt         null.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt          null.Time `json:"last_seen_at" db:"last_seen_at"`
	IsPresent           bool      `json:"is_present" db:"is_present"`
	IsLate              bool      `json:"is_late" db:"is_late"`
	ArrivalDelayMinutes null.Int  `json:"arrival_delay_minutes" db:"arrival_delay_minutes"`
}

// Absentee identifies a mail recipient for a session's absence report;
// absence is read off the AttendanceRecord presence flag, not cumulative
// totals.
type Absentee struct {
	StudentID int    `json:"student_id" db:"student_id"`
	Code      string `json:"student_code" db:"student_code"`
	Name      string `json:"full_name" db:"full_name"`
	Email     string `json:"email" db:"email"`
}

// EmailLog records one absentee report dispatch attempt.
type EmailLog struct {
	ID             int64       `json:"id" db:"id"`
	SessionID      string      `json:"session_id" db:"session_id"`
	StudentID      int         `json:"student_id" db:"student_id"`
	RecipientEmail string      `json:"recipient_email" db:"recipient_email"`
	SubjectLine    string      `json:"subject_line" db:"subject_line"`
	Status         string      `json:"status" db:"status"`
	ErrorMessage   null.String `json:"error_message" db:"error_message"`
	SentAt         time.Time   `json:"sent_at" db:"sent_at"` // UTC
}

// NewSession contains information needed to start a session.
type NewSession struct {
	CourseID  int        `json:"course_id" validate:"required,gt=0"`
	StartedAt *time.Time `json:"started_at"`
}

func (ns *NewSession) Validate() error { return core.Validate.Struct(ns) }

// NewRecognition is one inbound detection from the recognition source.
// A nil StudentID is an unmatched face: logged, never forwarded into
// attendance logic.
type NewRecognition struct {
	SessionID    string     `json:"-"`
	StudentID    *int       `json:"student_id" validate:"omitempty,gt=0"`
	RecognizedAt *time.Time `json:"recognized_at"`
	Confidence   *float64   `json:"confidence" validate:"omitempty,gte=0,lte=1"`
	EngineMode   string     `json:"engine_mode" validate:"omitempty,max=30"`
	Notes        string     `json:"notes" validate:"omitempty,max=255"`
}

func (nr *NewRecognition) Validate() error {
	nr.EngineMode = core.CleanString(nr.EngineMode, true /* lower */)
	nr.Notes = core.CleanString(nr.Notes)
	return core.Validate.Struct(nr)
}

// ManualAttendance is a manual override that bypasses the event-upsert
// rules entirely.
type ManualAttendance struct {
	IsPresent           bool       `json:"is_present"`
	IsLate              bool       `json:"is_late"`
	ArrivalDelayMinutes *int       `json:"arrival_delay_minutes" validate:"omitempty,gte=0"`
	MarkedAt            *time.Time `json:"marked_at"`
}

func (ma *ManualAttendance) Validate() error { return core.Validate.Struct(ma) }
