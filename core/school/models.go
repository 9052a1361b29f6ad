package school

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
)

type Course struct {
	ID                 int     `json:"id" db:"id"`
	Code               string  `json:"code" db:"code"`
	Name               string  `json:"name" db:"name"`
	ScheduledStartTime string  `json:"scheduled_start_time" db:"scheduled_start_time"` // "HH:MM:SS"
	LateGraceMinutes   int     `json:"late_grace_minutes" db:"late_grace_minutes"`
	MaxAllowedAbsent   float64 `json:"max_allowed_absent_hours" db:"max_allowed_absent_hours"`
	IsActive           bool    `json:"is_active" db:"is_active"`
}

type Student struct {
	ID        int         `json:"id" db:"id"`
	Code      string      `json:"student_code" db:"code"`
	Name      string      `json:"full_name" db:"name"`
	Email     string      `json:"email" db:"email"`
	PhotoURL  null.String `json:"profile_photo_url,omitempty" db:"photo_url"`
	IsActive  bool        `json:"is_active" db:"is_active"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"` // UTC
}

// Grades holds the six raw components of an enrollment, each a
// two-decimal score.
type Grades struct {
	Quiz1      float64 `json:"quiz1" db:"quiz1" validate:"gte=0,lte=100"`
	Quiz2      float64 `json:"quiz2" db:"quiz2" validate:"gte=0,lte=100"`
	Project    float64 `json:"project" db:"project" validate:"gte=0,lte=100"`
	Assignment float64 `json:"assignment" db:"assignment" validate:"gte=0,lte=100"`
	Midterm    float64 `json:"midterm" db:"midterm" validate:"gte=0,lte=100"`
	FinalExam  float64 `json:"final_exam" db:"final_exam" validate:"gte=0,lte=100"`
}

// Enrollment is unique per (student, course). HoursAbsentTotal only ever
// grows, and only during session finalization.
type Enrollment struct {
	StudentID int `json:"student_id" db:"student_id"`
	CourseID  int `json:"course_id" db:"course_id"`
	Grades
	HoursAbsentTotal float64   `json:"hours_absent_total" db:"hours_absent_total"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"` // UTC
}

// GradebookRow is the raw joined row a Repository returns; derived grade
// fields are computed from it on read.
type GradebookRow struct {
	Course     Course     `db:"course"`
	Student    Student    `db:"student"`
	Enrollment Enrollment `db:"enrollment"`
}

// GradebookEntry is the read-only per-student gradebook projection.
type GradebookEntry struct {
	CourseID    int    `json:"course_id"`
	CourseCode  string `json:"course_code"`
	CourseName  string `json:"course_name"`
	StudentID   int    `json:"student_id"`
	StudentCode string `json:"student_code"`
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	Grades
	HoursAbsentTotal  float64   `json:"hours_absent_total"`
	AttendancePenalty float64   `json:"attendance_penalty"`
	RawTotal          float64   `json:"raw_total"`
	AdjustedTotal     float64   `json:"adjusted_total"`
	AtRisk            bool      `json:"at_risk"`
	AtRiskByPolicy    bool      `json:"at_risk_by_policy"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewStudent contains information needed to create a Student and enroll
// them into a course in one go.
type NewStudent struct {
	Code     string `json:"student_code" validate:"required,max=30,alphanum_"`
	Name     string `json:"full_name" validate:"required,min=2,max=120"`
	Email    string `json:"email" validate:"required,email"`
	PhotoURL string `json:"profile_photo_url" validate:"omitempty,url"`
	CourseID int    `json:"course_id" validate:"required,gt=0"`
	Grades   Grades `json:"grades"`
}

func (ns *NewStudent) Validate() error {
	ns.Code = core.CleanString(ns.Code, true /* lower */)
	ns.Name = core.CleanString(ns.Name)
	ns.Email = core.CleanString(ns.Email, true /* lower */)
	return core.Validate.Struct(ns)
}

// GradeUpdate replaces all six raw grade components of an enrollment;
// derived fields are recomputed on the next read.
type GradeUpdate struct {
	Grades
}

func (gu *GradeUpdate) Validate() error { return core.Validate.Struct(gu) }
