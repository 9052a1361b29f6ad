package school

import "github.com/trezcool/darasa/core"

// Grade derivation formulas. These are the single source of truth:
// derived fields are never stored, they are recomputed whenever an
// enrollment is read.

const (
	// PenaltyPerAbsentHour is deducted from the raw total for every
	// cumulative absent hour.
	PenaltyPerAbsentHour = 0.25

	// PassingTotal is the adjusted-total threshold below which a student
	// is flagged at risk.
	PassingTotal = 60.0

	// FixedAtRiskAbsentHours is the hardcoded absence threshold backing
	// the AtRisk flag. The per-course MaxAllowedAbsent threshold backs
	// AtRiskByPolicy; both flags are always reported.
	FixedAtRiskAbsentHours = 8.0
)

// RawTotal sums the six raw components; unset components count as 0.
func (g Grades) RawTotal() float64 {
	return core.Round2(g.Quiz1 + g.Quiz2 + g.Project + g.Assignment + g.Midterm + g.FinalExam)
}

// AttendancePenalty is 0.25 points per cumulative absent hour, rounded
// to two decimals.
func (e Enrollment) AttendancePenalty() float64 {
	return core.Round2(e.HoursAbsentTotal * PenaltyPerAbsentHour)
}

// AdjustedTotal is the raw total less the attendance penalty, floored at 0.
func (e Enrollment) AdjustedTotal() float64 {
	adjusted := e.RawTotal() - e.AttendancePenalty()
	if adjusted < 0 {
		return 0
	}
	return core.Round2(adjusted)
}

// AtRisk uses the fixed 8-hour absence threshold.
func (e Enrollment) AtRisk() bool {
	return e.AdjustedTotal() < PassingTotal || e.HoursAbsentTotal >= FixedAtRiskAbsentHours
}

// AtRiskByPolicy uses the course-configured absence threshold.
func (e Enrollment) AtRiskByPolicy(maxAllowedAbsentHours float64) bool {
	return e.AdjustedTotal() < PassingTotal || e.HoursAbsentTotal >= maxAllowedAbsentHours
}

// NewGradebookEntry folds a joined row into the read-only projection,
// computing all derived grade fields.
func NewGradebookEntry(row GradebookRow) GradebookEntry {
	c, s, e := row.Course, row.Student, row.Enrollment
	return GradebookEntry{
		CourseID:          c.ID,
		CourseCode:        c.Code,
		CourseName:        c.Name,
		StudentID:         s.ID,
		StudentCode:       s.Code,
		FullName:          s.Name,
		Email:             s.Email,
		Grades:            e.Grades,
		HoursAbsentTotal:  e.HoursAbsentTotal,
		AttendancePenalty: e.AttendancePenalty(),
		RawTotal:          e.RawTotal(),
		AdjustedTotal:     e.AdjustedTotal(),
		AtRisk:            e.AtRisk(),
		AtRiskByPolicy:    e.AtRiskByPolicy(c.MaxAllowedAbsent),
		UpdatedAt:         e.UpdatedAt,
	}
}
