package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/school"
)

type schoolRepository struct {
	db *sqlx.DB
}

var _ school.Repository = (*schoolRepository)(nil) // interface compliance check

func NewSchoolRepository(db *sqlx.DB) *schoolRepository {
	return &schoolRepository{db: db}
}

// CreateCourse is not part of school.Repository; seeding uses it to set
// up the demo courses.
func (repo *schoolRepository) CreateCourse(ctx context.Context, crs school.Course) (school.Course, error) {
	err := sqlx.GetContext(ctx, repo.db, &crs.ID,
		`INSERT INTO course (code, name, scheduled_start_time, late_grace_minutes, max_allowed_absent_hours, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		crs.Code, crs.Name, crs.ScheduledStartTime, crs.LateGraceMinutes, crs.MaxAllowedAbsent, crs.IsActive,
	)
	return crs, errors.Wrap(err, "inserting course")
}

func (repo *schoolRepository) CheckStudentUniqueness(ctx context.Context, code, email string, exec ...core.DBExecutor) error {
	var rows []school.Student
	err := sqlx.SelectContext(ctx, ext(repo.db, exec...), &rows,
		`SELECT id, code, name, email, photo_url, is_active, created_at FROM student WHERE code = $1 OR email = $2`,
		code, email,
	)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	for _, std := range rows {
		if std.Code == code {
			return school.ErrCodeExists
		}
		if std.Email == email {
			return school.ErrEmailExists
		}
	}
	return nil
}

func (repo *schoolRepository) CreateStudentAndEnroll(ctx context.Context, std school.Student, enr school.Enrollment, exec ...core.DBExecutor) (school.Student, school.Enrollment, error) {
	if len(exec) == 0 {
		// both inserts must land together
		err := atomically(ctx, repo.db, func(tx core.DBExecutor) error {
			var txErr error
			std, enr, txErr = repo.CreateStudentAndEnroll(ctx, std, enr, tx)
			return txErr
		})
		return std, enr, err
	}

	e := ext(repo.db, exec...)
	err := sqlx.GetContext(ctx, e, &std.ID,
		`INSERT INTO student (code, name, email, photo_url, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		std.Code, std.Name, std.Email, std.PhotoURL, std.IsActive, std.CreatedAt,
	)
	if err != nil {
		return school.Student{}, school.Enrollment{}, errors.Wrap(err, "inserting student")
	}

	enr.StudentID = std.ID
	_, err = e.ExecContext(ctx,
		`INSERT INTO enrollment (student_id, course_id, quiz1, quiz2, project, assignment, midterm, final_exam, hours_absent_total, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		enr.StudentID, enr.CourseID, enr.Quiz1, enr.Quiz2, enr.Project, enr.Assignment, enr.Midterm, enr.FinalExam,
		enr.HoursAbsentTotal, enr.UpdatedAt,
	)
	if err != nil {
		return school.Student{}, school.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}
	return std, enr, nil
}

func (repo *schoolRepository) QueryCourses(ctx context.Context, exec ...core.DBExecutor) ([]school.Course, error) {
	var courses []school.Course
	err := sqlx.SelectContext(ctx, ext(repo.db, exec...), &courses,
		`SELECT * FROM course ORDER BY code`,
	)
	return courses, errors.Wrap(err, "querying courses")
}

func (repo *schoolRepository) GetCourse(ctx context.Context, id int, exec ...core.DBExecutor) (school.Course, error) {
	var crs school.Course
	err := sqlx.GetContext(ctx, ext(repo.db, exec...), &crs, `SELECT * FROM course WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return school.Course{}, school.ErrCourseNotFound
	}
	return crs, errors.Wrap(err, "getting course")
}

func (repo *schoolRepository) GetStudent(ctx context.Context, id int, exec ...core.DBExecutor) (school.Student, error) {
	var std school.Student
	err := sqlx.GetContext(ctx, ext(repo.db, exec...), &std, `SELECT * FROM student WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return school.Student{}, school.ErrStudentNotFound
	}
	return std, errors.Wrap(err, "getting student")
}

func (repo *schoolRepository) GetEnrollment(ctx context.Context, courseID, studentID int, exec ...core.DBExecutor) (school.Enrollment, error) {
	var enr school.Enrollment
	err := sqlx.GetContext(ctx, ext(repo.db, exec...), &enr,
		`SELECT * FROM enrollment WHERE course_id = $1 AND student_id = $2`, courseID, studentID,
	)
	if err == sql.ErrNoRows {
		return school.Enrollment{}, school.ErrEnrollmentNotFound
	}
	return enr, errors.Wrap(err, "getting enrollment")
}

const gradebookQuery = `
SELECT c.id                       "course.id",
       c.code                     "course.code",
       c.name                     "course.name",
       c.scheduled_start_time     "course.scheduled_start_time",
       c.late_grace_minutes       "course.late_grace_minutes",
       c.max_allowed_absent_hours "course.max_allowed_absent_hours",
       c.is_active                "course.is_active",
       s.id                       "student.id",
       s.code                     "student.code",
       s.name                     "student.name",
       s.email                    "student.email",
       s.photo_url                "student.photo_url",
       s.is_active                "student.is_active",
       s.created_at               "student.created_at",
       e.student_id               "enrollment.student_id",
       e.course_id                "enrollment.course_id",
       e.quiz1                    "enrollment.quiz1",
       e.quiz2                    "enrollment.quiz2",
       e.project                  "enrollment.project",
       e.assignment               "enrollment.assignment",
       e.midterm                  "enrollment.midterm",
       e.final_exam               "enrollment.final_exam",
       e.hours_absent_total       "enrollment.hours_absent_total",
       e.updated_at               "enrollment.updated_at"
FROM enrollment e
         JOIN course c ON c.id = e.course_id
         JOIN student s ON s.id = e.student_id
WHERE e.course_id = $1
ORDER BY s.code`

func (repo *schoolRepository) QueryGradebook(ctx context.Context, courseID int, exec ...core.DBExecutor) ([]school.GradebookRow, error) {
	var rows []school.GradebookRow
	err := sqlx.SelectContext(ctx, ext(repo.db, exec...), &rows, gradebookQuery, courseID)
	return rows, errors.Wrap(err, "querying gradebook")
}

func (repo *schoolRepository) UpdateEnrollmentGrades(ctx context.Context, courseID, studentID int, g school.Grades, exec ...core.DBExecutor) (school.Enrollment, error) {
	var enr school.Enrollment
	err := sqlx.GetContext(ctx, ext(repo.db, exec...), &enr,
		`UPDATE enrollment
		 SET quiz1 = $3, quiz2 = $4, project = $5, assignment = $6, midterm = $7, final_exam = $8, updated_at = $9
		 WHERE course_id = $1 AND student_id = $2
		 RETURNING *`,
		courseID, studentID, g.Quiz1, g.Quiz2, g.Project, g.Assignment, g.Midterm, g.FinalExam, core.UTCNow(),
	)
	if err == sql.ErrNoRows {
		return school.Enrollment{}, school.ErrEnrollmentNotFound
	}
	return enr, errors.Wrap(err, "updating grades")
}
