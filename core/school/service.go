package school

import (
	"context"
	"errors"

	"github.com/trezcool/darasa/core"
)

var (
	// errors
	ErrCourseNotFound     = errors.New("course not found")
	ErrStudentNotFound    = errors.New("student not found")
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrCodeExists         = errors.New("a student with this code already exists")
	ErrEmailExists        = errors.New("a student with this email already exists")
)

type (
	Repository interface {
		CheckStudentUniqueness(ctx context.Context, code, email string, exec ...core.DBExecutor) error
		// CreateStudentAndEnroll inserts the student and their enrollment as
		// one atomic unit.
		CreateStudentAndEnroll(ctx context.Context, std Student, enr Enrollment, exec ...core.DBExecutor) (Student, Enrollment, error)
		QueryCourses(ctx context.Context, exec ...core.DBExecutor) ([]Course, error)
		GetCourse(ctx context.Context, id int, exec ...core.DBExecutor) (Course, error)
		GetStudent(ctx context.Context, id int, exec ...core.DBExecutor) (Student, error)
		GetEnrollment(ctx context.Context, courseID, studentID int, exec ...core.DBExecutor) (Enrollment, error)
		QueryGradebook(ctx context.Context, courseID int, exec ...core.DBExecutor) ([]GradebookRow, error)
		UpdateEnrollmentGrades(ctx context.Context, courseID, studentID int, g Grades, exec ...core.DBExecutor) (Enrollment, error)
	}

	ServiceInterface interface {
		Courses(ctx context.Context) ([]Course, error)
		GetCourse(ctx context.Context, id int) (Course, error)
		CreateStudent(ctx context.Context, ns NewStudent) (Student, Enrollment, error)
		Gradebook(ctx context.Context, courseID int) ([]GradebookEntry, error)
		UpdateGrades(ctx context.Context, courseID, studentID int, g Grades) (GradebookEntry, error)
	}

	Service struct {
		repo Repository
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) Courses(ctx context.Context) ([]Course, error) {
	return svc.repo.QueryCourses(ctx)
}

func (svc *Service) GetCourse(ctx context.Context, id int) (Course, error) {
	return svc.repo.GetCourse(ctx, id)
}

func (svc *Service) checkUniqueness(ctx context.Context, code, email string) error {
	if err := svc.repo.CheckStudentUniqueness(ctx, code, email); err != nil {
		var field string
		switch err {
		case ErrCodeExists:
			field = "student_code"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

// CreateStudent creates the student and immediately enrolls them into the
// requested course with their initial grade components.
func (svc *Service) CreateStudent(ctx context.Context, ns NewStudent) (Student, Enrollment, error) {
	course, err := svc.repo.GetCourse(ctx, ns.CourseID)
	if err != nil {
		return Student{}, Enrollment{}, err
	}
	if err := svc.checkUniqueness(ctx, ns.Code, ns.Email); err != nil {
		return Student{}, Enrollment{}, err
	}

	now := core.UTCNow()
	std := Student{
		Code:      ns.Code,
		Name:      ns.Name,
		Email:     ns.Email,
		IsActive:  true,
		CreatedAt: now,
	}
	if ns.PhotoURL != "" {
		std.PhotoURL.SetValid(ns.PhotoURL)
	}
	enr := Enrollment{
		CourseID:  course.ID,
		Grades:    ns.Grades,
		UpdatedAt: now,
	}
	return svc.repo.CreateStudentAndEnroll(ctx, std, enr)
}

// Gradebook returns the read-only per-student projection for a course,
// derived grade fields included.
func (svc *Service) Gradebook(ctx context.Context, courseID int) ([]GradebookEntry, error) {
	if _, err := svc.repo.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	rows, err := svc.repo.QueryGradebook(ctx, courseID)
	if err != nil {
		return nil, err
	}
	entries := make([]GradebookEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, NewGradebookEntry(row))
	}
	return entries, nil
}

// UpdateGrades replaces all six raw grade components of the enrollment
// (a manual grade edit); derived fields follow on the next read.
func (svc *Service) UpdateGrades(ctx context.Context, courseID, studentID int, g Grades) (GradebookEntry, error) {
	course, err := svc.repo.GetCourse(ctx, courseID)
	if err != nil {
		return GradebookEntry{}, err
	}
	enr, err := svc.repo.UpdateEnrollmentGrades(ctx, courseID, studentID, g)
	if err != nil {
		return GradebookEntry{}, err
	}
	std, err := svc.repo.GetStudent(ctx, studentID)
	if err != nil {
		return GradebookEntry{}, err
	}
	return NewGradebookEntry(GradebookRow{Course: course, Student: std, Enrollment: enr}), nil
}
