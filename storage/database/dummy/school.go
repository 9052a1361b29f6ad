package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/school"
)

type schoolRepository struct {
	db *DB
}

var _ school.Repository = (*schoolRepository)(nil) // interface compliance check

func NewSchoolRepository(db *DB) *schoolRepository {
	return &schoolRepository{db: db}
}

// CreateCourse is not part of school.Repository; tests and seeding use it
// to set up fixture courses.
func (repo *schoolRepository) CreateCourse(ctx context.Context, crs school.Course) (school.Course, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	for _, existing := range repo.db.course {
		if existing.Code == crs.Code {
			existing.Name = crs.Name
			return *existing, nil
		}
	}

	repo.db.coursePK++
	crs.ID = repo.db.coursePK
	repo.db.course[crs.ID] = &crs
	return crs, nil
}

func (repo *schoolRepository) CheckStudentUniqueness(ctx context.Context, code, email string, exec ...core.DBExecutor) error {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, std := range repo.db.student {
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
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	repo.db.studentPK++
	std.ID = repo.db.studentPK
	repo.db.student[std.ID] = &std

	enr.StudentID = std.ID
	repo.db.enrollment[enrollmentKey{enr.CourseID, enr.StudentID}] = &enr
	return std, enr, nil
}

func (repo *schoolRepository) QueryCourses(ctx context.Context, exec ...core.DBExecutor) ([]school.Course, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	courses := make([]school.Course, 0, len(repo.db.course))
	for _, crs := range repo.db.course {
		courses = append(courses, *crs)
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].Code < courses[j].Code })
	return courses, nil
}

func (repo *schoolRepository) GetCourse(ctx context.Context, id int, exec ...core.DBExecutor) (school.Course, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if crs, ok := repo.db.course[id]; ok {
		return *crs, nil
	}
	return school.Course{}, school.ErrCourseNotFound
}

func (repo *schoolRepository) GetStudent(ctx context.Context, id int, exec ...core.DBExecutor) (school.Student, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if std, ok := repo.db.student[id]; ok {
		return *std, nil
	}
	return school.Student{}, school.ErrStudentNotFound
}

func (repo *schoolRepository) GetEnrollment(ctx context.Context, courseID, studentID int, exec ...core.DBExecutor) (school.Enrollment, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if enr, ok := repo.db.enrollment[enrollmentKey{courseID, studentID}]; ok {
		return *enr, nil
	}
	return school.Enrollment{}, school.ErrEnrollmentNotFound
}

func (repo *schoolRepository) QueryGradebook(ctx context.Context, courseID int, exec ...core.DBExecutor) ([]school.GradebookRow, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	crs, ok := repo.db.course[courseID]
	if !ok {
		return nil, school.ErrCourseNotFound
	}

	var rows []school.GradebookRow
	for key, enr := range repo.db.enrollment {
		if key.courseID != courseID {
			continue
		}
		std, ok := repo.db.student[key.studentID]
		if !ok {
			continue
		}
		rows = append(rows, school.GradebookRow{Course: *crs, Student: *std, Enrollment: *enr})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Student.Code < rows[j].Student.Code })
	return rows, nil
}

func (repo *schoolRepository) UpdateEnrollmentGrades(ctx context.Context, courseID, studentID int, g school.Grades, exec ...core.DBExecutor) (school.Enrollment, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	enr, ok := repo.db.enrollment[enrollmentKey{courseID, studentID}]
	if !ok {
		return school.Enrollment{}, school.ErrEnrollmentNotFound
	}
	enr.Grades = g
	enr.UpdatedAt = core.UTCNow()
	return *enr, nil
}
