package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/school"
)

var demoCourses = []school.Course{
	{Code: "cs101", Name: "Distributed AI Systems", ScheduledStartTime: "09:00:00", LateGraceMinutes: 10, MaxAllowedAbsent: 8, IsActive: true},
	{Code: "cs102", Name: "Applied Machine Vision", ScheduledStartTime: "13:00:00", LateGraceMinutes: 10, MaxAllowedAbsent: 8, IsActive: true},
}

var demoStudents = []school.NewStudent{
	{
		Code: "s001", Name: "Amina Noor", Email: "amina.noor@example.com",
		Grades: school.Grades{Quiz1: 8.5, Quiz2: 9, Project: 18, Assignment: 17.5, Midterm: 16, FinalExam: 20},
	},
	{
		Code: "s002", Name: "Leo Carter", Email: "leo.carter@example.com",
		Grades: school.Grades{Quiz1: 7, Quiz2: 7.5, Project: 15, Assignment: 14.5, Midterm: 13, FinalExam: 16},
	},
	{
		Code: "s003", Name: "Redeen Sirwan", Email: "redeen.sirwan@example.com",
		Grades: school.Grades{Quiz1: 9, Quiz2: 8.5, Project: 19, Assignment: 18, Midterm: 17.5, FinalExam: 19},
	},
}

// seed loads the demo dataset: two courses and three students enrolled
// in the first. Re-running skips students that already exist.
func (cli *commandLine) seed(ctx context.Context) error {
	courses := make([]school.Course, 0, len(demoCourses))
	for _, crs := range demoCourses {
		created, err := cli.schoolRepo.CreateCourse(ctx, crs)
		if err != nil {
			return errors.Wrap(err, "seeding course "+crs.Code)
		}
		courses = append(courses, created)
	}

	now := core.UTCNow()
	for _, ns := range demoStudents {
		if err := cli.schoolRepo.CheckStudentUniqueness(ctx, ns.Code, ns.Email); err != nil {
			logger.Printf("skipping %s: already seeded", ns.Code)
			continue
		}

		std := school.Student{
			Code:      ns.Code,
			Name:      ns.Name,
			Email:     ns.Email,
			IsActive:  true,
			CreatedAt: now,
		}
		enr := school.Enrollment{
			CourseID:  courses[0].ID,
			Grades:    ns.Grades,
			UpdatedAt: now,
		}
		if _, _, err := cli.schoolRepo.CreateStudentAndEnroll(ctx, std, enr); err != nil {
			return errors.Wrap(err, "seeding student "+ns.Code)
		}
	}

	fmt.Println("demo data loaded")
	return nil
}
