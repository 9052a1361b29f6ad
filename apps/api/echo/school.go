package echoapi

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/school"
)

type schoolApi struct {
	svc school.ServiceInterface
}

func registerSchoolAPI(g *echo.Group, svc school.ServiceInterface) {
	api := schoolApi{svc: svc}

	g.GET("/courses", api.queryCourses)
	g.POST("/students", api.createStudent)

	cg := g.Group("/courses/:id")
	cg.GET("/gradebook", api.gradebook)
	cg.PATCH("/students/:sid/grades", api.updateGrades)
}

// Handlers

func (api *schoolApi) queryCourses(ctx echo.Context) error {
	courses, err := api.svc.Courses(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	if courses == nil {
		courses = make([]school.Course, 0)
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *schoolApi) createStudent(ctx echo.Context) error {
	var data school.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	std, enr, err := api.svc.CreateStudent(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating student")
	}
	return ctx.JSON(http.StatusCreated, echo.Map{"student": std, "enrollment": enr})
}

func (api *schoolApi) gradebook(ctx echo.Context) error {
	courseID, err := intParam(ctx, "id")
	if err != nil {
		return err
	}

	entries, err := api.svc.Gradebook(ctx.Request().Context(), courseID)
	if err != nil {
		return errors.Wrap(err, "querying gradebook")
	}
	if entries == nil {
		entries = make([]school.GradebookEntry, 0)
	}

	var ord Ordering
	ord.Bind(ctx)
	sortGradebook(entries, ord)
	return ctx.JSON(http.StatusOK, entries)
}

func (api *schoolApi) updateGrades(ctx echo.Context) error {
	courseID, err := intParam(ctx, "id")
	if err != nil {
		return err
	}
	studentID, err := intParam(ctx, "sid")
	if err != nil {
		return err
	}

	var data school.GradeUpdate
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GradeUpdate")
	}
	if err = data.Validate(); err != nil {
		return err
	}

	entry, err := api.svc.UpdateGrades(ctx.Request().Context(), courseID, studentID, data.Grades)
	if err != nil {
		return errors.Wrap(err, "updating grades")
	}
	return ctx.JSON(http.StatusOK, entry)
}

// sortGradebook applies the first recognized ordering field; entries
// arrive sorted by student code by default.
func sortGradebook(entries []school.GradebookEntry, ord Ordering) {
	for _, o := range ord.Orderings {
		var less func(i, j int) bool
		switch o.Field {
		case "student_code":
			less = func(i, j int) bool { return entries[i].StudentCode < entries[j].StudentCode }
		case "raw_total":
			less = func(i, j int) bool { return entries[i].RawTotal < entries[j].RawTotal }
		case "adjusted_total":
			less = func(i, j int) bool { return entries[i].AdjustedTotal < entries[j].AdjustedTotal }
		case "hours_absent_total":
			less = func(i, j int) bool { return entries[i].HoursAbsentTotal < entries[j].HoursAbsentTotal }
		default:
			continue
		}
		if !o.Ascending {
			asc := less
			less = func(i, j int) bool { return asc(j, i) }
		}
		sort.SliceStable(entries, less)
		return
	}
}

func intParam(ctx echo.Context, name string) (int, error) {
	val, err := strconv.Atoi(ctx.Param(name))
	if err != nil {
		return 0, errHttpNotFound
	}
	return val, nil
}
