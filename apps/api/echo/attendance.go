package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/attendance"
)

type attendanceApi struct {
	svc attendance.ServiceInterface
}

func registerAttendanceAPI(g *echo.Group, svc attendance.ServiceInterface) {
	api := attendanceApi{svc: svc}

	g.POST("/sessions", api.startSession)

	sg := g.Group("/sessions/:id")
	sg.GET("", api.retrieveSession)
	sg.POST("/recognitions", api.ingestRecognition)
	sg.GET("/recognitions", api.queryRecognitions)
	sg.GET("/attendance", api.queryAttendance)
	sg.PATCH("/students/:sid/attendance", api.setAttendance)
	sg.POST("/finalize", api.finalizeSession)
	sg.GET("/absentees", api.queryAbsentees)
	sg.GET("/emails", api.queryEmailLogs)
}

// Handlers

func (api *attendanceApi) startSession(ctx echo.Context) error {
	var data attendance.NewSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSession")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	sess, err := api.svc.StartSession(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "starting session")
	}
	return ctx.JSON(http.StatusCreated, sess)
}

func (api *attendanceApi) retrieveSession(ctx echo.Context) error {
	sess, err := api.svc.GetSession(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting session")
	}
	return ctx.JSON(http.StatusOK, sess)
}

// ingestRecognition accepts events from the external recognition engine.
// It replies 202 even when the event is dropped: the feed must never see
// an error for a stale or finalized session.
func (api *attendanceApi) ingestRecognition(ctx echo.Context) error {
	var data attendance.NewRecognition
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRecognition")
	}
	data.SessionID = ctx.Param("id")
	if err := data.Validate(); err != nil {
		return err
	}

	if err := api.svc.RecordRecognition(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "recording recognition")
	}
	return ctx.JSON(http.StatusAccepted, echo.Map{"status": "accepted"})
}

func (api *attendanceApi) queryRecognitions(ctx echo.Context) error {
	events, err := api.svc.RecognitionEvents(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying recognition events")
	}
	if events == nil {
		events = make([]attendance.RecognitionEvent, 0)
	}
	return ctx.JSON(http.StatusOK, events)
}

func (api *attendanceApi) queryAttendance(ctx echo.Context) error {
	rows, err := api.svc.SessionAttendance(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying session attendance")
	}
	if rows == nil {
		rows = make([]attendance.StudentAttendance, 0)
	}
	return ctx.JSON(http.StatusOK, rows)
}

func (api *attendanceApi) setAttendance(ctx echo.Context) error {
	studentID, err := intParam(ctx, "sid")
	if err != nil {
		return err
	}

	var data attendance.ManualAttendance
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ManualAttendance")
	}
	if err = data.Validate(); err != nil {
		return err
	}

	rec, err := api.svc.SetManualAttendance(ctx.Request().Context(), ctx.Param("id"), studentID, data)
	if err != nil {
		return errors.Wrap(err, "setting attendance")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *attendanceApi) finalizeSession(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()

	summary, err := api.svc.FinalizeSession(reqCtx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finalizing session")
	}

	var queued, failed int
	if summary.Aggregated {
		if queued, failed, err = api.svc.NotifyAbsentees(reqCtx, summary.SessionID); err != nil {
			return errors.Wrap(err, "notifying absentees")
		}
	}
	return ctx.JSON(http.StatusOK, echo.Map{
		"summary":       summary,
		"emails_queued": queued,
		"emails_failed": failed,
	})
}

func (api *attendanceApi) queryAbsentees(ctx echo.Context) error {
	absentees, err := api.svc.Absentees(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying absentees")
	}
	if absentees == nil {
		absentees = make([]attendance.Absentee, 0)
	}
	return ctx.JSON(http.StatusOK, absentees)
}

func (api *attendanceApi) queryEmailLogs(ctx echo.Context) error {
	logs, err := api.svc.EmailLogs(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying email logs")
	}
	if logs == nil {
		logs = make([]attendance.EmailLog, 0)
	}
	return ctx.JSON(http.StatusOK, logs)
}
