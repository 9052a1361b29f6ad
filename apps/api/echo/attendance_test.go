package echoapi

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/attendance"
)

func Test_attendanceApi_startSession(t *testing.T) {
	ts := setupServer(t)

	rec := ts.request(t, http.MethodPost, "/v1/sessions", echo.Map{"course_id": ts.course.ID})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sess attendance.Session
	decodeBody(t, rec, &sess)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, attendance.StatusActive, sess.Status)

	t.Run("unknown course", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/v1/sessions", echo.Map{"course_id": 999})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing course", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/v1/sessions", echo.Map{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func Test_attendanceApi_ingestRecognition(t *testing.T) {
	ts := setupServer(t)
	std := ts.createStudent(t, "std001", "Jane Smith", "jane@test.cm")
	sess := ts.startSession(t)

	seenAt := sess.StartedAt.Add(12 * time.Minute).Format(time.RFC3339)
	rec := ts.request(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/recognitions",
		echo.Map{"student_id": std.ID, "recognized_at": seenAt, "confidence": 0.93, "engine_mode": "live"})
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = ts.request(t, http.MethodGet, "/v1/sessions/"+sess.ID+"/attendance", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var rows []attendance.StudentAttendance
	decodeBody(t, rec, &rows)
	if assert.Len(t, rows, 1) {
		assert.True(t, rows[0].IsPresent)
		assert.True(t, rows[0].IsLate)
		assert.Equal(t, 12, rows[0].ArrivalDelayMinutes.Int)
	}

	rec = ts.request(t, http.MethodGet, "/v1/sessions/"+sess.ID+"/recognitions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var events []attendance.RecognitionEvent
	decodeBody(t, rec, &events)
	assert.Len(t, events, 1)

	t.Run("unknown session still accepted", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/v1/sessions/00000000-0000-0000-0000-000000000000/recognitions",
			echo.Map{"student_id": std.ID, "engine_mode": "live"})
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("unmatched face accepted", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/recognitions",
			echo.Map{"engine_mode": "live", "notes": "no match above threshold"})
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})
}

func Test_attendanceApi_setAttendance(t *testing.T) {
	ts := setupServer(t)
	std := ts.createStudent(t, "std001", "Jane Smith", "jane@test.cm")
	sess := ts.startSession(t)

	path := fmt.Sprintf("/v1/sessions/%s/students/%d/attendance", sess.ID, std.ID)
	rec := ts.request(t, http.MethodPatch, path, echo.Map{"is_present": true, "is_late": true})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var record attendance.AttendanceRecord
	decodeBody(t, rec, &record)
	assert.True(t, record.IsPresent)
	assert.True(t, record.IsLate)

	t.Run("unknown session", func(t *testing.T) {
		rec := ts.request(t, http.MethodPatch, fmt.Sprintf("/v1/sessions/nope/students/%d/attendance", std.ID),
			echo.Map{"is_present": true})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func Test_attendanceApi_finalizeSession(t *testing.T) {
	ts := setupServer(t)
	jane := ts.createStudent(t, "std001", "Jane Smith", "jane@test.cm")
	ts.createStudent(t, "std002", "John Smith", "john@test.cm")

	start := core.UTCNow().Add(-125 * time.Minute)
	startedRec := ts.request(t, http.MethodPost, "/v1/sessions",
		echo.Map{"course_id": ts.course.ID, "started_at": start.Format(time.RFC3339)})
	assert.Equal(t, http.StatusCreated, startedRec.Code)
	var sess attendance.Session
	decodeBody(t, startedRec, &sess)

	seenAt := start.Add(5 * time.Minute).Format(time.RFC3339)
	rec := ts.request(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/recognitions",
		echo.Map{"student_id": jane.ID, "recognized_at": seenAt, "engine_mode": "live"})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	origDryRun := core.Conf.EmailDryRun
	core.Conf.EmailDryRun = true
	defer func() { core.Conf.EmailDryRun = origDryRun }()

	rec = ts.request(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/finalize", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		Summary      attendance.SessionSummary `json:"summary"`
		EmailsQueued int                       `json:"emails_queued"`
		EmailsFailed int                       `json:"emails_failed"`
	}
	decodeBody(t, rec, &res)
	assert.True(t, res.Summary.Aggregated)
	assert.Equal(t, 3, res.Summary.TotalHours)
	assert.Equal(t, 1, res.EmailsQueued) // john absent
	assert.Equal(t, 0, res.EmailsFailed)

	// absentee listing reflects the backfilled record
	rec = ts.request(t, http.MethodGet, "/v1/sessions/"+sess.ID+"/absentees", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var absentees []attendance.Absentee
	decodeBody(t, rec, &absentees)
	if assert.Len(t, absentees, 1) {
		assert.Equal(t, "std002", absentees[0].Code)
	}

	// dispatch log records the dry run
	rec = ts.request(t, http.MethodGet, "/v1/sessions/"+sess.ID+"/emails", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var logs []attendance.EmailLog
	decodeBody(t, rec, &logs)
	if assert.Len(t, logs, 1) {
		assert.Equal(t, attendance.EmailStatusDryRun, logs[0].Status)
	}

	t.Run("refinalize is flagged and sends nothing", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/finalize", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		decodeBody(t, rec, &res)
		assert.False(t, res.Summary.Aggregated)
		assert.Equal(t, 0, res.EmailsQueued)
	})

	t.Run("unknown session", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/v1/sessions/nope/finalize", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
