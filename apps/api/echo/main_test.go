package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/attendance"
	"github.com/trezcool/darasa/core/school"
	dummydb "github.com/trezcool/darasa/storage/database/dummy"
)

type testLogger struct{}

func (testLogger) Debug(msg string, args ...interface{}) {}
func (testLogger) Info(msg string, args ...interface{})  {}
func (testLogger) Warn(msg string, args ...interface{})  {}
func (testLogger) Error(msg string, args ...interface{}) {}
func (testLogger) Fatal(msg string, args ...interface{}) {}

type testMailService struct{}

func (testMailService) SendMessages(messages ...*core.EmailMessage) {}

type testServer struct {
	server         Server
	schoolRepo     school.Repository
	attendanceRepo attendance.Repository
	attendanceSvc  *attendance.Service
	course         school.Course
}

func setupServer(t *testing.T) *testServer {
	t.Helper()

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("setupServer() failed: %v", err)
	}
	schoolRepo := dummydb.NewSchoolRepository(db)
	attRepo := dummydb.NewAttendanceRepository(db)
	attSvc := attendance.NewService(attRepo, schoolRepo, testMailService{}, testLogger{})

	course, err := schoolRepo.CreateCourse(context.Background(), school.Course{
		Code:               "cs101",
		Name:               "Intro to CS",
		ScheduledStartTime: "09:00:00",
		LateGraceMinutes:   10,
		MaxAllowedAbsent:   8,
		IsActive:           true,
	})
	if err != nil {
		t.Fatalf("setupServer() failed: %v", err)
	}

	return &testServer{
		server: NewServer(ServerDeps{
			Logger:         testLogger{},
			SchoolSvc:      school.NewService(schoolRepo),
			AttendanceSvc:  attSvc,
			DisableReqLogs: true,
		}),
		schoolRepo:     schoolRepo,
		attendanceRepo: attRepo,
		attendanceSvc:  attSvc,
		course:         course,
	}
}

func (ts *testServer) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("request() failed: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decodeBody() failed: %v", err)
	}
}

func (ts *testServer) createStudent(t *testing.T, code, name, email string) school.Student {
	t.Helper()
	now := core.UTCNow()
	std, _, err := ts.schoolRepo.CreateStudentAndEnroll(
		context.Background(),
		school.Student{Code: code, Name: name, Email: email, IsActive: true, CreatedAt: now},
		school.Enrollment{CourseID: ts.course.ID, UpdatedAt: now},
	)
	if err != nil {
		t.Fatalf("createStudent() failed: %v", err)
	}
	return std
}

func (ts *testServer) startSession(t *testing.T) attendance.Session {
	t.Helper()
	rec := ts.request(t, http.MethodPost, "/v1/sessions", echo.Map{"course_id": ts.course.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("startSession() status = %d: %s", rec.Code, rec.Body.String())
	}
	var sess attendance.Session
	decodeBody(t, rec, &sess)
	return sess
}
