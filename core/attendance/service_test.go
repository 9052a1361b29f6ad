package attendance_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/attendance"
	"github.com/trezcool/darasa/core/school"
	dummydb "github.com/trezcool/darasa/storage/database/dummy"
)

type fakeEmailService struct {
	mu   sync.Mutex
	sent []*core.EmailMessage
}

func (svc *fakeEmailService) SendMessages(messages ...*core.EmailMessage) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.sent = append(svc.sent, messages...)
}

type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...interface{}) {}
func (nopLogger) Info(msg string, args ...interface{})  {}
func (nopLogger) Warn(msg string, args ...interface{})  {}
func (nopLogger) Error(msg string, args ...interface{}) {}
func (nopLogger) Fatal(msg string, args ...interface{}) {}

type testEnv struct {
	svc        *attendance.Service
	schoolSvc  *school.Service
	schoolRepo school.Repository
	attRepo    attendance.Repository
	mail       *fakeEmailService
	course     school.Course
	jane       school.Student
	john       school.Student
}

var sessionStart = time.Date(2021, 3, 1, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) *testEnv {
	t.Helper()

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	schoolRepo := dummydb.NewSchoolRepository(db)
	attRepo := dummydb.NewAttendanceRepository(db)

	ctx := context.Background()
	course, err := schoolRepo.CreateCourse(ctx, school.Course{
		Code:               "cs101",
		Name:               "Intro to CS",
		ScheduledStartTime: "09:00:00",
		LateGraceMinutes:   10,
		MaxAllowedAbsent:   8,
		IsActive:           true,
	})
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}

	env := &testEnv{
		schoolSvc:  school.NewService(schoolRepo),
		schoolRepo: schoolRepo,
		attRepo:    attRepo,
		mail:       new(fakeEmailService),
		course:     course,
	}
	env.svc = attendance.NewService(attRepo, schoolRepo, env.mail, nopLogger{})

	env.jane = createStudent(t, schoolRepo, course.ID, "std001", "Jane Smith", "jane@test.cm")
	env.john = createStudent(t, schoolRepo, course.ID, "std002", "John Smith", "john@test.cm")
	return env
}

func createStudent(t *testing.T, repo school.Repository, courseID int, code, name, email string) school.Student {
	t.Helper()
	now := core.UTCNow()
	std, _, err := repo.CreateStudentAndEnroll(
		context.Background(),
		school.Student{Code: code, Name: name, Email: email, IsActive: true, CreatedAt: now},
		school.Enrollment{CourseID: courseID, UpdatedAt: now},
	)
	if err != nil {
		t.Fatalf("createStudent() failed: %v", err)
	}
	return std
}

func startSession(t *testing.T, env *testEnv, startedAt time.Time) attendance.Session {
	t.Helper()
	sess, err := env.svc.StartSession(context.Background(), attendance.NewSession{
		CourseID:  env.course.ID,
		StartedAt: &startedAt,
	})
	if err != nil {
		t.Fatalf("startSession() failed: %v", err)
	}
	return sess
}

func recognize(t *testing.T, env *testEnv, sessionID string, studentID int, seenAt time.Time) {
	t.Helper()
	err := env.svc.RecordRecognition(context.Background(), attendance.NewRecognition{
		SessionID:    sessionID,
		StudentID:    &studentID,
		RecognizedAt: &seenAt,
		EngineMode:   "live",
	})
	if err != nil {
		t.Fatalf("recognize() failed: %v", err)
	}
}

func attendanceRow(t *testing.T, env *testEnv, sessionID string, studentID int) attendance.StudentAttendance {
	t.Helper()
	rows, err := env.svc.SessionAttendance(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("SessionAttendance() failed: %v", err)
	}
	for _, row := range rows {
		if row.StudentID == studentID {
			return row
		}
	}
	t.Fatalf("no attendance row for student %d", studentID)
	return attendance.StudentAttendance{}
}

func TestServiceStartSession(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	sess := startSession(t, env, sessionStart)
	if sess.ID == "" {
		t.Error("StartSession() must assign a session ID")
	}
	if !sess.IsActive() {
		t.Errorf("Status = %q; want %q", sess.Status, attendance.StatusActive)
	}
	if !sess.StartedAt.Equal(sessionStart) {
		t.Errorf("StartedAt = %v; want %v", sess.StartedAt, sessionStart)
	}

	t.Run("unknown course", func(t *testing.T) {
		_, err := env.svc.StartSession(ctx, attendance.NewSession{CourseID: 999})
		if err != school.ErrCourseNotFound {
			t.Errorf("err = %v; want ErrCourseNotFound", err)
		}
	})

	t.Run("inactive course", func(t *testing.T) {
		crs, err := dummyCreateCourse(t, env, school.Course{Code: "cs999", Name: "Retired", IsActive: false})
		if err != nil {
			t.Fatalf("creating course failed: %v", err)
		}
		if _, err = env.svc.StartSession(ctx, attendance.NewSession{CourseID: crs.ID}); err != school.ErrCourseNotFound {
			t.Errorf("err = %v; want ErrCourseNotFound", err)
		}
	})
}

func dummyCreateCourse(t *testing.T, env *testEnv, crs school.Course) (school.Course, error) {
	t.Helper()
	repo, ok := env.schoolRepo.(interface {
		CreateCourse(ctx context.Context, crs school.Course) (school.Course, error)
	})
	if !ok {
		t.Fatal("school repo does not support course creation")
	}
	return repo.CreateCourse(context.Background(), crs)
}

func TestServiceRecordRecognition(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	sess := startSession(t, env, sessionStart)

	recognize(t, env, sess.ID, env.jane.ID, sessionStart.Add(12*time.Minute))

	row := attendanceRow(t, env, sess.ID, env.jane.ID)
	if !row.IsPresent || !row.IsLate {
		t.Errorf("IsPresent = %v, IsLate = %v; want both true", row.IsPresent, row.IsLate)
	}
	if row.ArrivalDelayMinutes.Int != 12 {
		t.Errorf("ArrivalDelayMinutes = %d; want 12", row.ArrivalDelayMinutes.Int)
	}

	// second sighting keeps the original lateness verdict
	recognize(t, env, sess.ID, env.jane.ID, sessionStart.Add(5*time.Minute))
	row = attendanceRow(t, env, sess.ID, env.jane.ID)
	if !row.IsLate || row.ArrivalDelayMinutes.Int != 12 {
		t.Errorf("IsLate = %v, ArrivalDelayMinutes = %d; later events must not revise them", row.IsLate, row.ArrivalDelayMinutes.Int)
	}
	if !row.FirstSeenAt.Time.Equal(sessionStart.Add(5 * time.Minute)) {
		t.Errorf("FirstSeenAt = %v; want the earliest sighting", row.FirstSeenAt.Time)
	}

	events, err := env.svc.RecognitionEvents(ctx, sess.ID)
	if err != nil {
		t.Fatalf("RecognitionEvents() failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("len(events) = %d; want 2", len(events))
	}

	t.Run("unknown session is dropped silently", func(t *testing.T) {
		studentID := env.jane.ID
		err := env.svc.RecordRecognition(ctx, attendance.NewRecognition{
			SessionID:  "00000000-0000-0000-0000-000000000000",
			StudentID:  &studentID,
			EngineMode: "live",
		})
		if err != nil {
			t.Errorf("err = %v; want nil", err)
		}
	})

	t.Run("unmatched face is logged but not applied", func(t *testing.T) {
		err := env.svc.RecordRecognition(ctx, attendance.NewRecognition{
			SessionID:  sess.ID,
			EngineMode: "live",
			Notes:      "no match above threshold",
		})
		if err != nil {
			t.Fatalf("RecordRecognition() failed: %v", err)
		}
		events, err := env.svc.RecognitionEvents(ctx, sess.ID)
		if err != nil {
			t.Fatalf("RecognitionEvents() failed: %v", err)
		}
		if len(events) != 3 {
			t.Errorf("len(events) = %d; want 3", len(events))
		}
		if last := events[len(events)-1]; last.StudentID.Valid {
			t.Error("unmatched event must keep a null student")
		}
	})
}

func TestServiceConcurrentRecognitions(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	sess := startSession(t, env, sessionStart)

	// every sighting is past the 10min grace; whichever lands first fixes
	// the verdict, later ones may only widen the seen-at bounds
	offsets := []int{12, 20, 35, 50, 70, 95}
	perOffset := 4

	var wg sync.WaitGroup
	errCh := make(chan error, len(offsets)*perOffset)
	for _, off := range offsets {
		for i := 0; i < perOffset; i++ {
			wg.Add(1)
			go func(off int) {
				defer wg.Done()
				seenAt := sessionStart.Add(time.Duration(off) * time.Minute)
				studentID := env.jane.ID
				errCh <- env.svc.RecordRecognition(ctx, attendance.NewRecognition{
					SessionID:    sess.ID,
					StudentID:    &studentID,
					RecognizedAt: &seenAt,
					EngineMode:   "live",
				})
			}(off)
		}
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("RecordRecognition() failed: %v", err)
		}
	}

	row := attendanceRow(t, env, sess.ID, env.jane.ID)
	if !row.IsPresent || !row.IsLate {
		t.Errorf("IsPresent = %v, IsLate = %v; want both true", row.IsPresent, row.IsLate)
	}
	if !row.ArrivalDelayMinutes.Valid {
		t.Fatal("ArrivalDelayMinutes must be decided")
	}
	var known bool
	for _, off := range offsets {
		if row.ArrivalDelayMinutes.Int == off {
			known = true
			break
		}
	}
	if !known {
		t.Errorf("ArrivalDelayMinutes = %d; want the delay of one of the sightings", row.ArrivalDelayMinutes.Int)
	}
	if want := sessionStart.Add(12 * time.Minute); !row.FirstSeenAt.Time.Equal(want) {
		t.Errorf("FirstSeenAt = %v; want the earliest sighting %v", row.FirstSeenAt.Time, want)
	}
	if want := sessionStart.Add(95 * time.Minute); !row.LastSeenAt.Time.Equal(want) {
		t.Errorf("LastSeenAt = %v; want the latest sighting %v", row.LastSeenAt.Time, want)
	}

	events, err := env.svc.RecognitionEvents(ctx, sess.ID)
	if err != nil {
		t.Fatalf("RecognitionEvents() failed: %v", err)
	}
	if want := len(offsets) * perOffset; len(events) != want {
		t.Errorf("len(events) = %d; want %d", len(events), want)
	}
}

func TestServiceFinalizeWinsRecognitionRace(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	start := core.UTCNow().Add(-2 * time.Hour)
	sess := startSession(t, env, start)

	summary, err := env.svc.FinalizeSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("FinalizeSession() failed: %v", err)
	}

	// an ingest worker may still hold the pre-finalize session snapshot;
	// the repository re-checks the stored status and drops the write
	rec, err := env.attRepo.ApplyRecognition(ctx, sess, env.jane.ID, start.Add(5*time.Minute), env.course.LateGraceMinutes)
	if err != nil {
		t.Fatalf("ApplyRecognition() failed: %v", err)
	}
	if rec.IsPresent {
		t.Error("upsert with a stale active session must be dropped")
	}

	row := attendanceRow(t, env, sess.ID, env.jane.ID)
	if row.IsPresent {
		t.Error("attendance must stay absent after the session is finalized")
	}

	absent, err := env.attRepo.CountAbsentHours(ctx, sess.ID, env.jane.ID)
	if err != nil {
		t.Fatalf("CountAbsentHours() failed: %v", err)
	}
	if absent != summary.TotalHours {
		t.Errorf("absent hours = %d; want all %d still charged", absent, summary.TotalHours)
	}

	enr, err := env.schoolRepo.GetEnrollment(ctx, env.course.ID, env.jane.ID)
	if err != nil {
		t.Fatalf("GetEnrollment() failed: %v", err)
	}
	if enr.HoursAbsentTotal != float64(summary.TotalHours) {
		t.Errorf("HoursAbsentTotal = %v; want %d, in step with the hour rows", enr.HoursAbsentTotal, summary.TotalHours)
	}
}

func TestServiceFinalizeSession(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	// finalize stamps EndedAt with the current time, so the session must
	// have started 125 real minutes ago
	start := core.UTCNow().Add(-125 * time.Minute)
	sess := startSession(t, env, start)

	// jane was seen within the first hour; john never showed up
	recognize(t, env, sess.ID, env.jane.ID, start.Add(12*time.Minute))

	summary, err := env.svc.FinalizeSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("FinalizeSession() failed: %v", err)
	}
	if !summary.Aggregated {
		t.Error("first finalize must aggregate")
	}
	if summary.TotalHours != 3 {
		t.Errorf("TotalHours = %d; want 3 (125min ceil)", summary.TotalHours)
	}

	// jane: present hour 0, seeded absent hours 1 and 2
	janeEnr, err := env.schoolRepo.GetEnrollment(ctx, env.course.ID, env.jane.ID)
	if err != nil {
		t.Fatalf("GetEnrollment() failed: %v", err)
	}
	if janeEnr.HoursAbsentTotal != 2 {
		t.Errorf("jane HoursAbsentTotal = %v; want 2", janeEnr.HoursAbsentTotal)
	}

	// john: backfilled absent record plus all 3 hours absent
	johnEnr, err := env.schoolRepo.GetEnrollment(ctx, env.course.ID, env.john.ID)
	if err != nil {
		t.Fatalf("GetEnrollment() failed: %v", err)
	}
	if johnEnr.HoursAbsentTotal != 3 {
		t.Errorf("john HoursAbsentTotal = %v; want 3", johnEnr.HoursAbsentTotal)
	}
	johnRow := attendanceRow(t, env, sess.ID, env.john.ID)
	if johnRow.IsPresent || johnRow.IsLate {
		t.Error("backfilled record must be absent and not late")
	}

	t.Run("refinalize is a no-op", func(t *testing.T) {
		again, err := env.svc.FinalizeSession(ctx, sess.ID)
		if err != nil {
			t.Fatalf("FinalizeSession() failed: %v", err)
		}
		if again.Aggregated {
			t.Error("second finalize must not aggregate again")
		}
		enr, err := env.schoolRepo.GetEnrollment(ctx, env.course.ID, env.john.ID)
		if err != nil {
			t.Fatalf("GetEnrollment() failed: %v", err)
		}
		if enr.HoursAbsentTotal != 3 {
			t.Errorf("HoursAbsentTotal = %v after refinalize; want unchanged 3", enr.HoursAbsentTotal)
		}
	})

	t.Run("late event after finalize is logged but ignored", func(t *testing.T) {
		recognize(t, env, sess.ID, env.john.ID, start)

		row := attendanceRow(t, env, sess.ID, env.john.ID)
		if row.IsPresent {
			t.Error("event on a finalized session must not change attendance")
		}
		events, err := env.svc.RecognitionEvents(ctx, sess.ID)
		if err != nil {
			t.Fatalf("RecognitionEvents() failed: %v", err)
		}
		if len(events) != 2 {
			t.Errorf("len(events) = %d; want 2", len(events))
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		if _, err := env.svc.FinalizeSession(ctx, "nope"); err != attendance.ErrSessionNotFound {
			t.Errorf("err = %v; want ErrSessionNotFound", err)
		}
	})
}

func TestServiceFinalizeEmptySession(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	sess := startSession(t, env, core.UTCNow().Add(-2*time.Hour))

	summary, err := env.svc.FinalizeSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("FinalizeSession() failed: %v", err)
	}
	if summary.TotalHours != 2 {
		t.Errorf("TotalHours = %d; want 2", summary.TotalHours)
	}

	rows, err := env.svc.SessionAttendance(ctx, sess.ID)
	if err != nil {
		t.Fatalf("SessionAttendance() failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d; want one per enrolled student", len(rows))
	}
	for _, row := range rows {
		if row.IsPresent {
			t.Errorf("student %d marked present on an empty session", row.StudentID)
		}
		enr, err := env.schoolRepo.GetEnrollment(ctx, env.course.ID, row.StudentID)
		if err != nil {
			t.Fatalf("GetEnrollment() failed: %v", err)
		}
		if enr.HoursAbsentTotal != float64(summary.TotalHours) {
			t.Errorf("student %d HoursAbsentTotal = %v; want %d", row.StudentID, enr.HoursAbsentTotal, summary.TotalHours)
		}
	}

	absentees, err := env.svc.Absentees(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Absentees() failed: %v", err)
	}
	if len(absentees) != 2 {
		t.Errorf("len(absentees) = %d; want 2", len(absentees))
	}
}

func TestServiceSetManualAttendance(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	sess := startSession(t, env, sessionStart)

	rec, err := env.svc.SetManualAttendance(ctx, sess.ID, env.jane.ID, attendance.ManualAttendance{IsPresent: true})
	if err != nil {
		t.Fatalf("SetManualAttendance() failed: %v", err)
	}
	if !rec.IsPresent || rec.IsLate {
		t.Errorf("IsPresent = %v, IsLate = %v; want present and on time", rec.IsPresent, rec.IsLate)
	}
	if !rec.FirstSeenAt.Valid {
		t.Error("manual present mark must stamp FirstSeenAt")
	}

	// marking absent clears sighting state
	rec, err = env.svc.SetManualAttendance(ctx, sess.ID, env.jane.ID, attendance.ManualAttendance{IsPresent: false, IsLate: true})
	if err != nil {
		t.Fatalf("SetManualAttendance() failed: %v", err)
	}
	if rec.IsPresent || rec.IsLate {
		t.Error("absent overrides must clear presence and lateness")
	}
	if rec.FirstSeenAt.Valid || rec.ArrivalDelayMinutes.Valid {
		t.Error("absent overrides must clear sighting state")
	}
}

func TestServiceNotifyAbsentees(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	start := core.UTCNow().Add(-time.Hour)
	sess := startSession(t, env, start)

	recognize(t, env, sess.ID, env.jane.ID, start.Add(5*time.Minute))
	if _, err := env.svc.FinalizeSession(ctx, sess.ID); err != nil {
		t.Fatalf("FinalizeSession() failed: %v", err)
	}

	origDryRun := core.Conf.EmailDryRun
	core.Conf.EmailDryRun = true
	defer func() { core.Conf.EmailDryRun = origDryRun }()

	queued, failed, err := env.svc.NotifyAbsentees(ctx, sess.ID)
	if err != nil {
		t.Fatalf("NotifyAbsentees() failed: %v", err)
	}
	if queued != 1 || failed != 0 {
		t.Errorf("queued = %d, failed = %d; want 1 and 0", queued, failed)
	}
	if len(env.mail.sent) != 0 {
		t.Error("dry run must not hand messages to the email backend")
	}

	logs, err := env.svc.EmailLogs(ctx, sess.ID)
	if err != nil {
		t.Fatalf("EmailLogs() failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("len(logs) = %d; want 1", len(logs))
	}
	log := logs[0]
	if log.StudentID != env.john.ID || log.RecipientEmail != env.john.Email {
		t.Errorf("log addressed to student %d <%s>; want the absentee", log.StudentID, log.RecipientEmail)
	}
	if log.Status != attendance.EmailStatusDryRun {
		t.Errorf("Status = %q; want %q", log.Status, attendance.EmailStatusDryRun)
	}
	if want := "Attendance Update - cs101 - John Smith"; log.SubjectLine != want {
		t.Errorf("SubjectLine = %q; want %q", log.SubjectLine, want)
	}
}
