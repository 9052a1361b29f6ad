package attendance

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/school"
)

var (
	// errors
	ErrSessionNotFound   = stderrors.New("session not found")
	ErrAttendanceMissing = stderrors.New("attendance record not found")
)

type (
	Repository interface {
		// Atomically runs fn inside one storage transaction, retrying
		// internally on transient conflicts; mutations made through exec are
		// all-or-nothing. Exhausted retries surface as core.TransientError.
		Atomically(ctx context.Context, fn func(exec core.DBExecutor) error) error

		CreateSession(ctx context.Context, s Session, exec ...core.DBExecutor) (Session, error)
		GetSession(ctx context.Context, id string, exec ...core.DBExecutor) (Session, error)
		// GetSessionLocked pins the session row until the enclosing
		// transaction ends, serializing concurrent finalize attempts.
		GetSessionLocked(ctx context.Context, id string, exec core.DBExecutor) (Session, error)
		SaveSessionFinalized(ctx context.Context, s Session, exec ...core.DBExecutor) error

		AddRecognitionEvent(ctx context.Context, ev RecognitionEvent, exec ...core.DBExecutor) (RecognitionEvent, error)
		QueryRecognitionEvents(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]RecognitionEvent, error)
		// ApplyRecognition folds one sighting into the (session, student)
		// attendance record and its hour bucket, atomically with respect to
		// concurrent sightings for the same keys (FoldRecognition decides the
		// stored values). It re-reads the session status inside its atomic
		// section and writes nothing when the session has been finalized in
		// the meantime, returning a zero record and no error.
		ApplyRecognition(ctx context.Context, sess Session, studentID int, seenAt time.Time, graceMinutes int) (AttendanceRecord, error)

		GetAttendanceRecord(ctx context.Context, sessionID string, studentID int, exec ...core.DBExecutor) (AttendanceRecord, error)
		SetAttendanceRecord(ctx context.Context, rec AttendanceRecord, exec ...core.DBExecutor) (AttendanceRecord, error)
		QuerySessionAttendance(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]StudentAttendance, error)

		EnrolledStudents(ctx context.Context, courseID int, exec ...core.DBExecutor) ([]school.Student, error)
		// EnsureAttendanceRecord inserts rec only if no record exists yet for
		// its (session, student) key.
		EnsureAttendanceRecord(ctx context.Context, rec AttendanceRecord, exec ...core.DBExecutor) error
		// SeedAbsentHours inserts absent "system" hour rows for every hour
		// index in [0, totalHours) that has no row yet; event-sourced rows are
		// never overwritten.
		SeedAbsentHours(ctx context.Context, sessionID string, studentID, totalHours int, exec ...core.DBExecutor) error
		CountAbsentHours(ctx context.Context, sessionID string, studentID int, exec ...core.DBExecutor) (int, error)
		AddAbsenceHours(ctx context.Context, courseID, studentID int, hours float64, at time.Time, exec ...core.DBExecutor) error

		QueryAbsentees(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]Absentee, error)
		AddEmailLog(ctx context.Context, l EmailLog, exec ...core.DBExecutor) (EmailLog, error)
		QueryEmailLogs(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]EmailLog, error)
	}

	ServiceInterface interface {
		StartSession(ctx context.Context, ns NewSession) (Session, error)
		GetSession(ctx context.Context, id string) (Session, error)
		RecordRecognition(ctx context.Context, nr NewRecognition) error
		FinalizeSession(ctx context.Context, sessionID string) (SessionSummary, error)
		SetManualAttendance(ctx context.Context, sessionID string, studentID int, ma ManualAttendance) (AttendanceRecord, error)
		SessionAttendance(ctx context.Context, sessionID string) ([]StudentAttendance, error)
		RecognitionEvents(ctx context.Context, sessionID string) ([]RecognitionEvent, error)
		Absentees(ctx context.Context, sessionID string) ([]Absentee, error)
		NotifyAbsentees(ctx context.Context, sessionID string) (queued, failed int, err error)
		EmailLogs(ctx context.Context, sessionID string) ([]EmailLog, error)
	}

	Service struct {
		repo       Repository
		schoolRepo school.Repository
		mailSvc    core.EmailService
		logger     core.Logger
		maxHours   int
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(repo Repository, schoolRepo school.Repository, mailSvc core.EmailService, logger core.Logger) *Service {
	return &Service{
		repo:       repo,
		schoolRepo: schoolRepo,
		mailSvc:    mailSvc,
		logger:     logger,
		maxHours:   core.Conf.Attendance.MaxSessionHours,
	}
}

// StartSession opens a new active session for a course. Only active
// courses can start sessions; unknown or inactive courses fail with
// school.ErrCourseNotFound.
func (svc *Service) StartSession(ctx context.Context, ns NewSession) (Session, error) {
	course, err := svc.schoolRepo.GetCourse(ctx, ns.CourseID)
	if err != nil {
		return Session{}, err
	}
	if !course.IsActive {
		return Session{}, school.ErrCourseNotFound
	}

	startedAt := core.UTCNow()
	if ns.StartedAt != nil {
		startedAt = ns.StartedAt.UTC().Truncate(time.Second)
	}
	sess := Session{
		ID:        uuid.New().String(),
		CourseID:  course.ID,
		StartedAt: startedAt,
		Status:    StatusActive,
	}
	return svc.repo.CreateSession(ctx, sess)
}

func (svc *Service) GetSession(ctx context.Context, id string) (Session, error) {
	return svc.repo.GetSession(ctx, id)
}

// RecordRecognition appends the event to the recognition log and, for
// matched students of a still-active session, folds it into attendance
// state. The ingestion path must stay resilient to stale references:
// events naming an unknown session are dropped with a diagnostic, never
// raised. Events arriving for an already-finalized session are logged but
// not applied.
func (svc *Service) RecordRecognition(ctx context.Context, nr NewRecognition) error {
	sess, err := svc.repo.GetSession(ctx, nr.SessionID)
	if err != nil {
		if errors.Cause(err) == ErrSessionNotFound {
			svc.logger.Warn("recognition event dropped: unknown session", map[string]interface{}{"session_id": nr.SessionID})
			return nil
		}
		return errors.Wrap(err, "resolving session")
	}

	recognizedAt := core.UTCNow()
	if nr.RecognizedAt != nil {
		recognizedAt = nr.RecognizedAt.UTC().Truncate(time.Second)
	}

	ev := RecognitionEvent{
		SessionID:    sess.ID,
		StudentID:    null.IntFromPtr(nr.StudentID),
		RecognizedAt: recognizedAt,
		Confidence:   null.Float64FromPtr(nr.Confidence),
		EngineMode:   nr.EngineMode,
		Notes:        null.NewString(nr.Notes, nr.Notes != ""),
	}
	if _, err := svc.repo.AddRecognitionEvent(ctx, ev); err != nil {
		return errors.Wrap(err, "logging recognition event")
	}

	if nr.StudentID == nil { // unmatched face: logged, never forwarded
		return nil
	}
	if sess.IsFinalized() {
		svc.logger.Warn("recognition event ignored: session finalized",
			map[string]interface{}{"session_id": sess.ID, "student_id": *nr.StudentID})
		return nil
	}

	course, err := svc.schoolRepo.GetCourse(ctx, sess.CourseID)
	if err != nil {
		svc.logger.Error("recognition event dropped: course lookup failed", err,
			map[string]interface{}{"session_id": sess.ID, "course_id": sess.CourseID})
		return nil
	}

	if _, err := svc.repo.ApplyRecognition(ctx, sess, *nr.StudentID, recognizedAt, course.LateGraceMinutes); err != nil {
		return errors.Wrap(err, "applying recognition upsert")
	}
	return nil
}

// FinalizeSession closes the session and runs the absence aggregation
// once, as one transaction: backfill absent records, seed absent hour
// buckets, count each student's absent hours and fold them into the
// cumulative enrollment totals. Re-finalizing is a no-op flagged by
// Aggregated=false.
func (svc *Service) FinalizeSession(ctx context.Context, sessionID string) (SessionSummary, error) {
	if _, err := svc.repo.GetSession(ctx, sessionID); err != nil {
		return SessionSummary{}, err
	}

	var summary SessionSummary
	err := svc.repo.Atomically(ctx, func(exec core.DBExecutor) error {
		sess, err := svc.repo.GetSessionLocked(ctx, sessionID, exec)
		if err != nil {
			return err
		}

		if sess.IsFinalized() {
			durMin, hours := TotalHours(sess.StartedAt, sess.EndedAt.Time, svc.maxHours)
			summary = SessionSummary{
				SessionID:       sess.ID,
				CourseID:        sess.CourseID,
				StartedAt:       sess.StartedAt,
				EndedAt:         sess.EndedAt.Time,
				DurationMinutes: durMin,
				TotalHours:      hours,
				Aggregated:      false,
			}
			return nil
		}

		endedAt := core.UTCNow()
		if sess.EndedAt.Valid {
			endedAt = sess.EndedAt.Time
		}
		durationMinutes, totalHours := TotalHours(sess.StartedAt, endedAt, svc.maxHours)

		sess.EndedAt = null.TimeFrom(endedAt)
		sess.Status = StatusFinalized
		if err := svc.repo.SaveSessionFinalized(ctx, sess, exec); err != nil {
			return errors.Wrap(err, "saving finalized session")
		}

		students, err := svc.repo.EnrolledStudents(ctx, sess.CourseID, exec)
		if err != nil {
			return errors.Wrap(err, "listing enrolled students")
		}

		for _, std := range students {
			absent := AttendanceRecord{
				SessionID: sess.ID,
				StudentID: std.ID,
				IsPresent: false,
				IsLate:    false,
			}
			if err := svc.repo.EnsureAttendanceRecord(ctx, absent, exec); err != nil {
				return errors.Wrap(err, "backfilling absentee record")
			}
			if err := svc.repo.SeedAbsentHours(ctx, sess.ID, std.ID, totalHours, exec); err != nil {
				return errors.Wrap(err, "seeding absent hour buckets")
			}
		}

		for _, std := range students {
			absentHours, err := svc.repo.CountAbsentHours(ctx, sess.ID, std.ID, exec)
			if err != nil {
				return errors.Wrap(err, "counting absent hours")
			}
			if err := svc.repo.AddAbsenceHours(ctx, sess.CourseID, std.ID, float64(absentHours), endedAt, exec); err != nil {
				return errors.Wrap(err, "updating cumulative absence")
			}
		}

		summary = SessionSummary{
			SessionID:       sess.ID,
			CourseID:        sess.CourseID,
			StartedAt:       sess.StartedAt,
			EndedAt:         endedAt,
			DurationMinutes: durationMinutes,
			TotalHours:      totalHours,
			Aggregated:      true,
		}
		return nil
	})
	if err != nil {
		return SessionSummary{}, err
	}
	return summary, nil
}

// SetManualAttendance writes an attendance record directly, bypassing the
// event-upsert rules. Lateness is forced off for absent students.
func (svc *Service) SetManualAttendance(ctx context.Context, sessionID string, studentID int, ma ManualAttendance) (AttendanceRecord, error) {
	sess, err := svc.repo.GetSession(ctx, sessionID)
	if err != nil {
		return AttendanceRecord{}, err
	}

	rec, err := svc.repo.GetAttendanceRecord(ctx, sess.ID, studentID)
	if err != nil {
		if errors.Cause(err) != ErrAttendanceMissing {
			return AttendanceRecord{}, err
		}
		rec = AttendanceRecord{SessionID: sess.ID, StudentID: studentID}
	}

	rec.IsPresent = ma.IsPresent
	rec.IsLate = ma.IsLate && ma.IsPresent
	if ma.ArrivalDelayMinutes != nil {
		rec.ArrivalDelayMinutes = null.IntFrom(*ma.ArrivalDelayMinutes)
	}
	if ma.IsPresent && !rec.FirstSeenAt.Valid {
		markedAt := core.UTCNow()
		if ma.MarkedAt != nil {
			markedAt = ma.MarkedAt.UTC().Truncate(time.Second)
		}
		rec.FirstSeenAt = null.TimeFrom(markedAt)
		rec.LastSeenAt = null.TimeFrom(markedAt)
	}
	if !ma.IsPresent {
		rec.FirstSeenAt = null.Time{}
		rec.LastSeenAt = null.Time{}
		rec.ArrivalDelayMinutes = null.Int{}
	}

	return svc.repo.SetAttendanceRecord(ctx, rec)
}

// SessionAttendance lists presence state for every enrolled student of
// the session's course; students never seen appear absent.
func (svc *Service) SessionAttendance(ctx context.Context, sessionID string) ([]StudentAttendance, error) {
	if _, err := svc.repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return svc.repo.QuerySessionAttendance(ctx, sessionID)
}

// RecognitionEvents lists a session's raw event log, oldest first.
func (svc *Service) RecognitionEvents(ctx context.Context, sessionID string) ([]RecognitionEvent, error) {
	if _, err := svc.repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return svc.repo.QueryRecognitionEvents(ctx, sessionID)
}

// Absentees lists the students whose per-session record says absent.
func (svc *Service) Absentees(ctx context.Context, sessionID string) ([]Absentee, error) {
	if _, err := svc.repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return svc.repo.QueryAbsentees(ctx, sessionID)
}
