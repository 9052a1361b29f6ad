package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/attendance"
	"github.com/trezcool/darasa/core/school"
)

type attendanceRepository struct {
	db *sqlx.DB
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *sqlx.DB) *attendanceRepository {
	return &attendanceRepository{db: db}
}

func (repo *attendanceRepository) Atomically(ctx context.Context, fn func(exec core.DBExecutor) error) error {
	return atomically(ctx, repo.db, fn)
}

func (repo *attendanceRepository) CreateSession(ctx context.Context, s attendance.Session, exec ...core.DBExecutor) (attendance.Session, error) {
	_, err := ext(repo.db, exec...).ExecContext(ctx,
		`INSERT INTO class_session (id, course_id, started_at, ended_at, status) VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.CourseID, s.StartedAt, s.EndedAt, s.Status,
	)
	return s, errors.Wrap(err, "inserting session")
}

func (repo *attendanceRepository) GetSession(ctx context.Context, id string, exec ...core.DBExecutor) (attendance.Session, error) {
	var sess attendance.Session
	err := sqlx.GetContext(ctx, ext(repo.db, exec...), &sess, `SELECT * FROM class_session WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return attendance.Session{}, attendance.ErrSessionNotFound
	}
	return sess, errors.Wrap(err, "getting session")
}

func (repo *attendanceRepository) GetSessionLocked(ctx context.Context, id string, exec core.DBExecutor) (attendance.Session, error) {
	var sess attendance.Session
	err := sqlx.GetContext(ctx, ext(repo.db, exec), &sess, `SELECT * FROM class_session WHERE id = $1 FOR UPDATE`, id)
	if err == sql.ErrNoRows {
		return attendance.Session{}, attendance.ErrSessionNotFound
	}
	return sess, errors.Wrap(err, "locking session")
}

func (repo *attendanceRepository) SaveSessionFinalized(ctx context.Context, s attendance.Session, exec ...core.DBExecutor) error {
	res, err := ext(repo.db, exec...).ExecContext(ctx,
		`UPDATE class_session SET ended_at = $2, status = $3 WHERE id = $1`,
		s.ID, s.EndedAt, s.Status,
	)
	if err != nil {
		return errors.Wrap(err, "updating session")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return attendance.ErrSessionNotFound
	}
	return nil
}

func (repo *attendanceRepository) AddRecognitionEvent(ctx context.Context, ev attendance.RecognitionEvent, exec ...core.DBExecutor) (attendance.RecognitionEvent, error) {
	err := sqlx.GetContext(ctx, ext(repo.db, exec...), &ev.ID,
		`INSERT INTO session_recognition (session_id, student_id, recognized_at, confidence, engine_mode, notes)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		ev.SessionID, ev.StudentID, ev.RecognizedAt, ev.Confidence, ev.EngineMode, ev.Notes,
	)
	return ev, errors.Wrap(err, "inserting recognition event")
}

func (repo *attendanceRepository) QueryRecognitionEvents(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]attendance.RecognitionEvent, error) {
	var events []attendance.RecognitionEvent
	err := sqlx.SelectContext(ctx, ext(repo.db, exec...), &events,
		`SELECT * FROM session_recognition WHERE session_id = $1 ORDER BY id`, sessionID,
	)
	return events, errors.Wrap(err, "querying recognition events")
}

func (repo *attendanceRepository) ApplyRecognition(ctx context.Context, sess attendance.Session, studentID int, seenAt time.Time, graceMinutes int) (attendance.AttendanceRecord, error) {
	var rec attendance.AttendanceRecord
	err := repo.Atomically(ctx, func(exec core.DBExecutor) error {
		e := ext(repo.db, exec)

		// the caller's session read happened outside this transaction;
		// re-check the status under a share lock so a finalize committing
		// in between cannot be trailed by a presence write
		var cur attendance.Session
		err := sqlx.GetContext(ctx, e, &cur, `SELECT * FROM class_session WHERE id = $1 FOR SHARE`, sess.ID)
		if err == sql.ErrNoRows {
			return attendance.ErrSessionNotFound
		}
		if err != nil {
			return errors.Wrap(err, "locking session")
		}
		if cur.IsFinalized() {
			return nil
		}

		// the insert arm decides lateness and arrival delay; the conflict
		// arm only widens the seen-at bounds and marks presence, so two
		// racing first sightings cannot revise the verdict the winning
		// insert fixed
		folded := attendance.FoldRecognition(nil, sess.ID, studentID, cur.StartedAt, seenAt, graceMinutes)
		err = sqlx.GetContext(ctx, e, &rec,
			`INSERT INTO session_attendance (session_id, student_id, first_seen_at, last_seen_at, is_present, is_late, arrival_delay_minutes)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (session_id, student_id) DO UPDATE
			     SET first_seen_at = LEAST(session_attendance.first_seen_at, EXCLUDED.first_seen_at),
			         last_seen_at  = GREATEST(session_attendance.last_seen_at, EXCLUDED.last_seen_at),
			         is_present    = TRUE
			 RETURNING *`,
			folded.SessionID, folded.StudentID, folded.FirstSeenAt, folded.LastSeenAt, folded.IsPresent, folded.IsLate, folded.ArrivalDelayMinutes,
		)
		if err != nil {
			return errors.Wrap(err, "upserting attendance record")
		}

		idx := attendance.HourIndex(attendance.DelayMinutes(cur.StartedAt, seenAt))
		_, err = e.ExecContext(ctx,
			`INSERT INTO session_hour_attendance (session_id, student_id, hour_index, is_present, source)
			 VALUES ($1, $2, $3, TRUE, 'event')
			 ON CONFLICT (session_id, student_id, hour_index) DO UPDATE SET is_present = TRUE, source = 'event'`,
			sess.ID, studentID, idx,
		)
		return errors.Wrap(err, "upserting hour bucket")
	})
	return rec, err
}

func (repo *attendanceRepository) GetAttendanceRecord(ctx context.Context, sessionID string, studentID int, exec ...core.DBExecutor) (attendance.AttendanceRecord, error) {
	var rec attendance.AttendanceRecord
	err := sqlx.GetContext(ctx, ext(repo.db, exec...), &rec,
		`SELECT * FROM session_attendance WHERE session_id = $1 AND student_id = $2`, sessionID, studentID,
	)
	if err == sql.ErrNoRows {
		return attendance.AttendanceRecord{}, attendance.ErrAttendanceMissing
	}
	return rec, errors.Wrap(err, "getting attendance record")
}

func (repo *attendanceRepository) SetAttendanceRecord(ctx context.Context, rec attendance.AttendanceRecord, exec ...core.DBExecutor) (attendance.AttendanceRecord, error) {
	_, err := ext(repo.db, exec...).ExecContext(ctx,
		`INSERT INTO session_attendance (session_id, student_id, first_seen_at, last_seen_at, is_present, is_late, arrival_delay_minutes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (session_id, student_id) DO UPDATE
		     SET first_seen_at         = EXCLUDED.first_seen_at,
		         last_seen_at          = EXCLUDED.last_seen_at,
		         is_present            = EXCLUDED.is_present,
		         is_late               = EXCLUDED.is_late,
		         arrival_delay_minutes = EXCLUDED.arrival_delay_minutes`,
		rec.SessionID, rec.StudentID, rec.FirstSeenAt, rec.LastSeenAt, rec.IsPresent, rec.IsLate, rec.ArrivalDelayMinutes,
	)
	return rec, errors.Wrap(err, "upserting attendance record")
}

func (repo *attendanceRepository) QuerySessionAttendance(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]attendance.StudentAttendance, error) {
	var rows []attendance.StudentAttendance
	err := sqlx.SelectContext(ctx, ext(repo.db, exec...), &rows,
		`SELECT s.id                           student_id,
		        s.code                         student_code,
		        s.name                         full_name,
		        a.first_seen_at,
		        a.last_seen_at,
		        COALESCE(a.is_present, FALSE)  is_present,
		        COALESCE(a.is_late, FALSE)     is_late,
		        a.arrival_delay_minutes
		 FROM class_session cs
		          JOIN enrollment e ON e.course_id = cs.course_id
		          JOIN student s ON s.id = e.student_id
		          LEFT JOIN session_attendance a ON a.session_id = cs.id AND a.student_id = s.id
		 WHERE cs.id = $1
		 ORDER BY s.code`,
		sessionID,
	)
	return rows, errors.Wrap(err, "querying session attendance")
}

func (repo *attendanceRepository) EnrolledStudents(ctx context.Context, courseID int, exec ...core.DBExecutor) ([]school.Student, error) {
	var students []school.Student
	err := sqlx.SelectContext(ctx, ext(repo.db, exec...), &students,
		`SELECT s.* FROM student s JOIN enrollment e ON e.student_id = s.id WHERE e.course_id = $1 ORDER BY s.id`,
		courseID,
	)
	return students, errors.Wrap(err, "querying enrolled students")
}

func (repo *attendanceRepository) EnsureAttendanceRecord(ctx context.Context, rec attendance.AttendanceRecord, exec ...core.DBExecutor) error {
	_, err := ext(repo.db, exec...).ExecContext(ctx,
		`INSERT INTO session_attendance (session_id, student_id, first_seen_at, last_seen_at, is_present, is_late, arrival_delay_minutes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (session_id, student_id) DO NOTHING`,
		rec.SessionID, rec.StudentID, rec.FirstSeenAt, rec.LastSeenAt, rec.IsPresent, rec.IsLate, rec.ArrivalDelayMinutes,
	)
	return errors.Wrap(err, "ensuring attendance record")
}

func (repo *attendanceRepository) SeedAbsentHours(ctx context.Context, sessionID string, studentID, totalHours int, exec ...core.DBExecutor) error {
	_, err := ext(repo.db, exec...).ExecContext(ctx,
		`INSERT INTO session_hour_attendance (session_id, student_id, hour_index, is_present, source)
		 SELECT $1, $2, gs.idx, FALSE, 'system' FROM generate_series(0, $3 - 1) gs(idx)
		 ON CONFLICT (session_id, student_id, hour_index) DO NOTHING`,
		sessionID, studentID, totalHours,
	)
	return errors.Wrap(err, "seeding absent hours")
}

func (repo *attendanceRepository) CountAbsentHours(ctx context.Context, sessionID string, studentID int, exec ...core.DBExecutor) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, ext(repo.db, exec...), &count,
		`SELECT COUNT(*) FROM session_hour_attendance WHERE session_id = $1 AND student_id = $2 AND NOT is_present`,
		sessionID, studentID,
	)
	return count, errors.Wrap(err, "counting absent hours")
}

func (repo *attendanceRepository) AddAbsenceHours(ctx context.Context, courseID, studentID int, hours float64, at time.Time, exec ...core.DBExecutor) error {
	res, err := ext(repo.db, exec...).ExecContext(ctx,
		`UPDATE enrollment SET hours_absent_total = hours_absent_total + $3, updated_at = $4
		 WHERE course_id = $1 AND student_id = $2`,
		courseID, studentID, hours, at,
	)
	if err != nil {
		return errors.Wrap(err, "updating cumulative absence")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return school.ErrEnrollmentNotFound
	}
	return nil
}

func (repo *attendanceRepository) QueryAbsentees(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]attendance.Absentee, error) {
	var absentees []attendance.Absentee
	err := sqlx.SelectContext(ctx, ext(repo.db, exec...), &absentees,
		`SELECT s.id student_id, s.code student_code, s.name full_name, s.email
		 FROM session_attendance a
		          JOIN student s ON s.id = a.student_id
		 WHERE a.session_id = $1 AND NOT a.is_present
		 ORDER BY s.code`,
		sessionID,
	)
	return absentees, errors.Wrap(err, "querying absentees")
}

func (repo *attendanceRepository) AddEmailLog(ctx context.Context, l attendance.EmailLog, exec ...core.DBExecutor) (attendance.EmailLog, error) {
	err := sqlx.GetContext(ctx, ext(repo.db, exec...), &l.ID,
		`INSERT INTO email_dispatch_log (session_id, student_id, recipient_email, subject_line, status, error_message, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		l.SessionID, l.StudentID, l.RecipientEmail, l.SubjectLine, l.Status, l.ErrorMessage, l.SentAt,
	)
	return l, errors.Wrap(err, "inserting email log")
}

func (repo *attendanceRepository) QueryEmailLogs(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]attendance.EmailLog, error) {
	var logs []attendance.EmailLog
	err := sqlx.SelectContext(ctx, ext(repo.db, exec...), &logs,
		`SELECT * FROM email_dispatch_log WHERE session_id = $1 ORDER BY id DESC`, sessionID,
	)
	return logs, errors.Wrap(err, "querying email logs")
}
