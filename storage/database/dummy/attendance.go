package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/attendance"
	"github.com/trezcool/darasa/core/school"
)

type attendanceRepository struct {
	db *DB
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *DB) *attendanceRepository {
	return &attendanceRepository{db: db}
}

// Atomically holds the write lock for the whole of fn. Repository methods
// receiving an exec argument assume the lock is already held.
func (repo *attendanceRepository) Atomically(ctx context.Context, fn func(exec core.DBExecutor) error) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	return fn(nil)
}

func (repo *attendanceRepository) CreateSession(ctx context.Context, s attendance.Session, exec ...core.DBExecutor) (attendance.Session, error) {
	if len(exec) == 0 {
		repo.db.mu.Lock()
		defer repo.db.mu.Unlock()
	}
	repo.db.session[s.ID] = &s
	return s, nil
}

func (repo *attendanceRepository) getSession(id string) (attendance.Session, error) {
	if sess, ok := repo.db.session[id]; ok {
		return *sess, nil
	}
	return attendance.Session{}, attendance.ErrSessionNotFound
}

func (repo *attendanceRepository) GetSession(ctx context.Context, id string, exec ...core.DBExecutor) (attendance.Session, error) {
	if len(exec) == 0 {
		repo.db.mu.RLock()
		defer repo.db.mu.RUnlock()
	}
	return repo.getSession(id)
}

func (repo *attendanceRepository) GetSessionLocked(ctx context.Context, id string, exec core.DBExecutor) (attendance.Session, error) {
	return repo.getSession(id)
}

func (repo *attendanceRepository) SaveSessionFinalized(ctx context.Context, s attendance.Session, exec ...core.DBExecutor) error {
	if len(exec) == 0 {
		repo.db.mu.Lock()
		defer repo.db.mu.Unlock()
	}
	sess, ok := repo.db.session[s.ID]
	if !ok {
		return attendance.ErrSessionNotFound
	}
	sess.EndedAt = s.EndedAt
	sess.Status = s.Status
	return nil
}

func (repo *attendanceRepository) AddRecognitionEvent(ctx context.Context, ev attendance.RecognitionEvent, exec ...core.DBExecutor) (attendance.RecognitionEvent, error) {
	if len(exec) == 0 {
		repo.db.mu.Lock()
		defer repo.db.mu.Unlock()
	}
	repo.db.eventPK++
	ev.ID = repo.db.eventPK
	repo.db.recognition = append(repo.db.recognition, ev)
	return ev, nil
}

func (repo *attendanceRepository) QueryRecognitionEvents(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]attendance.RecognitionEvent, error) {
	if len(exec) == 0 {
		repo.db.mu.RLock()
		defer repo.db.mu.RUnlock()
	}
	var events []attendance.RecognitionEvent
	for _, ev := range repo.db.recognition {
		if ev.SessionID == sessionID {
			events = append(events, ev)
		}
	}
	return events, nil
}

func (repo *attendanceRepository) ApplyRecognition(ctx context.Context, sess attendance.Session, studentID int, seenAt time.Time, graceMinutes int) (attendance.AttendanceRecord, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	// the caller's session value may predate a concurrent finalize;
	// re-check the stored status under the lock
	cur, ok := repo.db.session[sess.ID]
	if !ok {
		return attendance.AttendanceRecord{}, attendance.ErrSessionNotFound
	}
	if cur.IsFinalized() {
		return attendance.AttendanceRecord{}, nil
	}

	key := recordKey{sess.ID, studentID}
	rec := attendance.FoldRecognition(repo.db.record[key], sess.ID, studentID, cur.StartedAt, seenAt, graceMinutes)
	repo.db.record[key] = &rec

	idx := attendance.HourIndex(attendance.DelayMinutes(sess.StartedAt, seenAt))
	repo.db.hour[hourKey{sess.ID, studentID, idx}] = &attendance.HourAttendance{
		SessionID: sess.ID,
		StudentID: studentID,
		HourIndex: idx,
		IsPresent: true,
		Source:    attendance.SourceEvent,
	}
	return rec, nil
}

func (repo *attendanceRepository) GetAttendanceRecord(ctx context.Context, sessionID string, studentID int, exec ...core.DBExecutor) (attendance.AttendanceRecord, error) {
	if len(exec) == 0 {
		repo.db.mu.RLock()
		defer repo.db.mu.RUnlock()
	}
	if rec, ok := repo.db.record[recordKey{sessionID, studentID}]; ok {
		return *rec, nil
	}
	return attendance.AttendanceRecord{}, attendance.ErrAttendanceMissing
}

func (repo *attendanceRepository) SetAttendanceRecord(ctx context.Context, rec attendance.AttendanceRecord, exec ...core.DBExecutor) (attendance.AttendanceRecord, error) {
	if len(exec) == 0 {
		repo.db.mu.Lock()
		defer repo.db.mu.Unlock()
	}
	repo.db.record[recordKey{rec.SessionID, rec.StudentID}] = &rec
	return rec, nil
}

func (repo *attendanceRepository) QuerySessionAttendance(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]attendance.StudentAttendance, error) {
	if len(exec) == 0 {
		repo.db.mu.RLock()
		defer repo.db.mu.RUnlock()
	}
	sess, err := repo.getSession(sessionID)
	if err != nil {
		return nil, err
	}

	var rows []attendance.StudentAttendance
	for key := range repo.db.enrollment {
		if key.courseID != sess.CourseID {
			continue
		}
		std, ok := repo.db.student[key.studentID]
		if !ok {
			continue
		}
		row := attendance.StudentAttendance{
			StudentID:   std.ID,
			StudentCode: std.Code,
			FullName:    std.Name,
		}
		if rec, ok := repo.db.record[recordKey{sessionID, std.ID}]; ok {
			row.FirstSeenAt = rec.FirstSeenAt
			row.LastSeenAt = rec.LastSeenAt
			row.IsPresent = rec.IsPresent
			row.IsLate = rec.IsLate
			row.ArrivalDelayMinutes = rec.ArrivalDelayMinutes
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].StudentCode < rows[j].StudentCode })
	return rows, nil
}

func (repo *attendanceRepository) EnrolledStudents(ctx context.Context, courseID int, exec ...core.DBExecutor) ([]school.Student, error) {
	if len(exec) == 0 {
		repo.db.mu.RLock()
		defer repo.db.mu.RUnlock()
	}
	var students []school.Student
	for key := range repo.db.enrollment {
		if key.courseID != courseID {
			continue
		}
		if std, ok := repo.db.student[key.studentID]; ok {
			students = append(students, *std)
		}
	}
	sort.Slice(students, func(i, j int) bool { return students[i].ID < students[j].ID })
	return students, nil
}

func (repo *attendanceRepository) EnsureAttendanceRecord(ctx context.Context, rec attendance.AttendanceRecord, exec ...core.DBExecutor) error {
	if len(exec) == 0 {
		repo.db.mu.Lock()
		defer repo.db.mu.Unlock()
	}
	key := recordKey{rec.SessionID, rec.StudentID}
	if _, ok := repo.db.record[key]; !ok {
		repo.db.record[key] = &rec
	}
	return nil
}

func (repo *attendanceRepository) SeedAbsentHours(ctx context.Context, sessionID string, studentID, totalHours int, exec ...core.DBExecutor) error {
	if len(exec) == 0 {
		repo.db.mu.Lock()
		defer repo.db.mu.Unlock()
	}
	for idx := 0; idx < totalHours; idx++ {
		key := hourKey{sessionID, studentID, idx}
		if _, ok := repo.db.hour[key]; ok {
			continue
		}
		repo.db.hour[key] = &attendance.HourAttendance{
			SessionID: sessionID,
			StudentID: studentID,
			HourIndex: idx,
			IsPresent: false,
			Source:    attendance.SourceSystem,
		}
	}
	return nil
}

func (repo *attendanceRepository) CountAbsentHours(ctx context.Context, sessionID string, studentID int, exec ...core.DBExecutor) (int, error) {
	if len(exec) == 0 {
		repo.db.mu.RLock()
		defer repo.db.mu.RUnlock()
	}
	var count int
	for key, h := range repo.db.hour {
		if key.sessionID == sessionID && key.studentID == studentID && !h.IsPresent {
			count++
		}
	}
	return count, nil
}

func (repo *attendanceRepository) AddAbsenceHours(ctx context.Context, courseID, studentID int, hours float64, at time.Time, exec ...core.DBExecutor) error {
	if len(exec) == 0 {
		repo.db.mu.Lock()
		defer repo.db.mu.Unlock()
	}
	enr, ok := repo.db.enrollment[enrollmentKey{courseID, studentID}]
	if !ok {
		return school.ErrEnrollmentNotFound
	}
	enr.HoursAbsentTotal += hours
	enr.UpdatedAt = at
	return nil
}

func (repo *attendanceRepository) QueryAbsentees(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]attendance.Absentee, error) {
	if len(exec) == 0 {
		repo.db.mu.RLock()
		defer repo.db.mu.RUnlock()
	}
	var absentees []attendance.Absentee
	for key, rec := range repo.db.record {
		if key.sessionID != sessionID || rec.IsPresent {
			continue
		}
		std, ok := repo.db.student[key.studentID]
		if !ok {
			continue
		}
		absentees = append(absentees, attendance.Absentee{
			StudentID: std.ID,
			Code:      std.Code,
			Name:      std.Name,
			Email:     std.Email,
		})
	}
	sort.Slice(absentees, func(i, j int) bool { return absentees[i].Code < absentees[j].Code })
	return absentees, nil
}

func (repo *attendanceRepository) AddEmailLog(ctx context.Context, l attendance.EmailLog, exec ...core.DBExecutor) (attendance.EmailLog, error) {
	if len(exec) == 0 {
		repo.db.mu.Lock()
		defer repo.db.mu.Unlock()
	}
	repo.db.logPK++
	l.ID = repo.db.logPK
	repo.db.emailLog = append(repo.db.emailLog, l)
	return l, nil
}

func (repo *attendanceRepository) QueryEmailLogs(ctx context.Context, sessionID string, exec ...core.DBExecutor) ([]attendance.EmailLog, error) {
	if len(exec) == 0 {
		repo.db.mu.RLock()
		defer repo.db.mu.RUnlock()
	}
	var logs []attendance.EmailLog
	for _, l := range repo.db.emailLog {
		if l.SessionID == sessionID {
			logs = append(logs, l)
		}
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].ID > logs[j].ID })
	return logs, nil
}
