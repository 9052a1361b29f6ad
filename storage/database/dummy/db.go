package dummydb

import (
	"sync"

	"github.com/trezcool/darasa/core/attendance"
	"github.com/trezcool/darasa/core/school"
)

type (
	// DB is an in-memory stand-in for the real database. A single lock
	// covers all tables so Atomically is trivially serializable.
	DB struct {
		mu sync.RWMutex

		course     map[int]*school.Course
		student    map[int]*school.Student
		enrollment map[enrollmentKey]*school.Enrollment

		session     map[string]*attendance.Session
		recognition []attendance.RecognitionEvent
		record      map[recordKey]*attendance.AttendanceRecord
		hour        map[hourKey]*attendance.HourAttendance
		emailLog    []attendance.EmailLog

		coursePK  int
		studentPK int
		eventPK   int64
		logPK     int64
	}

	enrollmentKey struct {
		courseID  int
		studentID int
	}

	recordKey struct {
		sessionID string
		studentID int
	}

	hourKey struct {
		sessionID string
		studentID int
		hourIndex int
	}
)

func Open() (*DB, error) {
	db := &DB{
		course:     make(map[int]*school.Course),
		student:    make(map[int]*school.Student),
		enrollment: make(map[enrollmentKey]*school.Enrollment),
		session:    make(map[string]*attendance.Session),
		record:     make(map[recordKey]*attendance.AttendanceRecord),
		hour:       make(map[hourKey]*attendance.HourAttendance),
	}
	return db, nil
}
