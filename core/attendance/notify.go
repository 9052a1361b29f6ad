package attendance

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/school"
)

// absenteeReportData feeds the absentee-report email templates.
type absenteeReportData struct {
	StudentName      string
	CourseCode       string
	CourseName       string
	SessionDate      string
	HoursAbsentTotal float64
	AtRisk           bool
	MaxAllowedAbsent float64
}

// NotifyAbsentees renders and dispatches one absence report per absentee
// of a finalized session, recording every attempt in the email log.
// Dispatch is best-effort per recipient: a render failure is logged as
// FAILED and the loop moves on.
func (svc *Service) NotifyAbsentees(ctx context.Context, sessionID string) (queued, failed int, err error) {
	sess, err := svc.repo.GetSession(ctx, sessionID)
	if err != nil {
		return 0, 0, err
	}

	absentees, err := svc.repo.QueryAbsentees(ctx, sessionID)
	if err != nil {
		return 0, 0, errors.Wrap(err, "listing absentees")
	}
	if len(absentees) == 0 {
		return 0, 0, nil
	}

	course, err := svc.schoolRepo.GetCourse(ctx, sess.CourseID)
	if err != nil {
		return 0, 0, err
	}

	entries, err := svc.schoolRepo.QueryGradebook(ctx, sess.CourseID)
	if err != nil {
		return 0, 0, errors.Wrap(err, "loading gradebook")
	}
	byStudent := make(map[int]school.GradebookRow, len(entries))
	for _, row := range entries {
		byStudent[row.Student.ID] = row
	}

	sentAt := core.UTCNow()
	var outbox []*core.EmailMessage

	for _, abs := range absentees {
		subject := fmt.Sprintf("Attendance Update - %s - %s", course.Code, abs.Name)
		log := EmailLog{
			SessionID:      sess.ID,
			StudentID:      abs.StudentID,
			RecipientEmail: abs.Email,
			SubjectLine:    subject,
			SentAt:         sentAt,
		}

		data := absenteeReportData{
			StudentName:      abs.Name,
			CourseCode:       course.Code,
			CourseName:       course.Name,
			SessionDate:      sess.StartedAt.Format("Mon, 02 Jan 2006"),
			MaxAllowedAbsent: course.MaxAllowedAbsent,
		}
		if row, ok := byStudent[abs.StudentID]; ok {
			entry := school.NewGradebookEntry(row)
			data.HoursAbsentTotal = entry.HoursAbsentTotal
			data.AtRisk = entry.AtRiskByPolicy
		}

		msg := &core.EmailMessage{
			To:           []mail.Address{{Name: abs.Name, Address: abs.Email}},
			Subject:      subject,
			TemplateName: "absentee-report",
			TemplateData: data,
		}
		if renderErr := msg.Render(); renderErr != nil {
			svc.logger.Error("absentee report render failed", renderErr,
				map[string]interface{}{"session_id": sess.ID, "student_id": abs.StudentID})
			log.Status = EmailStatusFailed
			log.ErrorMessage = null.StringFrom(renderErr.Error())
			failed++
		} else if core.Conf.EmailDryRun {
			log.Status = EmailStatusDryRun
			queued++
		} else {
			outbox = append(outbox, msg)
			log.Status = EmailStatusQueued
			queued++
		}

		if _, logErr := svc.repo.AddEmailLog(ctx, log); logErr != nil {
			return queued, failed, errors.Wrap(logErr, "recording email dispatch")
		}
	}

	if len(outbox) > 0 {
		svc.mailSvc.SendMessages(outbox...)
	}
	return queued, failed, nil
}

// EmailLogs lists the dispatch log of one session, newest first.
func (svc *Service) EmailLogs(ctx context.Context, sessionID string) ([]EmailLog, error) {
	if _, err := svc.repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return svc.repo.QueryEmailLogs(ctx, sessionID)
}
