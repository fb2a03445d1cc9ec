package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qq276356648/SmartProctor/internal/core"
	"github.com/qq276356648/SmartProctor/internal/domain"
)

// Join windows open this long before the exam starts.
const (
	TakerEarlyJoin   = 5 * time.Minute
	ProctorEarlyJoin = 15 * time.Minute
)

type Reason int

const (
	ReasonNone Reason = iota
	ReasonSessionNotFound
	ReasonNotAuthorizedForRole
	ReasonNotYetOpen
	ReasonSessionExpired
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "allowed"
	case ReasonSessionNotFound:
		return "session_not_found"
	case ReasonNotAuthorizedForRole:
		return "not_authorized_for_role"
	case ReasonNotYetOpen:
		return "not_yet_open"
	case ReasonSessionExpired:
		return "session_expired"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// User-facing codes shared with the web client.
const (
	CodeSuccess                = 0
	CodeExamNotExist           = 2000
	CodeExamNotPermitToTake    = 2001
	CodeExamNotPermitToProctor = 2002
	CodeExamNotBegin           = 2003
	CodeExamExpired            = 2004
)

var codeMessages = map[int]string{
	CodeSuccess:                "Success",
	CodeExamNotExist:           "Exam does not exist",
	CodeExamNotPermitToTake:    "You are not permitted to take this exam",
	CodeExamNotPermitToProctor: "You are not permitted to proctor this exam",
	CodeExamNotBegin:           "Exam has not begun yet",
	CodeExamExpired:            "Exam has already ended",
}

// Decision is the outcome of an admission check.
type Decision struct {
	Role   domain.Role
	Reason Reason
}

func (d Decision) Allowed() bool { return d.Reason == ReasonNone }

func (d Decision) Code() int {
	switch d.Reason {
	case ReasonNone:
		return CodeSuccess
	case ReasonSessionNotFound:
		return CodeExamNotExist
	case ReasonNotAuthorizedForRole:
		if d.Role == domain.RoleProctor {
			return CodeExamNotPermitToProctor
		}
		return CodeExamNotPermitToTake
	case ReasonNotYetOpen:
		return CodeExamNotBegin
	case ReasonSessionExpired:
		return CodeExamExpired
	}
	return -1
}

func (d Decision) Message() string {
	if m, ok := codeMessages[d.Code()]; ok {
		return m
	}
	return "Unknown error"
}

// Evaluate decides whether a user holding enrollment may join session in
// role at now. A nil session means the exam does not exist.
func Evaluate(session *domain.ExamSession, enrollment domain.Enrollment, role domain.Role, now time.Time) Decision {
	d := Decision{Role: role}
	switch {
	case session == nil:
		d.Reason = ReasonSessionNotFound
	case !enrollment.Permits(role):
		d.Reason = ReasonNotAuthorizedForRole
	case now.Before(OpensAt(session, role)):
		d.Reason = ReasonNotYetOpen
	case !now.Before(session.EndTime()):
		d.Reason = ReasonSessionExpired
	}
	return d
}

// OpensAt is the first instant role may join session.
func OpensAt(session *domain.ExamSession, role domain.Role) time.Time {
	if role == domain.RoleProctor {
		return session.StartTime.Add(-ProctorEarlyJoin)
	}
	return session.StartTime.Add(-TakerEarlyJoin)
}

// Admit loads the schedule and enrollment from dir and evaluates them.
// The error is non-nil only when the directory itself failed.
func Admit(
	ctx context.Context,
	dir core.Directory,
	exam domain.ExamID,
	user domain.UserID,
	role domain.Role,
	now time.Time,
) (Decision, error) {
	session, err := dir.GetSessionSchedule(ctx, exam)
	if errors.Is(err, core.ErrExamNotFound) {
		return Evaluate(nil, domain.EnrollmentNone, role, now), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("get schedule %s: %w", exam, err)
	}
	enrollment, err := dir.GetEnrollment(ctx, exam, user)
	if err != nil {
		return Decision{}, fmt.Errorf("get enrollment %s/%s: %w", exam, user, err)
	}
	return Evaluate(session, enrollment, role, now), nil
}
