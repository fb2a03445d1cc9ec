package core

import (
	"context"
	"errors"

	"github.com/qq276356648/SmartProctor/internal/domain"
)

var ErrExamNotFound = errors.New("exam not found")

//go:generate mockgen -destination=../mocks/directory_mock.go -package=mocks . Directory

// Directory is the exam/user directory the admission check reads from.
type Directory interface {
	// GetEnrollment returns EnrollmentNone when the user holds no role.
	GetEnrollment(ctx context.Context, exam domain.ExamID, user domain.UserID) (domain.Enrollment, error)
	// GetSessionSchedule returns ErrExamNotFound for unknown exams.
	GetSessionSchedule(ctx context.Context, exam domain.ExamID) (*domain.ExamSession, error)
}
