package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qq276356648/SmartProctor/internal/config"
	"github.com/qq276356648/SmartProctor/internal/core"
	"github.com/qq276356648/SmartProctor/internal/domain"
)

// Memory is an in-process core.Directory, seeded from config or tests.
type Memory struct {
	mu        sync.RWMutex
	sessions  map[domain.ExamID]domain.ExamSession
	enrollees map[domain.ExamID]map[domain.UserID]domain.Enrollment
}

var _ core.Directory = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		sessions:  make(map[domain.ExamID]domain.ExamSession),
		enrollees: make(map[domain.ExamID]map[domain.UserID]domain.Enrollment),
	}
}

// NewMemoryFromConfig builds a directory holding the configured exams.
func NewMemoryFromConfig(exams []config.ExamConfig) (*Memory, error) {
	m := NewMemory()
	for _, e := range exams {
		start, err := time.Parse(time.RFC3339, e.Start)
		if err != nil {
			return nil, fmt.Errorf("exam %s: %w", e.ID, err)
		}
		id := domain.ExamID(e.ID)
		m.AddExam(domain.ExamSession{ID: id, StartTime: start, Duration: int64(e.Duration / time.Second)})
		for _, u := range e.Takers {
			m.Enroll(id, domain.UserID(u), domain.RoleTaker)
		}
		for _, u := range e.Proctors {
			m.Enroll(id, domain.UserID(u), domain.RoleProctor)
		}
	}
	return m, nil
}

// AddExam adds or reschedules an exam.
func (m *Memory) AddExam(s domain.ExamSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	if _, ok := m.enrollees[s.ID]; !ok {
		m.enrollees[s.ID] = make(map[domain.UserID]domain.Enrollment)
	}
}

// RemoveExam forgets an exam and its enrollments.
func (m *Memory) RemoveExam(id domain.ExamID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.enrollees, id)
}

// Enroll grants user the role in exam, keeping any role already held.
func (m *Memory) Enroll(exam domain.ExamID, user domain.UserID, role domain.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users, ok := m.enrollees[exam]
	if !ok {
		users = make(map[domain.UserID]domain.Enrollment)
		m.enrollees[exam] = users
	}
	users[user] |= domain.EnrollmentFor(role)
}

func (m *Memory) GetEnrollment(_ context.Context, exam domain.ExamID, user domain.UserID) (domain.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enrollees[exam][user], nil
}

func (m *Memory) GetSessionSchedule(_ context.Context, exam domain.ExamID) (*domain.ExamSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[exam]
	if !ok {
		return nil, core.ErrExamNotFound
	}
	return &s, nil
}
