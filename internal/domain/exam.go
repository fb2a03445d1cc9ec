package domain

import "time"

type ExamID string

// ExamSession is the schedule of an exam. Read-only to the signaling core.
type ExamSession struct {
	ID        ExamID
	StartTime time.Time
	// Duration in seconds.
	Duration int64
}

func (s *ExamSession) EndTime() time.Time {
	return s.StartTime.Add(time.Duration(s.Duration) * time.Second)
}
