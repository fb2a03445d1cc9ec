package core

import "github.com/qq276356648/SmartProctor/internal/domain"

// Participant binds a user's role in an exam to its transport endpoint.
// This is what the registry stores and the relay delivers to.
type Participant struct {
	ExamID domain.ExamID
	UserID domain.UserID
	Role   domain.Role
	Handle ConnHandle
	Signal SignalConnection
}

// ParticipantDTO is a read-only view for APIs (no transport fields).
type ParticipantDTO struct {
	UserID domain.UserID `json:"userId"`
	Role   domain.Role   `json:"role"`
}

func (p *Participant) DTO() ParticipantDTO {
	return ParticipantDTO{UserID: p.UserID, Role: p.Role}
}
