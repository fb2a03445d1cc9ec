package app

import (
	"github.com/qq276356648/SmartProctor/internal/core"
	"github.com/qq276356648/SmartProctor/internal/domain"
)

type BackpressureAction int

const (
	// DropMessage loses the frame that did not fit; the participant stays.
	DropMessage BackpressureAction = iota
	// KickMember unregisters and closes the participant.
	KickMember
)

// Policy decides what happens to a participant whose send buffer is full.
type Policy interface {
	OnBackPressure(exam domain.ExamID, p *core.Participant) BackpressureAction
}

// SimplePolicy kicks slow participants; they reconnect and renegotiate.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.ExamID, *core.Participant) BackpressureAction {
	return KickMember
}
