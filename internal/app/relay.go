package app

import (
	"encoding/json"
	"errors"

	"github.com/qq276356648/SmartProctor/internal/core"
	"github.com/qq276356648/SmartProctor/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrSenderNotJoined    = errors.New("sender not joined")
	ErrTargetNotConnected = errors.New("target not connected")
	ErrMissingTarget      = errors.New("missing target")
	ErrUnexpectedMessage  = errors.New("unexpected message")
)

// JoinedMessage is the reply to a successful join.
type JoinedMessage struct {
	Type     domain.MessageType `json:"type"`
	Exam     domain.ExamID      `json:"exam"`
	Role     domain.Role        `json:"role"`
	Taker    domain.UserID      `json:"taker,omitempty"`
	Proctors []domain.UserID    `json:"proctors"`
}

// PeerLeftMessage tells a participant that a counterpart's links are gone.
type PeerLeftMessage struct {
	Type domain.MessageType `json:"type"`
	User domain.UserID      `json:"user"`
	Role domain.Role        `json:"role"`
}

// NoticeMessage carries a reason to a participant being removed.
type NoticeMessage struct {
	Type   domain.MessageType `json:"type"`
	Reason string             `json:"reason,omitempty"`
}

// Delivery lists who a routed message was handed to.
type Delivery struct {
	Recipients []domain.UserID
}

// Relay routes signaling messages between the taker and the proctors of an
// exam. It never looks inside SDP or candidate payloads.
type Relay struct {
	Registry *Registry
	Policy   Policy
}

func NewRelay(reg *Registry, policy Policy) *Relay {
	return &Relay{Registry: reg, Policy: policy}
}

func encode(v any) core.Frame {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("encode")
		return nil
	}
	return b
}

// batch collects the side effects of one exclusive section.
type batch struct {
	ex      *examState
	slow    []*core.Participant
	closing []*core.Participant
}

func (b *batch) send(p *core.Participant, f core.Frame) bool {
	if f == nil {
		return false
	}
	if err := p.Signal.TrySend(f); err != nil {
		b.slow = append(b.slow, p)
		return false
	}
	return true
}

// counterparts are the participants holding links with p.
func (b *batch) counterparts(p *core.Participant) []*core.Participant {
	if p.Role == domain.RoleProctor {
		if b.ex.taker != nil {
			return []*core.Participant{b.ex.taker}
		}
		return nil
	}
	out := make([]*core.Participant, 0, len(b.ex.proctors))
	for _, pr := range b.ex.proctors {
		out = append(out, pr)
	}
	return out
}

func (b *batch) notifyLeft(p *core.Participant) {
	f := encode(PeerLeftMessage{Type: domain.TypePeerLeft, User: p.UserID, Role: p.Role})
	for _, c := range b.counterparts(p) {
		if c.UserID == p.UserID {
			continue
		}
		b.send(c, f)
	}
}

func (rl *Relay) settle(b *batch) {
	if rl.Policy == nil {
		return
	}
	// Notifications sent while kicking may overflow other buffers; those
	// are left for the next routing call to find.
	slow := b.slow
	b.slow = nil
	for _, p := range slow {
		switch rl.Policy.OnBackPressure(b.ex.id, p) {
		case KickMember:
			if b.ex.byHandle[p.Handle] != p {
				continue
			}
			b.ex.leave(p.Handle)
			b.notifyLeft(p)
			b.closing = append(b.closing, p)
			log.Warn().Str("module", "app.relay").Str("exam", string(b.ex.id)).Str("user", string(p.UserID)).Msg("kicked slow participant")
		case DropMessage:
			log.Warn().Str("module", "app.relay").Str("exam", string(b.ex.id)).Str("user", string(p.UserID)).Msg("frame dropped for slow participant")
		}
	}
}

func (rl *Relay) finish(b *batch) {
	for _, p := range b.closing {
		p.Signal.Close()
	}
}

// Join registers p, supersedes older connections and announces a proctor
// to the taker so it can renegotiate from a clean slate.
func (rl *Relay) Join(p *core.Participant) {
	b := &batch{}
	rl.Registry.withExam(p.ExamID, true, func(ex *examState) {
		b.ex = ex
		for _, old := range ex.join(p) {
			b.send(old, encode(NoticeMessage{Type: domain.TypeSuperseded, Reason: "connected from another session"}))
			b.notifyLeft(old)
			b.closing = append(b.closing, old)
		}

		joined := JoinedMessage{Type: domain.TypeJoined, Exam: ex.id, Role: p.Role, Proctors: ex.proctorIDs()}
		if ex.taker != nil {
			joined.Taker = ex.taker.UserID
		}
		b.send(p, encode(joined))

		if p.Role == domain.RoleProctor && ex.taker != nil {
			b.send(ex.taker, encode(domain.Envelope{Type: domain.TypeProctorConnected, ProctorID: p.UserID}))
		}
		rl.settle(b)
	})
	rl.finish(b)
}

// Leave unregisters the connection and tells its counterparts.
func (rl *Relay) Leave(exam domain.ExamID, handle core.ConnHandle) bool {
	b := &batch{}
	var left *core.Participant
	rl.Registry.withExam(exam, false, func(ex *examState) {
		b.ex = ex
		if left = ex.leave(handle); left == nil {
			return
		}
		b.notifyLeft(left)
		rl.settle(b)
	})
	rl.finish(b)
	return left != nil
}

// Route delivers a signaling message from the connection sender. Messages
// that cannot be delivered are dropped and logged; the error says why.
func (rl *Relay) Route(exam domain.ExamID, sender core.ConnHandle, env domain.Envelope) (Delivery, error) {
	logger := log.With().Str("module", "app.relay").Str("exam", string(exam)).
		Str("sid", string(sender)).Str("type", string(env.Type)).Logger()

	var (
		res Delivery
		err error
		b   = &batch{}
	)
	found := rl.Registry.withExam(exam, false, func(ex *examState) {
		b.ex = ex
		res, err = rl.route(b, sender, env)
		rl.settle(b)
	})
	rl.finish(b)
	if !found {
		err = ErrSenderNotJoined
	}
	if err != nil {
		logger.Warn().Err(err).Str("target", string(env.Target)).Msg("message dropped")
		return res, err
	}
	logger.Debug().Int("recipients", len(res.Recipients)).Msg("routed")
	return res, nil
}

func (rl *Relay) route(b *batch, sender core.ConnHandle, env domain.Envelope) (Delivery, error) {
	var res Delivery
	from, ok := b.ex.byHandle[sender]
	if !ok {
		return res, ErrSenderNotJoined
	}
	stream, kind, ok := env.Type.Signal()
	if !ok {
		return res, ErrUnexpectedMessage
	}

	target := env.Target
	env.From = from.UserID
	env.Target = ""
	env.ProctorID = ""
	frame := encode(env)

	deliver := func(to *core.Participant) {
		if b.send(to, frame) {
			res.Recipients = append(res.Recipients, to.UserID)
		}
	}

	switch from.Role {
	case domain.RoleTaker:
		if kind == domain.SignalAnswer {
			return res, ErrUnexpectedMessage
		}
		if target != "" {
			to, ok := b.ex.proctors[target]
			if !ok {
				return res, ErrTargetNotConnected
			}
			deliver(to)
			return res, nil
		}
		if stream != domain.StreamCamera {
			return res, ErrMissingTarget
		}
		// Camera offers go to whoever is a proctor right now. Later joiners
		// are reached through proctor_connected and a targeted re-offer.
		for _, to := range b.ex.proctors {
			deliver(to)
		}
		return res, nil

	case domain.RoleProctor:
		if kind == domain.SignalOffer {
			return res, ErrUnexpectedMessage
		}
		to := b.ex.taker
		if to == nil || (target != "" && target != to.UserID) {
			return res, ErrTargetNotConnected
		}
		deliver(to)
		return res, nil
	}
	return res, ErrUnexpectedMessage
}

// EndExam tells everyone the exam is over, disconnects them and forgets
// the exam.
func (rl *Relay) EndExam(exam domain.ExamID) int {
	participants := rl.Registry.Drop(exam)
	f := encode(NoticeMessage{Type: domain.TypeExamEnded, Reason: "exam ended"})
	for _, p := range participants {
		_ = p.Signal.TrySend(f)
		p.Signal.Close()
	}
	if len(participants) > 0 {
		log.Info().Str("module", "app.relay").Str("exam", string(exam)).Int("participants", len(participants)).Msg("exam ended")
	}
	return len(participants)
}

