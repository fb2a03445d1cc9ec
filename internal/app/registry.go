package app

import (
	"sync"

	"github.com/qq276356648/SmartProctor/internal/core"
	"github.com/qq276356648/SmartProctor/internal/domain"
	"github.com/rs/zerolog/log"
)

// examState is the lock domain of one exam. Every registry mutation and
// every routing decision for the exam happens under mu.
type examState struct {
	mu       sync.Mutex
	id       domain.ExamID
	taker    *core.Participant
	proctors map[domain.UserID]*core.Participant
	byHandle map[core.ConnHandle]*core.Participant
	dropped  bool
}

func newExamState(id domain.ExamID) *examState {
	return &examState{
		id:       id,
		proctors: make(map[domain.UserID]*core.Participant),
		byHandle: make(map[core.ConnHandle]*core.Participant),
	}
}

func (ex *examState) byUser(u domain.UserID) *core.Participant {
	if ex.taker != nil && ex.taker.UserID == u {
		return ex.taker
	}
	return ex.proctors[u]
}

func (ex *examState) remove(p *core.Participant) {
	if ex.byHandle[p.Handle] != p {
		return
	}
	delete(ex.byHandle, p.Handle)
	if ex.taker == p {
		ex.taker = nil
	}
	if ex.proctors[p.UserID] == p {
		delete(ex.proctors, p.UserID)
	}
}

// join records p and returns the participants it replaced: a previous
// connection of the same user, and for takers the previous taker.
func (ex *examState) join(p *core.Participant) []*core.Participant {
	var replaced []*core.Participant
	if prev := ex.byUser(p.UserID); prev != nil {
		ex.remove(prev)
		replaced = append(replaced, prev)
	}
	switch p.Role {
	case domain.RoleTaker:
		if ex.taker != nil {
			replaced = append(replaced, ex.taker)
			ex.remove(ex.taker)
		}
		ex.taker = p
	case domain.RoleProctor:
		ex.proctors[p.UserID] = p
	}
	ex.byHandle[p.Handle] = p
	log.Info().Str("module", "app.registry").Str("exam", string(ex.id)).Str("user", string(p.UserID)).
		Str("role", string(p.Role)).Str("sid", string(p.Handle)).Int("replaced", len(replaced)).Msg("joined")
	return replaced
}

// leave removes whoever is registered under handle and returns them.
func (ex *examState) leave(handle core.ConnHandle) *core.Participant {
	p := ex.byHandle[handle]
	if p == nil {
		return nil
	}
	ex.remove(p)
	log.Info().Str("module", "app.registry").Str("exam", string(ex.id)).Str("user", string(p.UserID)).
		Str("sid", string(handle)).Msg("left")
	return p
}

func (ex *examState) proctorIDs() []domain.UserID {
	out := make([]domain.UserID, 0, len(ex.proctors))
	for u := range ex.proctors {
		out = append(out, u)
	}
	return out
}

func (ex *examState) snapshot() []core.ParticipantDTO {
	out := make([]core.ParticipantDTO, 0, len(ex.byHandle))
	if ex.taker != nil {
		out = append(out, ex.taker.DTO())
	}
	for _, p := range ex.proctors {
		out = append(out, p.DTO())
	}
	return out
}

// Registry tracks, per exam, who is connected in which role and under
// which connection handle.
type Registry struct {
	mu    sync.RWMutex
	exams map[domain.ExamID]*examState
}

func NewRegistry() *Registry {
	return &Registry{exams: make(map[domain.ExamID]*examState)}
}

func (r *Registry) get(id domain.ExamID, create bool) *examState {
	r.mu.RLock()
	ex, ok := r.exams[id]
	r.mu.RUnlock()
	if ok || !create {
		return ex
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ex, ok = r.exams[id]; ok {
		return ex
	}
	ex = newExamState(id)
	r.exams[id] = ex
	return ex
}

// withExam runs fn inside the exam's exclusive section. It reports false
// when the exam is unknown and create is false.
func (r *Registry) withExam(id domain.ExamID, create bool, fn func(ex *examState)) bool {
	for {
		ex := r.get(id, create)
		if ex == nil {
			return false
		}
		ex.mu.Lock()
		if ex.dropped {
			ex.mu.Unlock()
			if !create {
				return false
			}
			continue
		}
		fn(ex)
		ex.mu.Unlock()
		return true
	}
}

// Join and Leave mutate the registry without notifying anyone. The relay
// goes through the same examState.join/leave under the exam lock and adds
// the notifications; these wrappers serve inspection tools and tests.

// Join records p. A taker replaces the current taker; a proctor replaces
// any prior entry for the same user. The replaced participants are returned.
func (r *Registry) Join(p *core.Participant) []*core.Participant {
	var replaced []*core.Participant
	r.withExam(p.ExamID, true, func(ex *examState) {
		replaced = ex.join(p)
	})
	return replaced
}

// Leave removes the participant registered under handle.
func (r *Registry) Leave(exam domain.ExamID, handle core.ConnHandle) (*core.Participant, bool) {
	var p *core.Participant
	r.withExam(exam, false, func(ex *examState) {
		p = ex.leave(handle)
	})
	return p, p != nil
}

func (r *Registry) Resolve(exam domain.ExamID, user domain.UserID) (core.ConnHandle, bool) {
	var h core.ConnHandle
	r.withExam(exam, false, func(ex *examState) {
		if p := ex.byUser(user); p != nil {
			h = p.Handle
		}
	})
	return h, h != ""
}

func (r *Registry) ListProctors(exam domain.ExamID) []domain.UserID {
	var out []domain.UserID
	r.withExam(exam, false, func(ex *examState) {
		out = ex.proctorIDs()
	})
	return out
}

func (r *Registry) Taker(exam domain.ExamID) (domain.UserID, bool) {
	var u domain.UserID
	r.withExam(exam, false, func(ex *examState) {
		if ex.taker != nil {
			u = ex.taker.UserID
		}
	})
	return u, u != ""
}

func (r *Registry) Snapshot(exam domain.ExamID) []core.ParticipantDTO {
	out := []core.ParticipantDTO{}
	r.withExam(exam, false, func(ex *examState) {
		out = ex.snapshot()
	})
	return out
}

func (r *Registry) Exams() []domain.ExamID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ExamID, 0, len(r.exams))
	for id := range r.exams {
		out = append(out, id)
	}
	return out
}

// Drop forgets the exam and returns everyone who was still registered.
func (r *Registry) Drop(exam domain.ExamID) []*core.Participant {
	r.mu.Lock()
	ex, ok := r.exams[exam]
	delete(r.exams, exam)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.dropped = true
	out := make([]*core.Participant, 0, len(ex.byHandle))
	for _, p := range ex.byHandle {
		out = append(out, p)
	}
	log.Info().Str("module", "app.registry").Str("exam", string(exam)).Int("participants", len(out)).Msg("exam dropped")
	return out
}
