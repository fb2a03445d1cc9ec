package orch

import (
	"context"
	"time"

	"github.com/qq276356648/SmartProctor/internal/app"
	"github.com/qq276356648/SmartProctor/internal/core"
	"github.com/qq276356648/SmartProctor/internal/domain"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry  *app.Registry
	Relay     *app.Relay
	Directory core.Directory
	// Now is the clock admission is evaluated against.
	Now func() time.Time
}

func New(dir core.Directory, policy app.Policy) *Orchestrator {
	reg := app.NewRegistry()
	return &Orchestrator{
		Registry:  reg,
		Relay:     app.NewRelay(reg, policy),
		Directory: dir,
		Now:       time.Now,
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// Admission evaluates a join attempt without registering anything.
func (o *Orchestrator) Admission(ctx context.Context, exam domain.ExamID, user domain.UserID, role domain.Role) (app.Decision, error) {
	return app.Admit(ctx, o.Directory, exam, user, role, o.now())
}

// Join re-evaluates admission and, when allowed, registers p with the relay.
func (o *Orchestrator) Join(ctx context.Context, p *core.Participant) (app.Decision, error) {
	d, err := o.Admission(ctx, p.ExamID, p.UserID, p.Role)
	if err != nil {
		return d, err
	}
	if !d.Allowed() {
		log.Info().Str("module", "orch").Str("exam", string(p.ExamID)).Str("user", string(p.UserID)).
			Str("role", string(p.Role)).Str("reason", d.Reason.String()).Msg("join denied")
		return d, nil
	}
	o.Relay.Join(p)
	return d, nil
}

func (o *Orchestrator) Leave(exam domain.ExamID, handle core.ConnHandle) bool {
	return o.Relay.Leave(exam, handle)
}

func (o *Orchestrator) Route(exam domain.ExamID, handle core.ConnHandle, env domain.Envelope) (app.Delivery, error) {
	return o.Relay.Route(exam, handle, env)
}

func (o *Orchestrator) Snapshot(exam domain.ExamID) []core.ParticipantDTO {
	return o.Registry.Snapshot(exam)
}
