package signal

import (
	"context"
	"encoding/json"

	"github.com/qq276356648/SmartProctor/internal/core"
	"github.com/qq276356648/SmartProctor/internal/domain"
	"github.com/rs/zerolog/log"
)

// JoinDenied is sent instead of joined when admission refuses the attempt.
type JoinDenied struct {
	Type    domain.MessageType `json:"type"`
	Code    int                `json:"code"`
	Reason  string             `json:"reason"`
	Message string             `json:"message"`
}

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	resp := struct {
		Type domain.MessageType `json:"type"`
	}{
		Type: domain.TypePong,
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *SignalWSController) handleJoin(ctx context.Context, s *session, data []byte) {
	type joinPayload struct {
		Type domain.MessageType `json:"type"`
		Exam domain.ExamID      `json:"exam"`
		Role string             `json:"role"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Exam == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(s.conn, "bad_payload")
		return
	}
	role, err := domain.ParseRole(p.Role)
	if err != nil {
		ctl.sendError(s.conn, "unknown_role")
		return
	}

	// One connection is one membership; a second join moves it.
	if s.joined {
		ctl.Orch.Leave(s.exam, s.handle)
		s.joined = false
	}

	part := &core.Participant{
		ExamID: p.Exam,
		UserID: s.user,
		Role:   role,
		Handle: s.handle,
		Signal: s.conn,
	}
	d, err := ctl.Orch.Join(ctx, part)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("exam", string(p.Exam)).Msg("join: admission")
		ctl.sendError(s.conn, "directory_unavailable")
		return
	}
	if !d.Allowed() {
		ctl.sendJSON(s.conn, JoinDenied{
			Type:    domain.TypeJoinDenied,
			Code:    d.Code(),
			Reason:  d.Reason.String(),
			Message: d.Message(),
		})
		return
	}
	s.exam, s.role, s.joined = p.Exam, role, true
	log.Info().Str("module", "signal").Str("sid", string(s.handle)).Str("exam", string(p.Exam)).
		Str("role", string(role)).Msg("join")
}

// handleLeave leaves the current exam; the connection stays open.
func (ctl *SignalWSController) handleLeave(s *session) {
	log.Info().Str("module", "signal").Str("sid", string(s.handle)).Msg("leave")
	if s.joined {
		ctl.Orch.Leave(s.exam, s.handle)
		s.joined = false
	}
	ctl.sendJSON(s.conn, struct {
		Type domain.MessageType `json:"type"`
	}{Type: domain.TypeLeft})
}

func (ctl *SignalWSController) handleWhoAmI(s *session) {
	resp := struct {
		Type domain.MessageType `json:"type"`
		User domain.UserID      `json:"user"`
		Exam domain.ExamID      `json:"exam,omitempty"`
		Role domain.Role        `json:"role,omitempty"`
	}{
		Type: domain.TypeWhoAmI,
		User: s.user,
	}
	if s.joined {
		resp.Exam, resp.Role = s.exam, s.role
	}
	ctl.sendJSON(s.conn, resp)
}

// handleRelay forwards offers, answers and candidates. Routing failures are
// logged by the relay and not reported back to the sender.
func (ctl *SignalWSController) handleRelay(s *session, data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad signal payload")
		ctl.sendError(s.conn, "bad_payload")
		return
	}
	if !s.joined {
		ctl.sendError(s.conn, "not_joined")
		return
	}
	_, _ = ctl.Orch.Route(s.exam, s.handle, env)
}
