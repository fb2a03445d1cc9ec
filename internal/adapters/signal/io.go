package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/qq276356648/SmartProctor/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) pingPeriod() time.Duration {
	if ctl.PingPeriod <= 0 {
		return defaultPingPeriod
	}
	return ctl.PingPeriod
}

func (ctl *SignalWSController) writePump(c *WsSignalConn) {
	ticker := time.NewTicker(ctl.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, s *session) {
	logger := log.With().Str("module", "signal").Str("user", string(s.user)).Str("sid", string(s.handle)).Logger()
	defer func() {
		logger.Info().Msg("readPump closing")
		if s.joined {
			ctl.Orch.Leave(s.exam, s.handle)
		}
		s.conn.Close()
		_ = s.conn.conn.Close()
	}()

	// A missed pong lets the read deadline expire and ends the connection.
	wait := 2 * ctl.pingPeriod()
	_ = s.conn.conn.SetReadDeadline(time.Now().Add(wait))
	s.conn.conn.SetPongHandler(func(string) error {
		return s.conn.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		if ctx.Err() != nil {
			logger.Info().Msg("readPump ctx done")
			return
		}
		_, data, err := s.conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		_ = s.conn.conn.SetReadDeadline(time.Now().Add(wait))
		ctl.handleSignal(ctx, s, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, s *session, data []byte) {
	var env struct {
		Type domain.MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(s.conn, "bad_payload")
		return
	}

	if throttled(env.Type) && ctl.Limiter != nil && !ctl.Limiter.Allow(s.user) {
		log.Warn().Str("module", "signal").Str("user", string(s.user)).Str("type", string(env.Type)).Msg("rate limited")
		ctl.sendError(s.conn, "rate_limited")
		return
	}

	switch env.Type {
	case domain.TypeJoin:
		ctl.handleJoin(ctx, s, data)
	case domain.TypeLeave:
		ctl.handleLeave(s)
	case domain.TypePing:
		ctl.handlePing(s.conn)
	case domain.TypeWhoAmI:
		ctl.handleWhoAmI(s)
	default:
		if _, _, ok := env.Type.Signal(); ok {
			ctl.handleRelay(s, data)
			return
		}
		log.Warn().Str("module", "signal").Str("type", string(env.Type)).Msg("unknown signal")
		ctl.sendError(s.conn, "unknown_type")
	}
}

// throttled reports whether t counts against the per-user budget. Offers,
// answers and candidates never do: a dropped one stalls its link until the
// negotiation timeout.
func throttled(t domain.MessageType) bool {
	_, _, signaling := t.Signal()
	return !signaling && t != domain.TypePing
}

type errorReply struct {
	Type  domain.MessageType `json:"type"`
	Error string             `json:"error"`
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, reason string) {
	ctl.sendJSON(c, errorReply{Type: domain.TypeError, Error: reason})
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("sendJSON")
	}
}
