package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/qq276356648/SmartProctor/internal/app"
	"github.com/qq276356648/SmartProctor/internal/app/peerlink"
	"github.com/qq276356648/SmartProctor/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrSuperseded = errors.New("signal: connection superseded")
	ErrExamEnded  = errors.New("signal: exam ended")
)

// DeniedError is returned by Dial when admission refuses the join.
type DeniedError struct {
	Code    int
	Reason  string
	Message string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("join denied: %s (%d)", e.Reason, e.Code)
}

type ClientConfig struct {
	// URL of the signaling websocket, e.g. ws://host/api/ws/signal.
	URL     string
	User    domain.UserID
	Exam    domain.ExamID
	Role    domain.Role
	Factory peerlink.NegotiatorFactory
	Timeout time.Duration
	Dialer  *websocket.Dialer
}

// Client is one participant's end of the signaling channel. It feeds
// everything it receives into a peerlink.Manager and sends whatever the
// manager emits.
type Client struct {
	conn    *websocket.Conn
	manager *peerlink.Manager
	roster  app.JoinedMessage
	logger  zerolog.Logger

	writeMu sync.Mutex

	done    chan struct{}
	errOnce sync.Once
	err     error
}

// inbound is the union of every message the server sends to a client.
type inbound struct {
	domain.Envelope
	Exam     domain.ExamID   `json:"exam"`
	Role     domain.Role     `json:"role"`
	Taker    domain.UserID   `json:"taker"`
	Proctors []domain.UserID `json:"proctors"`
	User     domain.UserID   `json:"user"`
	Reason   string          `json:"reason"`
	Code     int             `json:"code"`
	Message  string          `json:"message"`
	Error    string          `json:"error"`
}

// Dial connects, joins the exam and waits for the server's verdict.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	hdr := http.Header{}
	hdr.Set("X-User-ID", string(cfg.User))
	conn, _, err := dialer.DialContext(ctx, cfg.URL, hdr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	c := &Client{
		conn:   conn,
		done:   make(chan struct{}),
		logger: log.With().Str("module", "signal.client").Str("user", string(cfg.User)).Str("role", string(cfg.Role)).Logger(),
	}
	c.manager = peerlink.NewManager(peerlink.Config{
		Role:    cfg.Role,
		Factory: cfg.Factory,
		Emitter: peerlink.EmitterFunc(c.Send),
		Timeout: cfg.Timeout,
	})

	join := struct {
		Type domain.MessageType `json:"type"`
		Exam domain.ExamID      `json:"exam"`
		Role domain.Role        `json:"role"`
	}{domain.TypeJoin, cfg.Exam, cfg.Role}
	if err := c.write(join); err != nil {
		c.shutdown()
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			c.shutdown()
			return nil, fmt.Errorf("await join: %w", err)
		}
		switch msg.Type {
		case domain.TypeJoined:
			_ = conn.SetReadDeadline(time.Time{})
			c.roster = app.JoinedMessage{
				Type:     domain.TypeJoined,
				Exam:     msg.Exam,
				Role:     msg.Role,
				Taker:    msg.Taker,
				Proctors: msg.Proctors,
			}
			// The roster must be in place before any peer_left can arrive.
			c.applyRoster()
			go c.readLoop()
			return c, nil
		case domain.TypeJoinDenied:
			c.shutdown()
			return nil, &DeniedError{Code: msg.Code, Reason: msg.Reason, Message: msg.Message}
		case domain.TypeError:
			c.shutdown()
			return nil, fmt.Errorf("join: %s", msg.Error)
		}
	}
}

func (c *Client) applyRoster() {
	peers := c.roster.Proctors
	if c.roster.Role == domain.RoleProctor {
		peers = nil
		if c.roster.Taker != "" {
			peers = []domain.UserID{c.roster.Taker}
		}
	}
	if err := c.manager.Dispatch(peerlink.Event{Kind: peerlink.EventRoster, Peers: peers}); err != nil {
		c.logger.Warn().Err(err).Msg("roster")
	}
}

// Roster is the joined reply the server sent.
func (c *Client) Roster() app.JoinedMessage { return c.roster }

func (c *Client) Manager() *peerlink.Manager { return c.manager }

// Publish makes a local stream available to every current and future
// counterpart.
func (c *Client) Publish(stream domain.StreamKind) error {
	return c.manager.Dispatch(peerlink.Event{Kind: peerlink.EventLocalStream, Stream: stream})
}

func (c *Client) Unpublish(stream domain.StreamKind) error {
	return c.manager.Dispatch(peerlink.Event{Kind: peerlink.EventStopStream, Stream: stream})
}

// Send writes one envelope to the relay.
func (c *Client) Send(env domain.Envelope) error {
	return c.write(env)
}

func (c *Client) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Done is closed once the connection is gone; Err then says why.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Err() error {
	<-c.done
	return c.err
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	c.fail(nil)
	return nil
}

func (c *Client) fail(err error) {
	c.errOnce.Do(func() {
		c.err = err
		c.shutdown()
		close(c.done)
	})
}

func (c *Client) shutdown() {
	c.manager.Close()
	_ = c.conn.Close()
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("bad frame")
			continue
		}
		if err := c.handle(msg); err != nil {
			if errors.Is(err, ErrSuperseded) || errors.Is(err, ErrExamEnded) {
				c.fail(err)
				return
			}
			c.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("dispatch")
		}
	}
}

func (c *Client) handle(msg inbound) error {
	env := msg.Envelope
	if stream, kind, ok := env.Type.Signal(); ok {
		ev := peerlink.Event{Peer: env.From, Stream: stream}
		switch kind {
		case domain.SignalOffer:
			ev.Kind, ev.Payload = peerlink.EventOffer, env.SDP
		case domain.SignalAnswer:
			ev.Kind, ev.Payload = peerlink.EventAnswer, env.SDP
		default:
			ev.Kind, ev.Payload = peerlink.EventCandidate, env.Candidate
		}
		return c.manager.Dispatch(ev)
	}

	switch env.Type {
	case domain.TypeProctorConnected:
		return c.manager.Dispatch(peerlink.Event{Kind: peerlink.EventProctorConnected, Peer: env.ProctorID})
	case domain.TypePeerLeft:
		return c.manager.Dispatch(peerlink.Event{Kind: peerlink.EventPeerLeft, Peer: msg.User})
	case domain.TypeSuperseded:
		return ErrSuperseded
	case domain.TypeExamEnded:
		return ErrExamEnded
	case domain.TypeError:
		c.logger.Warn().Str("error", msg.Error).Msg("server error")
	case domain.TypePong, domain.TypeJoined, domain.TypeLeft, domain.TypeWhoAmI:
	default:
		c.logger.Debug().Str("type", string(env.Type)).Msg("ignored")
	}
	return nil
}
