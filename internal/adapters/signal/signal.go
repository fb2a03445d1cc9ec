package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/qq276356648/SmartProctor/internal/app/orch"
	"github.com/qq276356648/SmartProctor/internal/core"
	"github.com/qq276356648/SmartProctor/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure     = errors.New("backpressure")
	ErrConnectionClosed = errors.New("connection closed")
)

const (
	defaultReadLimit  = 64 << 10
	defaultPingPeriod = 30 * time.Second
	defaultSendBuffer = 64
	writeWait         = 5 * time.Second
)

// SignalWSController serves the signaling websocket. The caller's identity
// is read from the gin context key "user_id".
type SignalWSController struct {
	Orch       *orch.Orchestrator
	Limiter    *RateLimiter
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

func NewSignalWSController(o *orch.Orchestrator, limiter *RateLimiter) *SignalWSController {
	return &SignalWSController{
		Orch:       o,
		Limiter:    limiter,
		ReadLimit:  defaultReadLimit,
		PingPeriod: defaultPingPeriod,
		SendBuffer: defaultSendBuffer,
	}
}

// WsSignalConn is the core.SignalConnection of one websocket. Frames are
// written by a single write pump in the order TrySend accepted them.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Close stops accepting frames. The write pump flushes what is queued and
// then closes the socket.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// session is the per-connection state owned by the read pump.
type session struct {
	user   domain.UserID
	handle core.ConnHandle
	conn   *WsSignalConn

	exam   domain.ExamID
	role   domain.Role
	joined bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	user, err := domain.ParseUserID(c.GetString("user_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}
	buf := ctl.SendBuffer
	if buf <= 0 {
		buf = defaultSendBuffer
	}

	s := &session{
		user:   user,
		handle: core.NewConnHandle(),
		conn:   &WsSignalConn{conn: ws, send: make(chan core.Frame, buf)},
	}
	log.Info().Str("module", "signal").Str("user", string(user)).Str("sid", string(s.handle)).Msg("new WS connection")

	go ctl.writePump(s.conn)
	go ctl.readPump(ctx, s)
}
