package app

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/qq276356648/SmartProctor/internal/core"
	"github.com/qq276356648/SmartProctor/internal/domain"
)

var errFull = errors.New("full")

// fakeConn records frames; limit > 0 makes TrySend fail once it is reached.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	limit  int
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	if c.limit > 0 && len(c.frames) >= c.limit {
		return errFull
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type received struct {
	domain.Envelope
	User     domain.UserID   `json:"user"`
	Role     domain.Role     `json:"role"`
	Taker    domain.UserID   `json:"taker"`
	Proctors []domain.UserID `json:"proctors"`
	Reason   string          `json:"reason"`
}

func (c *fakeConn) messages(t *testing.T) []received {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]received, 0, len(c.frames))
	for _, f := range c.frames {
		var m received
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("decode %s: %v", f, err)
		}
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) ofType(t *testing.T, typ domain.MessageType) []received {
	t.Helper()
	var out []received
	for _, m := range c.messages(t) {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func participant(exam domain.ExamID, user domain.UserID, role domain.Role) (*core.Participant, *fakeConn) {
	conn := &fakeConn{}
	return &core.Participant{
		ExamID: exam,
		UserID: user,
		Role:   role,
		Handle: core.NewConnHandle(),
		Signal: conn,
	}, conn
}
