package peerlink

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/qq276356648/SmartProctor/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultTimeout = 30 * time.Second

var (
	ErrClosed       = errors.New("peerlink: manager closed")
	ErrUnknownEvent = errors.New("peerlink: unknown event")
	ErrWrongRole    = errors.New("peerlink: event not valid for role")
)

type Config struct {
	Role    domain.Role
	Factory NegotiatorFactory
	Emitter Emitter
	// Timeout bounds a negotiation from its first offer to Connected.
	Timeout time.Duration
}

type link struct {
	state   State
	gen     uint64
	neg     Negotiator
	pending []json.RawMessage
	timer   *time.Timer
}

// Manager owns every link of one participant. All transitions go through
// Dispatch and are serialized by mu.
type Manager struct {
	role    domain.Role
	factory NegotiatorFactory
	emitter Emitter
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	peers   map[domain.UserID]struct{}
	streams map[domain.StreamKind]bool
	links   map[Key]*link
	gen     uint64
	closed  bool

	hooks chan Event
	done  chan struct{}
}

func NewManager(cfg Config) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	m := &Manager{
		role:    cfg.Role,
		factory: cfg.Factory,
		emitter: cfg.Emitter,
		timeout: cfg.Timeout,
		logger:  log.With().Str("module", "peerlink").Str("role", string(cfg.Role)).Logger(),
		peers:   make(map[domain.UserID]struct{}),
		streams: make(map[domain.StreamKind]bool),
		links:   make(map[Key]*link),
		hooks:   make(chan Event, 256),
		done:    make(chan struct{}),
	}
	go m.hookLoop()
	return m
}

// State reports the current state of the link k.
func (m *Manager) State(k Key) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.links[k]; ok {
		return l.state
	}
	return Idle
}

// Peers returns the counterparts the manager currently knows about.
func (m *Manager) Peers() []domain.UserID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.UserID, 0, len(m.peers))
	for p := range m.peers {
		out = append(out, p)
	}
	return out
}

func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for k := range m.links {
		m.drop(k)
	}
	close(m.done)
}

// hookLoop feeds negotiator callbacks back into Dispatch. They arrive on
// foreign goroutines that must not wait for mu.
func (m *Manager) hookLoop() {
	for {
		select {
		case <-m.done:
			return
		case ev := <-m.hooks:
			if err := m.Dispatch(ev); err != nil && !errors.Is(err, ErrClosed) {
				m.logger.Debug().Err(err).Str("event", ev.Kind.String()).Msg("hook event")
			}
		}
	}
}

func (m *Manager) post(ev Event) {
	select {
	case m.hooks <- ev:
	case <-m.done:
	}
}

// Dispatch is the transition function of every link.
func (m *Manager) Dispatch(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	switch ev.Kind {
	case EventLocalStream:
		if m.role != domain.RoleTaker {
			return ErrWrongRole
		}
		m.streams[ev.Stream] = true
		var errs []error
		for p := range m.peers {
			k := Key{Peer: p, Stream: ev.Stream}
			if m.stateOf(k) == Idle {
				errs = append(errs, m.offer(k))
			}
		}
		return errors.Join(errs...)

	case EventStopStream:
		delete(m.streams, ev.Stream)
		for k := range m.links {
			if k.Stream == ev.Stream {
				m.drop(k)
			}
		}
		return nil

	case EventRoster:
		var errs []error
		for _, p := range ev.Peers {
			if _, known := m.peers[p]; known {
				continue
			}
			m.peers[p] = struct{}{}
			errs = append(errs, m.offerAll(p))
		}
		return errors.Join(errs...)

	case EventProctorConnected:
		if m.role != domain.RoleTaker {
			return ErrWrongRole
		}
		m.peers[ev.Peer] = struct{}{}
		// Whatever the proctor had is gone; start over on both streams.
		for _, s := range domain.StreamKinds {
			m.reset(Key{Peer: ev.Peer, Stream: s})
		}
		return m.offerAll(ev.Peer)

	case EventPeerLeft:
		delete(m.peers, ev.Peer)
		for k := range m.links {
			if k.Peer == ev.Peer {
				m.drop(k)
			}
		}
		return nil

	case EventOffer:
		if m.role != domain.RoleProctor {
			return ErrWrongRole
		}
		m.peers[ev.Peer] = struct{}{}
		return m.answer(ev.key(), ev.Payload)

	case EventAnswer:
		if m.role != domain.RoleTaker {
			return ErrWrongRole
		}
		return m.applyAnswer(ev.key(), ev.Payload)

	case EventCandidate:
		m.applyCandidate(ev.key(), ev.Payload)
		return nil

	case EventLocalCandidate:
		l, ok := m.current(ev)
		if !ok || l.state == Idle {
			return nil
		}
		return m.emit(domain.Envelope{
			Type:      domain.SignalType(ev.Stream, domain.SignalCandidate),
			Target:    ev.Peer,
			Candidate: ev.Payload,
		})

	case EventConnected:
		l, ok := m.current(ev)
		if !ok || l.state == Idle {
			return nil
		}
		l.state = Connected
		stopTimer(l)
		m.logger.Info().Str("link", ev.key().String()).Msg("connected")
		return nil

	case EventFailed, EventTimeout:
		l, ok := m.current(ev)
		if !ok || l.state == Idle || (ev.Kind == EventTimeout && l.state == Connected) {
			return nil
		}
		m.logger.Warn().Str("link", ev.key().String()).Str("event", ev.Kind.String()).
			Str("state", l.state.String()).Msg("negotiation abandoned")
		m.reset(ev.key())
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Kind)
}

func (m *Manager) stateOf(k Key) State {
	if l, ok := m.links[k]; ok {
		return l.state
	}
	return Idle
}

// current returns the link of ev only if ev belongs to its live generation.
func (m *Manager) current(ev Event) (*link, bool) {
	l, ok := m.links[ev.key()]
	if !ok || l.gen != ev.gen {
		return nil, false
	}
	return l, true
}

func (m *Manager) offerAll(p domain.UserID) error {
	if m.role != domain.RoleTaker {
		return nil
	}
	var errs []error
	for _, s := range domain.StreamKinds {
		if m.streams[s] {
			errs = append(errs, m.offer(Key{Peer: p, Stream: s}))
		}
	}
	return errors.Join(errs...)
}

// open replaces whatever link k had with a fresh negotiator.
func (m *Manager) open(k Key) (*link, error) {
	old := m.links[k]
	if old != nil {
		closeLink(old)
	}
	m.gen++
	gen := m.gen
	hooks := Hooks{
		OnCandidate: func(c json.RawMessage) {
			m.post(Event{Kind: EventLocalCandidate, Peer: k.Peer, Stream: k.Stream, Payload: c, gen: gen})
		},
		OnConnected: func() {
			m.post(Event{Kind: EventConnected, Peer: k.Peer, Stream: k.Stream, gen: gen})
		},
		OnFailed: func() {
			m.post(Event{Kind: EventFailed, Peer: k.Peer, Stream: k.Stream, gen: gen})
		},
	}
	neg, err := m.factory(k, hooks)
	if err != nil {
		delete(m.links, k)
		return nil, fmt.Errorf("new negotiator %s: %w", k, err)
	}
	l := &link{state: Idle, gen: gen, neg: neg}
	if old != nil {
		l.pending = old.pending
	}
	l.timer = time.AfterFunc(m.timeout, func() {
		_ = m.Dispatch(Event{Kind: EventTimeout, Peer: k.Peer, Stream: k.Stream, gen: gen})
	})
	m.links[k] = l
	return l, nil
}

func (m *Manager) offer(k Key) error {
	m.reset(k)
	l, err := m.open(k)
	if err != nil {
		return err
	}
	l.pending = nil
	sdp, err := l.neg.CreateOffer()
	if err != nil {
		m.reset(k)
		return fmt.Errorf("create offer %s: %w", k, err)
	}
	l.state = OfferSent
	m.logger.Debug().Str("link", k.String()).Msg("offer sent")
	return m.emit(domain.Envelope{Type: domain.SignalType(k.Stream, domain.SignalOffer), Target: k.Peer, SDP: sdp})
}

// answer handles an incoming offer. A fresh offer always replaces the link,
// whatever state it was in.
func (m *Manager) answer(k Key, offer json.RawMessage) error {
	if l, ok := m.links[k]; ok && l.state != Idle {
		m.reset(k)
	}
	l, err := m.open(k)
	if err != nil {
		return err
	}
	sdp, err := l.neg.AcceptOffer(offer)
	if err != nil {
		m.reset(k)
		return fmt.Errorf("accept offer %s: %w", k, err)
	}
	l.state = Answered
	m.flush(k, l)
	m.logger.Debug().Str("link", k.String()).Msg("answered")
	return m.emit(domain.Envelope{Type: domain.SignalType(k.Stream, domain.SignalAnswer), Target: k.Peer, SDP: sdp})
}

func (m *Manager) applyAnswer(k Key, answer json.RawMessage) error {
	l, ok := m.links[k]
	if !ok || l.state != OfferSent {
		m.logger.Debug().Str("link", k.String()).Msg("stale answer ignored")
		return nil
	}
	if err := l.neg.AcceptAnswer(answer); err != nil {
		m.reset(k)
		return fmt.Errorf("accept answer %s: %w", k, err)
	}
	l.state = Answered
	m.flush(k, l)
	return nil
}

// remoteReady reports whether the link has a remote description.
func remoteReady(l *link) bool {
	return l.state == Answered || l.state == Connected
}

func (m *Manager) applyCandidate(k Key, c json.RawMessage) {
	l, ok := m.links[k]
	if !ok {
		l = &link{state: Idle}
		m.links[k] = l
	}
	if !remoteReady(l) {
		l.pending = append(l.pending, c)
		return
	}
	if err := l.neg.AddICECandidate(c); err != nil {
		m.logger.Debug().Err(err).Str("link", k.String()).Msg("add candidate")
	}
}

func (m *Manager) flush(k Key, l *link) {
	for _, c := range l.pending {
		if err := l.neg.AddICECandidate(c); err != nil {
			m.logger.Debug().Err(err).Str("link", k.String()).Msg("add buffered candidate")
		}
	}
	l.pending = nil
}

// reset returns k to Idle, closing its negotiator and discarding buffered
// candidates.
func (m *Manager) reset(k Key) {
	l, ok := m.links[k]
	if !ok {
		return
	}
	closeLink(l)
	m.links[k] = &link{state: Idle}
}

// drop forgets k entirely.
func (m *Manager) drop(k Key) {
	if l, ok := m.links[k]; ok {
		closeLink(l)
		delete(m.links, k)
	}
}

func (m *Manager) emit(env domain.Envelope) error {
	if m.emitter == nil {
		return nil
	}
	if err := m.emitter.Emit(env); err != nil {
		return fmt.Errorf("emit %s: %w", env.Type, err)
	}
	return nil
}

func stopTimer(l *link) {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func closeLink(l *link) {
	stopTimer(l)
	if l.neg != nil {
		l.neg.Close()
		l.neg = nil
	}
}
