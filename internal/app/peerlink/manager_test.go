package peerlink

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/qq276356648/SmartProctor/internal/domain"
)

type fakeNegotiator struct {
	mu         sync.Mutex
	key        Key
	hooks      Hooks
	offer      string
	remote     json.RawMessage
	candidates []json.RawMessage
	closed     bool
	failAnswer bool
}

func (n *fakeNegotiator) CreateOffer() (json.RawMessage, error) {
	return json.RawMessage(`"offer-` + n.offer + `"`), nil
}

func (n *fakeNegotiator) AcceptOffer(sdp json.RawMessage) (json.RawMessage, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.remote = sdp
	return json.RawMessage(`"answer"`), nil
}

func (n *fakeNegotiator) AcceptAnswer(sdp json.RawMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failAnswer {
		return errors.New("bad answer")
	}
	n.remote = sdp
	return nil
}

func (n *fakeNegotiator) AddICECandidate(c json.RawMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.candidates = append(n.candidates, c)
	return nil
}

func (n *fakeNegotiator) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
}

func (n *fakeNegotiator) applied() []json.RawMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]json.RawMessage(nil), n.candidates...)
}

func (n *fakeNegotiator) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

type harness struct {
	t   *testing.T
	m   *Manager
	mu  sync.Mutex
	out []domain.Envelope
	neg map[Key][]*fakeNegotiator
}

func newHarness(t *testing.T, role domain.Role, timeout time.Duration) *harness {
	t.Helper()
	h := &harness{t: t, neg: make(map[Key][]*fakeNegotiator)}
	h.m = NewManager(Config{
		Role: role,
		Factory: func(k Key, hooks Hooks) (Negotiator, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			n := &fakeNegotiator{key: k, hooks: hooks, offer: string(k.Peer) + "-" + string(k.Stream)}
			h.neg[k] = append(h.neg[k], n)
			return n, nil
		},
		Emitter: EmitterFunc(func(env domain.Envelope) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.out = append(h.out, env)
			return nil
		}),
		Timeout: timeout,
	})
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) dispatch(ev Event) {
	h.t.Helper()
	if err := h.m.Dispatch(ev); err != nil {
		h.t.Fatalf("Dispatch(%s): %v", ev.Kind, err)
	}
}

func (h *harness) emitted(typ domain.MessageType) []domain.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.Envelope
	for _, e := range h.out {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) latest(k Key) *fakeNegotiator {
	h.mu.Lock()
	defer h.mu.Unlock()
	ns := h.neg[k]
	if len(ns) == 0 {
		h.t.Fatalf("no negotiator for %s", k)
	}
	return ns[len(ns)-1]
}

func (h *harness) count(k Key) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.neg[k])
}

func (h *harness) waitState(k Key, want State) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.m.State(k) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("%s: state %s, want %s", k, h.m.State(k), want)
}

var (
	p1Desktop = Key{Peer: "p1", Stream: domain.StreamDesktop}
	p1Camera  = Key{Peer: "p1", Stream: domain.StreamCamera}
	p2Desktop = Key{Peer: "p2", Stream: domain.StreamDesktop}
	tDesktop  = Key{Peer: "taker", Stream: domain.StreamDesktop}
	tCamera   = Key{Peer: "taker", Stream: domain.StreamCamera}
)

func TestTakerOffersEveryKnownProctor(t *testing.T) {
	h := newHarness(t, domain.RoleTaker, time.Minute)
	h.dispatch(Event{Kind: EventRoster, Peers: []domain.UserID{"p1", "p2"}})
	if n := len(h.out); n != 0 {
		t.Fatalf("no stream yet, emitted %d", n)
	}
	h.dispatch(Event{Kind: EventLocalStream, Stream: domain.StreamDesktop})

	offers := h.emitted(domain.TypeDesktopOffer)
	if len(offers) != 2 {
		t.Fatalf("offers = %+v", offers)
	}
	for _, k := range []Key{p1Desktop, p2Desktop} {
		if s := h.m.State(k); s != OfferSent {
			t.Fatalf("%s = %s", k, s)
		}
	}
	if s := h.m.State(p1Camera); s != Idle {
		t.Fatalf("camera = %s, want idle", s)
	}
}

func TestTakerFullNegotiation(t *testing.T) {
	h := newHarness(t, domain.RoleTaker, time.Minute)
	h.dispatch(Event{Kind: EventRoster, Peers: []domain.UserID{"p1"}})
	h.dispatch(Event{Kind: EventLocalStream, Stream: domain.StreamDesktop})

	// Remote candidates before the answer wait for it.
	h.dispatch(Event{Kind: EventCandidate, Peer: "p1", Stream: domain.StreamDesktop, Payload: json.RawMessage(`"c1"`)})
	n := h.latest(p1Desktop)
	if len(n.applied()) != 0 {
		t.Fatal("candidate applied before remote description")
	}
	h.dispatch(Event{Kind: EventAnswer, Peer: "p1", Stream: domain.StreamDesktop, Payload: json.RawMessage(`"answer"`)})
	if s := h.m.State(p1Desktop); s != Answered {
		t.Fatalf("state = %s", s)
	}
	if got := n.applied(); len(got) != 1 || string(got[0]) != `"c1"` {
		t.Fatalf("applied = %s", got)
	}

	n.hooks.OnCandidate(json.RawMessage(`"local"`))
	n.hooks.OnConnected()
	h.waitState(p1Desktop, Connected)
	cands := h.emitted(domain.TypeDesktopIceCandidate)
	if len(cands) != 1 || cands[0].Target != "p1" || string(cands[0].Candidate) != `"local"` {
		t.Fatalf("local candidates = %+v", cands)
	}
}

func TestTakerIgnoresStaleAnswer(t *testing.T) {
	h := newHarness(t, domain.RoleTaker, time.Minute)
	h.dispatch(Event{Kind: EventAnswer, Peer: "p1", Stream: domain.StreamDesktop, Payload: json.RawMessage(`"a"`)})
	if s := h.m.State(p1Desktop); s != Idle {
		t.Fatalf("state = %s", s)
	}
}

func TestTakerBadAnswerResets(t *testing.T) {
	h := newHarness(t, domain.RoleTaker, time.Minute)
	h.dispatch(Event{Kind: EventRoster, Peers: []domain.UserID{"p1"}})
	h.dispatch(Event{Kind: EventLocalStream, Stream: domain.StreamDesktop})
	n := h.latest(p1Desktop)
	n.mu.Lock()
	n.failAnswer = true
	n.mu.Unlock()
	if err := h.m.Dispatch(Event{Kind: EventAnswer, Peer: "p1", Stream: domain.StreamDesktop, Payload: json.RawMessage(`"a"`)}); err == nil {
		t.Fatal("expected error")
	}
	if s := h.m.State(p1Desktop); s != Idle || !n.isClosed() {
		t.Fatalf("state = %s closed = %v", s, n.isClosed())
	}
}

func TestProctorConnectedRenegotiatesBothStreams(t *testing.T) {
	h := newHarness(t, domain.RoleTaker, time.Minute)
	h.dispatch(Event{Kind: EventLocalStream, Stream: domain.StreamDesktop})
	h.dispatch(Event{Kind: EventLocalStream, Stream: domain.StreamCamera})
	h.dispatch(Event{Kind: EventProctorConnected, Peer: "p1"})

	first := h.latest(p1Desktop)
	h.dispatch(Event{Kind: EventAnswer, Peer: "p1", Stream: domain.StreamDesktop, Payload: json.RawMessage(`"a"`)})
	first.hooks.OnConnected()
	h.waitState(p1Desktop, Connected)

	// The proctor reconnects: clean slate on both keys.
	h.dispatch(Event{Kind: EventProctorConnected, Peer: "p1"})
	if !first.isClosed() {
		t.Fatal("previous desktop link should be closed")
	}
	for _, k := range []Key{p1Desktop, p1Camera} {
		if s := h.m.State(k); s != OfferSent {
			t.Fatalf("%s = %s, want offer_sent", k, s)
		}
		if c := h.count(k); c != 2 {
			t.Fatalf("%s: %d negotiators, want 2", k, c)
		}
	}
	if n := len(h.emitted(domain.TypeDesktopOffer)); n != 2 {
		t.Fatalf("desktop offers = %d", n)
	}
	camOffers := h.emitted(domain.TypeCameraOffer)
	if len(camOffers) != 2 || camOffers[1].Target != "p1" {
		t.Fatalf("camera offers = %+v", camOffers)
	}

	// Events from the discarded generation are ignored.
	first.hooks.OnConnected()
	first.hooks.OnCandidate(json.RawMessage(`"old"`))
	time.Sleep(20 * time.Millisecond)
	if s := h.m.State(p1Desktop); s != OfferSent {
		t.Fatalf("stale connected leaked: %s", s)
	}
	if n := len(h.emitted(domain.TypeDesktopIceCandidate)); n != 0 {
		t.Fatalf("stale candidate emitted")
	}
}

func TestProctorConnectedOffersOnlyPublishedStreams(t *testing.T) {
	h := newHarness(t, domain.RoleTaker, time.Minute)

	// Nothing published: the proctor is remembered but gets no offer.
	h.dispatch(Event{Kind: EventProctorConnected, Peer: "p1"})
	for _, k := range []Key{p1Desktop, p1Camera} {
		if s := h.m.State(k); s != Idle {
			t.Fatalf("%s = %s, want idle", k, s)
		}
		if c := h.count(k); c != 0 {
			t.Fatalf("%s: %d negotiators, want 0", k, c)
		}
	}
	if len(h.out) != 0 {
		t.Fatalf("emitted %+v", h.out)
	}

	// Publishing later reaches the proctor that connected earlier.
	h.dispatch(Event{Kind: EventLocalStream, Stream: domain.StreamCamera})
	if s := h.m.State(p1Camera); s != OfferSent {
		t.Fatalf("camera = %s, want offer_sent", s)
	}
	if s := h.m.State(p1Desktop); s != Idle {
		t.Fatalf("desktop = %s, want idle", s)
	}
	if offers := h.emitted(domain.TypeCameraOffer); len(offers) != 1 || offers[0].Target != "p1" {
		t.Fatalf("camera offers = %+v", offers)
	}
}

func TestProctorAnswersAndBuffersEarlyCandidates(t *testing.T) {
	h := newHarness(t, domain.RoleProctor, time.Minute)
	h.dispatch(Event{Kind: EventCandidate, Peer: "taker", Stream: domain.StreamCamera, Payload: json.RawMessage(`"early"`)})
	if s := h.m.State(tCamera); s != Idle {
		t.Fatalf("state = %s", s)
	}
	h.dispatch(Event{Kind: EventOffer, Peer: "taker", Stream: domain.StreamCamera, Payload: json.RawMessage(`"offer"`)})
	if s := h.m.State(tCamera); s != Answered {
		t.Fatalf("state = %s", s)
	}
	n := h.latest(tCamera)
	if got := n.applied(); len(got) != 1 || string(got[0]) != `"early"` {
		t.Fatalf("buffered candidates = %s", got)
	}
	answers := h.emitted(domain.TypeCameraAnswer)
	if len(answers) != 1 || answers[0].Target != "taker" {
		t.Fatalf("answers = %+v", answers)
	}

	// Duplicates are applied without complaint.
	dup := Event{Kind: EventCandidate, Peer: "taker", Stream: domain.StreamCamera, Payload: json.RawMessage(`"late"`)}
	h.dispatch(dup)
	h.dispatch(dup)
	if got := n.applied(); len(got) != 3 {
		t.Fatalf("applied = %s", got)
	}
}

func TestProctorDiscardsBufferedCandidatesOnTeardown(t *testing.T) {
	h := newHarness(t, domain.RoleProctor, time.Minute)
	h.dispatch(Event{Kind: EventCandidate, Peer: "taker", Stream: domain.StreamDesktop, Payload: json.RawMessage(`"early"`)})
	h.dispatch(Event{Kind: EventPeerLeft, Peer: "taker"})
	h.dispatch(Event{Kind: EventOffer, Peer: "taker", Stream: domain.StreamDesktop, Payload: json.RawMessage(`"offer"`)})
	if got := h.latest(tDesktop).applied(); len(got) != 0 {
		t.Fatalf("stale candidates applied: %s", got)
	}
}

func TestProctorFreshOfferReplacesConnectedLink(t *testing.T) {
	h := newHarness(t, domain.RoleProctor, time.Minute)
	h.dispatch(Event{Kind: EventOffer, Peer: "taker", Stream: domain.StreamDesktop, Payload: json.RawMessage(`"o1"`)})
	first := h.latest(tDesktop)
	first.hooks.OnConnected()
	h.waitState(tDesktop, Connected)

	h.dispatch(Event{Kind: EventOffer, Peer: "taker", Stream: domain.StreamDesktop, Payload: json.RawMessage(`"o2"`)})
	if !first.isClosed() {
		t.Fatal("old link not closed")
	}
	if s := h.m.State(tDesktop); s != Answered {
		t.Fatalf("state = %s", s)
	}
	if c := h.count(tDesktop); c != 2 {
		t.Fatalf("negotiators = %d", c)
	}
}

func TestPeerLeftTearsDownLinks(t *testing.T) {
	h := newHarness(t, domain.RoleTaker, time.Minute)
	h.dispatch(Event{Kind: EventRoster, Peers: []domain.UserID{"p1", "p2"}})
	h.dispatch(Event{Kind: EventLocalStream, Stream: domain.StreamDesktop})
	n := h.latest(p1Desktop)

	h.dispatch(Event{Kind: EventPeerLeft, Peer: "p1"})
	if s := h.m.State(p1Desktop); s != Idle || !n.isClosed() {
		t.Fatalf("p1 link not torn down: %s", s)
	}
	if s := h.m.State(p2Desktop); s != OfferSent {
		t.Fatalf("p2 link affected: %s", s)
	}

	// Starting the camera later does not resurrect p1.
	h.dispatch(Event{Kind: EventLocalStream, Stream: domain.StreamCamera})
	if c := h.count(p1Camera); c != 0 {
		t.Fatalf("offered camera to departed proctor")
	}
}

func TestStalledNegotiationIsAbandoned(t *testing.T) {
	h := newHarness(t, domain.RoleTaker, 30*time.Millisecond)
	h.dispatch(Event{Kind: EventRoster, Peers: []domain.UserID{"p1"}})
	h.dispatch(Event{Kind: EventLocalStream, Stream: domain.StreamDesktop})
	n := h.latest(p1Desktop)

	h.waitState(p1Desktop, Idle)
	if !n.isClosed() {
		t.Fatal("abandoned negotiator not closed")
	}
	time.Sleep(60 * time.Millisecond)
	if c := h.count(p1Desktop); c != 1 {
		t.Fatalf("negotiation retried automatically (%d)", c)
	}
	if n := len(h.emitted(domain.TypeDesktopOffer)); n != 1 {
		t.Fatalf("offers = %d", n)
	}
}

func TestConnectedLinkSurvivesTimeout(t *testing.T) {
	h := newHarness(t, domain.RoleProctor, 30*time.Millisecond)
	h.dispatch(Event{Kind: EventOffer, Peer: "taker", Stream: domain.StreamCamera, Payload: json.RawMessage(`"o"`)})
	h.latest(tCamera).hooks.OnConnected()
	h.waitState(tCamera, Connected)
	time.Sleep(60 * time.Millisecond)
	if s := h.m.State(tCamera); s != Connected {
		t.Fatalf("state = %s", s)
	}
}

func TestRoleChecks(t *testing.T) {
	proctor := newHarness(t, domain.RoleProctor, time.Minute)
	if err := proctor.m.Dispatch(Event{Kind: EventLocalStream, Stream: domain.StreamDesktop}); !errors.Is(err, ErrWrongRole) {
		t.Fatalf("err = %v", err)
	}
	taker := newHarness(t, domain.RoleTaker, time.Minute)
	if err := taker.m.Dispatch(Event{Kind: EventOffer, Peer: "p1"}); !errors.Is(err, ErrWrongRole) {
		t.Fatalf("err = %v", err)
	}
	taker.m.Close()
	if err := taker.m.Dispatch(Event{Kind: EventRoster}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v", err)
	}
}
