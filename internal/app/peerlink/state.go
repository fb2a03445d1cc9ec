// Package peerlink drives the offer/answer/ICE negotiation of every media
// link a participant holds with its counterparts.
package peerlink

import (
	"encoding/json"
	"fmt"

	"github.com/qq276356648/SmartProctor/internal/domain"
)

type State int

const (
	Idle State = iota
	OfferSent
	Answered
	Connected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case OfferSent:
		return "offer_sent"
	case Answered:
		return "answered"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Key identifies one link: a counterpart and a stream kind.
type Key struct {
	Peer   domain.UserID
	Stream domain.StreamKind
}

func (k Key) String() string { return string(k.Peer) + "/" + string(k.Stream) }

type EventKind int

const (
	// EventLocalStream: a local stream of Stream became available (taker).
	EventLocalStream EventKind = iota
	// EventStopStream: the local stream of Stream ended (taker).
	EventStopStream
	// EventRoster: Peers are the counterparts already connected.
	EventRoster
	EventOffer
	EventAnswer
	EventCandidate
	// EventProctorConnected: Peer (re)joined; renegotiate from scratch.
	EventProctorConnected
	// EventPeerLeft: Peer disconnected; its links are gone.
	EventPeerLeft

	// Raised by negotiators and timers for a specific link generation.
	EventLocalCandidate
	EventConnected
	EventFailed
	EventTimeout
)

func (k EventKind) String() string {
	switch k {
	case EventLocalStream:
		return "local_stream"
	case EventStopStream:
		return "stop_stream"
	case EventRoster:
		return "roster"
	case EventOffer:
		return "offer"
	case EventAnswer:
		return "answer"
	case EventCandidate:
		return "candidate"
	case EventProctorConnected:
		return "proctor_connected"
	case EventPeerLeft:
		return "peer_left"
	case EventLocalCandidate:
		return "local_candidate"
	case EventConnected:
		return "connected"
	case EventFailed:
		return "failed"
	case EventTimeout:
		return "timeout"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is the single input of the link state machine.
type Event struct {
	Kind    EventKind
	Peer    domain.UserID
	Stream  domain.StreamKind
	Payload json.RawMessage
	Peers   []domain.UserID

	gen uint64
}

func (e Event) key() Key { return Key{Peer: e.Peer, Stream: e.Stream} }
