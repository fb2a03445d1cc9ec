package peerlink

import (
	"encoding/json"

	"github.com/qq276356648/SmartProctor/internal/domain"
)

// Negotiator is one peer connection seen through its signaling surface.
// Descriptions and candidates stay in their wire encoding.
type Negotiator interface {
	CreateOffer() (json.RawMessage, error)
	AcceptOffer(sdp json.RawMessage) (json.RawMessage, error)
	AcceptAnswer(sdp json.RawMessage) error
	// AddICECandidate must tolerate the same candidate twice.
	AddICECandidate(candidate json.RawMessage) error
	Close()
}

// Hooks are invoked from the negotiator's own goroutines.
type Hooks struct {
	OnCandidate func(candidate json.RawMessage)
	OnConnected func()
	OnFailed    func()
}

type NegotiatorFactory func(key Key, hooks Hooks) (Negotiator, error)

// Emitter sends an envelope to the relay without blocking.
type Emitter interface {
	Emit(env domain.Envelope) error
}

type EmitterFunc func(env domain.Envelope) error

func (f EmitterFunc) Emit(env domain.Envelope) error { return f(env) }
