package domain

import "encoding/json"

type StreamKind string

const (
	StreamDesktop StreamKind = "desktop"
	StreamCamera  StreamKind = "camera"
)

var StreamKinds = [...]StreamKind{StreamDesktop, StreamCamera}

type MessageType string

// Signaling messages carried by the relay.
const (
	TypeDesktopOffer        MessageType = "desktop_offer"
	TypeDesktopAnswer       MessageType = "desktop_answer"
	TypeDesktopIceCandidate MessageType = "desktop_ice_candidate"
	TypeCameraOffer         MessageType = "camera_offer"
	TypeCameraAnswer        MessageType = "camera_answer"
	TypeCameraIceCandidate  MessageType = "camera_ice_candidate"
	TypeProctorConnected    MessageType = "proctor_connected"
)

// Control and notification messages.
const (
	TypeJoin       MessageType = "join"
	TypeLeave      MessageType = "leave"
	TypeLeft       MessageType = "left"
	TypeWhoAmI     MessageType = "whoami"
	TypePing       MessageType = "ping"
	TypePong       MessageType = "pong"
	TypeJoined     MessageType = "joined"
	TypeJoinDenied MessageType = "join_denied"
	TypePeerLeft   MessageType = "peer_left"
	TypeSuperseded MessageType = "superseded"
	TypeExamEnded  MessageType = "exam_ended"
	TypeError      MessageType = "error"
)

type SignalKind int

const (
	SignalNone SignalKind = iota
	SignalOffer
	SignalAnswer
	SignalCandidate
)

// Signal splits a signaling message type into its stream and negotiation step.
// ok is false for anything that is not an offer, answer or candidate.
func (t MessageType) Signal() (StreamKind, SignalKind, bool) {
	switch t {
	case TypeDesktopOffer:
		return StreamDesktop, SignalOffer, true
	case TypeDesktopAnswer:
		return StreamDesktop, SignalAnswer, true
	case TypeDesktopIceCandidate:
		return StreamDesktop, SignalCandidate, true
	case TypeCameraOffer:
		return StreamCamera, SignalOffer, true
	case TypeCameraAnswer:
		return StreamCamera, SignalAnswer, true
	case TypeCameraIceCandidate:
		return StreamCamera, SignalCandidate, true
	}
	return "", SignalNone, false
}

// SignalType is the inverse of MessageType.Signal.
func SignalType(stream StreamKind, kind SignalKind) MessageType {
	switch kind {
	case SignalOffer:
		if stream == StreamCamera {
			return TypeCameraOffer
		}
		return TypeDesktopOffer
	case SignalAnswer:
		if stream == StreamCamera {
			return TypeCameraAnswer
		}
		return TypeDesktopAnswer
	case SignalCandidate:
		if stream == StreamCamera {
			return TypeCameraIceCandidate
		}
		return TypeDesktopIceCandidate
	}
	return ""
}

// Envelope is the wire shape of every message on the signaling channel.
// SDP and Candidate are opaque to the relay.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Target    UserID          `json:"target,omitempty"`
	From      UserID          `json:"from,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	ProctorID UserID          `json:"proctorId,omitempty"`
}
