package core

import "github.com/google/uuid"

// Frame is a raw encoded signaling message.
type Frame []byte

// ConnHandle identifies one live signaling connection.
type ConnHandle string

func NewConnHandle() ConnHandle { return ConnHandle(uuid.NewString()) }

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues f without blocking. Frames enqueued by one caller
	// are written in order.
	TrySend(Frame) error
	Close()
}
