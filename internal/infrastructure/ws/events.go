package ws

import (
	"errors"

	"github.com/hilthontt/visper-realtime/internal/transport"
)

var (
	ErrSessionClosed   = errors.New("session closed")
	ErrSessionNotFound = errors.New("session not found")
	ErrCoreStopped     = errors.New("hub is not running")
)

const (
	TransportWebSocket = "websocket"
	TransportPolling   = "polling"
)

type errorPayload struct {
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

// Peer is one connected client session, whichever transport carries it.
type Peer interface {
	ID() string
	Transport() string
	// Deliver queues a frame without blocking; false means it was dropped.
	Deliver(frame transport.Frame) bool
	Close()
}

// Inbound is one frame received from a peer.
type Inbound struct {
	Peer  Peer
	Frame transport.Frame
}

func newFrame(signal string, payload any) transport.Frame {
	frame, _ := transport.NewFrame(signal, payload)
	return frame
}
