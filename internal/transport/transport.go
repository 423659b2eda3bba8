// Package transport carries envelope frames between the client and the chat
// server. Implementations are interchangeable behind Transport so the
// connection manager does not know whether it talks over a WebSocket or a
// long-polling session.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrNotConnected   = errors.New("transport is not connected")
	ErrSendBufferFull = errors.New("transport send buffer is full")
)

// Listener receives the raw data of one frame. Listeners of a single transport
// are called from one goroutine, in the order frames arrive.
type Listener func(payload json.RawMessage)

type Transport interface {
	// Connect blocks until the handshake succeeds, fails, or ctx is done.
	Connect(ctx context.Context) error
	// Disconnect closes the current connection without reporting a drop.
	Disconnect() error
	// Send enqueues one frame; it does not wait for the write.
	Send(event string, payload any) error
	// On registers the listener for an event name, replacing any previous one.
	On(event string, fn Listener)
}

// Frame is the wire envelope: {"type": "...", "data": {...}}.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewFrame(event string, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Type: event}, nil
	}

	if raw, ok := payload.(json.RawMessage); ok {
		return Frame{Type: event, Data: raw}, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Frame{Type: event, Data: data}, nil
}

type DisconnectPayload struct {
	Reason string `json:"reason"`
}

type ConnectErrorPayload struct {
	Message string `json:"message"`
}

type listeners struct {
	mu sync.RWMutex
	m  map[string]Listener
}

func (l *listeners) set(event string, fn Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.m == nil {
		l.m = make(map[string]Listener)
	}
	if fn == nil {
		delete(l.m, event)
		return
	}
	l.m[event] = fn
}

func (l *listeners) emit(event string, payload json.RawMessage) bool {
	l.mu.RLock()
	fn := l.m[event]
	l.mu.RUnlock()

	if fn == nil {
		return false
	}
	fn(payload)
	return true
}

func (l *listeners) emitJSON(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	l.emit(event, data)
}

// WebSocketURL converts an http(s) base URL into its ws(s) form and appends path.
func WebSocketURL(baseURL, path string) string {
	wsURL := strings.TrimRight(baseURL, "/")
	if after, ok := strings.CutPrefix(wsURL, "https://"); ok {
		wsURL = "wss://" + after
	} else if after0, ok0 := strings.CutPrefix(wsURL, "http://"); ok0 {
		wsURL = "ws://" + after0
	}

	if path == "" {
		return wsURL
	}
	return wsURL + "/" + strings.TrimLeft(path, "/")
}
