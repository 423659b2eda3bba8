package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

type WebSocketOptions struct {
	// URL is the ws(s) endpoint; http(s) URLs are converted.
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	SendBuffer       int
	Logger           logging.Logger
}

type WebSocket struct {
	url       string
	header    http.Header
	dialer    *websocket.Dialer
	buffer    int
	logger    logging.Logger
	listeners listeners

	mu   sync.Mutex
	sess *wsSession
}

type wsSession struct {
	conn        *websocket.Conn
	send        chan Frame
	done        chan struct{}
	closeOnce   sync.Once
	intentional atomic.Bool
}

func NewWebSocket(opts WebSocketOptions) *WebSocket {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 20 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	return &WebSocket{
		url:    WebSocketURL(opts.URL, ""),
		header: opts.Header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		buffer: opts.SendBuffer,
		logger: opts.Logger,
	}
}

func (w *WebSocket) On(event string, fn Listener) {
	w.listeners.set(event, fn)
}

func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	prev := w.sess
	w.sess = nil
	w.mu.Unlock()

	if prev != nil {
		prev.shutdown()
	}

	conn, _, err := w.dialer.DialContext(ctx, w.url, w.header)
	if err != nil {
		w.listeners.emitJSON(SignalConnectError, ConnectErrorPayload{Message: err.Error()})
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}

	if err := ctx.Err(); err != nil {
		_ = conn.Close()
		return err
	}

	sess := &wsSession{
		conn: conn,
		send: make(chan Frame, w.buffer),
		done: make(chan struct{}),
	}

	w.mu.Lock()
	w.sess = sess
	w.mu.Unlock()

	go w.readPump(sess)
	go w.writePump(sess)

	w.logger.Debug(logging.Connection, logging.Handshake, "websocket connected", map[logging.ExtraKey]any{
		logging.URL: w.url,
	})
	w.listeners.emit(SignalConnect, nil)

	return nil
}

func (w *WebSocket) Disconnect() error {
	w.mu.Lock()
	sess := w.sess
	w.sess = nil
	w.mu.Unlock()

	if sess != nil {
		sess.shutdown()
	}
	return nil
}

func (w *WebSocket) Send(event string, payload any) error {
	frame, err := NewFrame(event, payload)
	if err != nil {
		return err
	}

	w.mu.Lock()
	sess := w.sess
	w.mu.Unlock()

	if sess == nil {
		return ErrNotConnected
	}

	select {
	case <-sess.done:
		return ErrNotConnected
	default:
	}

	select {
	case sess.send <- frame:
		return nil
	case <-sess.done:
		return ErrNotConnected
	default:
		return ErrSendBufferFull
	}
}

func (w *WebSocket) readPump(s *wsSession) {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if !s.intentional.Load() {
				w.dropped(s, err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Type == "" {
			w.logger.Warn(logging.Connection, logging.Wire, "discarding malformed frame", map[logging.ExtraKey]any{
				logging.ErrorMessage: fmt.Sprint(err),
			})
			continue
		}

		w.listeners.emit(frame.Type, frame.Data)
	}
}

func (w *WebSocket) writePump(s *wsSession) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				w.logger.Warn(logging.Connection, logging.Wire, "websocket write failed", map[logging.ExtraKey]any{
					logging.Event:        frame.Type,
					logging.ErrorMessage: err.Error(),
				})
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// dropped reports a drop only for the session that is still current.
func (w *WebSocket) dropped(s *wsSession, err error) {
	w.mu.Lock()
	current := w.sess == s
	if current {
		w.sess = nil
	}
	w.mu.Unlock()

	if !current {
		return
	}

	reason := err.Error()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		reason = "io server disconnect"
	}

	w.logger.Info(logging.Connection, logging.Reconnect, "websocket dropped", map[logging.ExtraKey]any{
		logging.ErrorMessage: reason,
	})
	w.listeners.emitJSON(SignalDisconnect, DisconnectPayload{Reason: reason})
}

// shutdown is an intentional close: the read pump will not report a drop.
func (s *wsSession) shutdown() {
	s.intentional.Store(true)
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	s.close()
}

func (s *wsSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
