package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/visper-realtime/internal/transport"
)

// connWrapper serializes writes; gorilla allows one concurrent writer.
type connWrapper struct {
	conn      *websocket.Conn
	mutex     sync.Mutex
	closeOnce sync.Once
}

func newConnWrapper(c *websocket.Conn) *connWrapper {
	return &connWrapper{conn: c}
}

// keepAlive arms the read deadline and extends it on every pong.
func (w *connWrapper) keepAlive(limit int64, wait time.Duration) {
	w.conn.SetReadLimit(limit)
	_ = w.conn.SetReadDeadline(time.Now().Add(wait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(wait))
	})
}

func (w *connWrapper) ReadMessage() ([]byte, error) {
	_, raw, err := w.conn.ReadMessage()
	return raw, err
}

func (w *connWrapper) WriteFrame(frame transport.Frame) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(frame)
}

func (w *connWrapper) Ping() error {
	return w.control(websocket.PingMessage, nil)
}

// Goodbye sends a normal closure so the peer sees an intentional close.
func (w *connWrapper) Goodbye() error {
	return w.control(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (w *connWrapper) control(messageType int, data []byte) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	return w.conn.WriteControl(messageType, data, time.Now().Add(writeWait))
}

// Close is safe to call from both pumps.
func (w *connWrapper) Close() {
	w.closeOnce.Do(func() {
		w.mutex.Lock()
		defer w.mutex.Unlock()
		_ = w.conn.Close()
	})
}
