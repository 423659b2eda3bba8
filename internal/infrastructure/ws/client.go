package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/logging"
	"github.com/hilthontt/visper-realtime/internal/transport"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Client is a WebSocket peer.
type Client struct {
	conn    *connWrapper
	id      string
	message chan transport.Frame
	logger  logging.Logger

	mu     sync.Mutex
	closed bool
}

func NewClient(conn *websocket.Conn, id string, buffer int, logger logging.Logger) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		conn:    newConnWrapper(conn),
		id:      id,
		message: make(chan transport.Frame, buffer),
		logger:  logger,
	}
}

func (c *Client) ID() string        { return c.id }
func (c *Client) Transport() string { return TransportWebSocket }

func (c *Client) Deliver(frame transport.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.message <- frame:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which then closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.message)
	}
}

// ReadMessage pumps frames from the socket into the hub until the socket fails.
func (c *Client) ReadMessage(core *Core) {
	defer func() {
		core.Unregister(c)
		c.conn.Close()
	}()

	c.conn.keepAlive(maxMessageSize, pongWait)

	for {
		raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn(logging.Hub, logging.Wire, "websocket read failed", map[logging.ExtraKey]any{
					logging.SessionID:    c.id,
					logging.ErrorMessage: err.Error(),
				})
			}
			return
		}

		var frame transport.Frame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Type == "" {
			c.Deliver(newFrame(transport.SignalError, errorPayload{Message: "malformed frame"}))
			continue
		}

		if err := core.Receive(c, frame); err != nil {
			return
		}
	}
}

// WriteMessage drains queued frames to the socket and keeps it alive with pings.
func (c *Client) WriteMessage() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.message:
			if !ok {
				_ = c.conn.Goodbye()
				return
			}
			if err := c.conn.WriteFrame(frame); err != nil {
				c.logger.Warn(logging.Hub, logging.Wire, "websocket write failed", map[logging.ExtraKey]any{
					logging.SessionID:    c.id,
					logging.ErrorMessage: err.Error(),
				})
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(); err != nil {
				return
			}
		}
	}
}
