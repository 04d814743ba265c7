package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/diffview/internal/common/logger"
	"github.com/kandev/diffview/internal/subscription"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

var (
	// ErrClientClosed is returned by Send after the connection went away.
	ErrClientClosed = errors.New("websocket client closed")

	// ErrSendBufferFull is returned by Send when the peer is not keeping up.
	ErrSendBufferFull = errors.New("websocket send buffer full")
)

// Client is a single WebSocket connection. It implements subscription.Sink.
type Client struct {
	conn   *websocket.Conn
	hub    *subscription.Hub
	send   chan []byte
	logger *logger.Logger

	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient wraps conn. Call Run to start pumping.
func NewClient(conn *websocket.Conn, hub *subscription.Hub, log *logger.Logger) *Client {
	return &Client{
		conn:   conn,
		hub:    hub,
		send:   make(chan []byte, sendBufferSize),
		logger: log,
		closed: make(chan struct{}),
	}
}

// Send queues one frame. It never blocks.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.closed:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Ready reports whether the connection is still open.
func (c *Client) Ready() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

// Closed is closed when either pump stops.
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// Run pumps frames for session until the connection closes.
func (c *Client) Run(session *subscription.Session) {
	c.logger = c.logger.WithSessionID(session.ID())
	go c.writePump()
	c.readPump(session)
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump(session *subscription.Session) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			c.logger.Debug("ignoring non-text frame", zap.Int("frame_type", msgType))
			continue
		}
		c.hub.HandleMessage(session, message)
	}
}

// writePump writes one queued frame per WebSocket message and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.closed:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
