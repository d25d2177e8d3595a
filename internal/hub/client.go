package hub

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ibachev/codeeditor/internal/service"
)

// WebSocket tuning constants, shared by the gateway and relay clients.
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Code buffers ride in these
	// frames, so this is far larger than a chat payload would need.
	maxMessageSize = 256 * 1024

	// Per-client outbound buffer.
	sendBufferSize = 256
)

// Client is one WebSocket connection bound to a session and an authenticated
// identity.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	connID    string
	sessionID string
	identity  service.Identity
	send      chan []byte

	// admitted flips to true once the hub has completed admission; events
	// from unadmitted connections (e.g. a kicked user's lingering socket)
	// are dropped.
	admitted atomic.Bool

	// admissionDone is closed when the hub's admission attempt for this
	// connection finishes, whatever the outcome. Teardown waits on it so a
	// disconnect racing an in-flight admission cannot strand presence state.
	admissionDone chan struct{}
}

// NewClient creates a Client for an upgraded connection.
func NewClient(h *Hub, conn *websocket.Conn, sessionID string, identity service.Identity) *Client {
	return &Client{
		hub:           h,
		conn:          conn,
		connID:        uuid.NewString(),
		sessionID:     sessionID,
		identity:      identity,
		send:          make(chan []byte, sendBufferSize),
		admissionDone: make(chan struct{}),
	}
}

// Run starts the read and write pumps.
func (c *Client) Run() {
	go c.writePump()
	go c.readPump()
}

// ConnID returns the connection's unique id.
func (c *Client) ConnID() string { return c.connID }

// SessionID returns the session the connection is bound to.
func (c *Client) SessionID() string { return c.sessionID }

// Identity returns the authenticated identity of the connection.
func (c *Client) Identity() service.Identity { return c.identity }

// CloseConn closes the underlying WebSocket connection.
func (c *Client) CloseConn() { c.conn.Close() }

// readPump pumps frames from the WebSocket connection into the hub.
func (c *Client) readPump() {
	logCtx := logrus.WithFields(logrus.Fields{
		"session_id": c.sessionID,
		"username":   c.identity.Username,
	})
	defer func() {
		select {
		case c.hub.messageChan <- message{kind: messageUnregister, client: c}:
		case <-time.After(time.Second):
			logCtx.Warn("Timeout sending unregister message to hub channel")
		}
		c.conn.Close()
		logCtx.Debug("readPump exited")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		select {
		case c.hub.messageChan <- message{kind: messageEvent, client: c, raw: raw}:
		default:
			logCtx.Warn("Hub message channel full, dropping client message")
		}
	}
}

// writePump pumps frames from the send channel to the WebSocket connection
// and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel during unregister.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logrus.WithFields(logrus.Fields{
					"session_id": c.sessionID,
					"username":   c.identity.Username,
				}).WithError(err).Warn("Failed to write message to websocket")
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
