package relay

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBufferSize = 64
)

// Client is one WebSocket connection to the video relay.
type Client struct {
	relay *Relay
	conn  *websocket.Conn
	send  chan []byte
}

// NewClient creates a Client for an upgraded connection.
func NewClient(r *Relay, conn *websocket.Conn) *Client {
	return &Client{
		relay: r,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
	}
}

// Run starts the read and write pumps.
func (c *Client) Run() {
	go c.writePump()
	go c.readPump()
}

// trySend queues a frame without blocking the relay loop.
func (c *Client) trySend(frame []byte) {
	select {
	case c.send <- frame:
	default:
		logrus.Warn("Relay client send channel full, frame dropped")
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.relay.messageChan <- message{kind: messageLeave, client: c}:
		case <-time.After(time.Second):
			logrus.Warn("Timeout sending leave message to relay channel")
		}
		c.conn.Close()
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
				logrus.WithError(err).Warn("Relay websocket read error (unexpected close)")
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.relay.queue(message{kind: messageJoin, client: c, raw: raw})
	}
}

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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
