package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// writeWait is the time allowed to write a frame to the peer
	writeWait = 10 * time.Second
	// pongWait is the time allowed to read the next pong from the peer
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
	// sendBufferSize bounds how far a slow client may fall behind before
	// frames are dropped
	sendBufferSize = 64
	// maxControlMessageSize bounds inbound subscribe/unsubscribe frames
	maxControlMessageSize = 512
)

// ControlMessage is a subscribe/unsubscribe request sent by a client over
// the socket. The tenant topic is never requested this way; it is joined at
// connect time from the authenticated identity.
type ControlMessage struct {
	Action string    `json:"action"` // subscribe, unsubscribe
	Topic  TopicKind `json:"topic"`  // vehicle, geofence
	ID     uint      `json:"id"`
}

// Client is a websocket connection registered with the hub. Frames are
// queued on a bounded channel consumed by a dedicated write pump, so a slow
// or unresponsive client loses frames instead of stalling fan-out.
type Client struct {
	id       string
	tenantID uint
	conn     *websocket.Conn
	hub      *Hub
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	log      *logrus.Entry
}

// NewClient wraps an upgraded websocket connection. The tenant identity
// comes from the authenticated API key, never from client input.
func NewClient(id string, tenantID uint, conn *websocket.Conn, hub *Hub, log *logrus.Logger) *Client {
	return &Client{
		id:       id,
		tenantID: tenantID,
		conn:     conn,
		hub:      hub,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
		log: log.WithFields(logrus.Fields{
			"client": id,
			"tenant": tenantID,
		}),
	}
}

// ID returns the connection identifier
func (c *Client) ID() string {
	return c.id
}

// TenantID returns the organization the connection authenticated as
func (c *Client) TenantID() uint {
	return c.tenantID
}

// Deliver queues a frame for the write pump. Returns false when the client's
// buffer is full or the connection is closed; the frame is dropped.
func (c *Client) Deliver(frame []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// WritePump pushes queued frames and periodic pings to the peer. It runs in
// its own goroutine and exits when the client closes.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.WithError(err).Debug("Write failed, closing client")
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// ReadPump consumes control messages from the peer until the connection
// drops, dispatching each to the handler. The handler validates topic
// ownership before touching the hub.
func (c *Client) ReadPump(handle func(ControlMessage)) {
	defer c.Close()

	c.conn.SetReadLimit(maxControlMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("Unexpected close")
			}
			return
		}

		var msg ControlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.WithError(err).Debug("Ignoring malformed control message")
			continue
		}
		handle(msg)
	}
}

// Close removes the client from every topic and tears the connection down.
// Safe to call more than once. After Close returns the client receives no
// further frames.
func (c *Client) Close() {
	c.once.Do(func() {
		c.hub.LeaveAll(c)
		close(c.done)
		c.conn.Close()
		c.log.Debug("Client disconnected")
	})
}
