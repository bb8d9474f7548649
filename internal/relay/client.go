package relay

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/perchlabs/perch-client/internal/logger"
	"github.com/perchlabs/perch-client/internal/transport"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from a client
	maxMessageSize = 64 * 1024
)

// Client represents a single connected workspace user session.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// send is the buffered channel of outbound frames
	send chan []byte

	UserID   string
	UserName string
}

// NewClient creates a Client for an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, userID, userName string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		UserID:   userID,
		UserName: userName,
	}
}

// sendEvent queues one event envelope for delivery. A client that
// cannot keep up has the frame dropped; the REST backstop covers gaps.
func (c *Client) sendEvent(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Log.Warn("relay_event_marshal_failed",
			zap.String("event", event), zap.Error(err))
		return
	}
	data, err := json.Marshal(transport.Envelope{Type: event, Payload: raw})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		logger.Log.Warn("relay_client_backlogged",
			zap.String("user", c.UserID), zap.String("event", event))
	}
}

// ReadPump pumps command envelopes from the connection into the hub.
// Runs in its own goroutine per client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Warn("relay_read_failed",
					zap.String("user", c.UserID), zap.Error(err))
			}
			break
		}

		var env transport.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Log.Warn("relay_bad_envelope",
				zap.String("user", c.UserID), zap.Error(err))
			continue
		}
		c.hub.commands <- &command{client: c, env: env}
	}
}

// WritePump pumps queued frames to the connection and keeps it alive
// with pings. Runs in its own goroutine per client.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Each envelope goes out as its own frame; concatenation
			// would break JSON parsing on the client.
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
